package sinks

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/foshk/gateway/internal/state"
	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/config"
)

func fieldText(obs *types.Observation, metric bool, key string) (string, bool) {
	f, ok := obs.Get(metric, key)
	if !ok {
		return "", false
	}
	return f.Text, true
}

func fieldNum(obs *types.Observation, metric bool, key string) (float64, bool) {
	f, ok := obs.Get(metric, key)
	if !ok || !f.Numeric {
		return 0, false
	}
	return f.Num, true
}

func dateUTC(obs *types.Observation) string {
	return obs.Timestamp.UTC().Format("2006-01-02 15:04:05")
}

// setIf copies a field into url.Values when present.
func setIf(v url.Values, obs *types.Observation, metric bool, src, dst string) {
	if s, ok := fieldText(obs, metric, src); ok {
		v.Set(dst, s)
	}
}

// wuKeys maps canonical imperial keys onto the Wunderground upload
// protocol names.
var wuKeys = [][2]string{
	{"tempf", "tempf"},
	{"humidity", "humidity"},
	{"dewptf", "dewptf"},
	{"windchillf", "windchillf"},
	{"winddir", "winddir"},
	{"windspeedmph", "windspeedmph"},
	{"windgustmph", "windgustmph"},
	{"windspdmph_avg10m", "windspdmph_avg2m"},
	{"baromrelin", "baromin"},
	{"rainratein", "rainin"},
	{"dailyrainin", "dailyrainin"},
	{"solarradiation", "solarradiation"},
	{"uv", "UV"},
	{"tempinf", "indoortempf"},
	{"humidityin", "indoorhumidity"},
	{"soilmoisture1", "soilmoisture"},
	{"soiltemp1f", "soiltempf"},
}

func buildWU(cfg config.SinkData) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		v := url.Values{}
		v.Set("ID", cfg.SID)
		v.Set("PASSWORD", cfg.Password)
		v.Set("action", "updateraw")
		v.Set("realtime", "1")
		v.Set("rtfreq", strconv.Itoa(cfg.Interval))
		v.Set("dateutc", dateUTC(obs))
		for _, m := range wuKeys {
			setIf(v, obs, false, m[0], m[1])
		}
		return v.Encode(), nil
	}
}

func checkWU(body string) error {
	if strings.Contains(strings.ToLower(body), "success") {
		return nil
	}
	return Permanent(fmt.Errorf("wunderground rejected update: %s", strings.TrimSpace(body)))
}

// buildEW forwards the imperial view as an Ecowitt POST body.
func buildEW(cfg config.SinkData, deps Deps) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		var status []pair
		if cfg.Status {
			status = deps.statusPairs()
		}
		pairs := payloadPairs(obs, false, cfg.Ignore, cfg.Extra, status)
		v := url.Values{}
		for _, p := range pairs {
			v.Set(p.key, p.val)
		}
		if v.Get("PASSKEY") == "" && cfg.SID != "" {
			v.Set("PASSKEY", cfg.SID)
		}
		return v.Encode(), nil
	}
}

// ewToAmb renames Ecowitt keys to their Ambient spellings.
var ewToAmb = map[string]string{
	"wh65batt":   "battout",
	"wh25batt":   "battin",
	"wh26batt":   "battin",
	"tempinf":    "tempinf",
	"humidityin": "humidityin",
	"rainratein": "hourlyrainin",
}

// buildAMB renders the Ambient GET dialect: renamed keys and the
// inverted binary battery convention (1 = ok).
func buildAMB(cfg config.SinkData, deps Deps) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		var status []pair
		if cfg.Status {
			status = deps.statusPairs()
		}
		pairs := payloadPairs(obs, false, cfg.Ignore, cfg.Extra, status)
		v := url.Values{}
		for _, p := range pairs {
			key, val := p.key, p.val
			if amb, ok := ewToAmb[key]; ok {
				key = amb
			}
			if isBinaryBattKey(p.key) {
				val = invertBinary(val)
				if !strings.HasPrefix(key, "batt") {
					key = "batt" + strings.TrimSuffix(strings.TrimPrefix(key, "wh"), "batt")
				}
			}
			v.Set(key, val)
		}
		if cfg.SID != "" {
			v.Set("PASSKEY", cfg.SID)
		}
		return v.Encode(), nil
	}
}

func isBinaryBattKey(k string) bool {
	if !strings.Contains(k, "batt") {
		return false
	}
	switch {
	case strings.HasPrefix(k, "soilbatt"), strings.HasPrefix(k, "tf_batt"),
		k == "wh57batt", k == "wh45batt", k == "co2_batt",
		k == "wh80batt", k == "wh90batt":
		return false
	}
	return true
}

func invertBinary(v string) string {
	switch v {
	case "0":
		return "1"
	case "1":
		return "0"
	}
	return v
}

// buildView renders the canonical view as the UDP/CSV key=value set.
func buildView(cfg config.SinkData, deps Deps, metric bool) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		var status []pair
		if cfg.Status {
			status = deps.statusPairs()
		}
		pairs := payloadPairs(obs, metric, cfg.Ignore, cfg.Extra, status)
		if cfg.MinMax && deps.Daily != nil {
			pairs = append(pairs, minmaxPairs(deps.Daily())...)
		}
		if deps.Export.LoxTime {
			pairs = append(pairs, pair{"loxtime", loxoneEpoch(obs.Timestamp)})
		}
		return renderKV(pairs), nil
	}
}

// minmaxPairs flattens the daily extremes into payload fields.
func minmaxPairs(d state.Daily) []pair {
	keys := make([]string, 0, len(d.Min))
	for k := range d.Min {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]pair, 0, 2*len(keys)+1)
	for _, k := range keys {
		out = append(out, pair{k + "_min", strconv.FormatFloat(d.Min[k].Value, 'f', 1, 64)})
		out = append(out, pair{k + "_max", strconv.FormatFloat(d.Max[k].Value, 'f', 1, 64)})
	}
	out = append(out, pair{"sunhours", strconv.FormatFloat(d.SunHours(), 'f', 2, 64)})
	return out
}

// loxoneEpoch renders a timestamp as seconds since the Loxone epoch,
// 2009-01-01 00:00:00 UTC.
func loxoneEpoch(t time.Time) string {
	base := time.Date(2009, 1, 1, 0, 0, 0, 0, time.UTC)
	return strconv.FormatInt(int64(t.Sub(base).Seconds()), 10)
}

// buildCSV renders a header line and a value line.
func buildCSV(cfg config.SinkData, deps Deps, metric bool) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		var status []pair
		if cfg.Status {
			status = deps.statusPairs()
		}
		pairs := payloadPairs(obs, metric, cfg.Ignore, cfg.Extra, status)
		keys := make([]string, len(pairs))
		vals := make([]string, len(pairs))
		for i, p := range pairs {
			keys[i] = p.key
			vals[i] = p.val
		}
		return strings.Join(keys, ";") + "\n" + strings.Join(vals, ";") + "\n", nil
	}
}

// mtKeys maps metric keys to the Meteotemplate single-letter API.
var mtKeys = [][2]string{
	{"tempc", "T"},
	{"humidity", "H"},
	{"baromrelhpa", "P"},
	{"windspeedkmh", "W"},
	{"windgustkmh", "G"},
	{"winddir", "B"},
	{"rainratemm", "RR"},
	{"dailyrainmm", "R"},
	{"solarradiation", "S"},
	{"uv", "UV"},
	{"tempinc", "TIN"},
	{"humidityin", "HIN"},
}

func buildMT(cfg config.SinkData) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		v := url.Values{}
		v.Set("PASS", cfg.Password)
		v.Set("U", strconv.FormatInt(obs.Timestamp.Unix(), 10))
		for _, m := range mtKeys {
			setIf(v, obs, true, m[0], m[1])
		}
		return v.Encode(), nil
	}
}

// wcKeys maps metric keys to WeatherCloud parameters; values go over
// the wire as integers scaled by ten.
var wcKeys = [][2]string{
	{"tempc", "temp"},
	{"tempinc", "tempin"},
	{"dewptc", "dew"},
	{"heatindexc", "heat"},
	{"humidity", "hum"},
	{"humidityin", "humin"},
	{"baromrelhpa", "bar"},
	{"winddir", "wdir"},
	{"winddir_avg10m", "wdiravg"},
	{"dailyrainmm", "rain"},
	{"rainratemm", "rainrate"},
	{"solarradiation", "solarrad"},
	{"uv", "uvi"},
}

func buildWC(cfg config.SinkData) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		v := url.Values{}
		v.Set("wid", cfg.SID)
		v.Set("key", cfg.Password)
		for _, m := range wcKeys {
			if num, ok := fieldNum(obs, true, m[0]); ok {
				v.Set(m[1], scale10(num))
			}
		}
		// WeatherCloud wants wind in m/s
		if kmh, ok := fieldNum(obs, true, "windspeedkmh"); ok {
			v.Set("wspd", scale10(kmh/3.6))
		}
		if kmh, ok := fieldNum(obs, true, "windspdkmh_avg10m"); ok {
			v.Set("wspdavg", scale10(kmh/3.6))
		}
		return v.Encode(), nil
	}
}

// buildAWEKAS renders the positional AWEKAS line: user, md5 password,
// then the fixed field order with blanks for missing values.
func buildAWEKAS(cfg config.SinkData) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		sum := md5.Sum([]byte(cfg.Password))
		get := func(key string) string {
			s, _ := fieldText(obs, true, key)
			return s
		}
		fields := []string{
			cfg.SID,
			hex.EncodeToString(sum[:]),
			obs.Timestamp.UTC().Format("02.01.2006"),
			obs.Timestamp.UTC().Format("15:04"),
			get("tempc"),
			get("humidity"),
			get("baromrelhpa"),
			get("dailyrainmm"),
			get("windspeedkmh"),
			get("winddir"),
			"", // present weather condition
			"", // warning
			"", // snow height
			"de",
			"", // long-term rain
			get("solarradiation"),
			get("uv"),
			get("windgustkmh"),
			get("rainratemm"),
			get("sunhours"),
			get("soiltemp1c"),
			get("rainratemm"),
			get("leafwetness_ch1"),
			get("tempinc"),
			get("humidityin"),
		}
		return "val=" + url.QueryEscape(strings.Join(fields, ";")), nil
	}
}

func checkAWEKAS(body string) error {
	if strings.Contains(body, "OK") || strings.TrimSpace(body) == "" {
		return nil
	}
	return Permanent(fmt.Errorf("awekas rejected update: %s", strings.TrimSpace(body)))
}

func buildWettercom(cfg config.SinkData) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		v := url.Values{}
		v.Set("id", cfg.SID)
		v.Set("pwd", cfg.Password)
		v.Set("sid", "foshk-gateway")
		v.Set("dtutc", obs.Timestamp.UTC().Format("200601021504"))
		setIf(v, obs, true, "tempc", "te")
		setIf(v, obs, true, "humidity", "hu")
		setIf(v, obs, true, "dewptc", "dp")
		setIf(v, obs, true, "baromrelhpa", "pr")
		setIf(v, obs, true, "winddir", "wd")
		if ms, ok := fieldNum(obs, true, "windspeedkmh"); ok {
			v.Set("ws", strconv.FormatFloat(ms/3.6, 'f', 1, 64))
		}
		if ms, ok := fieldNum(obs, true, "windgustkmh"); ok {
			v.Set("wg", strconv.FormatFloat(ms/3.6, 'f', 1, 64))
		}
		setIf(v, obs, true, "hourlyrainmm", "pa")
		setIf(v, obs, true, "uv", "uv")
		setIf(v, obs, true, "sunhours", "sd")
		return v.Encode(), nil
	}
}

func buildWettersektor(cfg config.SinkData) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		v := url.Values{}
		v.Set("id", cfg.SID)
		v.Set("pw", cfg.Password)
		setIf(v, obs, true, "tempc", "temp")
		setIf(v, obs, true, "humidity", "hum")
		setIf(v, obs, true, "baromrelhpa", "press")
		setIf(v, obs, true, "windspeedkmh", "wspd")
		setIf(v, obs, true, "windgustkmh", "wgust")
		setIf(v, obs, true, "winddir", "wdir")
		setIf(v, obs, true, "dailyrainmm", "rain")
		setIf(v, obs, true, "solarradiation", "solar")
		setIf(v, obs, true, "uv", "uv")
		return v.Encode(), nil
	}
}

func buildWeather365(cfg config.SinkData) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		v := url.Values{}
		v.Set("stationid", cfg.SID)
		v.Set("password", cfg.Password)
		v.Set("dateutc", dateUTC(obs))
		setIf(v, obs, true, "tempc", "tempc")
		setIf(v, obs, true, "humidity", "humidity")
		setIf(v, obs, true, "baromrelhpa", "pressure")
		setIf(v, obs, true, "windspeedkmh", "windspeed")
		setIf(v, obs, true, "windgustkmh", "windgust")
		setIf(v, obs, true, "winddir", "winddir")
		setIf(v, obs, true, "dailyrainmm", "rain")
		setIf(v, obs, true, "solarradiation", "solar")
		setIf(v, obs, true, "uv", "uv")
		return v.Encode(), nil
	}
}

// luftdaten is the sensor.community JSON schema.
type luftdaten struct {
	SoftwareVersion  string           `json:"software_version"`
	SensorDataValues []luftdatenValue `json:"sensordatavalues"`
}

type luftdatenValue struct {
	ValueType string `json:"value_type"`
	Value     string `json:"value"`
}

func buildLD(cfg config.SinkData) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		var vals []luftdatenValue
		add := func(valueType, key string, metric bool) {
			if s, ok := fieldText(obs, metric, key); ok {
				vals = append(vals, luftdatenValue{ValueType: valueType, Value: s})
			}
		}
		if _, ok := fieldText(obs, false, "pm10_co2"); ok {
			add("P1", "pm10_co2", false)
		}
		switch {
		case hasField(obs, "pm25_co2"):
			add("P2", "pm25_co2", false)
		case hasField(obs, "pm25_ch1"):
			add("P2", "pm25_ch1", false)
		}
		add("temperature", "tempc", true)
		add("humidity", "humidity", true)
		if hpa, ok := fieldNum(obs, true, "baromrelhpa"); ok {
			vals = append(vals, luftdatenValue{ValueType: "pressure",
				Value: strconv.FormatFloat(hpa*100, 'f', 0, 64)})
		}
		if len(vals) == 0 {
			return "", fmt.Errorf("no luftdaten-relevant fields present")
		}
		b, err := json.Marshal(luftdaten{SoftwareVersion: "foshk-gateway", SensorDataValues: vals})
		return string(b), err
	}
}

func hasField(obs *types.Observation, key string) bool {
	_, ok := obs.Imperial[key]
	return ok
}

// rawPairs returns the original pairs in source order, deduplicated,
// dropping sentinel-empty values when IGNORE_EMPTY is set.
func rawPairs(obs *types.Observation, dropEmpty bool) []pair {
	out := make([]pair, 0, len(obs.Raw.Order))
	seen := make(map[string]bool, len(obs.Raw.Order))
	for _, k := range obs.Raw.Order {
		v, ok := obs.Raw.Pairs[k]
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		if dropEmpty && types.IsSentinel(v) {
			continue
		}
		out = append(out, pair{k, v})
	}
	return out
}

// buildRaw passes the original ingested body through; with IGNORE_EMPTY
// the body is re-rendered from the pairs so sentinel values never leave.
func buildRaw(deps Deps) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		if !deps.IgnoreEmpty && obs.Raw.Body != "" {
			return obs.Raw.Body, nil
		}
		parts := make([]string, 0, len(obs.Raw.Order))
		for _, p := range rawPairs(obs, deps.IgnoreEmpty) {
			parts = append(parts, url.QueryEscape(p.key)+"="+url.QueryEscape(p.val))
		}
		return strings.Join(parts, "&"), nil
	}
}

// buildRawKV renders the original pairs in source order as k=v text.
func buildRawKV(deps Deps) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		return renderKV(rawPairs(obs, deps.IgnoreEmpty)), nil
	}
}

// buildRawCSV renders the original pairs as a header and value line.
func buildRawCSV(deps Deps) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		pairs := rawPairs(obs, deps.IgnoreEmpty)
		keys := make([]string, len(pairs))
		vals := make([]string, len(pairs))
		for i, p := range pairs {
			keys[i] = p.key
			vals[i] = p.val
		}
		return strings.Join(keys, ";") + "\n" + strings.Join(vals, ";") + "\n", nil
	}
}

// scale10 renders a value as the nearest integer of ten times it.
func scale10(v float64) string {
	return strconv.Itoa(int(math.Round(v * 10)))
}

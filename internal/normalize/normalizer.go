// Package normalize converts raw push reports into the canonical
// observation record: sentinel scrub, policy rewrites, derived
// meteorological fields, and the dual metric/imperial views.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/aqi"
	"github.com/foshk/gateway/pkg/config"
	"github.com/foshk/gateway/pkg/units"
	"go.uber.org/zap"
)

// Normalizer turns RawReports into Observations.  It is driven by a single
// worker goroutine; it holds no cross-task state of its own.
type Normalizer struct {
	policy config.PolicyData
	logger *zap.SugaredLogger
}

// New creates a Normalizer with the given policy.
func New(policy config.PolicyData, logger *zap.SugaredLogger) *Normalizer {
	return &Normalizer{policy: policy, logger: logger}
}

// Normalize builds the canonical record from a raw report.  The state
// engine afterwards injects window-derived fields (wind averages, sun
// hours, pressure trend) through the same Inject helper used here.
func (n *Normalizer) Normalize(raw types.RawReport) *types.Observation {
	obs := &types.Observation{
		Timestamp: raw.Received,
		Imperial:  make(map[string]types.Field),
		Metric:    make(map[string]types.Field),
		Raw:       raw,
	}

	pairs := n.applyPolicies(raw)

	// identity and timestamp
	obs.Mac = pairs["PASSKEY"]
	if st, ok := firstOf(pairs, "stationtype", "softwaretype"); ok {
		obs.StationType = st
		obs.Model, obs.Firmware = splitStationType(st)
	}
	if ts, ok := pairs["dateutc"]; ok && !n.policy.OutTime {
		if t, err := parseDateUTC(ts); err == nil {
			obs.Timestamp = t
		}
	}

	// imperial view: raw map minus sentinels
	for k, v := range pairs {
		if types.IsSentinel(v) {
			continue
		}
		if n.policy.EvalValues && implausible(k, v) {
			n.logger.Warnf("dropping implausible %s=%s", k, v)
			continue
		}
		obs.Imperial[k] = makeField(k, v)
	}

	n.derive(obs)
	n.buildMetricView(obs)

	return obs
}

// applyPolicies runs the pre-derivation rewrites on a copy of the raw map.
func (n *Normalizer) applyPolicies(raw types.RawReport) map[string]string {
	pairs := make(map[string]string, len(raw.Pairs))
	for k, v := range raw.Pairs {
		pairs[k] = v
	}

	// OUT_TIME: the exchange-time policy stamps the instant of receipt.
	if n.policy.OutTime {
		pairs["dateutc"] = raw.Received.UTC().Format("2006-01-02 15:04:05")
	}

	// fake outdoor sensor: nominated indoor keys stand in for the outdoor ones
	if n.policy.OutTemp != "" {
		if v, ok := pairs[n.policy.OutTemp]; ok && types.IsSentinel(pairs["tempf"]) {
			pairs["tempf"] = v
			delete(pairs, n.policy.OutTemp)
		}
	}
	if n.policy.OutHum != "" {
		if v, ok := pairs[n.policy.OutHum]; ok && types.IsSentinel(pairs["humidity"]) {
			pairs["humidity"] = v
			delete(pairs, n.policy.OutHum)
		}
	}

	// ADD_ITEMS appends static key=value pairs to every record
	if n.policy.AddItems != "" {
		for _, item := range strings.Split(n.policy.AddItems, ",") {
			if k, v, ok := strings.Cut(strings.TrimSpace(item), "="); ok && k != "" {
				if _, exists := pairs[k]; !exists {
					pairs[k] = v
				}
			}
		}
	}

	return pairs
}

// derive fills the computed imperial fields when their inputs are present.
func (n *Normalizer) derive(obs *types.Observation) {
	imp := obs.Imperial

	tempF, hasTemp := numOf(imp, "tempf")
	hum, hasHum := numOf(imp, "humidity")
	wind, hasWind := numOf(imp, "windspeedmph")

	if hasTemp && hasHum && hum > 0 {
		dew := units.DewPointF(tempF, hum)
		setNum(imp, "dewptf", dew, 1, types.UnitFahrenheit)

		hi := units.HeatIndexF(tempF, hum)
		setNum(imp, "heatindexf", hi, 1, types.UnitFahrenheit)

		humidex := units.Humidex(units.FToC(tempF), units.FToC(dew))
		setNum(imp, "humidex", humidex, 1, types.UnitCelsius)

		alt := units.MToFeet(n.policy.AltitudeM)
		setNum(imp, "cloudf", units.CloudBaseFt(tempF, dew, alt), 0, types.UnitFeet)
	}
	if hasTemp && hasWind {
		setNum(imp, "windchillf", units.WindChillF(tempF, wind), 1, types.UnitFahrenheit)
	}
	if hasTemp && hasWind && hasHum {
		setNum(imp, "feelslikef", units.FeelsLikeF(tempF, wind, hum), 1, types.UnitFahrenheit)
	}

	if sol, ok := numOf(imp, "solarradiation"); ok {
		setNum(imp, "brightness", units.Round(units.WM2ToLux(sol), 1), 1, types.UnitLux)
	}

	n.deriveAQI(imp)

	if dir, ok := numOf(imp, "winddir"); ok {
		imp["windd_txt"] = types.Text(units.Cardinal(dir, n.policy.Language), types.UnitText)
	}
}

// deriveAQI recomputes AQI and level bands for PM channels 1-4 and the
// combined WH45 sensor; other channels pass through untouched.
func (n *Normalizer) deriveAQI(imp map[string]types.Field) {
	for i := 1; i <= 4; i++ {
		ch := strconv.Itoa(i)
		if pm, ok := numOf(imp, "pm25_ch"+ch); ok {
			a := aqi.CalculatePM25(pm)
			setNum(imp, "pm25_AQI_ch"+ch, float64(a), 0, types.UnitCount)
			setNum(imp, "pm25_AQI_lvl_ch"+ch, float64(aqi.Level(a)), 0, types.UnitCount)
		}
		if pm, ok := numOf(imp, "pm25_avg24h_ch"+ch); ok {
			a := aqi.CalculatePM25(pm)
			setNum(imp, "pm25_24h_AQI_ch"+ch, float64(a), 0, types.UnitCount)
			setNum(imp, "pm25_24h_AQI_lvl_ch"+ch, float64(aqi.Level(a)), 0, types.UnitCount)
		}
	}
	if pm, ok := numOf(imp, "pm25_co2"); ok {
		a := aqi.CalculatePM25(pm)
		setNum(imp, "pm25_AQI_co2", float64(a), 0, types.UnitCount)
		setNum(imp, "pm25_AQI_lvl_co2", float64(aqi.Level(a)), 0, types.UnitCount)
	}
	if pm, ok := numOf(imp, "pm10_co2"); ok {
		a := aqi.CalculatePM10(pm)
		setNum(imp, "pm10_AQI_co2", float64(a), 0, types.UnitCount)
		setNum(imp, "pm10_AQI_lvl_co2", float64(aqi.Level(a)), 0, types.UnitCount)
	}
	if ppm, ok := numOf(imp, "co2"); ok {
		setNum(imp, "co2_lvl", float64(aqi.CO2Level(ppm)), 0, types.UnitCount)
	}
}

// buildMetricView converts every recognised imperial key; unrecognised
// keys are carried over verbatim.
func (n *Normalizer) buildMetricView(obs *types.Observation) {
	for k, f := range obs.Imperial {
		conv, ok := conversions[k]
		if !ok || !f.Numeric {
			obs.Metric[k] = f
			continue
		}
		obs.Metric[conv.metricKey] = types.Number(units.Round(conv.convert(f.Num), conv.decimals), conv.decimals, conv.metUnit)
	}
}

// Inject adds a derived field to both views, converting for the metric
// view when the key is a recognised imperial one.  The value is rounded
// to the rendered precision so Num and Text always agree.
func Inject(obs *types.Observation, key string, value float64, decimals int) {
	value = units.Round(value, decimals)
	f := types.Number(value, decimals, types.UnitText)
	if conv, ok := conversions[key]; ok {
		f.Unit = conv.impUnit
		obs.Imperial[key] = f
		obs.Metric[conv.metricKey] = types.Number(units.Round(conv.convert(value), conv.decimals), conv.decimals, conv.metUnit)
		return
	}
	f.Unit = unitFor(key)
	obs.Imperial[key] = f
	obs.Metric[key] = f
}

// InjectText adds a text field to both views.
func InjectText(obs *types.Observation, key, value string) {
	f := types.Text(value, unitFor(key))
	obs.Imperial[key] = f
	obs.Metric[key] = f
}

func makeField(key, value string) types.Field {
	if num, err := strconv.ParseFloat(value, 64); err == nil {
		f := types.Field{Text: value, Num: num, Numeric: true, Unit: unitFor(key)}
		if conv, ok := conversions[key]; ok {
			f.Unit = conv.impUnit
		}
		return f
	}
	return types.Text(value, unitFor(key))
}

func setNum(view map[string]types.Field, key string, v float64, decimals int, u types.Unit) {
	view[key] = types.Number(v, decimals, u)
}

func numOf(view map[string]types.Field, key string) (float64, bool) {
	f, ok := view[key]
	if !ok || !f.Numeric {
		return 0, false
	}
	return f.Num, true
}

// plausibleRanges bounds the readings EVAL_VALUES checks, in the
// imperial units they are ingested in: -50..70 °C, 600..1100 hPa,
// 75 m/s wind.
var plausibleRanges = map[string][2]float64{
	"tempf":          {-58, 158},
	"tempinf":        {-58, 158},
	"humidity":       {0, 100},
	"humidityin":     {0, 100},
	"baromrelin":     {17.7, 32.5},
	"baromabsin":     {17.7, 32.5},
	"windspeedmph":   {0, 168},
	"windgustmph":    {0, 168},
	"winddir":        {0, 360},
	"rainratein":     {0, 50},
	"solarradiation": {0, 2000},
	"uv":             {0, 20},
}

// implausible reports whether a bounded key carries an out-of-range
// numeric value.  Unbounded keys and non-numeric values pass.
func implausible(key, value string) bool {
	r, ok := plausibleRanges[key]
	if !ok {
		return false
	}
	num, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}
	return num < r[0] || num > r[1]
}

func firstOf(pairs map[string]string, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := pairs[k]; ok && !types.IsSentinel(v) {
			return v, true
		}
	}
	return "", false
}

// splitStationType splits "GW1100A_V2.2.3" into model and firmware parts.
func splitStationType(st string) (model, firmware string) {
	if i := strings.LastIndex(st, "_V"); i > 0 {
		return st[:i], st[i+1:]
	}
	return st, ""
}

// parseDateUTC accepts the gateway's dateutc spellings.
func parseDateUTC(s string) (time.Time, error) {
	s = strings.ReplaceAll(s, "+", " ")
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

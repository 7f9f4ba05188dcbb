package sinks

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/units"
)

// fileSink writes fixed-layout text products either to a local path or,
// when the target is a URL, by HTTP POST.  WSWIN appends; the other
// layouts overwrite.
type fileSink struct {
	path       string
	appendMode bool
	builder    func(*types.Observation) (string, error)
}

func (s *fileSink) Build(obs *types.Observation) (string, error) {
	return s.builder(obs)
}

func (s *fileSink) Send(_ context.Context, payload string) error {
	flags := os.O_CREATE | os.O_WRONLY
	if s.appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(s.path, flags, 0o644)
	if err != nil {
		return Permanent(err)
	}
	defer f.Close()
	if !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}
	_, err = f.WriteString(payload)
	return err
}

func isFileTarget(url string) bool {
	return !strings.Contains(url, "://")
}

func numOr(obs *types.Observation, metric bool, key string, def float64) float64 {
	if v, ok := fieldNum(obs, metric, key); ok {
		return v
	}
	return def
}

// buildRealtime renders the Cumulus realtime.txt line: a fixed
// space-separated positional layout, metric units.
func buildRealtime(obs *types.Observation) (string, error) {
	t := obs.Timestamp
	fields := []string{
		t.Format("02/01/06"),
		t.Format("15:04:05"),
		f1(numOr(obs, true, "tempc", 0)),
		f0(numOr(obs, true, "humidity", 0)),
		f1(numOr(obs, true, "dewptc", 0)),
		f1(numOr(obs, true, "windspdkmh_avg10m", numOr(obs, true, "windspeedkmh", 0))),
		f1(numOr(obs, true, "windspeedkmh", 0)),
		f0(numOr(obs, true, "winddir", 0)),
		f1(numOr(obs, true, "rainratemm", 0)),
		f1(numOr(obs, true, "dailyrainmm", 0)),
		f1(numOr(obs, true, "baromrelhpa", 0)),
		units.Cardinal(numOr(obs, true, "winddir", 0), ""),
		fmt.Sprintf("%d", units.Beaufort(numOr(obs, true, "windspeedkmh", 0))),
		"km/h",
		"C",
		"mm",
		"hPa",
		f1(numOr(obs, true, "pchange1", 0)),
		f1(numOr(obs, true, "monthlyrainmm", 0)),
		f1(numOr(obs, true, "yearlyrainmm", 0)),
		f1(numOr(obs, true, "feelslikec", numOr(obs, true, "tempc", 0))),
		f1(numOr(obs, true, "tempinc", 0)),
		f0(numOr(obs, true, "humidityin", 0)),
		f1(numOr(obs, true, "windchillc", numOr(obs, true, "tempc", 0))),
		f0(numOr(obs, true, "solarradiation", 0)),
		f1(numOr(obs, true, "uv", 0)),
		f1(numOr(obs, true, "windgustkmh_max10m", numOr(obs, true, "windgustkmh", 0))),
		f1(numOr(obs, true, "heatindexc", numOr(obs, true, "tempc", 0))),
		f1(numOr(obs, true, "sunhours", 0)),
	}
	// pad to the fixed 58-field layout
	for len(fields) < 58 {
		fields = append(fields, "0")
	}
	return strings.Join(fields, " "), nil
}

// buildClientRaw renders the Weather Display clientraw.txt line.  The
// layout is positional, starts with the 12345 marker and uses knots.
func buildClientRaw(obs *types.Observation) (string, error) {
	kmhToKt := func(kmh float64) float64 { return kmh / 1.852 }
	fields := []string{
		"12345",
		f1(kmhToKt(numOr(obs, true, "windspdkmh_avg10m", numOr(obs, true, "windspeedkmh", 0)))),
		f1(kmhToKt(numOr(obs, true, "windgustkmh", 0))),
		f0(numOr(obs, true, "winddir", 0)),
		f1(numOr(obs, true, "tempc", 0)),
		f0(numOr(obs, true, "humidity", 0)),
		f1(numOr(obs, true, "baromrelhpa", 0)),
		f1(numOr(obs, true, "dailyrainmm", 0)),
		f1(numOr(obs, true, "monthlyrainmm", 0)),
		f1(numOr(obs, true, "yearlyrainmm", 0)),
		f1(numOr(obs, true, "rainratemm", 0)),
	}
	for len(fields) < 100 {
		fields = append(fields, "0")
	}
	fields = append(fields, "!!EOR!!")
	return strings.Join(fields, " "), nil
}

// buildWSWIN renders the WsWin custom-import CSV row; the sink appends.
func buildWSWIN(obs *types.Observation) (string, error) {
	t := obs.Timestamp
	fields := []string{
		t.Format("02.01.2006"),
		t.Format("15:04"),
		f1(numOr(obs, true, "tempc", 0)),
		f0(numOr(obs, true, "humidity", 0)),
		f1(numOr(obs, true, "baromrelhpa", 0)),
		f1(numOr(obs, true, "windspeedkmh", 0)),
		f0(numOr(obs, true, "winddir", 0)),
		f1(numOr(obs, true, "dailyrainmm", 0)),
		f0(numOr(obs, true, "solarradiation", 0)),
		f1(numOr(obs, true, "uv", 0)),
	}
	return strings.Join(fields, ";"), nil
}

// buildTXT renders the canonical view as key = value lines.
func buildTXT(cfg func(*types.Observation) []pair) func(*types.Observation) (string, error) {
	return func(obs *types.Observation) (string, error) {
		var b strings.Builder
		for _, p := range cfg(obs) {
			fmt.Fprintf(&b, "%s = %s\n", p.key, p.val)
		}
		return b.String(), nil
	}
}

func f1(v float64) string { return fmt.Sprintf("%.1f", v) }
func f0(v float64) string { return fmt.Sprintf("%.0f", v) }


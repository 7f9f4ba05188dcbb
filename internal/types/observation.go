// Package types holds the canonical observation record and the raw report
// shapes passed between the ingest, normaliser, and fanout stages.
package types

import (
	"sort"
	"strconv"
	"time"
)

// Unit tags a field value with its measurement unit.
type Unit string

const (
	UnitCelsius    Unit = "°C"
	UnitFahrenheit Unit = "°F"
	UnitPercent    Unit = "%RH"
	UnitHPa        Unit = "hPa"
	UnitInHg       Unit = "inHg"
	UnitMM         Unit = "mm"
	UnitInch       Unit = "in"
	UnitKMH        Unit = "km/h"
	UnitMS         Unit = "m/s"
	UnitMPH        Unit = "mph"
	UnitWM2        Unit = "W/m²"
	UnitLux        Unit = "lux"
	UnitUVI        Unit = "UV-index"
	UnitUGM3       Unit = "µg/m³"
	UnitPPM        Unit = "ppm"
	UnitKM         Unit = "km"
	UnitFeet       Unit = "ft"
	UnitMeter      Unit = "m"
	UnitCount      Unit = "count"
	UnitRatio      Unit = "ratio"
	UnitBool       Unit = "bool"
	UnitText       Unit = "text"
	UnitInstant    Unit = "instant"
)

// Field is one unit-tagged observation value.  Text always holds the
// canonical string form used on every outbound wire; Num is the parsed
// value for numeric fields.
type Field struct {
	Text    string
	Num     float64
	Numeric bool
	Unit    Unit
}

// Number constructs a numeric field, rendering the value with the given
// number of decimals.
func Number(v float64, decimals int, u Unit) Field {
	return Field{
		Text:    strconv.FormatFloat(v, 'f', decimals, 64),
		Num:     v,
		Numeric: true,
		Unit:    u,
	}
}

// Text constructs a non-numeric field.
func Text(s string, u Unit) Field {
	return Field{Text: s, Unit: u}
}

// RawReport is the unparsed key/value map emitted by an ingest path,
// tagged with the instant of receipt.
type RawReport struct {
	Received time.Time
	// Source identifies the ingest path: "ecowitt", "wu", or "lan".
	Source string
	Pairs  map[string]string
	// Order preserves the key order as received; RAW pass-through sinks
	// reproduce it.
	Order []string
	// Body is the original body or query string, kept for logging.
	Body string
}

// Observation is the canonical record produced by the normaliser.  Both
// views are derived from the same raw source map; neither is "the truth".
type Observation struct {
	Timestamp time.Time
	Mac       string
	Model     string
	Firmware  string
	// StationType is the verbatim stationtype/softwaretype value.
	StationType string

	// Imperial is the source map plus derived fields, imperial units.
	Imperial map[string]Field
	// Metric is the converted view, metric units.  Unrecognised keys are
	// carried over verbatim.
	Metric map[string]Field

	Raw RawReport
}

// View returns the metric or imperial map.
func (o *Observation) View(metric bool) map[string]Field {
	if metric {
		return o.Metric
	}
	return o.Imperial
}

// Get looks a key up in the given view.
func (o *Observation) Get(metric bool, key string) (Field, bool) {
	f, ok := o.View(metric)[key]
	return f, ok
}

// Num returns the numeric value of a key, searching the metric view first.
func (o *Observation) Num(key string) (float64, bool) {
	if f, ok := o.Metric[key]; ok && f.Numeric {
		return f.Num, true
	}
	if f, ok := o.Imperial[key]; ok && f.Numeric {
		return f.Num, true
	}
	return 0, false
}

// SortedKeys returns the keys of the given view in stable order: source
// order first, then derived keys alphabetically.
func (o *Observation) SortedKeys(metric bool) []string {
	view := o.View(metric)
	seen := make(map[string]bool, len(view))
	keys := make([]string, 0, len(view))
	for _, k := range o.Raw.Order {
		if _, ok := view[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var derived []string
	for k := range view {
		if !seen[k] {
			derived = append(derived, k)
		}
	}
	sort.Strings(derived)
	return append(keys, derived...)
}

// IsSentinel reports whether a raw string value means "absent": the
// gateways send -9999, empty, null, or None for missing sensors.
func IsSentinel(v string) bool {
	switch v {
	case "", "-9999", "-9999.0", "null", "None":
		return true
	}
	return false
}

package state

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/foshk/gateway/internal/types"
)

// sunThresholdWM2 is the solar radiation above which a minute counts as
// sunshine.
const sunThresholdWM2 = 120

// Extreme is one side of a daily min/max pair.
type Extreme struct {
	Value float64   `msgpack:"value"`
	At    time.Time `msgpack:"at"`
}

// Daily accumulates per-key extremes and sunshine minutes for the
// current local calendar day.
type Daily struct {
	Day        string             `msgpack:"day"` // local date, 2006-01-02
	Min        map[string]Extreme `msgpack:"min"`
	Max        map[string]Extreme `msgpack:"max"`
	SunMinutes int                `msgpack:"sun_minutes"`
	LastSunMin string             `msgpack:"last_sun_min"` // wall-clock minute already counted
}

func newDaily(day string) *Daily {
	return &Daily{
		Day: day,
		Min: make(map[string]Extreme),
		Max: make(map[string]Extreme),
	}
}

// update folds one observation's numeric imperial fields into the
// extremes and advances the sunshine counter at most once per
// wall-clock minute.
func (d *Daily) update(obs *types.Observation, now time.Time) {
	for k, f := range obs.Imperial {
		if !f.Numeric {
			continue
		}
		if cur, ok := d.Min[k]; !ok || f.Num < cur.Value {
			d.Min[k] = Extreme{Value: f.Num, At: now}
		}
		if cur, ok := d.Max[k]; !ok || f.Num > cur.Value {
			d.Max[k] = Extreme{Value: f.Num, At: now}
		}
	}
	if sol, ok := obs.Num("solarradiation"); ok && sol >= sunThresholdWM2 {
		minute := now.Format("2006-01-02 15:04")
		if minute != d.LastSunMin {
			d.SunMinutes++
			d.LastSunMin = minute
		}
	}
}

// SunHours returns the accumulated sunshine in hours.
func (d *Daily) SunHours() float64 {
	return float64(d.SunMinutes) / 60
}

// dayfileWriter appends one row per day to CSV_DAYFILE, creating the
// file with a header on first write.  A write error disables the writer
// for the rest of the session.
type dayfileWriter struct {
	path     string
	disabled bool
	logger   *zap.SugaredLogger
}

// writeRow appends the closing day's extremes.  Columns are stable:
// date, sun hours, then min/at/max/at per sorted key.
func (w *dayfileWriter) writeRow(d *Daily) {
	if w.path == "" || w.disabled {
		return
	}
	keys := make([]string, 0, len(d.Min))
	for k := range d.Min {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	_, statErr := os.Stat(w.path)
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		w.logger.Errorf("dayfile %s: %v; disabling daily CSV", w.path, err)
		w.disabled = true
		return
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if os.IsNotExist(statErr) {
		header := []string{"date", "sunhours"}
		for _, k := range keys {
			header = append(header, k+"_min", k+"_min_time", k+"_max", k+"_max_time")
		}
		cw.Write(header)
	}
	row := []string{d.Day, fmt.Sprintf("%.2f", d.SunHours())}
	for _, k := range keys {
		mn := d.Min[k]
		mx := d.Max[k]
		row = append(row,
			fmt.Sprintf("%g", mn.Value), mn.At.Format("15:04"),
			fmt.Sprintf("%g", mx.Value), mx.At.Format("15:04"))
	}
	cw.Write(row)
	cw.Flush()
	if err := cw.Error(); err != nil {
		w.logger.Errorf("dayfile %s: %v; disabling daily CSV", w.path, err)
		w.disabled = true
	}
}

// renameStale moves a dayfile aside when a restart discards the day it
// was accumulating for.
func renameStale(path string, logger *zap.SugaredLogger) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	backup := fmt.Sprintf("%s.%s", path, time.Now().Format("20060102-150405"))
	if err := os.Rename(path, backup); err != nil {
		logger.Errorf("renaming stale dayfile %s: %v", path, err)
		return
	}
	logger.Infof("stale dayfile moved to %s", backup)
}

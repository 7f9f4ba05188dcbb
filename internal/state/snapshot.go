package state

import (
	"fmt"
	"time"
)

// SnapshotVersion identifies the snapshot schema; restores refuse any
// other version.
const SnapshotVersion = 1

// Snapshot is the crash-recovery state written at shutdown.
type Snapshot struct {
	Version   int              `msgpack:"version"`
	StopTime  time.Time        `msgpack:"stop_time"`
	Interval  int              `msgpack:"interval"`
	Pressure  []PressureSample `msgpack:"pressure"`
	Wind      []WindSample     `msgpack:"wind"`
	Daily     *Daily           `msgpack:"daily"`
	Lightning LightningState   `msgpack:"lightning"`
	Flags     map[string]Flag  `msgpack:"flags"`
}

// Snapshot captures the engine state for persistence.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := *e.daily
	return &Snapshot{
		Version:   SnapshotVersion,
		StopTime:  time.Now(),
		Interval:  e.interval,
		Pressure:  e.pressure.Samples(),
		Wind:      e.wind.Samples(),
		Daily:     &d,
		Lightning: e.lightning,
		Flags:     e.flags.snapshot(),
	}
}

// RestoreSnapshot loads a snapshot taken no longer than maxAge ago with
// a matching send interval.  On refusal the engine stays empty and the
// stale dayfile is moved aside.
func (e *Engine) RestoreSnapshot(s *Snapshot, maxAge time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	refuse := func(err error) error {
		renameStale(e.dayfile.path, e.logger)
		return err
	}
	if s.Version != SnapshotVersion {
		return refuse(fmt.Errorf("snapshot version %d, want %d", s.Version, SnapshotVersion))
	}
	if age := time.Since(s.StopTime); age > maxAge {
		return refuse(fmt.Errorf("snapshot is %s old, limit %s", age.Round(time.Second), maxAge))
	}
	if s.Interval != e.interval {
		return refuse(fmt.Errorf("snapshot taken at interval %ds, now %ds", s.Interval, e.interval))
	}

	e.pressure.Restore(s.Pressure)
	e.wind.Restore(s.Wind)
	if s.Daily != nil {
		d := *s.Daily
		if d.Min == nil {
			d.Min = make(map[string]Extreme)
		}
		if d.Max == nil {
			d.Max = make(map[string]Extreme)
		}
		e.daily = &d
	}
	e.lightning = s.Lightning
	e.flags.restore(s.Flags)
	e.logger.Infof("restored state snapshot from %s", s.StopTime.Format(time.RFC3339))
	return nil
}

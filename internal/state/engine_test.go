package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/config"
)

type recordingNotifier struct {
	transitions []string
}

func (r *recordingNotifier) FlagTransition(name string, active bool, reason string) {
	state := "off"
	if active {
		state = "on"
	}
	r.transitions = append(r.transitions, name+":"+state+":"+reason)
}

func (r *recordingNotifier) last(name string) string {
	for i := len(r.transitions) - 1; i >= 0; i-- {
		if strings.HasPrefix(r.transitions[i], name+":") {
			return r.transitions[i]
		}
	}
	return ""
}

func testEngine(warn config.WarningData) (*Engine, *recordingNotifier) {
	n := &recordingNotifier{}
	cfg := &config.ConfigData{}
	cfg.Gateway.Interval = 60
	cfg.Warnings = warn
	return New(cfg, n, zap.NewNop().Sugar()), n
}

func obsAt(at time.Time, fields map[string]float64) *types.Observation {
	obs := &types.Observation{
		Timestamp: at,
		Imperial:  make(map[string]types.Field),
		Metric:    make(map[string]types.Field),
		Raw:       types.RawReport{Received: at},
	}
	for k, v := range fields {
		obs.Imperial[k] = types.Number(v, 2, types.UnitText)
	}
	return obs
}

func TestStormWarningEntryAndExpiry(t *testing.T) {
	e, n := testEngine(config.WarningData{
		StormWarning: true,
		StormDiff1h:  1.75,
		StormDiff3h:  3.75,
		StormExpire:  60,
	})
	start := time.Now()

	// descend 1015 -> 1012 over 55 minutes: not yet a full hour of history
	for i := 0; i <= 55; i++ {
		e.Advance(obsAt(start.Add(time.Duration(i)*time.Minute),
			map[string]float64{"baromrelhpa": 1015 - 3*float64(i)/55}))
	}
	e.Advance(obsAt(start.Add(56*time.Minute), map[string]float64{"baromrelhpa": 1012.5}))
	if e.Flags()[FlagStorm1h].Active {
		t.Fatal("storm_1h active without a full hour of history")
	}

	// a full hour in, the 1 h fall crosses the threshold
	e.Advance(obsAt(start.Add(60*time.Minute), map[string]float64{"baromrelhpa": 1011.2}))
	if !e.Flags()[FlagStorm1h].Active {
		t.Fatal("storm_1h not raised on threshold crossing")
	}
	if got := n.last(FlagStorm1h); !strings.Contains(got, ":on:") {
		t.Errorf("no activation notification, got %q", got)
	}

	// pressure flat from here on: crossings stop, then the expiry runs out
	for i := 61; i <= 240; i++ {
		e.Advance(obsAt(start.Add(time.Duration(i)*time.Minute),
			map[string]float64{"baromrelhpa": 1011.2}))
	}
	if e.Flags()[FlagStorm1h].Active {
		t.Fatal("storm_1h still active after expiry window")
	}
	if got := n.last(FlagStorm1h); !strings.Contains(got, ":off:") {
		t.Errorf("no clear notification, got %q", got)
	}
}

func TestThunderstormLifecycle(t *testing.T) {
	e, n := testEngine(config.WarningData{
		TstormWarning: true,
		TstormCount:   1,
		TstormDistKM:  30,
		TstormExpire:  30,
	})
	t0 := time.Now()

	e.Advance(obsAt(t0, map[string]float64{"lightning_num": 0, "lightning": 5}))
	if e.Flags()[FlagThunderstorm].Active {
		t.Fatal("baseline sample raised the warning")
	}

	e.Advance(obsAt(t0.Add(60*time.Second), map[string]float64{"lightning_num": 1, "lightning": 5}))
	if !e.Flags()[FlagThunderstorm].Active {
		t.Fatal("count increment with close strike did not raise the warning")
	}

	e.Advance(obsAt(t0.Add(300*time.Second), map[string]float64{"lightning_num": 2, "lightning": 10}))

	// quiet until past the expiry
	e.Advance(obsAt(t0.Add(36*time.Minute), map[string]float64{"tempf": 68}))
	if e.Flags()[FlagThunderstorm].Active {
		t.Fatal("warning did not expire")
	}
	got := n.last(FlagThunderstorm)
	for _, want := range []string{"lcount=2", "ldmin=5", "ldmax=10", "ldsum=15"} {
		if !strings.Contains(got, want) {
			t.Errorf("clear notification %q missing %s", got, want)
		}
	}
}

func TestThunderstormDayRolloverKeepsWarning(t *testing.T) {
	e, _ := testEngine(config.WarningData{
		TstormWarning: true,
		TstormCount:   1,
		TstormDistKM:  30,
		TstormExpire:  30,
	})
	t0 := time.Now()
	e.Advance(obsAt(t0, map[string]float64{"lightning_num": 5, "lightning": 8}))
	e.Advance(obsAt(t0.Add(time.Minute), map[string]float64{"lightning_num": 6, "lightning": 8}))
	if !e.Flags()[FlagThunderstorm].Active {
		t.Fatal("warning not active")
	}

	// counter drops to zero: sensor-local day rollover, not an exit
	e.Advance(obsAt(t0.Add(2*time.Minute), map[string]float64{"lightning_num": 0, "lightning": 8}))
	if !e.Flags()[FlagThunderstorm].Active {
		t.Fatal("day rollover cleared the warning")
	}

	// the next increment counts from the new baseline; the very first
	// sample only seeded the baseline, so two increments have happened
	e.Advance(obsAt(t0.Add(3*time.Minute), map[string]float64{"lightning_num": 1, "lightning": 4}))
	if e.lightning.EventCount != 2 {
		t.Errorf("event count = %d, want 2", e.lightning.EventCount)
	}
}

func TestStationSilentWatchdog(t *testing.T) {
	e, n := testEngine(config.WarningData{
		WatchdogWarning:  true,
		WatchdogInterval: 3,
		WatchdogRestart:  2,
	})
	t0 := time.Now()
	e.Advance(obsAt(t0, map[string]float64{"tempf": 68}))

	if e.CheckSilence(t0.Add(100 * time.Second)) {
		t.Error("restart requested before the warning threshold")
	}
	if e.Flags()[FlagStationSilent].Active {
		t.Error("station_silent before threshold")
	}

	e.CheckSilence(t0.Add(200 * time.Second))
	if !e.Flags()[FlagStationSilent].Active {
		t.Fatal("station_silent not raised after 3 intervals")
	}

	if !e.CheckSilence(t0.Add(400 * time.Second)) {
		t.Fatal("no restart request after the restart grace")
	}
	select {
	case <-e.Restart():
	default:
		t.Fatal("restart channel empty")
	}
	// only one request per silence episode
	if e.CheckSilence(t0.Add(500 * time.Second)) {
		t.Error("second restart request in the same episode")
	}

	e.Advance(obsAt(t0.Add(600*time.Second), map[string]float64{"tempf": 68}))
	if e.Flags()[FlagStationSilent].Active {
		t.Error("station_silent not cleared by new data")
	}
	if got := n.last(FlagStationSilent); !strings.Contains(got, ":off:") {
		t.Errorf("no clear notification, got %q", got)
	}
}

func TestCO2Hysteresis(t *testing.T) {
	e, _ := testEngine(config.WarningData{CO2Warning: true, CO2Level: 1000})
	t0 := time.Now()

	e.Advance(obsAt(t0, map[string]float64{"co2": 1500}))
	if !e.Flags()[FlagCO2High].Active {
		t.Fatal("co2_high not raised at 1500 ppm")
	}
	e.Advance(obsAt(t0.Add(time.Minute), map[string]float64{"co2": 950}))
	if !e.Flags()[FlagCO2High].Active {
		t.Fatal("co2_high cleared inside the hysteresis band")
	}
	e.Advance(obsAt(t0.Add(2*time.Minute), map[string]float64{"co2": 890}))
	if e.Flags()[FlagCO2High].Active {
		t.Fatal("co2_high not cleared below 90% of the level")
	}
}

func TestSensorMissingNeedsTwoMisses(t *testing.T) {
	e, _ := testEngine(config.WarningData{
		SensorWarning:   true,
		SensorMandatory: []string{"tempf", "humidity"},
	})
	t0 := time.Now()

	e.Advance(obsAt(t0, map[string]float64{"humidity": 50}))
	if e.Flags()[FlagSensorMissing].Active {
		t.Fatal("warning after a single miss")
	}
	e.Advance(obsAt(t0.Add(time.Minute), map[string]float64{"humidity": 50}))
	f := e.Flags()[FlagSensorMissing]
	if !f.Active || !strings.Contains(f.Reason, "tempf") {
		t.Fatalf("warning not raised on second miss: %+v", f)
	}

	e.Advance(obsAt(t0.Add(2*time.Minute), map[string]float64{"humidity": 50, "tempf": 68}))
	if e.Flags()[FlagSensorMissing].Active {
		t.Fatal("warning not cleared when the sensor returned")
	}
}

func TestBatteryWarning(t *testing.T) {
	e, _ := testEngine(config.WarningData{BatteryWarning: true})
	t0 := time.Now()

	e.Advance(obsAt(t0, map[string]float64{"wh65batt": 1, "soilbatt1": 1.5}))
	f := e.Flags()[FlagBatteryLow]
	if !f.Active || !strings.Contains(f.Reason, "wh65batt") {
		t.Fatalf("binary low battery not detected: %+v", f)
	}
	if strings.Contains(f.Reason, "soilbatt1") {
		t.Error("1.5 V soil battery flagged low")
	}

	e.Advance(obsAt(t0.Add(time.Minute), map[string]float64{"wh65batt": 0, "soilbatt1": 1.5}))
	if e.Flags()[FlagBatteryLow].Active {
		t.Fatal("battery warning not cleared")
	}
}

func TestAmbientBatteryInversion(t *testing.T) {
	obs := obsAt(time.Now(), map[string]float64{"battout": 1})
	obs.StationType = "AMBWeatherV4.3.4"
	if low := lowBatteries(obs); len(low) != 0 {
		t.Errorf("ambient battout=1 flagged low: %v", low)
	}
	obs.Imperial["battout"] = types.Number(0, 0, types.UnitBool)
	if low := lowBatteries(obs); len(low) != 1 {
		t.Errorf("ambient battout=0 not flagged: %v", low)
	}
}

func TestWindInjection(t *testing.T) {
	e, _ := testEngine(config.WarningData{})
	t0 := time.Now()
	for i := 0; i < 5; i++ {
		e.Advance(obsAt(t0.Add(time.Duration(i)*time.Minute), map[string]float64{
			"windspeedmph": float64(10 + i),
			"winddir":      180,
			"windgustmph":  float64(20 + i),
		}))
	}
	obs := e.Latest()
	if f, ok := obs.Imperial["windspdmph_avg10m"]; !ok || f.Num != 12 {
		t.Errorf("windspdmph_avg10m = %+v, want 12", f)
	}
	if f, ok := obs.Imperial["windgustmph_max10m"]; !ok || f.Num != 24 {
		t.Errorf("windgustmph_max10m = %+v, want 24", f)
	}
	if f, ok := obs.Imperial["winddir_avg10m"]; !ok || f.Num != 180 {
		t.Errorf("winddir_avg10m = %+v, want 180", f)
	}
	if _, ok := obs.Metric["windspdkmh_avg10m"]; !ok {
		t.Error("metric view missing windspdkmh_avg10m")
	}
}

func TestSunHoursOncePerMinute(t *testing.T) {
	e, _ := testEngine(config.WarningData{})
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)

	// three samples inside the same wall-clock minute count once
	for i := 0; i < 3; i++ {
		e.Advance(obsAt(t0.Add(time.Duration(i*10)*time.Second),
			map[string]float64{"solarradiation": 500}))
	}
	e.Advance(obsAt(t0.Add(time.Minute), map[string]float64{"solarradiation": 500}))
	e.Advance(obsAt(t0.Add(2*time.Minute), map[string]float64{"solarradiation": 100}))

	d := e.DailySnapshot()
	if d.SunMinutes != 2 {
		t.Errorf("sun minutes = %d, want 2", d.SunMinutes)
	}
	if f, ok := e.Latest().Imperial["sunhours"]; !ok || f.Num != 0.03 {
		t.Errorf("sunhours = %+v, want 0.03", f)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	e, _ := testEngine(config.WarningData{TstormWarning: true, TstormCount: 1, TstormDistKM: 30, TstormExpire: 30})
	t0 := time.Now()
	e.Advance(obsAt(t0, map[string]float64{"baromrelhpa": 1013, "lightning_num": 0, "lightning": 5}))
	e.Advance(obsAt(t0.Add(time.Minute), map[string]float64{"baromrelhpa": 1012.8, "lightning_num": 1, "lightning": 5}))

	snap := e.Snapshot()
	if snap.Version != SnapshotVersion || len(snap.Pressure) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}

	restored, _ := testEngine(config.WarningData{TstormWarning: true, TstormCount: 1, TstormDistKM: 30, TstormExpire: 30})
	if err := restored.RestoreSnapshot(snap, 10*time.Minute); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.pressure.Len() != 2 {
		t.Errorf("pressure window len = %d", restored.pressure.Len())
	}
	if !restored.Flags()[FlagThunderstorm].Active {
		t.Error("thunderstorm flag lost in restore")
	}

	stale := e.Snapshot()
	stale.StopTime = time.Now().Add(-time.Hour)
	fresh, _ := testEngine(config.WarningData{})
	if err := fresh.RestoreSnapshot(stale, 10*time.Minute); err == nil {
		t.Error("stale snapshot restored")
	}

	wrongInterval := e.Snapshot()
	wrongInterval.Interval = 16
	if err := fresh.RestoreSnapshot(wrongInterval, 10*time.Minute); err == nil {
		t.Error("snapshot with changed interval restored")
	}
}

func TestSnapshotRefusalRenamesDayfile(t *testing.T) {
	refusals := map[string]func(s *Snapshot){
		"version":  func(s *Snapshot) { s.Version = SnapshotVersion + 1 },
		"age":      func(s *Snapshot) { s.StopTime = time.Now().Add(-time.Hour) },
		"interval": func(s *Snapshot) { s.Interval = 16 },
	}
	for name, mutate := range refusals {
		t.Run(name, func(t *testing.T) {
			dayfile := filepath.Join(t.TempDir(), "dayfile.csv")
			if err := os.WriteFile(dayfile, []byte("day;tempf_min\n"), 0o644); err != nil {
				t.Fatal(err)
			}

			e, _ := testEngine(config.WarningData{})
			e.dayfile.path = dayfile
			snap := e.Snapshot()
			mutate(snap)

			if err := e.RestoreSnapshot(snap, 10*time.Minute); err == nil {
				t.Fatal("refusal expected")
			}
			if _, err := os.Stat(dayfile); !os.IsNotExist(err) {
				t.Errorf("stale dayfile still in place: %v", err)
			}
		})
	}
}

func TestPressureTrendInjection(t *testing.T) {
	e, _ := testEngine(config.WarningData{})
	start := time.Now()
	for i := 0; i <= 61; i++ {
		e.Advance(obsAt(start.Add(time.Duration(i)*time.Minute),
			map[string]float64{"baromrelhpa": 1015 - float64(i)*0.05}))
	}
	obs := e.Latest()
	f, ok := obs.Imperial["ptrend1"]
	if !ok {
		t.Fatal("ptrend1 not injected after an hour of history")
	}
	// 3.05 hPa fall in the last hour
	if f.Num != -2 {
		t.Errorf("ptrend1 = %v, want -2", f.Num)
	}
	if f, ok := obs.Imperial["pchange1"]; !ok || f.Num > -2.9 {
		t.Errorf("pchange1 = %+v", f)
	}
	if f, ok := obs.Imperial["wnowlvl"]; !ok || f.Num != 2 {
		t.Errorf("wnowlvl = %+v, want 2", f)
	}
	if _, ok := obs.Imperial["ptrend3"]; ok {
		t.Error("ptrend3 injected without 3 h of history")
	}
}

func TestStatusFields(t *testing.T) {
	flags := map[string]Flag{
		FlagStorm1h: {Active: true},
	}
	keys, fields := StatusFields(flags)
	if fields["stormwarning"] != "1" {
		t.Errorf("stormwarning = %q", fields["stormwarning"])
	}
	if fields["tswarning"] != "0" {
		t.Errorf("tswarning = %q", fields["tswarning"])
	}
	if len(keys) != len(statusKeys) {
		t.Errorf("%d keys, want %d", len(keys), len(statusKeys))
	}
}

func TestVersionNumber(t *testing.T) {
	for s, want := range map[string]int{"V2.2.3": 223, "V1.7.7": 177, "2.3.0": 230} {
		if got := versionNumber(s); got != want {
			t.Errorf("versionNumber(%q) = %d, want %d", s, got, want)
		}
	}
	if versionNumber("V2.3.1") <= versionNumber("V2.2.3") {
		t.Error("V2.3.1 not newer than V2.2.3")
	}
}

func TestParseManifest(t *testing.T) {
	m := parseManifest(strings.NewReader("# firmware\nGW1100=V2.3.1\nGW1100_NOTES=fixes\n\nGW1000=V1.7.7\n"))
	v, notes, ok := lookupModel(m, "GW1100A")
	if !ok || v != "V2.3.1" || notes != "fixes" {
		t.Errorf("lookup GW1100A = %q %q %v", v, notes, ok)
	}
	if _, _, ok := lookupModel(m, "WH2650"); ok {
		t.Error("unknown model found")
	}
}

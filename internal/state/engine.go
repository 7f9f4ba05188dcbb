package state

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/foshk/gateway/internal/normalize"
	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/config"
)

// LightningState carries the WH57 bookkeeping across observations and
// restarts.
type LightningState struct {
	LastTime   string    `msgpack:"last_time"` // raw epoch string of the last strike
	LastDist   string    `msgpack:"last_dist"` // raw km string of the last strike
	BaseCount  float64   `msgpack:"base_count"`
	HaveBase   bool      `msgpack:"have_base"`
	LastEvent  time.Time `msgpack:"last_event"`
	EventCount int       `msgpack:"event_count"`
	MinDist    float64   `msgpack:"min_dist"`
	MaxDist    float64   `msgpack:"max_dist"`
	SumDist    float64   `msgpack:"sum_dist"`
}

// Engine owns the rolling windows, daily aggregates and warning flags.
// It is advanced by the single normaliser worker; the control plane and
// dispatcher read published snapshots.
type Engine struct {
	mu       sync.Mutex
	warn     config.WarningData
	policy   config.PolicyData
	interval int
	notifier Notifier
	logger   *zap.SugaredLogger

	pressure *PressureWindow
	wind     *WindWindow
	daily    *Daily
	dayfile  dayfileWriter
	flags    *flagSet

	latest atomic.Pointer[types.Observation]

	lastReceived   time.Time
	restartCh      chan struct{}
	restartSent    bool
	stormLastCross time.Time
	lightning      LightningState
	sensorMisses   map[string]int

	model    string
	firmware string
}

// New creates an Engine sized for the configured send interval.
func New(cfg *config.ConfigData, notifier Notifier, logger *zap.SugaredLogger) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	e := &Engine{
		warn:         cfg.Warnings,
		policy:       cfg.Policy,
		interval:     cfg.Gateway.Interval,
		notifier:     notifier,
		logger:       logger,
		pressure:     NewPressureWindow(cfg.Gateway.Interval),
		wind:         NewWindWindow(),
		daily:        newDaily(time.Now().Local().Format("2006-01-02")),
		dayfile:      dayfileWriter{path: cfg.CSV.DayFile, logger: logger},
		flags:        newFlagSet(notifier),
		restartCh:    make(chan struct{}, 1),
		sensorMisses: make(map[string]int),
		lastReceived: time.Now(),
	}
	return e
}

// Restart delivers at most one restart request when the station stays
// silent past the configured grace.
func (e *Engine) Restart() <-chan struct{} { return e.restartCh }

// Latest returns the most recently advanced observation, or nil before
// the first one.
func (e *Engine) Latest() *types.Observation { return e.latest.Load() }

// Flags returns a copy of the warning flag set.
func (e *Engine) Flags() map[string]Flag {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags.snapshot()
}

// DailySnapshot returns a copy of the current day's aggregates.
func (e *Engine) DailySnapshot() Daily {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := Daily{
		Day:        e.daily.Day,
		Min:        make(map[string]Extreme, len(e.daily.Min)),
		Max:        make(map[string]Extreme, len(e.daily.Max)),
		SunMinutes: e.daily.SunMinutes,
		LastSunMin: e.daily.LastSunMin,
	}
	for k, v := range e.daily.Min {
		d.Min[k] = v
	}
	for k, v := range e.daily.Max {
		d.Max[k] = v
	}
	return d
}

// SetFlag forces a warning flag, used by the control plane toggles.
func (e *Engine) SetFlag(name string, active bool, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags.set(name, active, time.Now(), reason)
}

// SetWarningEnabled toggles one warning rule at runtime.  Disabling a
// rule also clears its flag.  Returns false for names that have no
// runtime toggle.
func (e *Engine) SetWarningEnabled(flag string, on bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch flag {
	case FlagLeak:
		e.warn.LeakWarning = on
	case FlagCO2High:
		e.warn.CO2Warning = on
	case FlagStorm1h, FlagStorm3h:
		e.warn.StormWarning = on
	case FlagSensorMissing:
		e.warn.SensorWarning = on
	case FlagBatteryLow:
		e.warn.BatteryWarning = on
	case FlagFirmwareUpdate:
		// no evaluation rule to disable, the flag itself is cleared below
	default:
		return false
	}
	if !on {
		e.flags.set(flag, false, time.Now(), "disabled by operator")
		if flag == FlagStorm1h || flag == FlagStorm3h {
			e.flags.set(FlagStorm1h, false, time.Now(), "disabled by operator")
			e.flags.set(FlagStorm3h, false, time.Now(), "disabled by operator")
		}
	}
	return true
}

// Advance folds one observation into the engine state and injects the
// window-derived fields into it.  It must be called from a single
// worker.
func (e *Engine) Advance(obs *types.Observation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := obs.Raw.Received
	if now.IsZero() {
		now = time.Now()
	}

	e.lastReceived = now
	e.restartSent = false
	if e.flags.get(FlagStationSilent).Active {
		e.flags.set(FlagStationSilent, false, now, "station reporting again")
	}
	if obs.Model != "" {
		e.model = obs.Model
	}
	if obs.Firmware != "" {
		e.firmware = obs.Firmware
	}

	e.rolloverIfNeeded(now)
	e.fixLightning(obs)
	e.advancePressure(obs, now)
	e.advanceWind(obs, now)

	e.daily.update(obs, now)
	normalize.Inject(obs, "sunhours", e.daily.SunHours(), 2)

	e.checkThunderstorm(obs, now)
	e.checkSensors(obs, now)
	e.checkBatteries(obs, now)
	e.checkLeak(obs, now)
	e.checkCO2(obs, now)

	e.latest.Store(obs)
}

func (e *Engine) rolloverIfNeeded(now time.Time) {
	day := now.Local().Format("2006-01-02")
	if day == e.daily.Day {
		return
	}
	e.dayfile.writeRow(e.daily)
	e.daily = newDaily(day)
}

// fixLightning backfills empty lightning keys from the last known
// strike so downstream consumers always see a value.
func (e *Engine) fixLightning(obs *types.Observation) {
	if !e.policy.FixLightning {
		return
	}
	if _, ok := obs.Imperial["lightning_time"]; !ok && e.lightning.LastTime != "" {
		normalize.InjectText(obs, "lightning_time", e.lightning.LastTime)
	}
	if _, ok := obs.Imperial["lightning"]; !ok && e.lightning.LastDist != "" {
		if v, err := strconv.ParseFloat(e.lightning.LastDist, 64); err == nil {
			normalize.Inject(obs, "lightning", v, 0)
		}
	}
}

func (e *Engine) advancePressure(obs *types.Observation, now time.Time) {
	hpa, ok := obs.Num("baromrelhpa")
	if !ok {
		return
	}
	e.pressure.Append(now, hpa)
	slack := time.Duration(e.interval) * time.Second

	d1, ok1 := e.pressure.Delta(time.Hour, slack)
	if ok1 {
		above, below := e.pressure.Majority(time.Hour)
		t1 := trendLabel(d1, trendWeak1h, trendStrong1h, above, below)
		normalize.Inject(obs, "ptrend1", float64(t1), 0)
		normalize.Inject(obs, "pchange1", d1, 2)
		normalize.InjectText(obs, "ptrend1_txt", trendText(t1, e.policy.Language))
	}
	d3, ok3 := e.pressure.Delta(3*time.Hour, slack)
	if ok3 {
		above, below := e.pressure.Majority(3 * time.Hour)
		t3 := trendLabel(d3, trendWeak3h, trendStrong3h, above, below)
		normalize.Inject(obs, "ptrend3", float64(t3), 0)
		normalize.Inject(obs, "pchange3", d3, 2)
		normalize.InjectText(obs, "ptrend3_txt", trendText(t3, e.policy.Language))

		lvl, txt := prognosis(t3, e.policy.Language)
		normalize.Inject(obs, "wproglvl", float64(lvl), 0)
		normalize.InjectText(obs, "wprogtxt", txt)
	}
	lvl, txt := weatherNow(hpa, e.policy.Language)
	normalize.Inject(obs, "wnowlvl", float64(lvl), 0)
	normalize.InjectText(obs, "wnowtxt", txt)

	if e.warn.StormWarning {
		e.checkStorm(d1, ok1, d3, ok3, now)
	}
}

func (e *Engine) checkStorm(d1 float64, ok1 bool, d3 float64, ok3 bool, now time.Time) {
	crossed1 := ok1 && abs(d1) >= e.warn.StormDiff1h
	crossed3 := ok3 && abs(d3) >= e.warn.StormDiff3h
	if crossed1 || crossed3 {
		e.stormLastCross = now
	}
	if crossed1 {
		e.flags.set(FlagStorm1h, true, now, fmt.Sprintf("pressure change %.2f hPa/1h", d1))
	}
	if crossed3 {
		e.flags.set(FlagStorm3h, true, now, fmt.Sprintf("pressure change %.2f hPa/3h", d3))
	}
	if crossed1 || crossed3 || e.stormLastCross.IsZero() {
		return
	}
	if now.Sub(e.stormLastCross) >= time.Duration(e.warn.StormExpire)*time.Minute {
		e.flags.set(FlagStorm1h, false, now, "storm warning expired")
		e.flags.set(FlagStorm3h, false, now, "storm warning expired")
	}
}

func (e *Engine) advanceWind(obs *types.Observation, now time.Time) {
	speed, okS := obs.Imperial["windspeedmph"]
	if !okS || !speed.Numeric {
		return
	}
	var dir, gust float64
	if f, ok := obs.Imperial["winddir"]; ok && f.Numeric {
		dir = f.Num
	}
	if f, ok := obs.Imperial["windgustmph"]; ok && f.Numeric {
		gust = f.Num
	}
	e.wind.Append(now, speed.Num, dir, gust)

	avg, avgDir, maxGust, ok := e.wind.Stats()
	if !ok {
		return
	}
	normalize.Inject(obs, "windspdmph_avg10m", avg, 1)
	normalize.Inject(obs, "winddir_avg10m", avgDir, 0)
	normalize.Inject(obs, "windgustmph_max10m", maxGust, 1)
}

// checkThunderstorm applies the WH57 rules: a count increment with the
// strike close enough raises the warning; a count drop is a day
// rollover, never a clear.
func (e *Engine) checkThunderstorm(obs *types.Observation, now time.Time) {
	if !e.warn.TstormWarning {
		return
	}
	ls := &e.lightning

	count, okC := obs.Num("lightning_num")
	if okC {
		if f, ok := obs.Imperial["lightning_time"]; ok {
			ls.LastTime = f.Text
		}
		dist, okD := obs.Num("lightning")
		if okD {
			ls.LastDist = strconv.FormatFloat(dist, 'f', -1, 64)
		}

		switch {
		case !ls.HaveBase:
			ls.BaseCount = count
			ls.HaveBase = true
		case count < ls.BaseCount:
			// day rollover on the sensor, keep the warning
			ls.BaseCount = count
		case count > ls.BaseCount:
			ls.BaseCount = count
			if okD && dist <= e.warn.TstormDistKM && count >= float64(e.warn.TstormCount) {
				ls.LastEvent = now
				ls.EventCount++
				if ls.EventCount == 1 || dist < ls.MinDist {
					ls.MinDist = dist
				}
				if dist > ls.MaxDist {
					ls.MaxDist = dist
				}
				ls.SumDist += dist
				e.flags.set(FlagThunderstorm, true, now,
					fmt.Sprintf("lightning at %.0f km, %d strike(s)", dist, ls.EventCount))
			}
		}
	}

	if e.flags.get(FlagThunderstorm).Active && !ls.LastEvent.IsZero() &&
		now.Sub(ls.LastEvent) >= time.Duration(e.warn.TstormExpire)*time.Minute {
		reason := fmt.Sprintf("thunderstorm over: lcount=%d ldmin=%.0f ldmax=%.0f ldsum=%.0f",
			ls.EventCount, ls.MinDist, ls.MaxDist, ls.SumDist)
		e.flags.set(FlagThunderstorm, false, now, reason)
		ls.EventCount = 0
		ls.MinDist, ls.MaxDist, ls.SumDist = 0, 0, 0
	}
}

// checkSensors raises sensor_missing after two consecutive sentinel
// samples of a mandatory key.
func (e *Engine) checkSensors(obs *types.Observation, now time.Time) {
	if !e.warn.SensorWarning || len(e.warn.SensorMandatory) == 0 {
		return
	}
	var missing []string
	for _, key := range e.warn.SensorMandatory {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := obs.Imperial[key]; ok {
			e.sensorMisses[key] = 0
			continue
		}
		e.sensorMisses[key]++
		if e.sensorMisses[key] == 1 {
			e.logger.Warnf("mandatory sensor %s missing, prewarning", key)
		}
		if e.sensorMisses[key] >= 2 {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		e.flags.set(FlagSensorMissing, true, now, "missing: "+strings.Join(missing, ","))
	} else if e.flags.get(FlagSensorMissing).Active {
		allBack := true
		for _, n := range e.sensorMisses {
			if n >= 2 {
				allBack = false
			}
		}
		if allBack {
			e.flags.set(FlagSensorMissing, false, now, "all mandatory sensors reporting")
		}
	}
}

func (e *Engine) checkBatteries(obs *types.Observation, now time.Time) {
	if !e.warn.BatteryWarning {
		return
	}
	low := lowBatteries(obs)
	if len(low) > 0 {
		e.flags.set(FlagBatteryLow, true, now, strings.Join(low, ","))
	} else if e.flags.get(FlagBatteryLow).Active {
		e.flags.set(FlagBatteryLow, false, now, "all batteries ok")
	}
}

func (e *Engine) checkLeak(obs *types.Observation, now time.Time) {
	if !e.warn.LeakWarning {
		return
	}
	var channels []string
	for i := 1; i <= 4; i++ {
		key := "leak_ch" + strconv.Itoa(i)
		if v, ok := obs.Num(key); ok && v == 1 {
			channels = append(channels, key)
		}
	}
	if len(channels) > 0 {
		e.flags.set(FlagLeak, true, now, strings.Join(channels, ","))
	} else if e.flags.get(FlagLeak).Active {
		e.flags.set(FlagLeak, false, now, "no leak reported")
	}
}

// checkCO2 raises above the warn level and clears with ten percent
// hysteresis below it.
func (e *Engine) checkCO2(obs *types.Observation, now time.Time) {
	if !e.warn.CO2Warning {
		return
	}
	ppm, ok := obs.Num("co2")
	if !ok {
		return
	}
	if ppm > e.warn.CO2Level {
		e.flags.set(FlagCO2High, true, now, fmt.Sprintf("co2 %.0f ppm", ppm))
	} else if ppm < e.warn.CO2Level*0.9 {
		if e.flags.get(FlagCO2High).Active {
			e.flags.set(FlagCO2High, false, now, fmt.Sprintf("co2 back to %.0f ppm", ppm))
		}
	}
}

// CheckSilence evaluates the station-silent watchdog at now, returning
// true when a restart request was emitted.
func (e *Engine) CheckSilence(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.warn.WatchdogWarning {
		return false
	}
	silence := now.Sub(e.lastReceived)
	limit := time.Duration(e.warn.WatchdogInterval*e.interval) * time.Second
	if silence < limit {
		return false
	}
	e.flags.set(FlagStationSilent, true, now,
		fmt.Sprintf("no data for %s", silence.Round(time.Second)))

	if e.warn.WatchdogRestart > 0 && !e.restartSent {
		restartAt := limit + time.Duration(e.warn.WatchdogRestart*e.interval)*time.Second
		if silence >= restartAt {
			e.restartSent = true
			select {
			case e.restartCh <- struct{}{}:
			default:
			}
			return true
		}
	}
	return false
}

// Firmware returns the running model and firmware version as last seen.
func (e *Engine) Firmware() (model, version string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model, e.firmware
}

// SetIdentity seeds the model and firmware version, typically from a
// LAN query before the first report arrives.
func (e *Engine) SetIdentity(model, firmware string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if model != "" {
		e.model = model
	}
	if firmware != "" {
		e.firmware = firmware
	}
}

// SetFirmwareUpdate transitions the firmware_update flag from the
// update checker.
func (e *Engine) SetFirmwareUpdate(available bool, notes string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags.set(FlagFirmwareUpdate, available, time.Now(), notes)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

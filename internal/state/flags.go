package state

import (
	"sort"
	"time"
)

// Warning flag names.
const (
	FlagStationSilent  = "station_silent"
	FlagStorm1h        = "storm_1h"
	FlagStorm3h        = "storm_3h"
	FlagThunderstorm   = "thunderstorm"
	FlagSensorMissing  = "sensor_missing"
	FlagBatteryLow     = "battery_low"
	FlagLeak           = "leak"
	FlagCO2High        = "co2_high"
	FlagFirmwareUpdate = "firmware_update"
)

// statusKeys maps flag names to the key used in status payloads and UDP
// status datagrams.
var statusKeys = map[string]string{
	FlagStationSilent:  "wswarning",
	FlagStorm1h:        "stormwarning",
	FlagStorm3h:        "stormwarning3h",
	FlagThunderstorm:   "tswarning",
	FlagSensorMissing:  "sensorwarning",
	FlagBatteryLow:     "batterywarning",
	FlagLeak:           "leakwarning",
	FlagCO2High:        "co2warning",
	FlagFirmwareUpdate: "updatewarning",
}

// Flag is one sticky warning state.
type Flag struct {
	Active bool      `msgpack:"active"`
	Since  time.Time `msgpack:"since"`
	Reason string    `msgpack:"reason"`
}

// Notifier receives warning flag transitions.  Implementations log,
// push and emit the UDP status datagram; transitions for a flag
// happen-before any record carrying the new value.
type Notifier interface {
	FlagTransition(name string, active bool, reason string)
}

// NopNotifier discards transitions.
type NopNotifier struct{}

func (NopNotifier) FlagTransition(string, bool, string) {}

type flagSet struct {
	flags    map[string]*Flag
	notifier Notifier
}

func newFlagSet(n Notifier) *flagSet {
	return &flagSet{flags: make(map[string]*Flag), notifier: n}
}

func (fs *flagSet) get(name string) Flag {
	if f, ok := fs.flags[name]; ok {
		return *f
	}
	return Flag{}
}

// set transitions a flag and notifies when the active state changed.
func (fs *flagSet) set(name string, active bool, now time.Time, reason string) {
	f, ok := fs.flags[name]
	if !ok {
		f = &Flag{}
		fs.flags[name] = f
	}
	if f.Active == active {
		if active {
			f.Reason = reason
		}
		return
	}
	f.Active = active
	f.Since = now
	f.Reason = reason
	fs.notifier.FlagTransition(name, active, reason)
}

// snapshot returns a copy of all flags.
func (fs *flagSet) snapshot() map[string]Flag {
	out := make(map[string]Flag, len(fs.flags))
	for k, v := range fs.flags {
		out[k] = *v
	}
	return out
}

func (fs *flagSet) restore(flags map[string]Flag) {
	for k, v := range flags {
		f := v
		fs.flags[k] = &f
	}
}

// StatusKey returns the payload key for a flag name, or the name itself
// when it has no mapping.
func StatusKey(flag string) string {
	if k, ok := statusKeys[flag]; ok {
		return k
	}
	return flag
}

// StatusFields renders the flag set as payload fields, "1" active and
// "0" idle, in a stable order.
func StatusFields(flags map[string]Flag) ([]string, map[string]string) {
	keys := make([]string, 0, len(statusKeys))
	fields := make(map[string]string, len(statusKeys))
	for name, key := range statusKeys {
		v := "0"
		if f, ok := flags[name]; ok && f.Active {
			v = "1"
		}
		keys = append(keys, key)
		fields[key] = v
	}
	sort.Strings(keys)
	return keys, fields
}

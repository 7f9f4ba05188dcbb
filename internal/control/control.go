// Package control exposes the runtime surface under /FOSHKplugin/: live
// values, daily extremes, warning status and a handful of operator
// toggles.  It registers on the same mux as the ingest server.
package control

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/foshk/gateway/internal/log"
	"github.com/foshk/gateway/internal/notify"
	"github.com/foshk/gateway/internal/state"
	"github.com/foshk/gateway/pkg/config"
)

// Rebooter issues the reboot command to the LAN station.
type Rebooter interface {
	Reboot(ctx context.Context) error
}

// Handler answers the control-plane requests.
type Handler struct {
	engine   *state.Engine
	notifier *notify.Notifier
	caps     config.CapabilityData
	station  Rebooter // nil when no LAN station is configured
	restart  func()   // requests a plugin restart
	logger   *zap.SugaredLogger
}

// New registers the control routes on the shared router.
func New(router *mux.Router, engine *state.Engine, notifier *notify.Notifier, caps config.CapabilityData, station Rebooter, restart func(), logger *zap.SugaredLogger) *Handler {
	h := &Handler{
		engine:   engine,
		notifier: notifier,
		caps:     caps,
		station:  station,
		restart:  restart,
		logger:   logger,
	}
	router.HandleFunc("/FOSHKplugin/{cmd}", h.serve).Methods(http.MethodGet)
	return h
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	cmd := mux.Vars(r)["cmd"]

	// toggles arrive as a single "name=value" path segment
	if name, val, ok := strings.Cut(cmd, "="); ok {
		h.toggle(w, r, name, val)
		return
	}

	switch cmd {
	case "state":
		fmt.Fprint(w, "running\n")
	case "status":
		h.reply(w, r, h.statusFields())
	case "minmax":
		h.reply(w, r, h.minmaxFields())
	case "getvalue":
		h.getValue(w, r)
	case "rebootWS":
		h.rebootWS(w, r)
	case "restartPlugin":
		h.restartPlugin(w)
	default:
		http.Error(w, "unknown command", http.StatusNotFound)
	}
}

type field struct {
	key string
	val string
}

func (h *Handler) statusFields() []field {
	out := []field{}
	if model, version := h.engine.Firmware(); model != "" {
		out = append(out, field{"model", model}, field{"firmware", version})
	}
	if obs := h.engine.Latest(); obs != nil {
		out = append(out, field{"last_report", obs.Timestamp.UTC().Format("2006-01-02 15:04:05")})
	}
	keys, vals := state.StatusFields(h.engine.Flags())
	for _, k := range keys {
		out = append(out, field{k, vals[k]})
	}
	return out
}

func (h *Handler) minmaxFields() []field {
	d := h.engine.DailySnapshot()
	keys := make([]string, 0, len(d.Min))
	for k := range d.Min {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []field{{"day", d.Day}}
	for _, k := range keys {
		mn, mx := d.Min[k], d.Max[k]
		out = append(out,
			field{k + "_min", fmt.Sprintf("%.1f", mn.Value)},
			field{k + "_min_time", mn.At.Format("15:04")},
			field{k + "_max", fmt.Sprintf("%.1f", mx.Value)},
			field{k + "_max_time", mx.At.Format("15:04")},
		)
	}
	out = append(out, field{"sunhours", fmt.Sprintf("%.2f", d.SunHours())})
	return out
}

func (h *Handler) getValue(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}
	obs := h.engine.Latest()
	if obs == nil {
		http.Error(w, "no observation yet", http.StatusServiceUnavailable)
		return
	}

	view := obs.Imperial
	other := obs.Metric
	if r.URL.Query().Get("units") == "m" {
		view, other = other, view
	}
	f, ok := view[key]
	if !ok {
		f, ok = other[key]
	}
	if !ok {
		http.Error(w, "unknown key", http.StatusNotFound)
		return
	}

	val := f.Text
	if _, boolHint := r.URL.Query()["bool"]; boolHint && f.Numeric {
		val = "false"
		if f.Num != 0 {
			val = "true"
		}
	}
	h.reply(w, r, []field{{key, val}})
}

// reply renders fields as lines, as a custom-separator string, or as a
// msgpack map when format=msgpack is requested.
func (h *Handler) reply(w http.ResponseWriter, r *http.Request, fields []field) {
	q := r.URL.Query()
	if q.Get("format") == "msgpack" {
		m := make(map[string]string, len(fields))
		for _, f := range fields {
			m[f.key] = f.val
		}
		b, err := msgpack.Marshal(m)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/msgpack")
		w.Write(b)
		return
	}

	if sep, ok := q["separator"]; ok && len(sep) > 0 {
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = f.key + "=" + f.val
		}
		fmt.Fprint(w, strings.Join(parts, sep[0]))
		return
	}

	for _, f := range fields {
		fmt.Fprintf(w, "%s = %s\n", f.key, f.val)
	}
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, name, val string) {
	if status, err := h.applyToggle(name, val); err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	h.logger.Infof("control: %s=%s by %s", name, val, r.RemoteAddr)
	fmt.Fprintf(w, "%s=%s\n", name, val)
}

// applyToggle performs a runtime toggle; the returned status maps the
// failure class for the HTTP surface.
func (h *Handler) applyToggle(name, val string) (int, error) {
	on := val == "enable"
	if !on && val != "disable" && name != "loglevel" {
		return http.StatusBadRequest, fmt.Errorf("value must be enable or disable")
	}

	switch name {
	case "debug":
		level := "INFO"
		if on {
			level = "ALL"
		}
		if err := log.SetLevel(level); err != nil {
			return http.StatusInternalServerError, err
		}
	case "loglevel":
		if err := log.SetLevel(val); err != nil {
			return http.StatusBadRequest, err
		}
	case "pushover":
		h.notifier.SetPushover(on)
	case "leakwarning":
		h.engine.SetWarningEnabled(state.FlagLeak, on)
	case "co2warning":
		h.engine.SetWarningEnabled(state.FlagCO2High, on)
	case "updatewarning":
		h.engine.SetWarningEnabled(state.FlagFirmwareUpdate, on)
	case "stormwarning":
		h.engine.SetWarningEnabled(state.FlagStorm1h, on)
	case "sensorwarning":
		h.engine.SetWarningEnabled(state.FlagSensorMissing, on)
	case "batterywarning":
		h.engine.SetWarningEnabled(state.FlagBatteryLow, on)
	default:
		return http.StatusNotFound, fmt.Errorf("unknown toggle %q", name)
	}
	return http.StatusOK, nil
}

func (h *Handler) rebootWS(w http.ResponseWriter, r *http.Request) {
	if !h.caps.RebootEnable {
		http.Error(w, "rebootWS is not enabled", http.StatusForbidden)
		return
	}
	if h.station == nil {
		http.Error(w, "no LAN station configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.station.Reboot(r.Context()); err != nil {
		h.logger.Errorf("control: rebootWS: %v", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.logger.Warnf("control: station reboot requested by %s", r.RemoteAddr)
	fmt.Fprint(w, "reboot requested\n")
}

func (h *Handler) restartPlugin(w http.ResponseWriter) {
	if !h.caps.RestartEnable {
		http.Error(w, "restartPlugin is not enabled", http.StatusForbidden)
		return
	}
	h.logger.Warn("control: plugin restart requested")
	fmt.Fprint(w, "restarting\n")
	if h.restart != nil {
		h.restart()
	}
}

package control

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/foshk/gateway/internal/state"
	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/config"
)

type fakeRebooter struct {
	called bool
	err    error
}

func (f *fakeRebooter) Reboot(context.Context) error {
	f.called = true
	return f.err
}

func testHandler(t *testing.T, caps config.CapabilityData, station Rebooter) (*Handler, *state.Engine, *mux.Router) {
	t.Helper()
	cfg := &config.ConfigData{}
	cfg.ApplyDefaults()
	engine := state.New(cfg, nil, zap.NewNop().Sugar())
	router := mux.NewRouter()
	h := New(router, engine, nil, caps, station, nil, zap.NewNop().Sugar())
	return h, engine, router
}

func get(t *testing.T, router *mux.Router, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func seedObservation(engine *state.Engine) {
	obs := &types.Observation{
		Timestamp: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC),
		Model:     "GW1100A",
		Imperial: map[string]types.Field{
			"tempf":   types.Number(68.0, 1, types.UnitFahrenheit),
			"leak_ch1": types.Number(1, 0, types.UnitBool),
		},
		Metric: map[string]types.Field{
			"tempc": types.Number(20.0, 1, types.UnitCelsius),
		},
		Raw: types.RawReport{Pairs: map[string]string{}, Received: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)},
	}
	engine.Advance(obs)
}

func TestState(t *testing.T) {
	_, _, router := testHandler(t, config.CapabilityData{}, nil)
	code, body := get(t, router, "/FOSHKplugin/state")
	if code != http.StatusOK || body != "running\n" {
		t.Errorf("state = %d %q", code, body)
	}
}

func TestGetValueUnits(t *testing.T) {
	_, engine, router := testHandler(t, config.CapabilityData{}, nil)
	seedObservation(engine)

	code, body := get(t, router, "/FOSHKplugin/getvalue?key=tempf")
	if code != http.StatusOK || strings.TrimSpace(body) != "tempf = 68.0" {
		t.Errorf("imperial = %d %q", code, body)
	}
	code, body = get(t, router, "/FOSHKplugin/getvalue?key=tempc&units=m")
	if code != http.StatusOK || strings.TrimSpace(body) != "tempc = 20.0" {
		t.Errorf("metric = %d %q", code, body)
	}
	code, body = get(t, router, "/FOSHKplugin/getvalue?key=leak_ch1&bool")
	if code != http.StatusOK || strings.TrimSpace(body) != "leak_ch1 = true" {
		t.Errorf("bool = %d %q", code, body)
	}
	code, _ = get(t, router, "/FOSHKplugin/getvalue?key=nothere")
	if code != http.StatusNotFound {
		t.Errorf("unknown key = %d", code)
	}
}

func TestGetValueBeforeFirstObservation(t *testing.T) {
	_, _, router := testHandler(t, config.CapabilityData{}, nil)
	code, _ := get(t, router, "/FOSHKplugin/getvalue?key=tempf")
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", code)
	}
}

func TestStatusSeparatorAndMsgpack(t *testing.T) {
	_, engine, router := testHandler(t, config.CapabilityData{}, nil)
	engine.SetFlag(state.FlagLeak, true, "water at ch1")

	_, body := get(t, router, "/FOSHKplugin/status")
	if !strings.Contains(body, "leakwarning = 1") || !strings.Contains(body, "stormwarning = 0") {
		t.Errorf("status body = %q", body)
	}

	_, body = get(t, router, "/FOSHKplugin/status?separator=%3B")
	if !strings.Contains(body, "leakwarning=1;") && !strings.HasSuffix(body, "leakwarning=1") &&
		!strings.Contains(body, ";leakwarning=1") {
		t.Errorf("separated body = %q", body)
	}
	if strings.Contains(body, "\n") {
		t.Errorf("separator output has newlines: %q", body)
	}

	_, body = get(t, router, "/FOSHKplugin/status?format=msgpack")
	var m map[string]string
	if err := msgpack.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("msgpack decode: %v", err)
	}
	if m["leakwarning"] != "1" {
		t.Errorf("msgpack leakwarning = %q", m["leakwarning"])
	}
}

func TestMinmax(t *testing.T) {
	_, engine, router := testHandler(t, config.CapabilityData{}, nil)
	seedObservation(engine)

	_, body := get(t, router, "/FOSHKplugin/minmax")
	for _, want := range []string{"tempf_min = 68.0", "tempf_max = 68.0", "sunhours = 0.00"} {
		if !strings.Contains(body, want) {
			t.Errorf("minmax body %q missing %q", body, want)
		}
	}
}

func TestToggles(t *testing.T) {
	_, engine, router := testHandler(t, config.CapabilityData{}, nil)
	engine.SetFlag(state.FlagLeak, true, "water at ch1")

	code, body := get(t, router, "/FOSHKplugin/leakwarning=disable")
	if code != http.StatusOK || !strings.Contains(body, "leakwarning=disable") {
		t.Fatalf("toggle = %d %q", code, body)
	}
	if engine.Flags()[state.FlagLeak].Active {
		t.Error("leak flag still active after disable")
	}

	code, _ = get(t, router, "/FOSHKplugin/leakwarning=sideways")
	if code != http.StatusBadRequest {
		t.Errorf("bad value = %d", code)
	}
	code, _ = get(t, router, "/FOSHKplugin/nosuchtoggle=enable")
	if code != http.StatusNotFound {
		t.Errorf("unknown toggle = %d", code)
	}
	code, _ = get(t, router, "/FOSHKplugin/loglevel=WARNING")
	if code != http.StatusOK {
		t.Errorf("loglevel = %d", code)
	}
}

func TestRebootGating(t *testing.T) {
	station := &fakeRebooter{}
	_, _, router := testHandler(t, config.CapabilityData{}, station)
	code, _ := get(t, router, "/FOSHKplugin/rebootWS")
	if code != http.StatusForbidden || station.called {
		t.Errorf("disabled reboot = %d, called=%v", code, station.called)
	}

	station = &fakeRebooter{}
	_, _, router = testHandler(t, config.CapabilityData{RebootEnable: true}, station)
	code, _ = get(t, router, "/FOSHKplugin/rebootWS")
	if code != http.StatusOK || !station.called {
		t.Errorf("enabled reboot = %d, called=%v", code, station.called)
	}

	station = &fakeRebooter{err: fmt.Errorf("socket closed")}
	_, _, router = testHandler(t, config.CapabilityData{RebootEnable: true}, station)
	code, _ = get(t, router, "/FOSHKplugin/rebootWS")
	if code != http.StatusBadGateway {
		t.Errorf("failed reboot = %d", code)
	}
}

func TestUDPCommands(t *testing.T) {
	h, engine, _ := testHandler(t, config.CapabilityData{}, nil)
	seedObservation(engine)
	engine.SetFlag(state.FlagLeak, true, "water at ch1")

	if got := h.udpCommand("state", "test"); got != "running\n" {
		t.Errorf("state = %q", got)
	}
	if got := h.udpCommand("Plugin.state", "test"); got != "running\n" {
		t.Errorf("prefixed state = %q", got)
	}
	if got := h.udpCommand("status", "test"); !strings.Contains(got, "leakwarning = 1") {
		t.Errorf("status = %q", got)
	}
	if got := h.udpCommand("getvalue tempf", "test"); strings.TrimSpace(got) != "tempf = 68.0" {
		t.Errorf("getvalue = %q", got)
	}
	if got := h.udpCommand("leakwarning=disable", "test"); strings.TrimSpace(got) != "leakwarning=disable" {
		t.Errorf("toggle = %q", got)
	}
	if engine.Flags()[state.FlagLeak].Active {
		t.Error("leak flag still active after UDP disable")
	}
	if got := h.udpCommand("bogus", "test"); !strings.Contains(got, "unknown command") {
		t.Errorf("bogus = %q", got)
	}
}

func TestRestartPluginGating(t *testing.T) {
	restarted := false
	cfg := &config.ConfigData{}
	cfg.ApplyDefaults()
	engine := state.New(cfg, nil, zap.NewNop().Sugar())
	router := mux.NewRouter()
	New(router, engine, nil, config.CapabilityData{RestartEnable: true}, nil,
		func() { restarted = true }, zap.NewNop().Sugar())

	code, _ := get(t, router, "/FOSHKplugin/restartPlugin")
	if code != http.StatusOK || !restarted {
		t.Errorf("restart = %d, restarted=%v", code, restarted)
	}
}

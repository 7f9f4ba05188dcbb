package sinks

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/foshk/gateway/internal/state"
	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/config"
)

func testObs(imperial, metric map[string]string, order []string) *types.Observation {
	obs := &types.Observation{
		Timestamp: time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC),
		Model:     "GW1100A",
		Imperial:  make(map[string]types.Field),
		Metric:    make(map[string]types.Field),
		Raw:       types.RawReport{Pairs: make(map[string]string), Order: order},
	}
	for k, v := range imperial {
		obs.Imperial[k] = fieldFrom(v)
		obs.Raw.Pairs[k] = v
	}
	for k, v := range metric {
		obs.Metric[k] = fieldFrom(v)
	}
	return obs
}

func fieldFrom(v string) types.Field {
	var num float64
	numeric := false
	if _, err := fmt.Sscanf(v, "%f", &num); err == nil {
		numeric = true
	}
	return types.Field{Text: v, Num: num, Numeric: numeric, Unit: types.UnitText}
}

func TestFragment(t *testing.T) {
	body := `tempc=20.0 humidity=50 note="light rain later" winddir=180`
	frags := Fragment("FOSHKweather", body, 50)
	if len(frags) < 2 {
		t.Fatalf("expected fragmentation, got %v", frags)
	}
	for _, f := range frags {
		if !strings.HasPrefix(f, "SID=FOSHKweather") {
			t.Errorf("fragment %q lacks SID prefix", f)
		}
		if len(f) > 50 {
			t.Errorf("fragment %q longer than 50 bytes", f)
		}
	}
	joined := strings.Join(frags, " ")
	if !strings.Contains(joined, `note="light rain later"`) {
		t.Errorf("quoted value was split: %v", frags)
	}
}

func TestFragmentShortStaysWhole(t *testing.T) {
	frags := Fragment("S", "a=1 b=2", 2000)
	if len(frags) != 1 || frags[0] != "SID=S a=1 b=2" {
		t.Errorf("got %v", frags)
	}
}

func TestRenderParseKVRoundTrip(t *testing.T) {
	in := []pair{{"tempc", "20.0"}, {"txt", "two words"}, {"winddir", "180"}}
	out := parseKV(renderKV(in))
	if len(out) != len(in) {
		t.Fatalf("got %v", out)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("pair %d: %v != %v", i, out[i], in[i])
		}
	}
}

func TestPayloadPairsIgnoreAndStatus(t *testing.T) {
	obs := testObs(map[string]string{"tempf": "68.0", "humidity": "50", "secret": "x"}, nil,
		[]string{"tempf", "humidity", "secret"})
	status := []pair{{"stormwarning", "1"}}
	pairs := payloadPairs(obs, false, []string{"secret"}, map[string]string{"site": "roof"}, status)

	joined := renderKV(pairs)
	if strings.Contains(joined, "secret") {
		t.Error("ignored key present")
	}
	for _, want := range []string{"tempf=68.0", "site=roof", "stormwarning=1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("payload %q missing %q", joined, want)
		}
	}
	if !strings.HasPrefix(joined, "tempf=68.0 humidity=50") {
		t.Errorf("source order not preserved: %q", joined)
	}
}

func TestBuildWU(t *testing.T) {
	cfg := config.SinkData{SID: "KSTATION1", Password: "pw", Interval: 60}
	obs := testObs(map[string]string{
		"tempf": "68.0", "humidity": "50", "baromrelin": "29.92", "windspeedmph": "10.0",
	}, nil, nil)

	payload, err := buildWU(cfg)(obs)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := url.ParseQuery(payload)
	if v.Get("ID") != "KSTATION1" || v.Get("action") != "updateraw" {
		t.Errorf("query = %q", payload)
	}
	if v.Get("baromin") != "29.92" {
		t.Errorf("baromin = %q", v.Get("baromin"))
	}
	if v.Get("dateutc") != "2024-03-14 10:00:00" {
		t.Errorf("dateutc = %q", v.Get("dateutc"))
	}

	if err := checkWU("success\n"); err != nil {
		t.Errorf("success body rejected: %v", err)
	}
	if err := checkWU("INVALIDPASSWORDID"); err == nil {
		t.Error("failure body accepted")
	}
}

func TestBuildAWEKAS(t *testing.T) {
	cfg := config.SinkData{SID: "user1", Password: "geheim"}
	obs := testObs(nil, map[string]string{"tempc": "20.0", "humidity": "50"}, nil)

	payload, err := buildAWEKAS(cfg)(obs)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(payload, "val=") {
		t.Fatalf("payload = %q", payload)
	}
	raw, _ := url.QueryUnescape(strings.TrimPrefix(payload, "val="))
	fields := strings.Split(raw, ";")
	sum := md5.Sum([]byte("geheim"))
	if fields[0] != "user1" || fields[1] != hex.EncodeToString(sum[:]) {
		t.Errorf("identity fields = %v", fields[:2])
	}
	if fields[4] != "20.0" {
		t.Errorf("temperature slot = %q", fields[4])
	}
}

func TestBuildWCScalesByTen(t *testing.T) {
	cfg := config.SinkData{SID: "id1", Password: "key1"}
	obs := testObs(nil, map[string]string{"tempc": "20.5", "humidity": "50", "windspeedkmh": "16.09"}, nil)

	payload, _ := buildWC(cfg)(obs)
	v, _ := url.ParseQuery(payload)
	if v.Get("temp") != "205" {
		t.Errorf("temp = %q, want 205", v.Get("temp"))
	}
	if v.Get("hum") != "500" {
		t.Errorf("hum = %q, want 500", v.Get("hum"))
	}
	// 16.09 km/h = 4.47 m/s -> 45
	if v.Get("wspd") != "45" {
		t.Errorf("wspd = %q, want 45", v.Get("wspd"))
	}
}

func TestBuildLD(t *testing.T) {
	obs := testObs(map[string]string{"pm25_ch1": "8.0"},
		map[string]string{"tempc": "20.0", "humidity": "50", "baromrelhpa": "1013.25"}, nil)
	payload, err := buildLD(config.SinkData{})(obs)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"value_type":"P2"`, `"value":"8.0"`, `"value_type":"pressure"`, `"value":"101325"`} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload %s missing %s", payload, want)
		}
	}
}

func TestBuildRawPassthrough(t *testing.T) {
	obs := testObs(map[string]string{"tempf": "68.0"}, nil, []string{"tempf"})
	obs.Raw.Body = "PASSKEY=AABB&tempf=68.0"
	payload, _ := buildRaw(Deps{})(obs)
	if payload != "PASSKEY=AABB&tempf=68.0" {
		t.Errorf("payload = %q", payload)
	}

	kv, _ := buildRawKV(Deps{})(obs)
	if kv != "tempf=68.0" {
		t.Errorf("kv = %q", kv)
	}
}

func TestRawBuildersDropSentinels(t *testing.T) {
	obs := testObs(map[string]string{"tempf": "68.0"}, nil,
		[]string{"tempf", "soilad1", "leafwetness_ch1"})
	obs.Raw.Pairs["soilad1"] = "-9999"
	obs.Raw.Pairs["leafwetness_ch1"] = ""
	obs.Raw.Body = "tempf=68.0&soilad1=-9999&leafwetness_ch1="
	deps := Deps{IgnoreEmpty: true}

	payload, _ := buildRaw(deps)(obs)
	if payload != "tempf=68.0" {
		t.Errorf("raw payload = %q", payload)
	}

	kv, _ := buildRawKV(deps)(obs)
	if kv != "tempf=68.0" {
		t.Errorf("kv payload = %q", kv)
	}

	csv, _ := buildRawCSV(deps)(obs)
	if csv != "tempf\n68.0\n" {
		t.Errorf("csv payload = %q", csv)
	}

	// without the policy the body passes through verbatim
	payload, _ = buildRaw(Deps{})(obs)
	if payload != obs.Raw.Body {
		t.Errorf("payload = %q, want the original body", payload)
	}
}

func TestBuildViewMinMaxAndLoxTime(t *testing.T) {
	obs := testObs(nil, map[string]string{"tempc": "20.0"}, nil)
	deps := Deps{
		Export: config.ExportData{LoxTime: true},
		Daily: func() state.Daily {
			return state.Daily{
				Min: map[string]state.Extreme{"tempf": {Value: 50.0}},
				Max: map[string]state.Extreme{"tempf": {Value: 68.0}},
			}
		},
	}
	payload, err := buildView(config.SinkData{MinMax: true}, deps, true)(obs)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"tempf_min=50.0", "tempf_max=68.0", "sunhours=0.00", "loxtime="} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload %q missing %q", payload, want)
		}
	}
	// 5551 days and 10 hours past 2009-01-01 00:00 UTC
	if !strings.Contains(payload, "loxtime=479642400") {
		t.Errorf("loxtime wrong in %q", payload)
	}
}

type countingSink struct {
	sent []string
	fail int // fail the first n sends with a transient error
}

func (c *countingSink) Build(obs *types.Observation) (string, error) {
	return obs.Imperial["n"].Text, nil
}

func (c *countingSink) Send(_ context.Context, payload string) error {
	if c.fail > 0 {
		c.fail--
		return fmt.Errorf("transient")
	}
	c.sent = append(c.sent, payload)
	return nil
}

type permSink struct{ attempts int }

func (p *permSink) Build(*types.Observation) (string, error) { return "x", nil }
func (p *permSink) Send(context.Context, string) error {
	p.attempts++
	return Permanent(fmt.Errorf("403"))
}

func seqObs(n int) *types.Observation {
	return testObs(map[string]string{"n": fmt.Sprint(n)}, nil, []string{"n"})
}

func TestWorkerCadence(t *testing.T) {
	clock := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)
	mkWorker := func(interval int) (*worker, *countingSink) {
		sink := &countingSink{}
		w := newWorker(config.SinkData{ID: "t", Interval: interval}, sink, zap.NewNop().Sugar())
		w.now = func() time.Time { return clock }
		w.sleep = func(time.Duration) {}
		return w, sink
	}
	a, sinkA := mkWorker(30)
	b, sinkB := mkWorker(120)

	// observations every 10 s over 240 s
	for i := 0; i < 24; i++ {
		obs := seqObs(i)
		a.handle(context.Background(), obs)
		b.handle(context.Background(), obs)
		clock = clock.Add(10 * time.Second)
	}
	if len(sinkA.sent) != 8 {
		t.Errorf("30 s sink delivered %d times, want 8", len(sinkA.sent))
	}
	if len(sinkB.sent) != 2 {
		t.Errorf("120 s sink delivered %d times, want 2", len(sinkB.sent))
	}
}

func TestWorkerRetriesTransient(t *testing.T) {
	sink := &countingSink{fail: 2}
	w := newWorker(config.SinkData{ID: "t", Interval: 1}, sink, zap.NewNop().Sugar())
	var slept []time.Duration
	w.sleep = func(d time.Duration) { slept = append(slept, d) }

	w.handle(context.Background(), seqObs(1))
	if len(sink.sent) != 1 {
		t.Fatalf("delivered %d times, want 1 after retries", len(sink.sent))
	}
	if len(slept) != 2 || slept[0] != httpSleepBase || slept[1] != 2*httpSleepBase {
		t.Errorf("sleeps = %v", slept)
	}
}

func TestWorkerStopsOnPermanent(t *testing.T) {
	sink := &permSink{}
	w := newWorker(config.SinkData{ID: "t", Interval: 1}, sink, zap.NewNop().Sugar())
	w.sleep = func(time.Duration) {}

	w.handle(context.Background(), seqObs(1))
	if sink.attempts != 1 {
		t.Errorf("attempts = %d, want 1 for a permanent failure", sink.attempts)
	}
}

func TestHTTPSinkStatusHandling(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	s := newHTTPSink(srv.URL, http.MethodPost, ctForm, func(*types.Observation) (string, error) { return "", nil }, nil)

	status = 200
	if err := s.Send(context.Background(), "a=1"); err != nil {
		t.Errorf("200: %v", err)
	}
	status = 503
	err := s.Send(context.Background(), "a=1")
	if err == nil {
		t.Error("503 accepted")
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		t.Error("503 marked permanent")
	}
	status = 401
	err = s.Send(context.Background(), "a=1")
	if !errors.As(err, &perm) {
		t.Errorf("401 not permanent: %v", err)
	}
}

func TestDispatcherFanout(t *testing.T) {
	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.URL.RawQuery)
		mu.Unlock()
		fmt.Fprint(w, "success")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	d := NewDispatcher(ctx, &wg, []config.SinkData{
		{ID: "wu", Enable: true, Type: "WU", URL: srv.URL, SID: "ID", Password: "p", Interval: 1},
		{ID: "off", Enable: false, Type: "WU", URL: srv.URL},
		{ID: "bad", Enable: true, Type: "NOPE", URL: srv.URL},
	}, Deps{Logger: zap.NewNop().Sugar()})

	if len(d.workers) != 1 {
		t.Fatalf("%d workers, want 1", len(d.workers))
	}
	d.Dispatch(testObs(map[string]string{"tempf": "68.0"}, nil, nil))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || !strings.Contains(got[0], "tempf=68.0") {
		t.Errorf("requests = %v", got)
	}
	cancel()
	wg.Wait()
}

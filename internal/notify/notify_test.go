package notify

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/foshk/gateway/pkg/config"
)

func TestFlagTransitionSendsStatusDatagram(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)

	n := New(config.ExportData{
		Enable:     true,
		TargetIP:   "127.0.0.1",
		TargetPort: addr.Port,
		SID:        "FOSHKweather",
	}, config.PushoverData{}, zap.NewNop().Sugar())

	n.FlagTransition("storm_1h", true, "pressure fell 1.8 hPa in 1h")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	nr, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	got := string(buf[:nr])
	if got != "SID=FOSHKweather stormwarning=1" {
		t.Errorf("datagram = %q", got)
	}
}

func TestPushoverPost(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm
	}))
	defer srv.Close()

	n := New(config.ExportData{}, config.PushoverData{
		Enable: true,
		URL:    srv.URL,
		Token:  "tok",
		User:   "usr",
	}, zap.NewNop().Sugar())

	n.FlagTransition("leak", true, "water at ch1")

	if form == nil {
		t.Fatal("no pushover request received")
	}
	if form["token"][0] != "tok" || form["user"][0] != "usr" {
		t.Errorf("credentials = %v", form)
	}
	if !strings.Contains(form["title"][0], "leak") || !strings.Contains(form["title"][0], "raised") {
		t.Errorf("title = %q", form["title"])
	}
	if form["message"][0] != "water at ch1" {
		t.Errorf("message = %q", form["message"])
	}
}

func TestPushoverRuntimeToggle(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	n := New(config.ExportData{}, config.PushoverData{
		Enable: true, URL: srv.URL, Token: "tok", User: "usr",
	}, zap.NewNop().Sugar())

	n.SetPushover(false)
	n.FlagTransition("leak", true, "x")
	if calls != 0 {
		t.Errorf("push sent while disabled")
	}
	n.SetPushover(true)
	n.FlagTransition("leak", false, "x")
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

package station

import (
	"testing"

	"github.com/foshk/gateway/internal/protocol"
)

func broadcastPayload(mac [6]byte, ip [4]byte, port uint16, ssid string) []byte {
	p := append([]byte{}, mac[:]...)
	p = append(p, ip[:]...)
	p = append(p, byte(port>>8), byte(port))
	p = append(p, byte(len(ssid)))
	return append(p, ssid...)
}

func TestDecodeBroadcast(t *testing.T) {
	payload := broadcastPayload(
		[6]byte{0xAA, 0xBB, 0xCC, 0x00, 0x11, 0x22},
		[4]byte{192, 168, 1, 42},
		45000,
		"GW1100A-WIFI4711",
	)

	info, err := decodeBroadcast(payload)
	if err != nil {
		t.Fatalf("decodeBroadcast() error: %v", err)
	}
	if info.MAC != "AA:BB:CC:00:11:22" {
		t.Errorf("MAC = %q", info.MAC)
	}
	if info.IP != "192.168.1.42" || info.Port != 45000 {
		t.Errorf("addr = %s:%d, want 192.168.1.42:45000", info.IP, info.Port)
	}
	if info.Model != "GW1100" {
		t.Errorf("Model = %q, want GW1100", info.Model)
	}
}

func TestInferModel(t *testing.T) {
	tests := []struct {
		ssid string
		want string
	}{
		{"GW1000A", "GW1000"},
		{"GW1100B", "GW1100"},
		{"Other", ""},
		{"WH2650-WIFI", "WH2650"},
	}
	for _, tt := range tests {
		if got := inferModel(tt.ssid); got != tt.want {
			t.Errorf("inferModel(%q) = %q, want %q", tt.ssid, got, tt.want)
		}
	}
}

func TestReportPairs(t *testing.T) {
	values := []protocol.Value{
		{Key: "outtemp", Num: 20.0, Numeric: true, Text: "20.0"},
		{Key: "outhumid", Num: 50, Numeric: true, Text: "50"},
		{Key: "relbarometer", Num: 1013.2, Numeric: true, Text: "1013.2"},
		{Key: "windspeed", Num: 4.5, Numeric: true, Text: "4.5"}, // m/s
		{Key: "pm25_ch1", Num: 8.0, Numeric: true, Text: "8.0"},
	}

	pairs, order := ReportPairs(values)

	if got := pairs["tempf"]; got != "68.0" {
		t.Errorf("tempf = %q, want 68.0", got)
	}
	if got := pairs["humidity"]; got != "50" {
		t.Errorf("humidity = %q, want 50", got)
	}
	// 1013.2 hPa = 29.920 inHg to three decimals
	if got := pairs["baromrelin"]; got != "29.920" {
		t.Errorf("baromrelin = %q, want 29.920", got)
	}
	// 4.5 m/s = 16.2 km/h = 10.1 mph
	if got := pairs["windspeedmph"]; got != "10.1" {
		t.Errorf("windspeedmph = %q, want 10.1", got)
	}
	// unknown keys pass through verbatim
	if got := pairs["pm25_ch1"]; got != "8.0" {
		t.Errorf("pm25_ch1 = %q, want 8.0", got)
	}
	if len(order) != 5 {
		t.Errorf("order has %d keys, want 5: %v", len(order), order)
	}
}

func TestReportPairsChannelTemperatures(t *testing.T) {
	values := []protocol.Value{
		{Key: "temp1", Num: 20.0, Numeric: true, Text: "20.0"},
		{Key: "humid1", Num: 50, Numeric: true, Text: "50"},
		{Key: "soiltemp2", Num: 10.0, Numeric: true, Text: "10.0"},
		{Key: "tf_ch1", Num: 25.0, Numeric: true, Text: "25.0"},
		{Key: "tf_ch1_batt", Num: 1.6, Numeric: true, Text: "1.60"},
		{Key: "tf_co2", Num: 23.0, Numeric: true, Text: "23.0"},
		{Key: "soilmoisture1", Num: 40, Numeric: true, Text: "40"},
	}

	pairs, _ := ReportPairs(values)

	// channelised temperatures reach the push dialect in °F
	for key, want := range map[string]string{
		"temp1f":        "68.0",
		"humidity1":     "50",
		"soiltemp2f":    "50.0",
		"tf_ch1":        "77.0",
		"tf_co2":        "73.4",
		"soilmoisture1": "40",
		"tf_ch1_batt":   "1.60",
	} {
		if got := pairs[key]; got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
	if _, leak := pairs["temp1"]; leak {
		t.Error("LAN spelling temp1 leaked into the push pairs")
	}
	if _, leak := pairs["soiltemp2"]; leak {
		t.Error("LAN spelling soiltemp2 leaked into the push pairs")
	}
}

package units

import (
	"math"
	"testing"
)

func almost(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestConversions(t *testing.T) {
	tests := []struct {
		name string
		got  float64
		want float64
		eps  float64
	}{
		{"FToC freezing", FToC(32), 0, 0.001},
		{"FToC boiling", FToC(212), 100, 0.001},
		{"CToF room", CToF(20), 68, 0.001},
		{"InHgToHPa standard", InHgToHPa(29.92), 1013.21, 0.01},
		{"HPaToInHg standard", HPaToInHg(1013.25), 29.921, 0.001},
		{"MphToKmh", MphToKmh(10), 16.09344, 0.0001},
		{"KmhToMph", KmhToMph(16.09344), 10, 0.0001},
		{"MsToKmh", MsToKmh(1), 3.6, 0.0001},
		{"MphToMs", MphToMs(10), 4.4704, 0.0001},
		{"InToMm", InToMm(1), 25.4, 0.0001},
		{"MmToIn", MmToIn(25.4), 1, 0.0001},
		{"FeetToM", FeetToM(100), 30.48, 0.0001},
		{"MToFeet", MToFeet(30.48), 100, 0.0001},
		{"KmToMiles", KmToMiles(1.609344), 1, 0.0001},
		{"WM2ToLux", WM2ToLux(100), 12670, 0.1},
	}
	for _, tt := range tests {
		if !almost(tt.got, tt.want, tt.eps) {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestRound(t *testing.T) {
	if got := Round(1.2345, 2); got != 1.23 {
		t.Errorf("Round(1.2345, 2) = %v", got)
	}
	if got := Round(1.235, 2); got != 1.24 {
		t.Errorf("Round(1.235, 2) = %v", got)
	}
	if got := Round(4886.36, 0); got != 4886 {
		t.Errorf("Round(4886.36, 0) = %v", got)
	}
}

func TestBeaufort(t *testing.T) {
	tests := []struct {
		kmh  float64
		want int
	}{
		{0, 0},
		{0.5, 0},
		{5, 1},
		{30, 5},
		{75, 9},
		{120, 12},
	}
	for _, tt := range tests {
		if got := Beaufort(tt.kmh); got != tt.want {
			t.Errorf("Beaufort(%v) = %d, want %d", tt.kmh, got, tt.want)
		}
	}
}

func TestCardinal(t *testing.T) {
	tests := []struct {
		deg  float64
		lang string
		want string
	}{
		{0, "", "N"},
		{90, "", "E"},
		{90, "DE", "O"},
		{180, "", "S"},
		{270, "de", "W"},
		{337.5, "", "NNW"},
		{349, "", "N"},
		{22.5, "DE", "NNO"},
	}
	for _, tt := range tests {
		if got := Cardinal(tt.deg, tt.lang); got != tt.want {
			t.Errorf("Cardinal(%v, %q) = %q, want %q", tt.deg, tt.lang, got, tt.want)
		}
	}
}

func TestDewPointF(t *testing.T) {
	if got := DewPointF(68, 50); !almost(got, 48.7, 0.1) {
		t.Errorf("DewPointF(68, 50) = %v, want ~48.7", got)
	}
	// saturated air: dew point equals temperature
	if got := DewPointF(68, 100); !almost(got, 68, 0.1) {
		t.Errorf("DewPointF(68, 100) = %v, want ~68", got)
	}
}

func TestWindChillF(t *testing.T) {
	if got := WindChillF(30, 10); !almost(got, 21.2, 0.1) {
		t.Errorf("WindChillF(30, 10) = %v, want ~21.2", got)
	}
	if got := WindChillF(60, 10); got != 60 {
		t.Errorf("WindChillF above 50F = %v, want passthrough", got)
	}
	if got := WindChillF(30, 2); got != 30 {
		t.Errorf("WindChillF below 3 mph = %v, want passthrough", got)
	}
}

func TestHeatIndexF(t *testing.T) {
	if got := HeatIndexF(70, 50); !almost(got, 69.5, 0.1) {
		t.Errorf("HeatIndexF(70, 50) = %v, want ~69.5", got)
	}
	if got := HeatIndexF(90, 70); !almost(got, 105.9, 0.5) {
		t.Errorf("HeatIndexF(90, 70) = %v, want ~105.9", got)
	}
}

func TestFeelsLikeF(t *testing.T) {
	if got := FeelsLikeF(30, 10, 50); !almost(got, 21.2, 0.1) {
		t.Errorf("cold branch = %v, want wind chill", got)
	}
	if got := FeelsLikeF(90, 5, 70); !almost(got, 105.9, 0.5) {
		t.Errorf("hot branch = %v, want heat index", got)
	}
	if got := FeelsLikeF(65, 10, 50); got != 65 {
		t.Errorf("mild branch = %v, want passthrough", got)
	}
}

func TestHumidex(t *testing.T) {
	if got := Humidex(30, 20); !almost(got, 37.6, 0.2) {
		t.Errorf("Humidex(30, 20) = %v, want ~37.6", got)
	}
}

func TestCloudBaseFt(t *testing.T) {
	if got := CloudBaseFt(68, 48.7, 500); got != 4886 {
		t.Errorf("CloudBaseFt(68, 48.7, 500) = %v, want 4886", got)
	}
}

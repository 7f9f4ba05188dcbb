package aqi

import "testing"

func TestCalculatePM25(t *testing.T) {
	tests := []struct {
		conc float64
		want int
	}{
		{0, 0},
		{12.0, 50},
		{35.4, 100},
		{35.5, 101},
		{55.5, 151},
		{150.4, 200},
		{600, 500},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := CalculatePM25(tt.conc); got != tt.want {
			t.Errorf("CalculatePM25(%v) = %d, want %d", tt.conc, got, tt.want)
		}
	}
}

func TestCalculatePM10(t *testing.T) {
	tests := []struct {
		conc float64
		want int
	}{
		{0, 0},
		{54, 50},
		{154, 100},
		{255, 151},
		{700, 500},
	}
	for _, tt := range tests {
		if got := CalculatePM10(tt.conc); got != tt.want {
			t.Errorf("CalculatePM10(%v) = %d, want %d", tt.conc, got, tt.want)
		}
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		aqi  int
		want int
	}{
		{0, 1},
		{50, 1},
		{51, 2},
		{100, 2},
		{101, 3},
		{151, 4},
		{201, 5},
		{301, 6},
	}
	for _, tt := range tests {
		if got := Level(tt.aqi); got != tt.want {
			t.Errorf("Level(%d) = %d, want %d", tt.aqi, got, tt.want)
		}
	}
}

func TestCO2Level(t *testing.T) {
	tests := []struct {
		ppm  float64
		want int
	}{
		{350, 1},
		{400, 1},
		{800, 2},
		{1500, 3},
		{3000, 4},
		{10000, 5},
		{50000, 6},
	}
	for _, tt := range tests {
		if got := CO2Level(tt.ppm); got != tt.want {
			t.Errorf("CO2Level(%v) = %d, want %d", tt.ppm, got, tt.want)
		}
	}
}

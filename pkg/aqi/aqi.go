// Package aqi provides functions for calculating Air Quality Index values
// from particulate matter concentrations according to EPA standards
package aqi

import "math"

// pm25Breakpoints are the EPA breakpoints for 24-hour PM2.5 averages.
var pm25Breakpoints = []breakpoint{
	{0.0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 350.4, 301, 400},
	{350.5, 500.4, 401, 500},
}

// pm10Breakpoints are the EPA breakpoints for 24-hour PM10 averages.
var pm10Breakpoints = []breakpoint{
	{0, 54, 0, 50},
	{55, 154, 51, 100},
	{155, 254, 101, 150},
	{255, 354, 151, 200},
	{355, 424, 201, 300},
	{425, 504, 301, 400},
	{505, 604, 401, 500},
}

type breakpoint struct {
	cLow, cHigh float64
	iLow, iHigh float64
}

func calculate(c float64, table []breakpoint) int {
	if c < 0 {
		return 0
	}
	for _, b := range table {
		if c <= b.cHigh {
			// I = (I_high - I_low) / (C_high - C_low) * (C - C_low) + I_low
			aqi := ((b.iHigh-b.iLow)/(b.cHigh-b.cLow))*(c-b.cLow) + b.iLow
			return int(math.Round(aqi))
		}
	}
	return 500
}

// CalculatePM25 calculates the Air Quality Index from PM2.5 concentration (μg/m³)
func CalculatePM25(pm25 float64) int {
	return calculate(pm25, pm25Breakpoints)
}

// CalculatePM10 calculates the Air Quality Index from PM10 concentration (μg/m³)
func CalculatePM10(pm10 float64) int {
	return calculate(pm10, pm10Breakpoints)
}

// Level maps an AQI value to the EPA six-band level indicator,
// 1 = Good through 6 = Hazardous.
func Level(aqi int) int {
	switch {
	case aqi <= 50:
		return 1
	case aqi <= 100:
		return 2
	case aqi <= 150:
		return 3
	case aqi <= 200:
		return 4
	case aqi <= 300:
		return 5
	}
	return 6
}

// CO2Level bands a CO₂ concentration in ppm into the same six levels used
// for particulates: outdoor-fresh through immediately harmful.
func CO2Level(ppm float64) int {
	switch {
	case ppm <= 400:
		return 1
	case ppm <= 1000:
		return 2
	case ppm <= 2000:
		return 3
	case ppm <= 5000:
		return 4
	case ppm <= 40000:
		return 5
	}
	return 6
}

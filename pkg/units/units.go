// Package units provides conversions between the imperial units reported by
// Ecowitt/Ambient-class stations and their metric counterparts, plus the
// derived meteorological quantities built on them.
package units

import "math"

// FToC converts Fahrenheit to Celsius.
func FToC(f float64) float64 {
	return (f - 32) * 5 / 9
}

// CToF converts Celsius to Fahrenheit.
func CToF(c float64) float64 {
	return c*9/5 + 32
}

// InHgToHPa converts inches of mercury to hectopascal.
func InHgToHPa(in float64) float64 {
	return in * 33.8638866667
}

// HPaToInHg converts hectopascal to inches of mercury.
func HPaToInHg(hpa float64) float64 {
	return hpa / 33.8638866667
}

// MphToKmh converts miles per hour to kilometers per hour.
func MphToKmh(mph float64) float64 {
	return mph * 1.609344
}

// KmhToMph converts kilometers per hour to miles per hour.
func KmhToMph(kmh float64) float64 {
	return kmh / 1.609344
}

// MsToKmh converts meters per second to kilometers per hour.
func MsToKmh(ms float64) float64 {
	return ms * 3.6
}

// KmhToMs converts kilometers per hour to meters per second.
func KmhToMs(kmh float64) float64 {
	return kmh / 3.6
}

// MphToMs converts miles per hour to meters per second.
func MphToMs(mph float64) float64 {
	return mph * 0.44704
}

// InToMm converts inches to millimeters.
func InToMm(in float64) float64 {
	return in * 25.4
}

// MmToIn converts millimeters to inches.
func MmToIn(mm float64) float64 {
	return mm / 25.4
}

// FeetToM converts feet to meters.
func FeetToM(ft float64) float64 {
	return ft * 0.3048
}

// MToFeet converts meters to feet.
func MToFeet(m float64) float64 {
	return m / 0.3048
}

// KmToMiles converts kilometers to miles.
func KmToMiles(km float64) float64 {
	return km / 1.609344
}

// WM2ToLux approximates illuminance from solar radiation, matching the
// gateway's own brightness derivation.
func WM2ToLux(wm2 float64) float64 {
	return wm2 * 126.7
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}

// Beaufort maps a wind speed in km/h to the Beaufort scale 0-12.
func Beaufort(kmh float64) int {
	scale := []float64{1, 6, 12, 20, 29, 39, 50, 62, 75, 89, 103, 118}
	for b, limit := range scale {
		if kmh < limit {
			return b
		}
	}
	return 12
}

var cardinalsEN = []string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

var cardinalsDE = []string{
	"N", "NNO", "NO", "ONO", "O", "OSO", "SO", "SSO",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// Cardinal returns the 16-point compass text for a direction in degrees.
// German compass names are used when lang is "DE".
func Cardinal(deg float64, lang string) string {
	points := cardinalsEN
	if lang == "DE" || lang == "de" {
		points = cardinalsDE
	}
	idx := int(math.Mod(deg+11.25, 360) / 22.5)
	if idx < 0 || idx > 15 {
		idx = 0
	}
	return points[idx]
}

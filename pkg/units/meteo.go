package units

import "math"

// DewPointF calculates the dew point in °F from temperature (°F) and
// relative humidity (%), using the Magnus formula over internal Celsius.
func DewPointF(tempF, humidity float64) float64 {
	tc := FToC(tempF)
	gamma := math.Log(humidity/100) + (17.62*tc)/(243.12+tc)
	dpC := 243.12 * gamma / (17.62 - gamma)
	return Round(CToF(dpC), 1)
}

// WindChillF calculates wind chill temperature using the NWS formula.
// Wind chill doesn't apply above 50°F or below 3 mph; the temperature is
// passed through unchanged.
func WindChillF(tempF, windMph float64) float64 {
	if tempF > 50 || windMph < 3 {
		return tempF
	}
	w := math.Pow(windMph, 0.16)
	return Round(35.74+0.6215*tempF-35.75*w+0.4275*tempF*w, 1)
}

// HeatIndexF calculates the heat index using the NWS Rothfusz regression.
// Below 80°F the simple averaged formula applies.
func HeatIndexF(tempF, humidity float64) float64 {
	simple := 0.5 * (tempF + 61.0 + (tempF-68.0)*1.2 + humidity*0.094)
	if (simple+tempF)/2 < 80 {
		return Round((simple+tempF)/2, 1)
	}

	hi := -42.379 + 2.04901523*tempF + 10.14333127*humidity -
		0.22475541*tempF*humidity - 0.00683783*tempF*tempF -
		0.05481717*humidity*humidity + 0.00122874*tempF*tempF*humidity +
		0.00085282*tempF*humidity*humidity - 0.00000199*tempF*tempF*humidity*humidity

	switch {
	case humidity < 13 && tempF >= 80 && tempF <= 112:
		hi -= ((13 - humidity) / 4) * math.Sqrt((17-math.Abs(tempF-95))/17)
	case humidity > 85 && tempF >= 80 && tempF <= 87:
		hi += ((humidity - 85) / 10) * ((87 - tempF) / 5)
	}
	return Round(hi, 1)
}

// FeelsLikeF combines wind chill and heat index: wind chill at or below
// 50°F with wind above 3 mph, heat index at or above 80°F, otherwise the
// plain temperature.
func FeelsLikeF(tempF, windMph, humidity float64) float64 {
	switch {
	case tempF <= 50 && windMph > 3:
		return WindChillF(tempF, windMph)
	case tempF >= 80:
		return HeatIndexF(tempF, humidity)
	}
	return tempF
}

// Humidex calculates the Environment Canada humidex from temperature (°C)
// and dew point (°C).
func Humidex(tempC, dewPointC float64) float64 {
	e := 6.11 * math.Exp(5417.7530*(1/273.16-1/(273.15+dewPointC)))
	return Round(tempC+(5.0/9.0)*(e-10), 1)
}

// CloudBaseFt estimates the cloud base height in feet above sea level from
// the temperature/dew-point spread and the station altitude (feet).
func CloudBaseFt(tempF, dewPointF, altitudeFt float64) float64 {
	return Round(((tempF-dewPointF)/4.4)*1000+altitudeFt, 0)
}

package normalize

import (
	"regexp"
	"strconv"

	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/units"
)

// conversion describes how one imperial key appears in the metric view.
type conversion struct {
	metricKey string
	convert   func(float64) float64
	decimals  int
	impUnit   types.Unit
	metUnit   types.Unit
}

// conversions maps every recognised imperial key to its metric twin.
// Channelised keys (temp1f..temp8f and friends) are expanded in init.
var conversions = map[string]conversion{
	"tempf":             {"tempc", units.FToC, 1, types.UnitFahrenheit, types.UnitCelsius},
	"tempinf":           {"tempinc", units.FToC, 1, types.UnitFahrenheit, types.UnitCelsius},
	"dewptf":            {"dewptc", units.FToC, 1, types.UnitFahrenheit, types.UnitCelsius},
	"windchillf":        {"windchillc", units.FToC, 1, types.UnitFahrenheit, types.UnitCelsius},
	"heatindexf":        {"heatindexc", units.FToC, 1, types.UnitFahrenheit, types.UnitCelsius},
	"feelslikef":        {"feelslikec", units.FToC, 1, types.UnitFahrenheit, types.UnitCelsius},
	"baromrelin":        {"baromrelhpa", units.InHgToHPa, 2, types.UnitInHg, types.UnitHPa},
	"baromabsin":        {"baromabshpa", units.InHgToHPa, 2, types.UnitInHg, types.UnitHPa},
	"windspeedmph":      {"windspeedkmh", units.MphToKmh, 2, types.UnitMPH, types.UnitKMH},
	"windgustmph":       {"windgustkmh", units.MphToKmh, 2, types.UnitMPH, types.UnitKMH},
	"maxdailygust":      {"maxdailygustkmh", units.MphToKmh, 2, types.UnitMPH, types.UnitKMH},
	"windspdmph_avg10m": {"windspdkmh_avg10m", units.MphToKmh, 2, types.UnitMPH, types.UnitKMH},
	"windgustmph_max10m": {"windgustkmh_max10m", units.MphToKmh, 2, types.UnitMPH, types.UnitKMH},
	"rainratein":        {"rainratemm", units.InToMm, 1, types.UnitInch, types.UnitMM},
	"eventrainin":       {"eventrainmm", units.InToMm, 1, types.UnitInch, types.UnitMM},
	"hourlyrainin":      {"hourlyrainmm", units.InToMm, 1, types.UnitInch, types.UnitMM},
	"dailyrainin":       {"dailyrainmm", units.InToMm, 1, types.UnitInch, types.UnitMM},
	"weeklyrainin":      {"weeklyrainmm", units.InToMm, 1, types.UnitInch, types.UnitMM},
	"monthlyrainin":     {"monthlyrainmm", units.InToMm, 1, types.UnitInch, types.UnitMM},
	"yearlyrainin":      {"yearlyrainmm", units.InToMm, 1, types.UnitInch, types.UnitMM},
	"totalrainin":       {"totalrainmm", units.InToMm, 1, types.UnitInch, types.UnitMM},
	"cloudf":            {"cloudm", units.FeetToM, 0, types.UnitFeet, types.UnitMeter},
}

func init() {
	for i := 1; i <= 8; i++ {
		n := strconv.Itoa(i)
		conversions["temp"+n+"f"] = conversion{"temp" + n + "c", units.FToC, 1, types.UnitFahrenheit, types.UnitCelsius}
		conversions["soiltemp"+n+"f"] = conversion{"soiltemp" + n + "c", units.FToC, 1, types.UnitFahrenheit, types.UnitCelsius}
	}
	for i := 1; i <= 4; i++ {
		n := strconv.Itoa(i)
		conversions["tf_ch"+n] = conversion{"tf_ch" + n + "c", units.FToC, 1, types.UnitFahrenheit, types.UnitCelsius}
	}
	conversions["tf_co2"] = conversion{"tf_co2c", units.FToC, 1, types.UnitFahrenheit, types.UnitCelsius}
}

// sharedUnits tags the keys that read the same in both views.
var sharedUnits = []struct {
	pattern *regexp.Regexp
	unit    types.Unit
}{
	{regexp.MustCompile(`^humidity(in)?$|^humidity[1-8]$|^humi_co2$|^soilmoisture[1-8]?$|^leafwetness_ch[1-8]$`), types.UnitPercent},
	{regexp.MustCompile(`^winddir(_avg10m)?$`), types.UnitCount},
	{regexp.MustCompile(`^solarradiation$`), types.UnitWM2},
	{regexp.MustCompile(`^brightness$`), types.UnitLux},
	{regexp.MustCompile(`^uv$`), types.UnitUVI},
	{regexp.MustCompile(`^pm25`), types.UnitUGM3},
	{regexp.MustCompile(`^pm10`), types.UnitUGM3},
	{regexp.MustCompile(`^co2`), types.UnitPPM},
	{regexp.MustCompile(`^lightning$`), types.UnitKM},
	{regexp.MustCompile(`^lightning_num$`), types.UnitCount},
	{regexp.MustCompile(`^lightning_time$`), types.UnitInstant},
	{regexp.MustCompile(`^leak_ch[1-4]$`), types.UnitBool},
	{regexp.MustCompile(`batt`), types.UnitRatio},
	{regexp.MustCompile(`^humidex$`), types.UnitCelsius},
	{regexp.MustCompile(`^dateutc$`), types.UnitInstant},
	{regexp.MustCompile(`^sunhours$`), types.UnitCount},
}

// unitFor tags an untabled key with a unit.
func unitFor(key string) types.Unit {
	for _, su := range sharedUnits {
		if su.pattern.MatchString(key) {
			return su.unit
		}
	}
	return types.UnitText
}

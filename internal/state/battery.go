package state

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/foshk/gateway/internal/types"
)

type batteryClass int

const (
	battBinary  batteryClass = iota // 1 = low (Ecowitt convention)
	battInteger                     // 0-6 scale, below 2 = low
	battVolt                        // volts, at or below 1.2 V = low
	battVoltWS                      // WS80/WS90 class, below 2.3 V = low
)

// batteryRules map battery key patterns to their decoding class.  First
// match wins.
var batteryRules = []struct {
	re    *regexp.Regexp
	class batteryClass
}{
	{regexp.MustCompile(`^(wh80|wh90|ws80|ws90)batt$`), battVoltWS},
	{regexp.MustCompile(`^(wh57|wh45)batt$`), battInteger},
	{regexp.MustCompile(`^co2_batt$`), battInteger},
	{regexp.MustCompile(`^(soilbatt|tf_batt)[1-8]$`), battVolt},
	{regexp.MustCompile(`^(wh25|wh26|wh40|wh65|wh68)batt$`), battBinary},
	{regexp.MustCompile(`^batt[1-8]$`), battBinary},
	{regexp.MustCompile(`^(pm25batt|leakbatt)[1-4]$`), battBinary},
	{regexp.MustCompile(`^batt(out|in|r)$`), battBinary},
	{regexp.MustCompile(`^batt_`), battBinary},
	{regexp.MustCompile(`^wh\d+batt$`), battBinary},
}

// lowBatteries returns the battery keys reporting low in the record.
// Ambient-origin records invert the binary convention: there 1 means ok
// and 0 means low.  Origin is detected from the station-type string.
func lowBatteries(obs *types.Observation) []string {
	ambient := strings.Contains(obs.StationType, "AMBWeather")
	var low []string
	for k, f := range obs.Imperial {
		if !f.Numeric || !strings.Contains(k, "batt") {
			continue
		}
		for _, rule := range batteryRules {
			if !rule.re.MatchString(k) {
				continue
			}
			if batteryLow(rule.class, f.Num, ambient) {
				low = append(low, fmt.Sprintf("%s=%s", k, f.Text))
			}
			break
		}
	}
	return low
}

func batteryLow(class batteryClass, v float64, ambient bool) bool {
	switch class {
	case battBinary:
		if ambient {
			return v == 0
		}
		return v == 1
	case battInteger:
		return v < 2
	case battVolt:
		return v <= 1.2
	case battVoltWS:
		return v < 2.3
	}
	return false
}

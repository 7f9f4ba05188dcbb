package state

// Trend thresholds in hPa.  The one-hour label only distinguishes steady
// from strong movement; the three-hour label has a weak band between
// 0.7 and 2.0.
const (
	trendWeak1h   = 0.7
	trendStrong1h = 0.7
	trendWeak3h   = 0.7
	trendStrong3h = 2.0
)

// trendLabel maps a pressure delta to the five-step trend scale -2..+2.
// Deltas below the weak threshold normally read steady; a clear majority
// of window samples on one side of the first sample breaks the tie
// towards a weak trend.
func trendLabel(delta, weak, strong float64, above, below int) int {
	mag := delta
	if mag < 0 {
		mag = -mag
	}
	switch {
	case mag > strong:
		if delta > 0 {
			return 2
		}
		return -2
	case mag >= weak:
		if delta > 0 {
			return 1
		}
		return -1
	}
	total := above + below
	if total >= 3 {
		if above*3 >= total*2 {
			return 1
		}
		if below*3 >= total*2 {
			return -1
		}
	}
	return 0
}

var trendTextEN = map[int]string{
	-2: "falling quickly", -1: "falling", 0: "steady", 1: "rising", 2: "rising quickly",
}

var trendTextDE = map[int]string{
	-2: "stark fallend", -1: "fallend", 0: "gleichbleibend", 1: "steigend", 2: "stark steigend",
}

func trendText(label int, lang string) string {
	if lang == "DE" {
		return trendTextDE[label]
	}
	return trendTextEN[label]
}

// weatherNow maps the current relative pressure to a coarse five-band
// present-weather level with a short text.
func weatherNow(hpa float64, lang string) (int, string) {
	var lvl int
	switch {
	case hpa < 980:
		lvl = 0
	case hpa < 1000:
		lvl = 1
	case hpa < 1020:
		lvl = 2
	case hpa < 1040:
		lvl = 3
	default:
		lvl = 4
	}
	texts := [...]string{"stormy", "rainy", "changeable", "fair", "dry"}
	if lang == "DE" {
		texts = [...]string{"stuermisch", "regnerisch", "wechselhaft", "freundlich", "trocken"}
	}
	return lvl, texts[lvl]
}

// prognosis turns the three-hour trend label into the outlook fields.
func prognosis(label int, lang string) (int, string) {
	var txt string
	switch {
	case label <= -2:
		txt = "worsening quickly"
	case label == -1:
		txt = "worsening"
	case label == 0:
		txt = "unchanged"
	case label == 1:
		txt = "improving"
	default:
		txt = "improving quickly"
	}
	if lang == "DE" {
		switch {
		case label <= -2:
			txt = "rasche Verschlechterung"
		case label == -1:
			txt = "Verschlechterung"
		case label == 0:
			txt = "unveraendert"
		case label == 1:
			txt = "Besserung"
		default:
			txt = "rasche Besserung"
		}
	}
	return label, txt
}

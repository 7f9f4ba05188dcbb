package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Value is one decoded live-data field.  Numeric values carry both the
// parsed number and its canonical string form; absent-by-sentinel fields
// (lightning distance > 40 km, lightning time 0xFFFFFFFF) are omitted from
// the decode result entirely.
type Value struct {
	Key     string
	Text    string
	Num     float64
	Numeric bool
}

// ErrUnknownField is returned when the decoder hits a field code it has no
// table entry for.  The values decoded before the unknown code are still
// returned; the decoder never guesses at sizes.
type ErrUnknownField struct {
	Code   byte
	Offset int
}

func (e *ErrUnknownField) Error() string {
	return fmt.Sprintf("protocol: unknown live-data field 0x%02X at offset %d", e.Code, e.Offset)
}

// decoder kinds, sized per the GW1000 API.
type fieldKind int

const (
	kindTemp     fieldKind = iota // i16 / 10, °C
	kindHumid                     // u8, %
	kindPress                     // u16 / 10, hPa
	kindDir                       // u16, degrees
	kindSpeed                     // u16 / 10, m/s
	kindRainS                     // u16 / 10, mm
	kindRainL                     // u32 / 10, mm
	kindLight                     // u32 / 10, lux
	kindUV                        // u16 / 10, µW/m²
	kindUVI                       // u8
	kindDateTime                  // 6 bytes, opaque
	kindDistance                  // u8 km, > 40 means absent
	kindUTC                       // u32 epoch, 0xFFFFFFFF means absent
	kindCount                     // u32
	kindWH34                      // i16/10 temperature + u8 battery voltage
	kindWH45                      // combined T/H/PM10/PM2.5/CO₂ sensor block
	kindLeak                      // u8 bool
	kindWet                       // u8, %
	kindMoist                     // u8, %
	kindPM25                      // u16 / 10, µg/m³
	kindPM10                      // u16 / 10, µg/m³
	kindCO2                       // u16, ppm
	kindBattery                   // per-sensor battery block, opaque here
)

var kindSize = map[fieldKind]int{
	kindTemp: 2, kindHumid: 1, kindPress: 2, kindDir: 2, kindSpeed: 2,
	kindRainS: 2, kindRainL: 4, kindLight: 4, kindUV: 2, kindUVI: 1,
	kindDateTime: 6, kindDistance: 1, kindUTC: 4, kindCount: 4,
	kindWH34: 3, kindWH45: 16, kindLeak: 1, kindWet: 1, kindMoist: 1,
	kindPM25: 2, kindPM10: 2, kindCO2: 2, kindBattery: 16,
}

type fieldDef struct {
	kind fieldKind
	name string
}

// liveFields maps the 1-byte field code of the live-data payload to its
// decoder and canonical name.  Codes follow the GW1000 API document.
var liveFields = map[byte]fieldDef{
	0x01: {kindTemp, "intemp"},
	0x02: {kindTemp, "outtemp"},
	0x03: {kindTemp, "dewpoint"},
	0x04: {kindTemp, "windchill"},
	0x05: {kindTemp, "heatindex"},
	0x06: {kindHumid, "inhumid"},
	0x07: {kindHumid, "outhumid"},
	0x08: {kindPress, "absbarometer"},
	0x09: {kindPress, "relbarometer"},
	0x0A: {kindDir, "winddir"},
	0x0B: {kindSpeed, "windspeed"},
	0x0C: {kindSpeed, "gustspeed"},
	0x0D: {kindRainS, "rainevent"},
	0x0E: {kindRainS, "rainrate"}, // rain_rate shares the short-rain layout
	0x0F: {kindRainS, "rainhour"},
	0x10: {kindRainS, "rainday"},
	0x11: {kindRainS, "rainweek"},
	0x12: {kindRainL, "rainmonth"},
	0x13: {kindRainL, "rainyear"},
	0x14: {kindRainL, "raintotals"},
	0x15: {kindLight, "light"},
	0x16: {kindUV, "uv"},
	0x17: {kindUVI, "uvi"},
	0x18: {kindDateTime, "datetime"},
	0x19: {kindSpeed, "daymaxwind"},
	0x2A: {kindPM25, "pm25_ch1"},
	0x4C: {kindBattery, "lowbatt"},
	0x4D: {kindPM25, "pm25_avg24h_ch1"},
	0x4E: {kindPM25, "pm25_avg24h_ch2"},
	0x4F: {kindPM25, "pm25_avg24h_ch3"},
	0x50: {kindPM25, "pm25_avg24h_ch4"},
	0x51: {kindPM25, "pm25_ch2"},
	0x52: {kindPM25, "pm25_ch3"},
	0x53: {kindPM25, "pm25_ch4"},
	0x58: {kindLeak, "leak_ch1"},
	0x59: {kindLeak, "leak_ch2"},
	0x5A: {kindLeak, "leak_ch3"},
	0x5B: {kindLeak, "leak_ch4"},
	0x60: {kindDistance, "lightning"},
	0x61: {kindUTC, "lightning_time"},
	0x62: {kindCount, "lightning_num"},
	0x63: {kindWH34, "tf_ch1"},
	0x64: {kindWH34, "tf_ch2"},
	0x65: {kindWH34, "tf_ch3"},
	0x66: {kindWH34, "tf_ch4"},
	0x70: {kindWH45, "wh45"},
}

func init() {
	// temp1..temp8 (0x1A..0x21) and humid1..humid8 (0x22..0x29)
	for i := 0; i < 8; i++ {
		liveFields[byte(0x1A+i)] = fieldDef{kindTemp, "temp" + strconv.Itoa(i+1)}
		liveFields[byte(0x22+i)] = fieldDef{kindHumid, "humid" + strconv.Itoa(i+1)}
	}
	// soiltemp/soilmoisture pairs ch1..ch8 (0x2B..0x3A)
	for i := 0; i < 8; i++ {
		liveFields[byte(0x2B+2*i)] = fieldDef{kindTemp, "soiltemp" + strconv.Itoa(i+1)}
		liveFields[byte(0x2C+2*i)] = fieldDef{kindMoist, "soilmoisture" + strconv.Itoa(i+1)}
	}
	// leaf wetness ch1..ch8 (0x72..0x79)
	for i := 0; i < 8; i++ {
		liveFields[byte(0x72+i)] = fieldDef{kindWet, "leafwetness_ch" + strconv.Itoa(i+1)}
	}
}

func num(v float64, decimals int, key string) Value {
	return Value{Key: key, Text: strconv.FormatFloat(v, 'f', decimals, 64), Num: v, Numeric: true}
}

// DecodeLiveData walks a live-data payload field by field.  On an unknown
// field code it stops and returns the values decoded so far together with
// an *ErrUnknownField; a truncated known field is reported the same way as
// a short frame.
func DecodeLiveData(payload []byte) ([]Value, error) {
	var values []Value
	i := 0
	for i < len(payload) {
		code := payload[i]
		def, ok := liveFields[code]
		if !ok {
			return values, &ErrUnknownField{Code: code, Offset: i}
		}
		i++
		size := kindSize[def.kind]
		if i+size > len(payload) {
			return values, fmt.Errorf("%w: field 0x%02X needs %d bytes, %d left", ErrShortFrame, code, size, len(payload)-i)
		}
		b := payload[i : i+size]
		i += size

		switch def.kind {
		case kindTemp:
			values = append(values, num(float64(int16(binary.BigEndian.Uint16(b)))/10, 1, def.name))
		case kindHumid, kindWet, kindMoist:
			values = append(values, num(float64(b[0]), 0, def.name))
		case kindPress, kindPM25, kindPM10:
			values = append(values, num(float64(binary.BigEndian.Uint16(b))/10, 1, def.name))
		case kindDir:
			values = append(values, num(float64(binary.BigEndian.Uint16(b)), 0, def.name))
		case kindSpeed, kindRainS, kindUV:
			values = append(values, num(float64(binary.BigEndian.Uint16(b))/10, 1, def.name))
		case kindRainL, kindLight:
			values = append(values, num(float64(binary.BigEndian.Uint32(b))/10, 1, def.name))
		case kindUVI:
			values = append(values, num(float64(b[0]), 0, def.name))
		case kindCO2:
			values = append(values, num(float64(binary.BigEndian.Uint16(b)), 0, def.name))
		case kindDateTime:
			// opaque 6-byte tuple, carried as hex text
			values = append(values, Value{Key: def.name, Text: fmt.Sprintf("%X", b)})
		case kindDistance:
			if km := float64(b[0]); km <= 40 {
				values = append(values, num(km, 0, def.name))
			}
		case kindUTC:
			if ts := binary.BigEndian.Uint32(b); ts != 0xFFFFFFFF {
				values = append(values, num(float64(ts), 0, def.name))
			}
		case kindCount:
			values = append(values, num(float64(binary.BigEndian.Uint32(b)), 0, def.name))
		case kindLeak:
			values = append(values, num(float64(b[0]), 0, def.name))
		case kindWH34:
			values = append(values, num(float64(int16(binary.BigEndian.Uint16(b)))/10, 1, def.name))
			values = append(values, num(float64(b[2])*0.02, 2, def.name+"_batt"))
		case kindWH45:
			values = append(values, decodeWH45(b)...)
		case kindBattery:
			values = append(values, Value{Key: def.name, Text: fmt.Sprintf("%X", b)})
		}
	}
	return values, nil
}

// decodeWH45 unpacks the 16-byte combined air-quality sensor block:
// temperature, humidity, PM10, PM10 24h, PM2.5, PM2.5 24h, CO₂, CO₂ 24h,
// battery level.
func decodeWH45(b []byte) []Value {
	return []Value{
		num(float64(int16(binary.BigEndian.Uint16(b[0:2])))/10, 1, "tf_co2"),
		num(float64(b[2]), 0, "humi_co2"),
		num(float64(binary.BigEndian.Uint16(b[3:5]))/10, 1, "pm10_co2"),
		num(float64(binary.BigEndian.Uint16(b[5:7]))/10, 1, "pm10_24h_co2"),
		num(float64(binary.BigEndian.Uint16(b[7:9]))/10, 1, "pm25_co2"),
		num(float64(binary.BigEndian.Uint16(b[9:11]))/10, 1, "pm25_24h_co2"),
		num(float64(binary.BigEndian.Uint16(b[11:13])), 0, "co2"),
		num(float64(binary.BigEndian.Uint16(b[13:15])), 0, "co2_24h"),
		num(float64(b[15]), 0, "co2_batt"),
	}
}

package protocol

import (
	"encoding/binary"
	"fmt"
)

// Sensor-ID sentinel values: a sensor slot that is still searching for a
// transmitter reports 0xFFFFFFFF, a disabled slot 0xFFFFFFFE.
const (
	sensorIDRegistering = 0xFFFFFFFF
	sensorIDDisabled    = 0xFFFFFFFE
)

// BatteryKind selects how a sensor family encodes its battery byte.
type BatteryKind int

const (
	BatteryBinary   BatteryKind = iota // bit 0: 1 = low
	BatteryInteger                     // 0..6, <= 1 = low
	BatteryVolt2mV                     // raw × 0.02 V, <= 1.2 V = low
	BatteryVolt100mV                   // raw × 0.1 V
)

// SensorType describes one sensor address slot of the gateway.
type SensorType struct {
	Address byte
	Name    string
	Battery BatteryKind
}

// sensorTypes is the per-address registration table of the GW1000 class.
var sensorTypes = map[byte]SensorType{}

func addSensor(addr byte, name string, batt BatteryKind) {
	sensorTypes[addr] = SensorType{Address: addr, Name: name, Battery: batt}
}

func init() {
	addSensor(0x00, "wh65", BatteryBinary)
	addSensor(0x01, "wh68", BatteryVolt2mV)
	addSensor(0x02, "ws80", BatteryVolt2mV)
	addSensor(0x03, "wh40", BatteryBinary)
	addSensor(0x04, "wh25", BatteryBinary)
	addSensor(0x05, "wh26", BatteryBinary)
	for i := byte(0); i < 8; i++ {
		addSensor(0x06+i, fmt.Sprintf("wh31_ch%d", i+1), BatteryBinary)
		addSensor(0x0E+i, fmt.Sprintf("wh51_ch%d", i+1), BatteryBinary)
	}
	for i := byte(0); i < 4; i++ {
		addSensor(0x16+i, fmt.Sprintf("wh41_ch%d", i+1), BatteryInteger)
	}
	addSensor(0x1A, "wh57", BatteryInteger)
	for i := byte(0); i < 4; i++ {
		addSensor(0x1B+i, fmt.Sprintf("wh55_ch%d", i+1), BatteryInteger)
		addSensor(0x1F+i, fmt.Sprintf("wh34_ch%d", i+1), BatteryVolt2mV)
	}
	addSensor(0x27, "wh45", BatteryInteger)
	for i := byte(0); i < 8; i++ {
		addSensor(0x28+i, fmt.Sprintf("wh35_ch%d", i+1), BatteryVolt2mV)
	}
	addSensor(0x30, "ws90", BatteryVolt2mV)
}

// SensorID is one registration record from the sensor-ID read.
type SensorID struct {
	Address byte
	Name    string
	// ID is the paired transmitter's ID; meaningful only when Present.
	ID uint32
	// Present is false for registering (0xFFFFFFFF) and disabled
	// (0xFFFFFFFE) slots.
	Present bool
	Battery byte
	// BatteryLow is decoded per the sensor family's battery convention.
	BatteryLow bool
	// BatteryVolt is the decoded voltage for the voltage families, 0 otherwise.
	BatteryVolt float64
	Signal      byte
}

// DecodeSensorIDs parses the repeating 7-byte tuples of a sensor-ID
// response: address, 4-byte big-endian ID, battery, signal.
func DecodeSensorIDs(payload []byte) ([]SensorID, error) {
	if len(payload)%7 != 0 {
		return nil, fmt.Errorf("%w: sensor-ID payload length %d not a multiple of 7", ErrInvalidResponse, len(payload))
	}
	out := make([]SensorID, 0, len(payload)/7)
	for i := 0; i < len(payload); i += 7 {
		rec := SensorID{
			Address: payload[i],
			ID:      binary.BigEndian.Uint32(payload[i+1 : i+5]),
			Battery: payload[i+5],
			Signal:  payload[i+6],
		}
		rec.Present = rec.ID != sensorIDRegistering && rec.ID != sensorIDDisabled

		if st, ok := sensorTypes[rec.Address]; ok {
			rec.Name = st.Name
			if rec.Present {
				rec.BatteryLow, rec.BatteryVolt = DecodeBattery(st.Battery, rec.Battery)
			}
		} else {
			rec.Name = fmt.Sprintf("sensor_%02x", rec.Address)
		}
		out = append(out, rec)
	}
	return out, nil
}

// DecodeBattery interprets a battery byte per family convention and reports
// whether it means "low" plus the voltage where the family reports one.
func DecodeBattery(kind BatteryKind, raw byte) (low bool, volt float64) {
	switch kind {
	case BatteryBinary:
		return raw&0x01 == 1, 0
	case BatteryInteger:
		return raw <= 1, 0
	case BatteryVolt2mV:
		volt = float64(raw) * 0.02
		return volt <= 1.2, volt
	case BatteryVolt100mV:
		volt = float64(raw) * 0.1
		return false, volt
	}
	return false, 0
}

// SensorName returns the family name for an address, when known.
func SensorName(addr byte) (string, bool) {
	st, ok := sensorTypes[addr]
	return st.Name, ok
}

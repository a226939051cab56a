package protocol

import (
	"encoding/binary"
	"math"
)

// Kelvin range accepted by LIFX devices.
const (
	// KelvinMin is the warmest supported colour temperature.
	KelvinMin = 1500

	// KelvinMax is the coolest supported colour temperature.
	KelvinMax = 9000

	// KelvinNeutral is the default temperature used when a command
	// specifies colour but no explicit kelvin value.
	KelvinNeutral = 3500
)

// hsbkSize is the wire size of one HSBK colour value.
const hsbkSize = 8

// HSBK is the LIFX colour representation: hue, saturation, brightness
// and colour temperature, each a 16-bit value.
//
// Hue maps 0-65535 onto 0-360 degrees. Saturation and Brightness map
// 0-65535 onto 0-100%. Kelvin is an absolute temperature (1500-9000)
// and only takes effect at zero saturation.
type HSBK struct {
	Hue        uint16
	Saturation uint16
	Brightness uint16
	Kelvin     uint16
}

// HueFromDegrees converts a hue angle in degrees (0-360) to wire scale.
func HueFromDegrees(deg float64) uint16 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return uint16(math.Round(deg / 360 * 65535))
}

// PercentToScale converts a percentage (0-100) to wire scale (0-65535).
func PercentToScale(pct float64) uint16 {
	if pct <= 0 {
		return 0
	}
	if pct >= 100 {
		return 65535
	}
	return uint16(math.Round(pct / 100 * 65535))
}

// HueDegrees returns the hue as an angle in degrees (0-360).
func (c HSBK) HueDegrees() float64 {
	return float64(c.Hue) / 65535 * 360
}

// SaturationPercent returns the saturation as a percentage (0-100).
func (c HSBK) SaturationPercent() float64 {
	return float64(c.Saturation) / 65535 * 100
}

// BrightnessPercent returns the brightness as a percentage (0-100).
func (c HSBK) BrightnessPercent() float64 {
	return float64(c.Brightness) / 65535 * 100
}

// encode appends the colour to buf in wire order.
func (c HSBK) encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], c.Hue)
	binary.LittleEndian.PutUint16(buf[2:4], c.Saturation)
	binary.LittleEndian.PutUint16(buf[4:6], c.Brightness)
	binary.LittleEndian.PutUint16(buf[6:8], c.Kelvin)
}

// decodeHSBK reads one colour value from the front of buf.
func decodeHSBK(buf []byte) HSBK {
	return HSBK{
		Hue:        binary.LittleEndian.Uint16(buf[0:2]),
		Saturation: binary.LittleEndian.Uint16(buf[2:4]),
		Brightness: binary.LittleEndian.Uint16(buf[4:6]),
		Kelvin:     binary.LittleEndian.Uint16(buf[6:8]),
	}
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Device message types.
const (
	MsgGetService        uint16 = 2
	MsgStateService      uint16 = 3
	MsgGetHostFirmware   uint16 = 14
	MsgStateHostFirmware uint16 = 15
	MsgGetWifiInfo       uint16 = 16
	MsgStateWifiInfo     uint16 = 17
	MsgGetPower          uint16 = 20
	MsgSetPower          uint16 = 21
	MsgStatePower        uint16 = 22
	MsgGetLabel          uint16 = 23
	MsgStateLabel        uint16 = 25
	MsgGetVersion        uint16 = 32
	MsgStateVersion      uint16 = 33
	MsgAcknowledgement   uint16 = 45
	MsgGetLocation       uint16 = 48
	MsgStateLocation     uint16 = 50
	MsgGetGroup          uint16 = 51
	MsgStateGroup        uint16 = 53
	MsgEchoRequest       uint16 = 58
	MsgEchoResponse      uint16 = 59
)

// Light message types.
const (
	MsgLightGet         uint16 = 101
	MsgLightSetColor    uint16 = 102
	MsgLightSetWaveform uint16 = 103
	MsgLightState       uint16 = 107
	MsgLightGetPower    uint16 = 116
	MsgLightSetPower    uint16 = 117
	MsgLightStatePower  uint16 = 118
	MsgGetInfrared      uint16 = 120
	MsgStateInfrared    uint16 = 121
	MsgSetInfrared      uint16 = 122
	MsgGetHevCycle      uint16 = 142
	MsgSetHevCycle      uint16 = 143
	MsgStateHevCycle    uint16 = 144
)

// MultiZone and matrix (tile) message types.
const (
	MsgSetColorZones           uint16 = 501
	MsgGetColorZones           uint16 = 502
	MsgStateZone               uint16 = 503
	MsgStateMultiZone          uint16 = 506
	MsgGetMultiZoneEffect      uint16 = 507
	MsgSetMultiZoneEffect      uint16 = 508
	MsgStateMultiZoneEffect    uint16 = 509
	MsgSetExtendedColorZones   uint16 = 510
	MsgGetExtendedColorZones   uint16 = 511
	MsgStateExtendedColorZones uint16 = 512
	MsgGetTileEffect           uint16 = 718
	MsgSetTileEffect           uint16 = 719
	MsgStateTileEffect         uint16 = 720
)

// ServiceUDP is the service identifier devices announce in StateService.
const ServiceUDP = 1

// Power levels. The protocol only distinguishes fully off and fully on;
// intermediate values are reserved.
const (
	PowerOff uint16 = 0
	PowerOn  uint16 = 65535
)

// Zone apply modes for SetColorZones / SetExtendedColorZones.
const (
	ZoneNoApply   uint8 = 0 // buffer the change, do not display yet
	ZoneApply     uint8 = 1 // apply this and all buffered changes
	ZoneApplyOnly uint8 = 2 // apply this change, discard the buffer
)

// MultiZone firmware effect types.
const (
	MultiZoneEffectOff  uint8 = 0
	MultiZoneEffectMove uint8 = 1
)

// Matrix (tile) firmware effect types.
const (
	TileEffectOff   uint8 = 0
	TileEffectMorph uint8 = 2
	TileEffectFlame uint8 = 3
)

// Waveform shapes for LightSetWaveform.
const (
	WaveformSaw      uint8 = 0
	WaveformSine     uint8 = 1
	WaveformHalfSine uint8 = 2
	WaveformTriangle uint8 = 3
	WaveformPulse    uint8 = 4
)

// Fixed wire sizes.
const (
	labelLen           = 32
	groupIDLen         = 16
	echoPayloadLen     = 64
	multiZoneColors    = 8
	extendedZoneColors = 82
	tilePaletteLen     = 16
	effectParamsLen    = 32
)

// Payload is implemented by every typed message body. The set of
// implementations is closed: decoding dispatches on the wire message
// type and unknown types are rejected with ErrUnknownMessageType.
type Payload interface {
	// MessageType returns the wire message type carried in the header.
	MessageType() uint16

	payloadSize() int
	encodePayload(buf []byte)
}

// Packet is a fully decoded LIFX message: header plus typed payload.
type Packet struct {
	Header  Header
	Payload Payload
}

// EncodePacket serialises a header and payload into a datagram.
// The header's Size and Type fields are computed from the payload.
func EncodePacket(h Header, p Payload) []byte {
	size := HeaderSize + p.payloadSize()
	buf := make([]byte, size)

	h.Size = uint16(size) //nolint:gosec // bounded by small payload sizes
	h.Type = p.MessageType()
	h.encode(buf)
	p.encodePayload(buf[HeaderSize:])

	return buf
}

// DecodePacket parses a received datagram into a typed Packet.
//
// Malformed input returns ErrMalformedPacket; an intact header with a
// message type this client does not implement returns
// ErrUnknownMessageType. Both are expected on a lossy shared medium and
// neither is fatal.
func DecodePacket(data []byte) (Packet, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return Packet{}, err
	}

	p, err := decodePayload(h.Type, data[HeaderSize:])
	if err != nil {
		return Packet{}, err
	}

	return Packet{Header: h, Payload: p}, nil
}

// ResponseFlags reports which reply a request payload should ask for:
// state-changing messages request an acknowledgement, queries request
// their State counterpart. Asking for exactly one keeps correlation
// unambiguous, since every sequence number then maps to one expected
// datagram.
func ResponseFlags(p Payload) (ackRequired, resRequired bool) {
	switch p.MessageType() {
	case MsgSetPower, MsgLightSetColor, MsgLightSetWaveform, MsgLightSetPower,
		MsgSetInfrared, MsgSetHevCycle, MsgSetColorZones, MsgSetMultiZoneEffect,
		MsgSetExtendedColorZones, MsgSetTileEffect:
		return true, false
	default:
		return false, true
	}
}

// checkLen validates a payload carries at least want bytes.
func checkLen(name string, data []byte, want int) error {
	if len(data) < want {
		return fmt.Errorf("%w: %s payload %d bytes, need %d", ErrMalformedPacket, name, len(data), want)
	}
	return nil
}

// encodeLabel writes a NUL-padded fixed-width label field.
func encodeLabel(buf []byte, s string) {
	n := copy(buf, s)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
}

// decodeLabel trims a fixed-width label field at the first NUL.
func decodeLabel(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf)
}

// GetService asks every device on the network to announce itself.
// Sent tagged (broadcast) during discovery.
type GetService struct{}

func (GetService) MessageType() uint16 { return MsgGetService }
func (GetService) payloadSize() int { return 0 }
func (GetService) encodePayload([]byte) {}

// StateService is a device's discovery announcement.
type StateService struct {
	// Service is the transport the device offers (ServiceUDP).
	Service uint8

	// Port is the UDP port the device listens on.
	Port uint32
}

func (StateService) MessageType() uint16 { return MsgStateService }
func (StateService) payloadSize() int { return 5 }

func (p StateService) encodePayload(buf []byte) {
	buf[0] = p.Service
	binary.LittleEndian.PutUint32(buf[1:5], p.Port)
}

func decodeStateService(data []byte) (Payload, error) {
	if err := checkLen("StateService", data, 5); err != nil {
		return nil, err
	}
	return &StateService{
		Service: data[0],
		Port:    binary.LittleEndian.Uint32(data[1:5]),
	}, nil
}

// GetHostFirmware queries the device firmware build.
type GetHostFirmware struct{}

func (GetHostFirmware) MessageType() uint16 { return MsgGetHostFirmware }
func (GetHostFirmware) payloadSize() int { return 0 }
func (GetHostFirmware) encodePayload([]byte) {}

// StateHostFirmware reports the device firmware build and version.
type StateHostFirmware struct {
	// Build is the firmware build timestamp (nanoseconds since epoch).
	Build uint64

	// VersionMinor and VersionMajor form the firmware version, rendered
	// "major.minor" (e.g. "3.70").
	VersionMinor uint16
	VersionMajor uint16
}

func (StateHostFirmware) MessageType() uint16 { return MsgStateHostFirmware }
func (StateHostFirmware) payloadSize() int { return 20 }

func (p StateHostFirmware) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], p.Build)
	// Bytes 8-15 reserved
	binary.LittleEndian.PutUint16(buf[16:18], p.VersionMinor)
	binary.LittleEndian.PutUint16(buf[18:20], p.VersionMajor)
}

func decodeStateHostFirmware(data []byte) (Payload, error) {
	if err := checkLen("StateHostFirmware", data, 20); err != nil {
		return nil, err
	}
	return &StateHostFirmware{
		Build:        binary.LittleEndian.Uint64(data[0:8]),
		VersionMinor: binary.LittleEndian.Uint16(data[16:18]),
		VersionMajor: binary.LittleEndian.Uint16(data[18:20]),
	}, nil
}

// Version renders the firmware version as "major.minor".
func (p StateHostFirmware) Version() string {
	return FirmwareVersion(p.VersionMajor, p.VersionMinor)
}

// FirmwareVersion renders a firmware version pair as "major.minor".
func FirmwareVersion(major, minor uint16) string {
	return fmt.Sprintf("%d.%d", major, minor)
}

// GetWifiInfo queries the device's wifi signal strength.
type GetWifiInfo struct{}

func (GetWifiInfo) MessageType() uint16 { return MsgGetWifiInfo }
func (GetWifiInfo) payloadSize() int { return 0 }
func (GetWifiInfo) encodePayload([]byte) {}

// StateWifiInfo reports the device's wifi signal.
type StateWifiInfo struct {
	// Signal is the raw signal value; interpretation depends on
	// firmware. Use RSSI for a displayable figure.
	Signal float32
}

func (StateWifiInfo) MessageType() uint16 { return MsgStateWifiInfo }
func (StateWifiInfo) payloadSize() int { return 14 }

func (p StateWifiInfo) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(p.Signal))
	// Bytes 4-13 reserved
}

func decodeStateWifiInfo(data []byte) (Payload, error) {
	if err := checkLen("StateWifiInfo", data, 14); err != nil {
		return nil, err
	}
	return &StateWifiInfo{
		Signal: math.Float32frombits(binary.LittleEndian.Uint32(data[0:4])),
	}, nil
}

// RSSI converts the raw signal value to dBm.
func (p StateWifiInfo) RSSI() int {
	if p.Signal <= 0 {
		return 0
	}
	return int(math.Floor(10*math.Log10(float64(p.Signal)) + 0.5))
}

// GetPower queries the device power level.
type GetPower struct{}

func (GetPower) MessageType() uint16 { return MsgGetPower }
func (GetPower) payloadSize() int { return 0 }
func (GetPower) encodePayload([]byte) {}

// SetPower switches the device fully on or off (no transition).
type SetPower struct {
	Level uint16
}

func (SetPower) MessageType() uint16 { return MsgSetPower }
func (SetPower) payloadSize() int { return 2 }

func (p SetPower) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], p.Level)
}

// StatePower reports the device power level.
type StatePower struct {
	Level uint16
}

func (StatePower) MessageType() uint16 { return MsgStatePower }
func (StatePower) payloadSize() int { return 2 }

func (p StatePower) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], p.Level)
}

func decodeStatePower(data []byte) (Payload, error) {
	if err := checkLen("StatePower", data, 2); err != nil {
		return nil, err
	}
	return &StatePower{Level: binary.LittleEndian.Uint16(data[0:2])}, nil
}

// GetLabel queries the device's user-assigned name.
type GetLabel struct{}

func (GetLabel) MessageType() uint16 { return MsgGetLabel }
func (GetLabel) payloadSize() int { return 0 }
func (GetLabel) encodePayload([]byte) {}

// StateLabel reports the device's user-assigned name.
type StateLabel struct {
	Label string
}

func (StateLabel) MessageType() uint16 { return MsgStateLabel }
func (StateLabel) payloadSize() int { return labelLen }

func (p StateLabel) encodePayload(buf []byte) {
	encodeLabel(buf[:labelLen], p.Label)
}

func decodeStateLabel(data []byte) (Payload, error) {
	if err := checkLen("StateLabel", data, labelLen); err != nil {
		return nil, err
	}
	return &StateLabel{Label: decodeLabel(data[:labelLen])}, nil
}

// GetVersion queries the device's hardware identity.
type GetVersion struct{}

func (GetVersion) MessageType() uint16 { return MsgGetVersion }
func (GetVersion) payloadSize() int { return 0 }
func (GetVersion) encodePayload([]byte) {}

// StateVersion reports the device's hardware identity, used to look up
// product capabilities.
type StateVersion struct {
	Vendor  uint32
	Product uint32
}

func (StateVersion) MessageType() uint16 { return MsgStateVersion }
func (StateVersion) payloadSize() int { return 12 }

func (p StateVersion) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], p.Vendor)
	binary.LittleEndian.PutUint32(buf[4:8], p.Product)
	// Bytes 8-11 reserved
}

func decodeStateVersion(data []byte) (Payload, error) {
	if err := checkLen("StateVersion", data, 12); err != nil {
		return nil, err
	}
	return &StateVersion{
		Vendor:  binary.LittleEndian.Uint32(data[0:4]),
		Product: binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

// Acknowledgement confirms receipt of a message sent with AckRequired.
type Acknowledgement struct{}

func (Acknowledgement) MessageType() uint16 { return MsgAcknowledgement }
func (Acknowledgement) payloadSize() int { return 0 }
func (Acknowledgement) encodePayload([]byte) {}

// GetLocation queries the device's location assignment.
type GetLocation struct{}

func (GetLocation) MessageType() uint16 { return MsgGetLocation }
func (GetLocation) payloadSize() int { return 0 }
func (GetLocation) encodePayload([]byte) {}

// StateLocation reports the device's location assignment.
type StateLocation struct {
	Location  [groupIDLen]byte
	Label     string
	UpdatedAt uint64
}

func (StateLocation) MessageType() uint16 { return MsgStateLocation }
func (StateLocation) payloadSize() int { return 56 }

func (p StateLocation) encodePayload(buf []byte) {
	copy(buf[0:groupIDLen], p.Location[:])
	encodeLabel(buf[groupIDLen:groupIDLen+labelLen], p.Label)
	binary.LittleEndian.PutUint64(buf[48:56], p.UpdatedAt)
}

func decodeStateLocation(data []byte) (Payload, error) {
	if err := checkLen("StateLocation", data, 56); err != nil {
		return nil, err
	}
	p := &StateLocation{
		Label:     decodeLabel(data[groupIDLen : groupIDLen+labelLen]),
		UpdatedAt: binary.LittleEndian.Uint64(data[48:56]),
	}
	copy(p.Location[:], data[0:groupIDLen])
	return p, nil
}

// GetGroup queries the device's group assignment.
type GetGroup struct{}

func (GetGroup) MessageType() uint16 { return MsgGetGroup }
func (GetGroup) payloadSize() int { return 0 }
func (GetGroup) encodePayload([]byte) {}

// StateGroup reports the device's group assignment.
type StateGroup struct {
	Group     [groupIDLen]byte
	Label     string
	UpdatedAt uint64
}

func (StateGroup) MessageType() uint16 { return MsgStateGroup }
func (StateGroup) payloadSize() int { return 56 }

func (p StateGroup) encodePayload(buf []byte) {
	copy(buf[0:groupIDLen], p.Group[:])
	encodeLabel(buf[groupIDLen:groupIDLen+labelLen], p.Label)
	binary.LittleEndian.PutUint64(buf[48:56], p.UpdatedAt)
}

func decodeStateGroup(data []byte) (Payload, error) {
	if err := checkLen("StateGroup", data, 56); err != nil {
		return nil, err
	}
	p := &StateGroup{
		Label:     decodeLabel(data[groupIDLen : groupIDLen+labelLen]),
		UpdatedAt: binary.LittleEndian.Uint64(data[48:56]),
	}
	copy(p.Group[:], data[0:groupIDLen])
	return p, nil
}

// EchoRequest asks the device to echo back an arbitrary payload.
type EchoRequest struct {
	Payload [echoPayloadLen]byte
}

func (EchoRequest) MessageType() uint16 { return MsgEchoRequest }
func (EchoRequest) payloadSize() int { return echoPayloadLen }

func (p EchoRequest) encodePayload(buf []byte) {
	copy(buf, p.Payload[:])
}

// EchoResponse carries back the payload of an EchoRequest.
type EchoResponse struct {
	Payload [echoPayloadLen]byte
}

func (EchoResponse) MessageType() uint16 { return MsgEchoResponse }
func (EchoResponse) payloadSize() int { return echoPayloadLen }

func (p EchoResponse) encodePayload(buf []byte) {
	copy(buf, p.Payload[:])
}

func decodeEchoResponse(data []byte) (Payload, error) {
	if err := checkLen("EchoResponse", data, echoPayloadLen); err != nil {
		return nil, err
	}
	p := &EchoResponse{}
	copy(p.Payload[:], data[:echoPayloadLen])
	return p, nil
}

// LightGet queries the full light state (colour, power, label).
type LightGet struct{}

func (LightGet) MessageType() uint16 { return MsgLightGet }
func (LightGet) payloadSize() int { return 0 }
func (LightGet) encodePayload([]byte) {}

// LightSetColor transitions the light to a colour over a duration.
type LightSetColor struct {
	Color HSBK

	// Duration is the transition time in milliseconds.
	Duration uint32
}

func (LightSetColor) MessageType() uint16 { return MsgLightSetColor }
func (LightSetColor) payloadSize() int { return 13 }

func (p LightSetColor) encodePayload(buf []byte) {
	// Byte 0 reserved
	p.Color.encode(buf[1:9])
	binary.LittleEndian.PutUint32(buf[9:13], p.Duration)
}

// LightSetWaveform runs a colour waveform (used for identify pulses).
type LightSetWaveform struct {
	// Transient restores the original colour when the waveform ends.
	Transient bool
	Color     HSBK

	// Period is the duration of one cycle in milliseconds.
	Period uint32

	// Cycles is the number of repetitions.
	Cycles float32

	// SkewRatio shifts the waveform duty cycle (pulse only).
	SkewRatio int16

	// Waveform selects the shape (WaveformSaw .. WaveformPulse).
	Waveform uint8
}

func (LightSetWaveform) MessageType() uint16 { return MsgLightSetWaveform }
func (LightSetWaveform) payloadSize() int { return 21 }

func (p LightSetWaveform) encodePayload(buf []byte) {
	// Byte 0 reserved
	if p.Transient {
		buf[1] = 1
	}
	p.Color.encode(buf[2:10])
	binary.LittleEndian.PutUint32(buf[10:14], p.Period)
	binary.LittleEndian.PutUint32(buf[14:18], math.Float32bits(p.Cycles))
	binary.LittleEndian.PutUint16(buf[18:20], uint16(p.SkewRatio)) //nolint:gosec // two's complement wire encoding
	buf[20] = p.Waveform
}

// LightState reports the light's colour, power and label.
type LightState struct {
	Color HSBK
	Power uint16
	Label string
}

func (LightState) MessageType() uint16 { return MsgLightState }
func (LightState) payloadSize() int { return 52 }

func (p LightState) encodePayload(buf []byte) {
	p.Color.encode(buf[0:8])
	// Bytes 8-9 reserved
	binary.LittleEndian.PutUint16(buf[10:12], p.Power)
	encodeLabel(buf[12:12+labelLen], p.Label)
	// Bytes 44-51 reserved
}

func decodeLightState(data []byte) (Payload, error) {
	if err := checkLen("LightState", data, 52); err != nil {
		return nil, err
	}
	return &LightState{
		Color: decodeHSBK(data[0:8]),
		Power: binary.LittleEndian.Uint16(data[10:12]),
		Label: decodeLabel(data[12 : 12+labelLen]),
	}, nil
}

// LightGetPower queries the light power level.
type LightGetPower struct{}

func (LightGetPower) MessageType() uint16 { return MsgLightGetPower }
func (LightGetPower) payloadSize() int { return 0 }
func (LightGetPower) encodePayload([]byte) {}

// LightSetPower switches the light with a fade transition.
type LightSetPower struct {
	Level uint16

	// Duration is the fade time in milliseconds.
	Duration uint32
}

func (LightSetPower) MessageType() uint16 { return MsgLightSetPower }
func (LightSetPower) payloadSize() int { return 6 }

func (p LightSetPower) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], p.Level)
	binary.LittleEndian.PutUint32(buf[2:6], p.Duration)
}

// LightStatePower reports the light power level.
type LightStatePower struct {
	Level uint16
}

func (LightStatePower) MessageType() uint16 { return MsgLightStatePower }
func (LightStatePower) payloadSize() int { return 2 }

func (p LightStatePower) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], p.Level)
}

func decodeLightStatePower(data []byte) (Payload, error) {
	if err := checkLen("LightStatePower", data, 2); err != nil {
		return nil, err
	}
	return &LightStatePower{Level: binary.LittleEndian.Uint16(data[0:2])}, nil
}

// GetInfrared queries the infrared brightness on night-vision bulbs.
type GetInfrared struct{}

func (GetInfrared) MessageType() uint16 { return MsgGetInfrared }
func (GetInfrared) payloadSize() int { return 0 }
func (GetInfrared) encodePayload([]byte) {}

// StateInfrared reports the infrared brightness.
type StateInfrared struct {
	Brightness uint16
}

func (StateInfrared) MessageType() uint16 { return MsgStateInfrared }
func (StateInfrared) payloadSize() int { return 2 }

func (p StateInfrared) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], p.Brightness)
}

func decodeStateInfrared(data []byte) (Payload, error) {
	if err := checkLen("StateInfrared", data, 2); err != nil {
		return nil, err
	}
	return &StateInfrared{Brightness: binary.LittleEndian.Uint16(data[0:2])}, nil
}

// SetInfrared sets the infrared brightness on night-vision bulbs.
type SetInfrared struct {
	Brightness uint16
}

func (SetInfrared) MessageType() uint16 { return MsgSetInfrared }
func (SetInfrared) payloadSize() int { return 2 }

func (p SetInfrared) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], p.Brightness)
}

// GetHevCycle queries the HEV (germicidal) cycle state on Clean bulbs.
type GetHevCycle struct{}

func (GetHevCycle) MessageType() uint16 { return MsgGetHevCycle }
func (GetHevCycle) payloadSize() int { return 0 }
func (GetHevCycle) encodePayload([]byte) {}

// SetHevCycle starts or stops a HEV cycle.
type SetHevCycle struct {
	Enable bool

	// Duration is the cycle length in seconds; zero uses the device default.
	Duration uint32
}

func (SetHevCycle) MessageType() uint16 { return MsgSetHevCycle }
func (SetHevCycle) payloadSize() int { return 5 }

func (p SetHevCycle) encodePayload(buf []byte) {
	if p.Enable {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], p.Duration)
}

// StateHevCycle reports the HEV cycle progress.
type StateHevCycle struct {
	// Duration is the configured cycle length in seconds.
	Duration uint32

	// Remaining is the seconds left; zero when no cycle is running.
	Remaining uint32

	// LastPower records whether the light was on before the cycle began.
	LastPower bool
}

func (StateHevCycle) MessageType() uint16 { return MsgStateHevCycle }
func (StateHevCycle) payloadSize() int { return 9 }

func (p StateHevCycle) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], p.Duration)
	binary.LittleEndian.PutUint32(buf[4:8], p.Remaining)
	if p.LastPower {
		buf[8] = 1
	}
}

func decodeStateHevCycle(data []byte) (Payload, error) {
	if err := checkLen("StateHevCycle", data, 9); err != nil {
		return nil, err
	}
	return &StateHevCycle{
		Duration:  binary.LittleEndian.Uint32(data[0:4]),
		Remaining: binary.LittleEndian.Uint32(data[4:8]),
		LastPower: data[8] != 0,
	}, nil
}

// SetColorZones colours a contiguous zone range on a strip.
type SetColorZones struct {
	Start    uint8
	End      uint8
	Color    HSBK
	Duration uint32
	Apply    uint8
}

func (SetColorZones) MessageType() uint16 { return MsgSetColorZones }
func (SetColorZones) payloadSize() int { return 15 }

func (p SetColorZones) encodePayload(buf []byte) {
	buf[0] = p.Start
	buf[1] = p.End
	p.Color.encode(buf[2:10])
	binary.LittleEndian.PutUint32(buf[10:14], p.Duration)
	buf[14] = p.Apply
}

// GetColorZones queries the colours of a zone range.
type GetColorZones struct {
	Start uint8
	End   uint8
}

func (GetColorZones) MessageType() uint16 { return MsgGetColorZones }
func (GetColorZones) payloadSize() int { return 2 }

func (p GetColorZones) encodePayload(buf []byte) {
	buf[0] = p.Start
	buf[1] = p.End
}

// StateZone reports a single zone's colour.
type StateZone struct {
	// Count is the total number of zones on the device.
	Count uint8

	// Index is the zone this message describes.
	Index uint8

	Color HSBK
}

func (StateZone) MessageType() uint16 { return MsgStateZone }
func (StateZone) payloadSize() int { return 10 }

func (p StateZone) encodePayload(buf []byte) {
	buf[0] = p.Count
	buf[1] = p.Index
	p.Color.encode(buf[2:10])
}

func decodeStateZone(data []byte) (Payload, error) {
	if err := checkLen("StateZone", data, 10); err != nil {
		return nil, err
	}
	return &StateZone{
		Count: data[0],
		Index: data[1],
		Color: decodeHSBK(data[2:10]),
	}, nil
}

// StateMultiZone reports up to eight consecutive zone colours.
type StateMultiZone struct {
	// Count is the total number of zones on the device.
	Count uint8

	// Index is the zone number of Colors[0].
	Index uint8

	Colors [multiZoneColors]HSBK
}

func (StateMultiZone) MessageType() uint16 { return MsgStateMultiZone }
func (StateMultiZone) payloadSize() int { return 2 + multiZoneColors*hsbkSize }

func (p StateMultiZone) encodePayload(buf []byte) {
	buf[0] = p.Count
	buf[1] = p.Index
	for i, c := range p.Colors {
		c.encode(buf[2+i*hsbkSize : 2+(i+1)*hsbkSize])
	}
}

func decodeStateMultiZone(data []byte) (Payload, error) {
	if err := checkLen("StateMultiZone", data, 2+multiZoneColors*hsbkSize); err != nil {
		return nil, err
	}
	p := &StateMultiZone{Count: data[0], Index: data[1]}
	for i := range p.Colors {
		p.Colors[i] = decodeHSBK(data[2+i*hsbkSize : 2+(i+1)*hsbkSize])
	}
	return p, nil
}

// GetMultiZoneEffect queries the running firmware effect on a strip.
type GetMultiZoneEffect struct{}

func (GetMultiZoneEffect) MessageType() uint16 { return MsgGetMultiZoneEffect }
func (GetMultiZoneEffect) payloadSize() int { return 0 }
func (GetMultiZoneEffect) encodePayload([]byte) {}

// SetMultiZoneEffect starts or stops a firmware effect on a strip.
type SetMultiZoneEffect struct {
	// Instance identifies the effect run; a new nonzero value starts a
	// fresh effect, zero stops it.
	Instance uint32

	// EffectType is MultiZoneEffectOff or MultiZoneEffectMove.
	EffectType uint8

	// Speed is the time in milliseconds for one effect cycle.
	Speed uint32

	// Duration is how long the effect runs in nanoseconds; zero = forever.
	Duration uint64

	// Parameters carries effect-specific settings (direction for Move).
	Parameters [effectParamsLen]byte
}

func (SetMultiZoneEffect) MessageType() uint16 { return MsgSetMultiZoneEffect }
func (SetMultiZoneEffect) payloadSize() int { return 59 }

func (p SetMultiZoneEffect) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], p.Instance)
	buf[4] = p.EffectType
	// Bytes 5-6 reserved
	binary.LittleEndian.PutUint32(buf[7:11], p.Speed)
	binary.LittleEndian.PutUint64(buf[11:19], p.Duration)
	// Bytes 19-26 reserved
	copy(buf[27:27+effectParamsLen], p.Parameters[:])
}

func decodeStateMultiZoneEffect(data []byte) (Payload, error) {
	if err := checkLen("StateMultiZoneEffect", data, 59); err != nil {
		return nil, err
	}
	p := &StateMultiZoneEffect{
		Instance:   binary.LittleEndian.Uint32(data[0:4]),
		EffectType: data[4],
		Speed:      binary.LittleEndian.Uint32(data[7:11]),
		Duration:   binary.LittleEndian.Uint64(data[11:19]),
	}
	copy(p.Parameters[:], data[27:27+effectParamsLen])
	return p, nil
}

// StateMultiZoneEffect reports the running firmware effect on a strip.
type StateMultiZoneEffect struct {
	Instance   uint32
	EffectType uint8
	Speed      uint32
	Duration   uint64
	Parameters [effectParamsLen]byte
}

func (StateMultiZoneEffect) MessageType() uint16 { return MsgStateMultiZoneEffect }
func (StateMultiZoneEffect) payloadSize() int { return 59 }

func (p StateMultiZoneEffect) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], p.Instance)
	buf[4] = p.EffectType
	binary.LittleEndian.PutUint32(buf[7:11], p.Speed)
	binary.LittleEndian.PutUint64(buf[11:19], p.Duration)
	copy(buf[27:27+effectParamsLen], p.Parameters[:])
}

// SetExtendedColorZones sets up to 82 zone colours in one message.
// Shorter strips pad the colour array; ColorsCount says how many apply.
type SetExtendedColorZones struct {
	Duration    uint32
	Apply       uint8
	Index       uint16
	ColorsCount uint8
	Colors      [extendedZoneColors]HSBK
}

func (SetExtendedColorZones) MessageType() uint16 { return MsgSetExtendedColorZones }
func (SetExtendedColorZones) payloadSize() int { return 8 + extendedZoneColors*hsbkSize }

func (p SetExtendedColorZones) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], p.Duration)
	buf[4] = p.Apply
	binary.LittleEndian.PutUint16(buf[5:7], p.Index)
	buf[7] = p.ColorsCount
	for i, c := range p.Colors {
		c.encode(buf[8+i*hsbkSize : 8+(i+1)*hsbkSize])
	}
}

// GetExtendedColorZones queries all zone colours in one message.
type GetExtendedColorZones struct{}

func (GetExtendedColorZones) MessageType() uint16 { return MsgGetExtendedColorZones }
func (GetExtendedColorZones) payloadSize() int { return 0 }
func (GetExtendedColorZones) encodePayload([]byte) {}

// StateExtendedColorZones reports up to 82 zone colours.
type StateExtendedColorZones struct {
	// Count is the total number of zones on the device.
	Count uint16

	// Index is the zone number of Colors[0].
	Index uint16

	// ColorsCount is how many entries of Colors are meaningful.
	ColorsCount uint8

	Colors [extendedZoneColors]HSBK
}

func (StateExtendedColorZones) MessageType() uint16 { return MsgStateExtendedColorZones }
func (StateExtendedColorZones) payloadSize() int { return 5 + extendedZoneColors*hsbkSize }

func (p StateExtendedColorZones) encodePayload(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], p.Count)
	binary.LittleEndian.PutUint16(buf[2:4], p.Index)
	buf[4] = p.ColorsCount
	for i, c := range p.Colors {
		c.encode(buf[5+i*hsbkSize : 5+(i+1)*hsbkSize])
	}
}

func decodeStateExtendedColorZones(data []byte) (Payload, error) {
	if err := checkLen("StateExtendedColorZones", data, 5+extendedZoneColors*hsbkSize); err != nil {
		return nil, err
	}
	p := &StateExtendedColorZones{
		Count:       binary.LittleEndian.Uint16(data[0:2]),
		Index:       binary.LittleEndian.Uint16(data[2:4]),
		ColorsCount: data[4],
	}
	for i := range p.Colors {
		p.Colors[i] = decodeHSBK(data[5+i*hsbkSize : 5+(i+1)*hsbkSize])
	}
	return p, nil
}

// GetTileEffect queries the running matrix effect.
type GetTileEffect struct{}

func (GetTileEffect) MessageType() uint16 { return MsgGetTileEffect }
func (GetTileEffect) payloadSize() int { return 2 }
func (GetTileEffect) encodePayload([]byte) {}

// SetTileEffect starts or stops a matrix firmware effect.
type SetTileEffect struct {
	Instance   uint32
	EffectType uint8

	// Speed is the time in milliseconds for one effect cycle.
	Speed uint32

	// Duration is how long the effect runs in nanoseconds; zero = forever.
	Duration uint64

	Parameters   [effectParamsLen]byte
	PaletteCount uint8
	Palette      [tilePaletteLen]HSBK
}

func (SetTileEffect) MessageType() uint16 { return MsgSetTileEffect }
func (SetTileEffect) payloadSize() int { return 60 + tilePaletteLen*hsbkSize }

func (p SetTileEffect) encodePayload(buf []byte) {
	// Bytes 0-1 reserved
	binary.LittleEndian.PutUint32(buf[2:6], p.Instance)
	buf[6] = p.EffectType
	binary.LittleEndian.PutUint32(buf[7:11], p.Speed)
	binary.LittleEndian.PutUint64(buf[11:19], p.Duration)
	// Bytes 19-26 reserved
	copy(buf[27:27+effectParamsLen], p.Parameters[:])
	buf[59] = p.PaletteCount
	for i, c := range p.Palette {
		c.encode(buf[60+i*hsbkSize : 60+(i+1)*hsbkSize])
	}
}

// StateTileEffect reports the running matrix effect.
type StateTileEffect struct {
	Instance     uint32
	EffectType   uint8
	Speed        uint32
	Duration     uint64
	Parameters   [effectParamsLen]byte
	PaletteCount uint8
	Palette      [tilePaletteLen]HSBK
}

func (StateTileEffect) MessageType() uint16 { return MsgStateTileEffect }
func (StateTileEffect) payloadSize() int { return 59 + tilePaletteLen*hsbkSize }

func (p StateTileEffect) encodePayload(buf []byte) {
	// Byte 0 reserved
	binary.LittleEndian.PutUint32(buf[1:5], p.Instance)
	buf[5] = p.EffectType
	binary.LittleEndian.PutUint32(buf[6:10], p.Speed)
	binary.LittleEndian.PutUint64(buf[10:18], p.Duration)
	// Bytes 18-25 reserved
	copy(buf[26:26+effectParamsLen], p.Parameters[:])
	buf[58] = p.PaletteCount
	for i, c := range p.Palette {
		c.encode(buf[59+i*hsbkSize : 59+(i+1)*hsbkSize])
	}
}

func decodeStateTileEffect(data []byte) (Payload, error) {
	if err := checkLen("StateTileEffect", data, 59+tilePaletteLen*hsbkSize); err != nil {
		return nil, err
	}
	p := &StateTileEffect{
		Instance:   binary.LittleEndian.Uint32(data[1:5]),
		EffectType: data[5],
		Speed:      binary.LittleEndian.Uint32(data[6:10]),
		Duration:   binary.LittleEndian.Uint64(data[10:18]),
	}
	copy(p.Parameters[:], data[26:26+effectParamsLen])
	p.PaletteCount = data[58]
	for i := range p.Palette {
		p.Palette[i] = decodeHSBK(data[59+i*hsbkSize : 59+(i+1)*hsbkSize])
	}
	return p, nil
}

// decodePayload dispatches on the message type. Only messages a device
// can send to us are decodable; Set/Get messages travel the other way.
func decodePayload(msgType uint16, data []byte) (Payload, error) {
	switch msgType {
	case MsgStateService:
		return decodeStateService(data)
	case MsgStateHostFirmware:
		return decodeStateHostFirmware(data)
	case MsgStateWifiInfo:
		return decodeStateWifiInfo(data)
	case MsgStatePower:
		return decodeStatePower(data)
	case MsgStateLabel:
		return decodeStateLabel(data)
	case MsgStateVersion:
		return decodeStateVersion(data)
	case MsgAcknowledgement:
		return &Acknowledgement{}, nil
	case MsgStateLocation:
		return decodeStateLocation(data)
	case MsgStateGroup:
		return decodeStateGroup(data)
	case MsgEchoResponse:
		return decodeEchoResponse(data)
	case MsgLightState:
		return decodeLightState(data)
	case MsgLightStatePower:
		return decodeLightStatePower(data)
	case MsgStateInfrared:
		return decodeStateInfrared(data)
	case MsgStateHevCycle:
		return decodeStateHevCycle(data)
	case MsgStateZone:
		return decodeStateZone(data)
	case MsgStateMultiZone:
		return decodeStateMultiZone(data)
	case MsgStateMultiZoneEffect:
		return decodeStateMultiZoneEffect(data)
	case MsgStateExtendedColorZones:
		return decodeStateExtendedColorZones(data)
	case MsgStateTileEffect:
		return decodeStateTileEffect(data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, msgType)
	}
}

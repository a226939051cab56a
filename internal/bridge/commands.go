package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-lifx/internal/fleet"
	"github.com/nerrad567/gray-logic-lifx/internal/journal"
	"github.com/nerrad567/gray-logic-lifx/internal/protocol"
)

// Wire limits for zone and palette commands.
const (
	// maxExtendedZones is the most colours one extended zone message
	// carries.
	maxExtendedZones = 82

	// maxPaletteColors is the most palette entries a matrix effect
	// accepts.
	maxPaletteColors = 16
)

// Default effect cycle times in milliseconds.
const (
	defaultMoveSpeed   = 5000
	defaultMatrixSpeed = 3000
)

// Identify pulse shape.
const (
	identifyPeriodMillis = 500
	identifyCycles       = 3
)

// Journal outcome values.
const (
	outcomeConfirmed   = "confirmed"
	outcomeRejected    = "rejected"
	outcomeUnreachable = "unreachable"
	outcomeCancelled   = "cancelled"
	outcomeFailed      = "failed"
)

// journalTimeout bounds a single journal write.
const journalTimeout = 2 * time.Second

// commandError pairs an ack error code with its human-readable message.
type commandError struct {
	code    string
	message string
}

func (e *commandError) Error() string { return e.message }

func invalidParams(format string, args ...any) *commandError {
	return &commandError{code: ErrCodeInvalidParameters, message: fmt.Sprintf(format, args...)}
}

func notSupported(format string, args ...any) *commandError {
	return &commandError{code: ErrCodeNotSupported, message: fmt.Sprintf(format, args...)}
}

// executeCommand dispatches a parsed command. Fleet-level commands
// (refresh, remove) act on the manager directly; everything else builds
// a protocol payload and goes out as a tracked request.
func (b *Bridge) executeCommand(serial string, st fleet.DeviceState, cmd CommandMessage) {
	switch cmd.Command {
	case "refresh":
		b.executeRefresh(serial, st, cmd)
		return
	case "remove":
		b.executeRemove(serial, st, cmd)
		return
	}

	payload, cerr := buildCommandPayload(cmd, st.Features)
	if cerr != nil {
		b.publishAckError(cmd, serial, st.Address, cerr.code, cerr.message, 0)
		b.recordCommand(serial, cmd, outcomeRejected, map[string]any{
			"code":    cerr.code,
			"message": cerr.message,
		})
		return
	}

	ch, err := b.fleet.Send(b.ctx, serial, payload)
	if err != nil {
		b.publishAckError(cmd, serial, st.Address, admissionCode(err), err.Error(), 0)
		b.recordCommand(serial, cmd, outcomeRejected, map[string]any{
			"code":    admissionCode(err),
			"message": err.Error(),
		})
		return
	}

	// Admitted: the first datagram is on its way.
	b.publishAck(cmd, serial, st.Address, AckAccepted)

	b.wg.Add(1)
	go b.awaitOutcome(cmd, serial, st.Address, ch, isStateChanging(cmd.Command))
}

// executeRefresh triggers an immediate state poll of the device.
func (b *Bridge) executeRefresh(serial string, st fleet.DeviceState, cmd CommandMessage) {
	ch, err := b.fleet.RefreshState(b.ctx, serial)
	if err != nil {
		b.publishAckError(cmd, serial, st.Address, admissionCode(err), err.Error(), 0)
		b.recordCommand(serial, cmd, outcomeRejected, map[string]any{
			"code":    admissionCode(err),
			"message": err.Error(),
		})
		return
	}

	b.publishAck(cmd, serial, st.Address, AckAccepted)

	b.wg.Add(1)
	go b.awaitOutcome(cmd, serial, st.Address, ch, false)
}

// executeRemove forgets the device and blanks its retained topics.
func (b *Bridge) executeRemove(serial string, st fleet.DeviceState, cmd CommandMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, removeTimeout)
	defer cancel()

	if err := b.fleet.RemoveDevice(ctx, serial); err != nil {
		b.publishAckError(cmd, serial, st.Address, admissionCode(err), err.Error(), 0)
		b.recordCommand(serial, cmd, outcomeRejected, map[string]any{
			"code":    admissionCode(err),
			"message": err.Error(),
		})
		return
	}

	b.publishAck(cmd, serial, st.Address, AckAccepted)
	b.clearRetained(serial)
	b.recordCommand(serial, cmd, outcomeConfirmed, nil)
	b.logInfo("device removed", "device_id", serial)
}

// awaitOutcome waits for a tracked request to resolve and publishes the
// terminal ack when the device never answered. Successful set commands
// trigger a follow-up state poll so the retained state topic catches up
// ahead of the next scheduled poll.
func (b *Bridge) awaitOutcome(cmd CommandMessage, serial, address string, ch <-chan fleet.Outcome, refresh bool) {
	defer b.wg.Done()

	select {
	case out := <-ch:
		switch {
		case out.Err == nil:
			b.logDebug("command confirmed",
				"command_id", cmd.ID,
				"device_id", serial,
				"attempts", out.Attempts,
				"elapsed", out.Elapsed)
			b.recordCommand(serial, cmd, outcomeConfirmed, map[string]any{
				"attempts":   out.Attempts,
				"elapsed_ms": out.Elapsed.Milliseconds(),
			})
			if refresh {
				b.refreshAfterCommand(serial)
			}
		case errors.Is(out.Err, fleet.ErrRequestExhausted):
			b.publishAckError(cmd, serial, address, ErrCodeDeviceUnreachable,
				fmt.Sprintf("no response after %d attempts", out.Attempts), out.Attempts)
			b.recordCommand(serial, cmd, outcomeUnreachable, map[string]any{
				"attempts": out.Attempts,
			})
		case errors.Is(out.Err, fleet.ErrRequestCancelled):
			b.logDebug("command cancelled", "command_id", cmd.ID, "device_id", serial)
			b.recordCommand(serial, cmd, outcomeCancelled, nil)
		default:
			b.publishAckError(cmd, serial, address, ErrCodeBridgeError,
				out.Err.Error(), out.Attempts)
			b.recordCommand(serial, cmd, outcomeFailed, map[string]any{
				"attempts": out.Attempts,
				"error":    out.Err.Error(),
			})
		}
	case <-b.done:
		// Shutting down; the fleet resolves the request as cancelled.
	}
}

// recordCommand journals a terminal command outcome. Best-effort: a
// journal failure is logged and never affects the command path. The
// write runs on its own context so a shutdown still journals the final
// outcomes.
func (b *Bridge) recordCommand(serial string, cmd CommandMessage, outcome string, detail map[string]any) {
	if b.journal == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	entry := journal.Entry{
		Serial:    serial,
		Command:   cmd.Command,
		CommandID: cmd.ID,
		Outcome:   outcome,
		Detail:    detail,
	}
	if err := b.journal.Record(ctx, &entry); err != nil {
		b.logError("journal write failed", err)
	}
}

// refreshAfterCommand requests a state poll and drains its outcome. The
// poll response reaches the state topic through the fleet's event
// callbacks, not through this channel.
func (b *Bridge) refreshAfterCommand(serial string) {
	ch, err := b.fleet.RefreshState(b.ctx, serial)
	if err != nil {
		b.logDebug("post-command refresh skipped", "device_id", serial, "error", err)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-ch:
		case <-b.done:
		}
	}()
}

// admissionCode maps a fleet admission error to an ack error code.
func admissionCode(err error) string {
	switch {
	case errors.Is(err, fleet.ErrBackpressure):
		return ErrCodeBridgeBusy
	case errors.Is(err, fleet.ErrDeviceNotFound):
		return ErrCodeUnknownDevice
	default:
		return ErrCodeBridgeError
	}
}

// isStateChanging reports whether a command alters state the poller
// reads back, and so deserves an immediate confirm poll.
func isStateChanging(command string) bool {
	switch command {
	case "set_power", "set_color", "set_color_zones", "set_extended_color_zones",
		"set_infrared", "set_hev_cycle":
		return true
	default:
		return false
	}
}

// buildCommandPayload translates a command into a protocol payload,
// validating parameters and gating on device capabilities.
func buildCommandPayload(cmd CommandMessage, f protocol.Features) (protocol.Payload, *commandError) {
	params := cmd.Parameters
	if params == nil {
		params = map[string]any{}
	}

	switch cmd.Command {
	case "set_power":
		return buildSetPower(params, f)
	case "set_color":
		return buildSetColor(params, f)
	case "set_color_zones":
		return buildSetColorZones(params, f)
	case "set_extended_color_zones":
		return buildSetExtendedColorZones(params, f)
	case "set_multizone_effect":
		return buildSetMultiZoneEffect(params, f)
	case "set_matrix_effect":
		return buildSetMatrixEffect(params, f)
	case "set_infrared":
		return buildSetInfrared(params, f)
	case "set_hev_cycle":
		return buildSetHevCycle(params, f)
	case "identify":
		return buildIdentify(f)
	default:
		return nil, &commandError{
			code:    ErrCodeInvalidCommand,
			message: fmt.Sprintf("unknown command %q", cmd.Command),
		}
	}
}

func buildSetPower(params map[string]any, f protocol.Features) (protocol.Payload, *commandError) {
	level, err := powerLevel(params["level"])
	if err != nil {
		return nil, err
	}

	// Relay products (switches) take the plain device power message and
	// have no fade.
	if f.Relay {
		return &protocol.SetPower{Level: level}, nil
	}

	duration, err := durationMillis(params)
	if err != nil {
		return nil, err
	}
	return &protocol.LightSetPower{Level: level, Duration: duration}, nil
}

func buildSetColor(params map[string]any, f protocol.Features) (protocol.Payload, *commandError) {
	if f.Relay {
		return nil, notSupported("device has no light to colour")
	}

	color, err := colorFromMap(params, f)
	if err != nil {
		return nil, err
	}
	duration, err := durationMillis(params)
	if err != nil {
		return nil, err
	}
	return &protocol.LightSetColor{Color: color, Duration: duration}, nil
}

func buildSetColorZones(params map[string]any, f protocol.Features) (protocol.Payload, *commandError) {
	if !f.Multizone {
		return nil, notSupported("device has no colour zones")
	}

	start, err := requiredNumber(params, "start", 0, 255)
	if err != nil {
		return nil, err
	}
	end, err := requiredNumber(params, "end", 0, 255)
	if err != nil {
		return nil, err
	}
	if end < start {
		return nil, invalidParams("end %v is before start %v", end, start)
	}

	colorObj, ok := params["color"].(map[string]any)
	if !ok {
		return nil, invalidParams("color object is required")
	}
	color, err := colorFromMap(colorObj, f)
	if err != nil {
		return nil, err
	}

	duration, err := durationMillis(params)
	if err != nil {
		return nil, err
	}
	apply, err := applyMode(params)
	if err != nil {
		return nil, err
	}

	return &protocol.SetColorZones{
		Start:    uint8(start),
		End:      uint8(end),
		Color:    color,
		Duration: duration,
		Apply:    apply,
	}, nil
}

func buildSetExtendedColorZones(params map[string]any, f protocol.Features) (protocol.Payload, *commandError) {
	if !f.ExtendedMultizone {
		return nil, notSupported("device does not support extended zone messages")
	}

	raw, ok := params["colors"].([]any)
	if !ok || len(raw) == 0 {
		return nil, invalidParams("colors array is required")
	}
	if len(raw) > maxExtendedZones {
		return nil, invalidParams("colors accepts at most %d entries, got %d", maxExtendedZones, len(raw))
	}

	index, err := optionalNumber(params, "zone_index", 0, 0, math.MaxUint16)
	if err != nil {
		return nil, err
	}
	duration, err := durationMillis(params)
	if err != nil {
		return nil, err
	}
	apply, err := applyMode(params)
	if err != nil {
		return nil, err
	}

	p := &protocol.SetExtendedColorZones{
		Duration:    duration,
		Apply:       apply,
		Index:       uint16(index),
		ColorsCount: uint8(len(raw)),
	}
	for i, entry := range raw {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, invalidParams("colors[%d] must be a colour object", i)
		}
		color, cerr := colorFromMap(obj, f)
		if cerr != nil {
			return nil, invalidParams("colors[%d]: %s", i, cerr.message)
		}
		p.Colors[i] = color
	}
	return p, nil
}

func buildSetMultiZoneEffect(params map[string]any, f protocol.Features) (protocol.Payload, *commandError) {
	if !f.Multizone {
		return nil, notSupported("device has no colour zones")
	}

	effect, err := requiredString(params, "effect")
	if err != nil {
		return nil, err
	}
	speed, err := optionalNumber(params, "speed_ms", defaultMoveSpeed, 1, math.MaxUint32)
	if err != nil {
		return nil, err
	}

	p := &protocol.SetMultiZoneEffect{Speed: uint32(speed)}
	switch effect {
	case "off":
		p.EffectType = protocol.MultiZoneEffectOff
	case "move":
		p.EffectType = protocol.MultiZoneEffectMove
		p.Instance = newEffectInstance()

		dir, derr := moveDirection(params)
		if derr != nil {
			return nil, derr
		}
		// Direction rides in the second effect parameter slot.
		binary.LittleEndian.PutUint32(p.Parameters[4:8], dir)
	default:
		return nil, invalidParams("effect must be \"move\" or \"off\", got %q", effect)
	}
	return p, nil
}

func buildSetMatrixEffect(params map[string]any, f protocol.Features) (protocol.Payload, *commandError) {
	if !f.Matrix {
		return nil, notSupported("device has no matrix")
	}

	effect, err := requiredString(params, "effect")
	if err != nil {
		return nil, err
	}
	speed, err := optionalNumber(params, "speed_ms", defaultMatrixSpeed, 1, math.MaxUint32)
	if err != nil {
		return nil, err
	}

	p := &protocol.SetTileEffect{Speed: uint32(speed)}
	switch effect {
	case "off":
		p.EffectType = protocol.TileEffectOff
	case "morph":
		p.EffectType = protocol.TileEffectMorph
		p.Instance = newEffectInstance()
		if err := parsePalette(params, f, p); err != nil {
			return nil, err
		}
	case "flame":
		p.EffectType = protocol.TileEffectFlame
		p.Instance = newEffectInstance()
	default:
		return nil, invalidParams("effect must be \"morph\", \"flame\" or \"off\", got %q", effect)
	}
	return p, nil
}

// parsePalette fills the tile effect palette from the "palette"
// parameter. Morph cycles through the palette; an absent palette leaves
// the device's current one in place.
func parsePalette(params map[string]any, f protocol.Features, p *protocol.SetTileEffect) *commandError {
	raw, ok := params["palette"].([]any)
	if !ok {
		if _, present := params["palette"]; present {
			return invalidParams("palette must be an array of colour objects")
		}
		return nil
	}
	if len(raw) > maxPaletteColors {
		return invalidParams("palette accepts at most %d entries, got %d", maxPaletteColors, len(raw))
	}

	for i, entry := range raw {
		obj, ok := entry.(map[string]any)
		if !ok {
			return invalidParams("palette[%d] must be a colour object", i)
		}
		color, cerr := colorFromMap(obj, f)
		if cerr != nil {
			return invalidParams("palette[%d]: %s", i, cerr.message)
		}
		p.Palette[i] = color
	}
	p.PaletteCount = uint8(len(raw))
	return nil
}

func buildSetInfrared(params map[string]any, f protocol.Features) (protocol.Payload, *commandError) {
	if !f.Infrared {
		return nil, notSupported("device has no infrared emitter")
	}

	brightness, err := requiredNumber(params, "brightness", 0, 100)
	if err != nil {
		return nil, err
	}
	return &protocol.SetInfrared{Brightness: protocol.PercentToScale(brightness)}, nil
}

func buildSetHevCycle(params map[string]any, f protocol.Features) (protocol.Payload, *commandError) {
	if !f.Hev {
		return nil, notSupported("device has no HEV light")
	}

	enable, ok := params["enable"].(bool)
	if !ok {
		return nil, invalidParams("enable must be true or false")
	}
	duration, err := optionalNumber(params, "duration_s", 0, 0, 86400)
	if err != nil {
		return nil, err
	}
	return &protocol.SetHevCycle{Enable: enable, Duration: uint32(duration)}, nil
}

// buildIdentify makes the light visibly pulse without disturbing its
// configured state: the waveform is transient, so the original colour
// returns when the cycles finish.
func buildIdentify(f protocol.Features) (protocol.Payload, *commandError) {
	if f.Relay {
		return nil, notSupported("device has no light to pulse")
	}

	return &protocol.LightSetWaveform{
		Transient: true,
		Color: protocol.HSBK{
			Brightness: 65535,
			Kelvin:     protocol.KelvinNeutral,
		},
		Period:   identifyPeriodMillis,
		Cycles:   identifyCycles,
		Waveform: protocol.WaveformPulse,
	}, nil
}

// colorFromMap reads a colour object in human units. Brightness is
// required; hue and saturation default to zero and kelvin to neutral,
// so a warm white needs only brightness and kelvin. Saturated colours
// are gated on the colour capability.
func colorFromMap(m map[string]any, f protocol.Features) (protocol.HSBK, *commandError) {
	brightness, err := requiredNumber(m, "brightness", 0, 100)
	if err != nil {
		return protocol.HSBK{}, err
	}
	hue, err := optionalNumber(m, "hue", 0, 0, 360)
	if err != nil {
		return protocol.HSBK{}, err
	}
	saturation, err := optionalNumber(m, "saturation", 0, 0, 100)
	if err != nil {
		return protocol.HSBK{}, err
	}
	kelvin, err := optionalNumber(m, "kelvin", protocol.KelvinNeutral, protocol.KelvinMin, protocol.KelvinMax)
	if err != nil {
		return protocol.HSBK{}, err
	}

	if saturation > 0 && !f.Color {
		return protocol.HSBK{}, notSupported("device has no colour support")
	}

	return protocol.HSBK{
		Hue:        protocol.HueFromDegrees(hue),
		Saturation: protocol.PercentToScale(saturation),
		Brightness: protocol.PercentToScale(brightness),
		Kelvin:     uint16(kelvin),
	}, nil
}

// powerLevel reads the set_power level parameter, accepting the
// canonical "on"/"off" strings and booleans.
func powerLevel(v any) (uint16, *commandError) {
	switch level := v.(type) {
	case string:
		switch level {
		case "on":
			return protocol.PowerOn, nil
		case "off":
			return protocol.PowerOff, nil
		}
		return 0, invalidParams("level must be \"on\" or \"off\", got %q", level)
	case bool:
		if level {
			return protocol.PowerOn, nil
		}
		return protocol.PowerOff, nil
	case nil:
		return 0, invalidParams("level is required")
	default:
		return 0, invalidParams("level must be \"on\" or \"off\"")
	}
}

// applyMode reads the zone apply parameter. Changes apply immediately
// unless the caller is batching messages with no_apply.
func applyMode(params map[string]any) (uint8, *commandError) {
	v, present := params["apply"]
	if !present {
		return protocol.ZoneApply, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, invalidParams("apply must be a string")
	}
	switch s {
	case "apply":
		return protocol.ZoneApply, nil
	case "no_apply":
		return protocol.ZoneNoApply, nil
	case "apply_only":
		return protocol.ZoneApplyOnly, nil
	default:
		return 0, invalidParams("apply must be \"apply\", \"no_apply\" or \"apply_only\", got %q", s)
	}
}

// moveDirection reads the move effect direction.
func moveDirection(params map[string]any) (uint32, *commandError) {
	v, present := params["direction"]
	if !present {
		return 1, nil // away from the controller end
	}
	s, ok := v.(string)
	if !ok {
		return 0, invalidParams("direction must be a string")
	}
	switch s {
	case "towards":
		return 0, nil
	case "away":
		return 1, nil
	default:
		return 0, invalidParams("direction must be \"towards\" or \"away\", got %q", s)
	}
}

// durationMillis reads the optional duration_ms transition parameter.
func durationMillis(params map[string]any) (uint32, *commandError) {
	v, err := optionalNumber(params, "duration_ms", 0, 0, math.MaxUint32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// numberValue extracts a numeric parameter value. JSON numbers arrive
// as float64; maps built in Go may carry untyped ints.
func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// requiredNumber reads a mandatory numeric parameter and range-checks it.
func requiredNumber(params map[string]any, key string, min, max float64) (float64, *commandError) {
	v, present := params[key]
	if !present {
		return 0, invalidParams("%s is required (%v-%v)", key, min, max)
	}
	n, ok := numberValue(v)
	if !ok {
		return 0, invalidParams("%s must be a number", key)
	}
	if n < min || n > max {
		return 0, invalidParams("%s %v out of range %v-%v", key, n, min, max)
	}
	return n, nil
}

// optionalNumber reads an optional numeric parameter with a default.
func optionalNumber(params map[string]any, key string, def, min, max float64) (float64, *commandError) {
	v, present := params[key]
	if !present {
		return def, nil
	}
	n, ok := numberValue(v)
	if !ok {
		return 0, invalidParams("%s must be a number", key)
	}
	if n < min || n > max {
		return 0, invalidParams("%s %v out of range %v-%v", key, n, min, max)
	}
	return n, nil
}

// requiredString reads a mandatory string parameter.
func requiredString(params map[string]any, key string) (string, *commandError) {
	v, present := params[key]
	if !present {
		return "", invalidParams("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidParams("%s must be a string", key)
	}
	return s, nil
}

// newEffectInstance picks a nonzero identifier for a firmware effect
// run. Devices treat a repeated instance as the same run, so each
// command gets a fresh one.
func newEffectInstance() uint32 {
	for {
		if id := uuid.New().ID(); id != 0 {
			return id
		}
	}
}

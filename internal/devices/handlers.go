package devices

import (
	"fmt"

	"voicehome/internal/domain"
)

// Property bounds. Values are clamped, never rejected.
const (
	brightnessMin = 0
	brightnessMax = 100
	brightnessLow = 10
	thermostatMin = 50
	thermostatMax = 90
	volumeMin     = 0
	volumeMax     = 100
)

func dispatch(deviceType domain.DeviceType, state *domain.DeviceState, cmd domain.Command) *domain.Response {
	switch deviceType {
	case domain.DeviceTypeLight:
		return handleLight(state, cmd)
	case domain.DeviceTypeThermostat:
		return handleThermostat(state, cmd)
	case domain.DeviceTypeTV:
		return handleTV(state, cmd)
	case domain.DeviceTypeSpeaker:
		return handleSpeaker(state, cmd)
	default:
		return handleGeneric(state, cmd)
	}
}

func handleLight(state *domain.DeviceState, cmd domain.Command) *domain.Response {
	switch cmd.Action {
	case domain.ActionTurnOn:
		state.Properties["power"] = true
		state.Properties["brightness"] = clamp(paramInt(cmd.Parameters, "brightness", brightnessMax), brightnessMin, brightnessMax)
		return ok("light turned on", state)
	case domain.ActionTurnOff:
		state.Properties["power"] = false
		return ok("light turned off", state)
	case domain.ActionDim:
		state.Properties["brightness"] = clamp(propInt(state, "brightness")-20, brightnessLow, brightnessMax)
		return ok(fmt.Sprintf("brightness lowered to %d", propInt(state, "brightness")), state)
	case domain.ActionBrighten:
		state.Properties["brightness"] = clamp(propInt(state, "brightness")+20, brightnessMin, brightnessMax)
		return ok(fmt.Sprintf("brightness raised to %d", propInt(state, "brightness")), state)
	case domain.ActionSetValue, "set_brightness":
		state.Properties["brightness"] = clamp(paramInt(cmd.Parameters, "value", propInt(state, "brightness")), brightnessMin, brightnessMax)
		return ok(fmt.Sprintf("brightness set to %d", propInt(state, "brightness")), state)
	default:
		return fail(cmd.Action, "light")
	}
}

func handleThermostat(state *domain.DeviceState, cmd domain.Command) *domain.Response {
	switch cmd.Action {
	case domain.ActionSetValue, "set_temperature":
		state.Properties["target"] = clamp(paramInt(cmd.Parameters, "value", propInt(state, "target")), thermostatMin, thermostatMax)
		return ok(fmt.Sprintf("temperature set to %d", propInt(state, "target")), state)
	case domain.ActionIncrease:
		state.Properties["target"] = clamp(propInt(state, "target")+2, thermostatMin, thermostatMax)
		return ok(fmt.Sprintf("temperature raised to %d", propInt(state, "target")), state)
	case domain.ActionDecrease:
		state.Properties["target"] = clamp(propInt(state, "target")-2, thermostatMin, thermostatMax)
		return ok(fmt.Sprintf("temperature lowered to %d", propInt(state, "target")), state)
	default:
		return fail(cmd.Action, "thermostat")
	}
}

func handleTV(state *domain.DeviceState, cmd domain.Command) *domain.Response {
	switch cmd.Action {
	case domain.ActionTurnOn:
		state.Properties["power"] = true
		return ok("tv turned on", state)
	case domain.ActionTurnOff:
		state.Properties["power"] = false
		return ok("tv turned off", state)
	case domain.ActionVolumeUp, domain.ActionIncrease:
		state.Properties["volume"] = clamp(propInt(state, "volume")+5, volumeMin, volumeMax)
		return ok(fmt.Sprintf("volume raised to %d", propInt(state, "volume")), state)
	case domain.ActionVolumeDown, domain.ActionDecrease:
		state.Properties["volume"] = clamp(propInt(state, "volume")-5, volumeMin, volumeMax)
		return ok(fmt.Sprintf("volume lowered to %d", propInt(state, "volume")), state)
	default:
		return fail(cmd.Action, "tv")
	}
}

func handleSpeaker(state *domain.DeviceState, cmd domain.Command) *domain.Response {
	switch cmd.Action {
	case domain.ActionStart:
		state.Properties["playing"] = true
		return ok("playback started", state)
	case domain.ActionStop:
		state.Properties["playing"] = false
		return ok("playback stopped", state)
	case domain.ActionVolumeUp, domain.ActionIncrease:
		state.Properties["volume"] = clamp(propInt(state, "volume")+10, volumeMin, volumeMax)
		return ok(fmt.Sprintf("volume raised to %d", propInt(state, "volume")), state)
	case domain.ActionVolumeDown, domain.ActionDecrease:
		state.Properties["volume"] = clamp(propInt(state, "volume")-10, volumeMin, volumeMax)
		return ok(fmt.Sprintf("volume lowered to %d", propInt(state, "volume")), state)
	default:
		return fail(cmd.Action, "speaker")
	}
}

// handleGeneric acknowledges anything it does not understand without
// touching state; only power toggles mutate.
func handleGeneric(state *domain.DeviceState, cmd domain.Command) *domain.Response {
	switch cmd.Action {
	case domain.ActionTurnOn:
		state.Properties["power"] = true
		return ok("device turned on", state)
	case domain.ActionTurnOff:
		state.Properties["power"] = false
		return ok("device turned off", state)
	default:
		return &domain.Response{Success: true, Message: fmt.Sprintf("command %s acknowledged", cmd.Action)}
	}
}

func ok(message string, state *domain.DeviceState) *domain.Response {
	data := make(map[string]any, len(state.Properties))
	for k, v := range state.Properties {
		data[k] = v
	}
	return &domain.Response{Success: true, Message: message, Data: data}
}

func fail(action domain.Action, deviceType string) *domain.Response {
	return &domain.Response{Success: false, Message: fmt.Sprintf("unsupported %s action: %s", deviceType, action)}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func propInt(state *domain.DeviceState, key string) int {
	return toInt(state.Properties[key], 0)
}

func paramInt(params map[string]any, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	v, ok := params[key]
	if !ok {
		return fallback
	}
	return toInt(v, fallback)
}

func toInt(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

package domain

type Action string

const (
	ActionTurnOn     Action = "turn_on"
	ActionTurnOff    Action = "turn_off"
	ActionIncrease   Action = "increase"
	ActionDecrease   Action = "decrease"
	ActionDim        Action = "dim"
	ActionBrighten   Action = "brighten"
	ActionSetValue   Action = "set_value"
	ActionStart      Action = "start"
	ActionStop       Action = "stop"
	ActionResume     Action = "resume"
	ActionRestart    Action = "restart"
	ActionHelp       Action = "help"
	ActionVolumeUp   Action = "volume_up"
	ActionVolumeDown Action = "volume_down"
	ActionRepeat     Action = "repeat"
	ActionGetInfo    Action = "get_information"
	ActionGreet      Action = "greet"
	ActionFarewell   Action = "farewell"
	ActionSysControl Action = "system_control"
	ActionControl    Action = "control"
	ActionUnknown    Action = "unknown"
)

// Command is built per control request and never persisted.
type Command struct {
	ID         string
	DeviceID   string
	Action     Action
	Parameters map[string]any
}

// Response is the result of executing one Command.
type Response struct {
	Success bool
	Message string
	Data    map[string]any
}

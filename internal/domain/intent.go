package domain

// Intent names produced by the rules engine.
const (
	IntentDeviceControl = "device_control"
	IntentInfoRequest   = "information_request"
	IntentSystemControl = "system_control"
	IntentGreeting      = "greeting"
	IntentGoodbye       = "goodbye"
	IntentUnknown       = "unknown"
)

// Entity types extracted from command text.
const (
	EntityDevice = "device"
	EntityRoom   = "room"
	EntityAction = "action"
	EntityNumber = "number"
)

type Intent struct {
	Name       string
	Confidence float64
	Entities   []Entity
}

// Entity is a typed span of the original (non-normalized) command text.
// Start and End are byte offsets into that text.
type Entity struct {
	Type       string
	Value      string
	Start      int
	End        int
	Confidence float64
}

// ProcessingResult is the full outcome of one utterance: the normalized
// command, the winning intent, and the action it resolves to.
type ProcessingResult struct {
	Command string
	Intent  Intent
	Action  Action
}

// EntityValue returns the value of the first entity of the given type.
func (i Intent) EntityValue(entityType string) (string, bool) {
	for _, e := range i.Entities {
		if e.Type == entityType {
			return e.Value, true
		}
	}
	return "", false
}

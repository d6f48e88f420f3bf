package domain

import "time"

type DeviceType string

const (
	DeviceTypeLight      DeviceType = "smart_light"
	DeviceTypeThermostat DeviceType = "thermostat"
	DeviceTypeTV         DeviceType = "smart_tv"
	DeviceTypeSpeaker    DeviceType = "smart_speaker"
	DeviceTypeGeneric    DeviceType = "generic"
)

type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
	StatusError   DeviceStatus = "error"
)

// Device identity is the ID string, normally a "{room}-{device}" composite
// such as "living_room-light".
type Device struct {
	ID     string
	Name   string
	Type   DeviceType
	Room   string
	Status DeviceStatus
}

// DeviceState holds the simulated runtime state of one device, keyed by the
// device ID. Properties depends on the device type (brightness/color/power
// for lights, target/mode for thermostats, and so on).
type DeviceState struct {
	Status     DeviceStatus
	LastSeen   time.Time
	Properties map[string]any
}

package state

type Device interface {
	Status() LEDState
	TurnOn() bool
	TurnOff() bool
	IsValid() bool
}

var _ Device = (*LED)(nil)

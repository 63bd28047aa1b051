package state

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type snapshot struct {
	State yaml.Node `yaml:"state"`
}

// DecodeSnapshot reads an LED from a YAML or JSON document such as
// `state: 1` or `{"state": "ON"}`. The state is NOT range checked: numeric
// values are taken as-is, so callers must check IsValid before trusting it.
func DecodeSnapshot(data []byte) (LED, error) {
	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return LED{}, fmt.Errorf("decoding led snapshot: %w", err)
	}
	if snap.State.Kind != yaml.ScalarNode || snap.State.Tag == "!!null" {
		return LED{}, fmt.Errorf("decoding led snapshot: missing scalar state")
	}
	var raw uint
	if err := snap.State.Decode(&raw); err == nil {
		return LED{State: LEDState(raw)}, nil
	}
	s, err := ParseLEDState(snap.State.Value)
	if err != nil {
		return LED{}, fmt.Errorf("decoding led snapshot: %w", err)
	}
	return LED{State: s}, nil
}

func EncodeSnapshot(l LED) ([]byte, error) {
	out, err := yaml.Marshal(map[string]uint{"state": uint(l.State)})
	if err != nil {
		return nil, fmt.Errorf("encoding led snapshot: %w", err)
	}
	return out, nil
}

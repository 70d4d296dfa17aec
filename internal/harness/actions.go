package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/timelock/internal/ir"
)

// ActionSpec is the YAML form of an action. Data is 0x-prefixed hex.
type ActionSpec struct {
	Target string `yaml:"target"`
	Value  uint64 `yaml:"value,omitempty"`
	Data   string `yaml:"data,omitempty"`
}

// ParseActions converts YAML action specs to actions.
func ParseActions(specs []ActionSpec) ([]ir.Action, error) {
	actions := make([]ir.Action, len(specs))
	for i, spec := range specs {
		if spec.Target == "" {
			return nil, fmt.Errorf("actions[%d]: target is required", i)
		}
		data, err := ir.DecodeData(spec.Data)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		actions[i] = ir.Action{Target: spec.Target, Value: spec.Value, Data: data}
	}
	return actions, nil
}

// LoadActions reads a YAML list of action specs from path.
func LoadActions(path string) ([]ir.Action, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read actions file: %w", err)
	}

	var specs []ActionSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&specs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse actions YAML: %w", err)
	}
	return ParseActions(specs)
}

package receiptformat

import (
	"encoding/json"
	"fmt"
	"os"
)

// Parse decodes and validates an order description
func Parse(data []byte) (*BuildInput, error) {
	var in BuildInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to parse order: %w", err)
	}

	if err := Validate(&in); err != nil {
		return nil, err
	}

	return &in, nil
}

// ParseFile parses an order description from disk
func ParseFile(path string) (*BuildInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read order file: %w", err)
	}

	return Parse(data)
}

// ToJSON converts an order description to JSON bytes
func (in *BuildInput) ToJSON() ([]byte, error) {
	return json.MarshalIndent(in, "", "  ")
}

package collection

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadCollection reads, validates and decodes a collection file.
func LoadCollection(path string) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCollection(data)
}

// ParseCollection validates and decodes collection JSON.
func ParseCollection(data []byte) (*Collection, error) {
	if err := ValidateCollection(data); err != nil {
		return nil, err
	}
	var c Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	return &c, nil
}

// LoadEnvironment reads, validates and decodes an environment file.
func LoadEnvironment(path string) (*Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseEnvironment(data)
}

// ParseEnvironment validates and decodes environment JSON.
func ParseEnvironment(data []byte) (*Environment, error) {
	if err := ValidateEnvironment(data); err != nil {
		return nil, err
	}
	var e Environment
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &e, nil
}

// WriteFile encodes v as indented JSON, the layout Postman exports use.
func WriteFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Package configbinder binds loosely typed property maps onto configuration structs.
package configbinder

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// BindProperties binds a map of properties to a target struct using mapstructure.
// It uses the "yaml" tag for binding and allows weakly typed input (e.g., string
// to int conversion), so values sourced from environment variables bind cleanly.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(properties); err != nil {
		return fmt.Errorf("failed to decode properties: %w", err)
	}

	return nil
}

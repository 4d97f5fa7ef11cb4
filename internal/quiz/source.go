// Package quiz provides the questions a session deals.
//
// A quiz is an entry in the catalog naming a controller and its settings. The
// controller is a Factory registered under that name which turns the settings
// into a Source.
package quiz

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/victornm/livequiz/internal/domain"
)

// Source hands out one question at a time. Sources are used from a single
// goroutine and need not be safe for concurrent use.
type Source interface {
	Question() (domain.Question, error)
}

// Factory builds a Source from the settings block of a catalog entry.
type Factory func(settings map[string]any) (Source, error)

// DefaultFactories returns the controllers shipped with the server.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		ControllerStatic:     NewStaticSource,
		ControllerArithmetic: NewArithmeticSource,
	}
}

// decodeSettings decodes a loosely typed settings block into out. JSON numbers
// and numeric strings are accepted for integer fields.
func decodeSettings(settings map[string]any, out any) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}

	if err := d.Decode(settings); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}

	return nil
}

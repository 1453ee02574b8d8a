package metrics

import (
	"fmt"

	"github.com/kilianp07/ugs/core/factory"
)

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
}

// Validate checks that every sink names a type.
func (c Config) Validate() error {
	for i, s := range c.Sinks {
		if s.Type == "" {
			return fmt.Errorf("metrics sink %d: type is required", i)
		}
	}
	return nil
}

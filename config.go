package chorus

import (
	"fmt"

	"github.com/sessionlab/chorus/safety"
)

// Config holds the tunable settings of the analysis service.
type Config struct {
	// Safety bounds the execution-based safety exploration.
	Safety safety.Budget `json:"safety,omitempty" yaml:"safety,omitempty"`

	// MetaBaseURL resolves relative protocol locations.
	MetaBaseURL string `json:"metaBaseURL,omitempty" yaml:"metaBaseURL,omitempty"`
}

// DefaultConfig returns a configuration with the default exploration budget.
func DefaultConfig() Config {
	return Config{Safety: safety.DefaultBudget()}
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if c.Safety.MaxConfigurations < 0 {
		return fmt.Errorf("safety.maxConfigurations cannot be negative: %d", c.Safety.MaxConfigurations)
	}
	if c.Safety.MaxSteps < 0 {
		return fmt.Errorf("safety.maxSteps cannot be negative: %d", c.Safety.MaxSteps)
	}
	return nil
}

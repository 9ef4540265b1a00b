package govern

import (
	"context"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/govern/service/approval"
	"github.com/viant/govern/service/apply"
	"github.com/viant/govern/service/risk"
	"github.com/viant/govern/service/rollback"
	"gopkg.in/yaml.v3"
)

// Config is a serialisable representation of the engine configuration.  It
// can be populated from YAML or JSON; the zero-value inherits each nested
// section's package defaults.
type Config struct {
	Risk     *risk.Policy    `json:"risk,omitempty" yaml:"risk,omitempty"`
	Approval approval.Config `json:"approval" yaml:"approval"`
	Apply    apply.Config    `json:"apply" yaml:"apply"`
	Rollback rollback.Config `json:"rollback" yaml:"rollback"`
}

// DefaultConfig returns a Config populated with each section's defaults.
// Callers may modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		Risk:     risk.DefaultPolicy(),
		Approval: approval.DefaultConfig(),
		Apply:    apply.DefaultConfig(),
		Rollback: rollback.DefaultConfig(),
	}
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if c.Approval.TTL <= 0 {
		return fmt.Errorf("approval.ttl must be > 0")
	}
	if c.Approval.ConflictRetries <= 0 {
		return fmt.Errorf("approval.conflictRetries must be > 0")
	}
	return nil
}

// LoadConfig reads a YAML configuration document from the supplied URL
// (file path, s3://, gs://, mem:// and other schemes supported by afs),
// layered over the defaults.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", URL, err)
	}
	ret := DefaultConfig()
	if err := yaml.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", URL, err)
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

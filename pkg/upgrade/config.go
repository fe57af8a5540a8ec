package upgrade

import (
	"fmt"
	"strings"

	"github.com/kubeflow/upgrade-manager/internal/envconf"
	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// ValidationPolicy decides what happens when a task reports validation errors.
type ValidationPolicy string

const (
	// PolicyContinue records the errors, marks the task completed and moves on.
	PolicyContinue ValidationPolicy = "continue"
	// PolicyAbort treats validation errors as fatal.
	PolicyAbort ValidationPolicy = "abort"
)

// Config controls orchestrator behavior.
type Config struct {
	// ApplicationVersion is the version of the running application. When set,
	// tasks only run if the installation is older, and a successful run moves
	// the installation pointer up to it.
	ApplicationVersion version.Version
	ReindexAllowed     bool             // Run the reindex when a task asks for one. Default true.
	ValidationPolicy   ValidationPolicy // Default continue.
	ScrubOnDowngrade   bool             // Forget completions newer than ApplicationVersion. Default true.
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		ReindexAllowed:   true,
		ValidationPolicy: PolicyContinue,
		ScrubOnDowngrade: true,
	}
}

// ConfigFromEnv reads UPGRADE_APPLICATION_VERSION, UPGRADE_REINDEX_ALLOWED,
// UPGRADE_VALIDATION_POLICY and UPGRADE_SCRUB_ON_DOWNGRADE. A malformed
// version or policy is an error rather than a silent default.
func ConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	cfg.ReindexAllowed = envconf.Bool("UPGRADE_REINDEX_ALLOWED", cfg.ReindexAllowed)
	cfg.ScrubOnDowngrade = envconf.Bool("UPGRADE_SCRUB_ON_DOWNGRADE", cfg.ScrubOnDowngrade)

	if v := envconf.String("UPGRADE_APPLICATION_VERSION", ""); v != "" {
		parsed, err := version.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("UPGRADE_APPLICATION_VERSION: %w", err)
		}
		cfg.ApplicationVersion = parsed
	}
	if v := envconf.String("UPGRADE_VALIDATION_POLICY", ""); v != "" {
		p, err := ParseValidationPolicy(v)
		if err != nil {
			return nil, err
		}
		cfg.ValidationPolicy = p
	}
	return cfg, nil
}

// ParseValidationPolicy parses a policy name.
func ParseValidationPolicy(s string) (ValidationPolicy, error) {
	switch p := ValidationPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyContinue, PolicyAbort:
		return p, nil
	}
	return "", fmt.Errorf("unknown validation policy %q (use %s or %s)", s, PolicyContinue, PolicyAbort)
}

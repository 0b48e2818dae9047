package config

import (
	"fmt"
	"strconv"
	"strings"
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate performs range and sanity checks on the configuration.
// Returns the first failed check wrapped around its sentinel error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if c.BatchSize < 1 || c.BatchSize > 100000 {
		return fmt.Errorf("%w: %d (must be 1-100000)", ErrInvalidBatchSize, c.BatchSize)
	}
	if c.MaxMembers < 1 || c.MaxMembers > 99 {
		return fmt.Errorf("%w: max_members=%d (must be 1-99)", ErrInvalidSlotCount, c.MaxMembers)
	}
	if c.MaxErrors < 1 || c.MaxErrors > 99 {
		return fmt.Errorf("%w: max_errors=%d (must be 1-99)", ErrInvalidSlotCount, c.MaxErrors)
	}
	if c.QueryLimit < 1 || c.QueryLimit > MaxQueryLimit {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidQueryLimit, c.QueryLimit, MaxQueryLimit)
	}

	for year, amount := range c.ToleranceThresholds {
		y, err := strconv.Atoi(year)
		if err != nil || y < 1990 || y > 2100 {
			return fmt.Errorf("%w: year %q", ErrInvalidTolerance, year)
		}
		if amount < 0 {
			return fmt.Errorf("%w: FY%s amount %.2f is negative", ErrInvalidTolerance, year, amount)
		}
	}

	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
	default:
		return fmt.Errorf("%w: %q (supported: gemini, googleai)", ErrInvalidProvider, c.Provider)
	}

	return nil
}

// Package config holds configuration helpers shared by the commands.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// DevRefreshToken is the refresh token the development backend seeds for its
// first member. The client signs in with it unless told otherwise.
const DevRefreshToken = "dev-refresh-token"

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

package app

import (
	"errors"
	"strings"
)

const minJWTSecretBytes = 32

// ValidateSecurityConfig enforces the token policy at startup. With
// RequireJWTSecret set the gateway must verify bearer tokens, so a missing or
// short secret fails fast instead of falling back to unverified claims.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireJWTSecret {
		return nil
	}

	// Bytes, not runes: the secret is used as a raw HMAC key.
	secret := strings.TrimSpace(cfg.JWTSecret)
	switch {
	case secret == "":
		return errors.New("security policy: TASKLINK_REQUIRE_JWT_SECRET=true but TASKLINK_WS_JWT_SECRET is missing")
	case len(secret) < minJWTSecretBytes:
		return errors.New("security policy: TASKLINK_REQUIRE_JWT_SECRET=true but TASKLINK_WS_JWT_SECRET is too short (min 32 bytes)")
	}
	return nil
}

package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a bearer token cannot be accepted.
var ErrInvalidToken = errors.New("gateway: invalid token")

// Identity is who a connection or request acts as.
type Identity struct {
	UserID   string
	UserName string
}

// IdentityResolver maps bearer tokens to identities. With a secret it only
// accepts HS256 JWTs that verify; without one it reads claims unverified and
// accepts opaque tokens under a derived anonymous id (dev mode).
type IdentityResolver struct {
	secret []byte
}

// NewIdentityResolver builds a resolver. An empty secret selects dev mode.
func NewIdentityResolver(secret string) *IdentityResolver {
	r := &IdentityResolver{}
	if s := strings.TrimSpace(secret); s != "" {
		r.secret = []byte(s)
	}
	return r
}

// Verifies reports whether token signatures are checked.
func (r *IdentityResolver) Verifies() bool {
	return r != nil && len(r.secret) > 0
}

// Resolve returns the identity carried by token.
func (r *IdentityResolver) Resolve(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	claims := gojwt.MapClaims{}
	if r.Verifies() {
		parser := gojwt.NewParser(gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}))
		if _, err := parser.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
			return r.secret, nil
		}); err != nil {
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	} else {
		parser := gojwt.NewParser()
		if _, _, err := parser.ParseUnverified(token, claims); err != nil {
			return anonymousIdentity(token), nil
		}
	}

	who := identityFromClaims(claims)
	if who.UserID == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return who, nil
}

func identityFromClaims(claims gojwt.MapClaims) Identity {
	var who Identity
	for _, k := range []string{"user_id", "sub"} {
		if v, ok := claims[k].(string); ok && strings.TrimSpace(v) != "" {
			who.UserID = strings.TrimSpace(v)
			break
		}
	}
	for _, k := range []string{"name", "user_name"} {
		if v, ok := claims[k].(string); ok && strings.TrimSpace(v) != "" {
			who.UserName = strings.TrimSpace(v)
			break
		}
	}
	return who
}

func anonymousIdentity(token string) Identity {
	sum := sha256.Sum256([]byte(token))
	id := "anon-" + hex.EncodeToString(sum[:6])
	return Identity{UserID: id, UserName: id}
}

package auth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"gigchat/pkg/errors"
)

// Identity is what the client needs from its own access token. The signature
// is not checked here; the server does that on every request and handshake.
type Identity struct {
	UserID    string
	ExpiresAt time.Time
}

func (i *Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// ParseToken reads the user id (user_id, uid or sub claim) and expiry.
func ParseToken(token string) (*Identity, error) {
	if token == "" {
		return nil, errors.Unauthorized("Access token is required", nil)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, errors.Unauthorized("Access token is malformed", err)
	}

	identity := &Identity{}
	for _, key := range []string{"user_id", "uid", "sub"} {
		if v, ok := claims[key]; ok {
			identity.UserID = fmt.Sprint(v)
			if identity.UserID != "" {
				break
			}
		}
	}
	if identity.UserID == "" {
		return nil, errors.Unauthorized("Access token carries no user id", nil)
	}

	switch exp := claims["exp"].(type) {
	case float64:
		identity.ExpiresAt = time.Unix(int64(exp), 0)
	case json.Number:
		if v, err := exp.Int64(); err == nil {
			identity.ExpiresAt = time.Unix(v, 0)
		}
	}
	return identity, nil
}

// ResolveIdentity applies a configured user id override and rejects expired tokens.
func ResolveIdentity(token, userIDOverride string, now time.Time) (*Identity, error) {
	if token == "" && userIDOverride != "" {
		return &Identity{UserID: userIDOverride}, nil
	}
	identity, err := ParseToken(token)
	if err != nil {
		return nil, err
	}
	if userIDOverride != "" {
		identity.UserID = userIDOverride
	}
	if identity.Expired(now) {
		return nil, errors.Unauthorized(fmt.Sprintf("Access token expired at %s", identity.ExpiresAt.Format(time.RFC3339)), nil)
	}
	return identity, nil
}

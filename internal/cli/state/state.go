package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenState stores the staff token used for the ops API together with the
// claims gradectl shows to the operator. The claims are read without
// verification; the grader verifies the token on every request.
type TokenState struct {
	AccessToken string    `json:"access_token"`
	Subject     string    `json:"subject,omitempty"`
	Role        string    `json:"role,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// FromToken builds a state from a raw bearer token.
func FromToken(raw string) (TokenState, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return TokenState{}, fmt.Errorf("parse token failed: %w", err)
	}
	st := TokenState{AccessToken: raw}
	st.Subject, _ = claims.GetSubject()
	if role, ok := claims["role"].(string); ok {
		st.Role = role
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		st.ExpiresAt = exp.Time
	}
	return st, nil
}

// Expired reports whether the token carries an expiry before now.
func (s TokenState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

func Load(path string) (TokenState, error) {
	var st TokenState
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read token state failed: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse token state failed: %w", err)
	}
	return st, nil
}

func Save(path string, st TokenState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create token state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token state failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write token state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token state failed: %w", err)
	}
	return nil
}

package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "7",
		"role": "staff",
		"exp":  expires.Unix(),
	})
	raw, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func TestFromToken(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	st, err := FromToken(signed(t, expires))
	if err != nil {
		t.Fatalf("from token: %v", err)
	}
	if st.Subject != "7" || st.Role != "staff" {
		t.Fatalf("unexpected claims: %+v", st)
	}
	if !st.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %s, got %s", expires, st.ExpiresAt)
	}
	if st.Expired(time.Now()) {
		t.Fatalf("expected token to be live")
	}
	if !st.Expired(expires.Add(time.Second)) {
		t.Fatalf("expected token to expire")
	}
	if _, err := FromToken("not-a-token"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	st, err := Load(path)
	if err != nil || st.AccessToken != "" {
		t.Fatalf("expected empty state for missing file, got %+v %v", st, err)
	}
	if err := Save(path, TokenState{AccessToken: "abc", Role: "admin"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	st, err = Load(path)
	if err != nil || st.AccessToken != "abc" || st.Role != "admin" {
		t.Fatalf("expected saved state, got %+v %v", st, err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("expected clearing twice to succeed, got %v", err)
	}
}

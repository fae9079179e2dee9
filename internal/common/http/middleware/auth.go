package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pkgerrors "autograde/pkg/errors"
	"autograde/pkg/utils/contextkey"
	"autograde/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// StaffClaims are the claims carried by ops API tokens.
type StaffClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 bearer tokens issued for course staff.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses raw and returns its claims.
func (v *TokenVerifier) Verify(raw string) (*StaffClaims, error) {
	if raw == "" || len(v.secret) == 0 {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &StaffClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*StaffClaims)
	if !ok || !parsed.Valid {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.Subject == "" {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return claims, nil
}

// AuthMiddleware requires a valid bearer token whose role is one of roles.
// An empty roles list accepts any authenticated caller.
func AuthMiddleware(verifier *TokenVerifier, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth unavailable")
			return
		}
		claims, err := verifier.Verify(extractBearerToken(c.GetHeader("Authorization")))
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		if len(roles) > 0 && !hasRole(claims.Role, roles) {
			response.AbortWithErrorCode(c, pkgerrors.Forbidden, "insufficient role")
			return
		}

		c.Set("user_id", claims.Subject)
		c.Set("user_role", claims.Role)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, claims.Subject)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}

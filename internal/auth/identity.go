package auth

import (
	"encoding/json"
	"os"
	"os/user"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// identityClaims are tried in order when naming the account.
var identityClaims = []string{"preferred_username", "upn", "email"}

// osUsername is replaced in tests.
var osUsername = func() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	for _, key := range []string{"USERNAME", "USER"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// ExtractUser names the account a token belongs to. The ID token is decoded
// without signature verification: the result is a display hint and must not
// be used for access decisions. It never fails and falls back to the local
// account name, then "unknown".
func ExtractUser(token TokenRecord) string {
	if name := usernameFromIDToken(token.IDToken); name != "" {
		return name
	}
	if name := osUsername(); name != "" {
		return name
	}
	return "unknown"
}

func usernameFromIDToken(idToken string) string {
	if idToken == "" {
		return ""
	}

	// Only the payload segment is read; the header is not required to name
	// an algorithm.
	parts := strings.Split(idToken, ".")
	if len(parts) < 2 {
		return ""
	}
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return ""
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}

	for _, name := range identityClaims {
		if v, ok := claims[name].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

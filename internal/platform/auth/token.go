package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignToken issues an HMAC-signed bearer token for the given subject. The
// wallet address and roles ride along as custom claims.
func SignToken(cfg JWTConfig, subject, wallet string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles:         roles,
		WalletAddress: wallet,
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}

package auth

import (
	"fmt"
	"strings"
	"time"

	"coralcrave-auction-service/internal/config"
	"coralcrave-auction-service/internal/domain/shared"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Claims are the token claims issued by the account service. Subject holds the user ID.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier checks HMAC-signed bearer tokens
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(cfg config.AuthConfig) *Verifier {
	return &Verifier{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

// Verify parses a token and returns the caller identity. Every failure
// wraps shared.ErrUnauthenticated.
func (v *Verifier) Verify(tokenStr string) (*shared.Identity, error) {
	if tokenStr == "" {
		return nil, shared.ErrUnauthenticated
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrUnauthenticated, err)
	}
	if !token.Valid {
		return nil, shared.ErrUnauthenticated
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", shared.ErrUnauthenticated, claims.Issuer)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", shared.ErrUnauthenticated)
	}

	return &shared.Identity{UserID: userID, Username: claims.Username}, nil
}

// Issue signs a token for identity valid for ttl from now. It backs local
// tooling; production tokens come from the account service.
func (v *Verifier) Issue(identity shared.Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header
func BearerToken(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

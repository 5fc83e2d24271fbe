package httpapi

import (
	"time"

	"coralcrave-auction-service/internal/adapters/auth"
	"coralcrave-auction-service/internal/domain/shared"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const identityKey = "identity"

// TokenVerifier resolves a bearer token to the caller identity
type TokenVerifier interface {
	Verify(token string) (*shared.Identity, error)
}

// requestLogger logs every request with its status and latency
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}

// authenticate attaches the caller identity when a valid bearer token is
// present. Anonymous requests pass through; handlers decide whether they
// need an identity.
func authenticate(verifier TokenVerifier, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}
		identity, err := verifier.Verify(token)
		if err != nil {
			logger.Debug().Err(err).Msg("Rejected bearer token")
			c.Next()
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// requireIdentity rejects anonymous requests with 401
func requireIdentity(c *gin.Context) {
	if identityFrom(c) == nil {
		writeError(c, shared.ErrUnauthenticated)
		return
	}
	c.Next()
}

func identityFrom(c *gin.Context) *shared.Identity {
	value, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, _ := value.(*shared.Identity)
	return identity
}

package server

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Auth modes for the admin API.
const (
	AuthAPIKey = "api-key"
	AuthJWT    = "jwt"
	AuthNone   = "none"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // "api-key", "jwt", "none"
	APIKey    string // from env API_KEY
	JWTSecret string // HS256 secret, from env API_JWT_SECRET
}

// publicPath reports whether path bypasses auth and rate limiting. The
// webhook authenticates itself with Telegram's secret header.
func publicPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics", webhookPath:
		return true
	}
	return false
}

// NewAuthMiddleware returns a Fiber middleware that validates the Authorization header.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	mode := strings.ToLower(cfg.Mode)
	return func(c *fiber.Ctx) error {
		if mode == AuthNone || publicPath(c.Path()) {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}

		switch mode {
		case AuthJWT:
			subject, err := verifyJWT(token, cfg.JWTSecret)
			if err == nil {
				c.Locals("subject", subject)
				return c.Next()
			}
			logger.Warn().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unauthorized request: invalid token")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_token", "Unauthorized",
				"Invalid or expired token")

		default:
			if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) == 1 {
				c.Locals("subject", "api-key")
				return c.Next()
			}
			logger.Warn().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unauthorized request: invalid API key")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_api_key", "Unauthorized",
				"Invalid API key")
		}
	}
}

// verifyJWT checks an HS256 token and returns its subject.
func verifyJWT(token, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("no JWT secret configured")
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	return claims.Subject, nil
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

package api

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// naiveTimestampLayout matches server timestamps serialized without a zone
// designator. They are UTC.
const naiveTimestampLayout = "2006-01-02T15:04:05.999999999"

// parseTimestamp parses an API timestamp. Zoned values use RFC 3339; naive
// values are interpreted as UTC. Empty or null input yields the zero time.
func parseTimestamp(raw string, logger *slog.Logger) time.Time {
	if raw == "" {
		return time.Time{}
	}

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC()
	}

	if t, err := time.ParseInLocation(naiveTimestampLayout, raw, time.UTC); err == nil {
		return t
	}

	logger.Warn("unparseable timestamp in API response", slog.String("raw", raw))

	return time.Time{}
}

// tokenResponse mirrors the {access_token, refresh_token, token_type} body of
// login, verification and refresh responses.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// toToken normalizes a token response into an oauth2.Token. Expiry is read
// from the access credential's exp claim without verifying the signature;
// the value is advisory and the server remains authoritative.
func (t *tokenResponse) toToken(logger *slog.Logger) (*oauth2.Token, error) {
	if t.AccessToken == "" {
		return nil, fmt.Errorf("api: token response has no access_token")
	}

	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    tokenType,
		Expiry:       TokenExpiry(t.AccessToken, logger),
	}, nil
}

// TokenExpiry returns the exp claim of a JWT access credential, or the zero
// time if the credential is not a JWT or carries no exp.
func TokenExpiry(accessToken string, logger *slog.Logger) time.Time {
	if logger == nil {
		logger = slog.Default()
	}

	claims := jwt.RegisteredClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		logger.Debug("access credential is not a parseable JWT", slog.String("error", err.Error()))
		return time.Time{}
	}

	if claims.ExpiresAt == nil {
		return time.Time{}
	}

	return claims.ExpiresAt.UTC()
}

// decodeQRCode decodes a base64 PNG, with or without a data: URI prefix.
func decodeQRCode(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}

	if i := strings.Index(raw, ","); strings.HasPrefix(raw, "data:") && i >= 0 {
		raw = raw[i+1:]
	}

	png, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("api: decoding QR code: %w", err)
	}

	return png, nil
}

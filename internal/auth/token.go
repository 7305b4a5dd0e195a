package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ollama-chat-relay/backend/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// TokenCodec encodes and decodes bearer tokens in the relay's time-boxed
// format: base64 of "userId:username:issuedAtMillis:marker".
//
// The scheme is deliberately not cryptographic: the marker is compared
// verbatim and nothing is signed, so a leaked marker makes forgery trivial.
// This is a known weakness kept for wire compatibility, not a bug.
type TokenCodec struct {
	marker   string
	validity time.Duration
}

// NewTokenCodec creates a codec with the given marker secret and validity window
func NewTokenCodec(marker string, validity time.Duration) *TokenCodec {
	if validity == 0 {
		validity = 24 * time.Hour
	}
	return &TokenCodec{marker: marker, validity: validity}
}

// Issue encodes an identity into an opaque token string
func (c *TokenCodec) Issue(identity models.Identity) string {
	raw := fmt.Sprintf("%d:%s:%d:%s", identity.UserID, identity.Username, identity.IssuedAt.UnixMilli(), c.marker)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// Verify decodes a token and returns the identity it carries. It fails on
// malformed input, a marker mismatch, or an issue time outside the validity
// window.
func (c *TokenCodec) Verify(token string) (*models.Identity, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 || parts[3] != c.marker {
		return nil, ErrInvalidToken
	}

	userID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	issuedMillis, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}

	identity := &models.Identity{
		UserID:   uint(userID),
		Username: parts[1],
		IssuedAt: time.UnixMilli(issuedMillis),
	}

	if identity.Expired(c.validity) {
		return nil, ErrExpiredToken
	}

	return identity, nil
}

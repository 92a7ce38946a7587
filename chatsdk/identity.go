/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package chatsdk

import (
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// TokenClaims is the subset of the session token the calling layer needs.
type TokenClaims struct {
	UserID    string
	DeviceID  string
	Name      string
	ExpiresAt time.Time
}

type sessionClaims struct {
	jwt.Claims
	DeviceID string `json:"device_id,omitempty"`
	Name     string `json:"name,omitempty"`
}

var tokenAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// ParseTokenClaims reads the identity claims of a session token without
// verifying its signature. The backend remains the authority on validity;
// the client only needs to know who it is. An expired token is an error.
func ParseTokenClaims(token string, now time.Time) (*TokenClaims, error) {
	parsed, err := jwt.ParseSigned(token, tokenAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}

	var claims sessionClaims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, fmt.Errorf("failed to read session token claims: %w", err)
	}

	if err := claims.Claims.ValidateWithLeeway(jwt.Expected{Time: now}, time.Minute); err != nil {
		return nil, fmt.Errorf("session token rejected: %w", err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("session token has no subject")
	}

	out := &TokenClaims{
		UserID:   claims.Subject,
		DeviceID: claims.DeviceID,
		Name:     claims.Name,
	}
	if claims.Expiry != nil {
		out.ExpiresAt = claims.Expiry.Time()
	}
	return out, nil
}

// TokenClaims parses the client's own access token.
func (c *Client) TokenClaims(now time.Time) (*TokenClaims, error) {
	return ParseTokenClaims(c.accessToken, now)
}

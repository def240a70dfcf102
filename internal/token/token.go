// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token mints and validates the opaque continuation tokens handed
// back to callers between orchestration steps. A token is a bearer
// credential scoped to exactly one step: it carries the execution it
// belongs to, the step it was issued for, and enough entropy that it
// cannot be guessed. The package never consults the store; replay
// protection beyond expiry comes from comparing the token's step name
// against the execution's current step name, which is the Step Sequencer's
// job, not this package's.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	orchestraerrors "github.com/orchestra-run/orchestra/pkg/errors"
)

// DefaultLifetime is how long a freshly issued token remains valid.
const DefaultLifetime = 24 * time.Hour

// Config holds continuation-token signing configuration. There is a single
// caller class (the MCP client driving the workflow), so unlike a
// multi-tenant JWT deployment there is no issuer/audience to check — only
// a shared signing secret and a clock-skew allowance for iat/exp checks.
type Config struct {
	// Secret is the HS256 signing key.
	Secret []byte

	// Lifetime overrides DefaultLifetime when non-zero.
	Lifetime time.Duration

	// ClockSkew allows for clock skew when validating iat/exp claims.
	ClockSkew time.Duration
}

func (c Config) lifetime() time.Duration {
	if c.Lifetime > 0 {
		return c.Lifetime
	}
	return DefaultLifetime
}

// Claims is the payload carried by a continuation token: the execution and
// step it authorizes advancing, when it was issued, and a per-token nonce.
type Claims struct {
	jwt.RegisteredClaims

	// ExecutionID identifies the execution this token belongs to.
	ExecutionID string `json:"execution_id"`

	// StepName identifies the step this token authorizes advancing.
	StepName string `json:"step_name"`

	// Nonce is ≥128 bits of randomness, distinguishing tokens minted for
	// the same step across resumptions.
	Nonce string `json:"nonce"`
}

// Issue mints a new continuation token for (executionID, stepName).
func Issue(executionID, stepName string, cfg Config) (string, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating continuation token nonce: %w", err)
	}

	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.lifetime())),
		},
		ExecutionID: executionID,
		StepName:    stepName,
		Nonce:       hex.EncodeToString(nonce[:]),
	}

	signer := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := signer.SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("signing continuation token: %w", err)
	}
	return signed, nil
}

// Decode reverses the token encoding without checking expiry, returning a
// StateError with Kind "TokenMalformed" if the payload's structure or
// signature does not verify.
func Decode(tokenString string, cfg Config) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	parsed, err := parser.ParseWithClaims(tokenString, &Claims{}, keyFunc(cfg))
	if err != nil {
		return nil, malformedError(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, malformedError(errors.New("unexpected claims type"))
	}
	if claims.ExecutionID == "" || claims.StepName == "" {
		return nil, malformedError(errors.New("missing execution_id or step_name"))
	}
	return claims, nil
}

// Validate decodes the token and additionally rejects it on temporal
// grounds: an issued_at in the future by more than cfg.ClockSkew, or a
// token older than the configured lifetime. Validate does not consult the
// store — the Step Sequencer compares the token's step_name against the
// execution's current_step_name to enforce single-use-per-step.
func Validate(tokenString string, cfg Config, now time.Time) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	parsed, err := parser.ParseWithClaims(tokenString, &Claims{}, keyFunc(cfg))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, expiredError(err)
		}
		return nil, malformedError(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, malformedError(errors.New("unexpected claims type"))
	}
	if claims.ExecutionID == "" || claims.StepName == "" {
		return nil, malformedError(errors.New("missing execution_id or step_name"))
	}

	return claims, nil
}

func keyFunc(cfg Config) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return cfg.Secret, nil
	}
}

func malformedError(cause error) error {
	return &orchestraerrors.StateError{
		Kind:    "TokenMalformed",
		Entity:  "token",
		Message: cause.Error(),
	}
}

func expiredError(cause error) error {
	return &orchestraerrors.StateError{
		Kind:    "TokenExpired",
		Entity:  "token",
		Message: cause.Error(),
	}
}

// Copyright 2025 The takt authors
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

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/takt-io/takt/internal/httputil"
	"github.com/takt-io/takt/pkg/errors"
)

// AuthConfig contains bearer-token authentication configuration.
type AuthConfig struct {
	// Enabled turns authentication of mutating requests on. Reads are
	// never authenticated.
	Enabled bool

	// Secret is the HS256 signing key tokens must verify against.
	Secret []byte

	// ClockSkew allows for clock skew when validating exp/nbf claims.
	ClockSkew time.Duration
}

// authenticate rejects mutating requests that do not carry a valid bearer
// token. GET requests pass through unauthenticated.
func (r *Router) authenticate(next http.Handler) http.Handler {
	if !r.auth.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			next.ServeHTTP(w, req)
			return
		}

		header := req.Header.Get("Authorization")
		if header == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "Unauthorized access")
			return
		}

		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			httputil.WriteError(w, http.StatusBadRequest, "Authorization token must be of type Bearer")
			return
		}

		subject, err := verifyToken(token, r.auth)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenMalformed) {
				httputil.WriteError(w, http.StatusBadRequest, "Failed to parse Authorization token")
				return
			}
			httputil.WriteError(w, http.StatusUnauthorized, "Authorization token is invalid")
			return
		}

		r.logger.Debug("authenticated request",
			"subject", subject,
			"method", req.Method,
			"path", req.URL.Path,
		)
		next.ServeHTTP(w, req)
	})
}

// verifyToken checks the token's signature and time claims and returns its
// subject.
func verifyToken(tokenString string, cfg AuthConfig) (string, error) {
	parser := jwt.NewParser(
		jwt.WithLeeway(cfg.ClockSkew),
	)

	claims := &jwt.RegisteredClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.Alg() {
		case "HS256":
			if len(cfg.Secret) == 0 {
				return nil, fmt.Errorf("HS256 requires secret key")
			}
			return cfg.Secret, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("token is invalid")
	}
	return claims.Subject, nil
}

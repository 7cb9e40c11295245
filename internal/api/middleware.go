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
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/takt-io/takt/internal/log"
)

// maxAuditPayload bounds how much of a request body the audit log records.
const maxAuditPayload = 1024

// auditRequests logs every mutating request before it is handled, with the
// payload flattened and the Authorization header hidden. Reads pass through
// silently; the completion log covers them.
func (r *Router) auditRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			next.ServeHTTP(w, req)
			return
		}

		logger := log.WithRequestID(r.logger, requestIDFor(req))
		logger.Info("[AUDIT] incoming request",
			slog.String("method", req.Method),
			slog.String("uri", req.URL.RequestURI()),
			slog.String("authorization", sanitizeAuthorization(req)),
			slog.String("payload", auditPayload(req)),
		)

		next.ServeHTTP(w, req)
	})
}

// auditPayload reads up to maxAuditPayload bytes of the request body for the
// audit log and reassembles the body so handlers can still consume it.
func auditPayload(req *http.Request) string {
	if req.Body == nil {
		return ""
	}
	head, err := io.ReadAll(io.LimitReader(req.Body, maxAuditPayload))
	if err != nil {
		return "<unreadable>"
	}
	rest := req.Body
	req.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(head), rest),
		Closer: rest,
	}
	return flatten(string(head))
}

func sanitizeAuthorization(req *http.Request) string {
	if req.Header.Get("Authorization") == "" {
		return "<absent>"
	}
	return "<hidden>"
}

type readCloser struct {
	io.Reader
	io.Closer
}

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

// Package httputil holds the JSON request and response helpers shared by the
// API handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// maxBodyBytes bounds request payloads. The largest legitimate payload is a
// backfill input with trigger parameters; a megabyte is generous.
const maxBodyBytes = 1 << 20

// Sentinel decode failures. Handlers translate these to the API's exact
// reason phrases.
var (
	ErrMissingPayload = errors.New("missing payload")
	ErrInvalidPayload = errors.New("invalid payload")
)

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

// WriteError writes a JSON error body with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{
		"error": message,
	})
}

// ReadJSON decodes the request body into dst. An empty body returns
// ErrMissingPayload, anything undecodable returns ErrInvalidPayload.
func ReadJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return ErrInvalidPayload
	}
	if len(body) == 0 {
		return ErrMissingPayload
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return ErrInvalidPayload
	}
	return nil
}

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
	"log/slog"
	"net/http"
	"strings"

	"github.com/takt-io/takt/internal/httputil"
	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/state"
	"github.com/takt-io/takt/internal/tracing"
	"github.com/takt-io/takt/internal/trigger"
	"github.com/takt-io/takt/pkg/errors"
)

// writeDomainError maps a domain error onto an HTTP response. Validation
// failures surface their message verbatim; anything unrecognized becomes a
// 500 carrying the request id so operators can find the log line.
func writeDomainError(w http.ResponseWriter, req *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, httputil.ErrMissingPayload):
		httputil.WriteError(w, http.StatusBadRequest, "Missing payload.")
		return
	case errors.Is(err, httputil.ErrInvalidPayload):
		httputil.WriteError(w, http.StatusBadRequest, "Invalid payload.")
		return
	case errors.Is(err, state.ErrClosed):
		httputil.WriteError(w, http.StatusServiceUnavailable, "service is shutting down")
		return
	}

	var verr *errors.ValidationError
	if errors.As(err, &verr) {
		httputil.WriteError(w, http.StatusBadRequest, verr.Message)
		return
	}

	var nf *errors.NotFoundError
	if errors.As(err, &nf) {
		httputil.WriteError(w, http.StatusNotFound, nf.Error())
		return
	}

	var active *trigger.AlreadyActiveError
	if errors.As(err, &active) {
		httputil.WriteError(w, http.StatusConflict, active.Error())
		return
	}

	var conflict *errors.ConflictError
	if errors.As(err, &conflict) {
		httputil.WriteError(w, http.StatusConflict, conflict.Error())
		return
	}

	var illegal *errors.IllegalTransitionError
	if errors.As(err, &illegal) {
		httputil.WriteError(w, http.StatusBadRequest, illegal.Error())
		return
	}

	writeServerError(w, req, logger, err)
}

// writeServerError responds 500 with a sanitized reason naming the request
// id, and logs the unsanitized error.
func writeServerError(w http.ResponseWriter, req *http.Request, logger *slog.Logger, err error) {
	id := requestIDFor(req)
	log.WithRequestID(logger, id).Error("request failed",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		log.Error(err),
	)
	httputil.WriteError(w, http.StatusInternalServerError, internalErrorReason(id, err))
}

// internalErrorReason builds the public 500 reason. Newlines are flattened
// so the reason survives header-like transports intact.
func internalErrorReason(requestID string, cause any) string {
	return flatten(fmt.Sprintf("Internal Server Error (Request ID: %s): %v", requestID, cause))
}

func requestIDFor(req *http.Request) string {
	return tracing.RequestIDFrom(req.Context())
}

var newlines = strings.NewReplacer("\n", " ", "\r", " ")

func flatten(s string) string {
	return newlines.Replace(s)
}

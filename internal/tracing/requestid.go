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

package tracing

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// HeaderRequestID is the header a request id travels in, both directions.
const HeaderRequestID = "X-Request-Id"

type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// NewRequestID mints a request id: a UUID with the dashes stripped, easier
// to paste into log searches.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// WithRequestID stores the request id in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request id from the context, or "" when absent.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

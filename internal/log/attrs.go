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

package log

import "log/slog"

// Shared field keys. Log lines about the same workflow, instance or
// backfill must agree on key names so they can be joined in a log
// aggregator; always use these constants instead of literals.
const (
	ComponentKey = "component_id"
	WorkflowKey  = "workflow"
	ParameterKey = "parameter"
	TriggerKey   = "trigger_id"
	ExecutionKey = "execution_id"
	EventKey     = "event"
	CounterKey   = "counter"
	StateKey     = "state"
	BackfillKey  = "backfill_id"
	DurationKey  = "duration_ms"
)

// Attr is slog.Any under the local name used throughout the tree.
func Attr(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// String builds a string attribute.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Int builds an int attribute.
func Int(key string, value int) slog.Attr {
	return slog.Int(key, value)
}

// Int64 builds an int64 attribute.
func Int64(key string, value int64) slog.Attr {
	return slog.Int64(key, value)
}

// Bool builds a bool attribute.
func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

// Error builds the conventional error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// Duration records value under key with a _ms suffix, keeping duration
// fields numeric and uniformly scaled.
func Duration(key string, value int64) slog.Attr {
	return slog.Int64(key+"_ms", value)
}

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

package errors

// ErrorClassifier is implemented by every typed error in this package.
// Callers branch on the category without naming concrete types: the
// failure-reason label on event metrics uses ErrorType, retry loops in
// the event handlers use IsRetryable.
type ErrorClassifier interface {
	error

	// ErrorType names the category: validation, not_found, conflict,
	// illegal_transition, runner, config, timeout.
	ErrorType() string

	// IsRetryable reports whether repeating the operation can succeed.
	// Conflicts and timeouts can; rejected input cannot.
	IsRetryable() bool
}

// UserVisibleError marks errors whose message is written for the person
// running the command, not for the daemon log. The CLI's exit path
// checks for it and prints the suggestion under the error.
type UserVisibleError interface {
	error

	// IsUserVisible reports whether the message is safe and useful to
	// show. Implementations carrying internal detail return false.
	IsUserVisible() bool

	// UserMessage is the message to show, free of wrapping context.
	UserMessage() string

	// Suggestion is an actionable next step, or empty when there is
	// nothing better to offer than the message itself.
	Suggestion() string
}

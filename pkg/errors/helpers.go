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

import (
	"errors"
	"fmt"
)

// Wrap annotates err with context and keeps it unwrappable. A nil err
// stays nil, so call sites can wrap unconditionally:
//
//	return errors.Wrap(store.StoreBackfill(ctx, b), "storing backfill")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string for context that carries values:
//
//	return errors.Wrapf(err, "triggering %s", instance)
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// The stdlib errors functions are re-exported so callers work with one
// errors package for sentinels, wrapping and the typed errors above.

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree matching target's type and, when
// found, assigns it to target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap returns err's wrapped cause, or nil.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// New creates a sentinel error.
func New(message string) error {
	return errors.New(message)
}

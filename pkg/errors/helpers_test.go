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

package errors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takt-io/takt/pkg/errors"
)

func TestWrapAddsContext(t *testing.T) {
	cause := errors.New("database is locked")
	err := errors.Wrap(cause, "storing backfill")

	require.Error(t, err)
	assert.EqualError(t, err, "storing backfill: database is locked")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestWrapfFormatsContext(t *testing.T) {
	cause := errors.New("connection refused")
	err := errors.Wrapf(cause, "triggering %s#%s", "etl", "nightly")

	require.Error(t, err)
	assert.EqualError(t, err, "triggering etl#nightly: connection refused")
	assert.ErrorIs(t, err, cause)
}

// Wrapping nil must yield nil, so call sites can wrap unconditionally:
//
//	return errors.Wrap(store.StoreBackfill(ctx, b), "storing backfill")
func TestWrapNilStaysNil(t *testing.T) {
	assert.NoError(t, errors.Wrap(nil, "storing backfill"))
	assert.NoError(t, errors.Wrapf(nil, "triggering %s", "etl#nightly"))
}

func TestTypedErrorsSurviveWrapping(t *testing.T) {
	err := errors.Wrapf(
		&errors.NotFoundError{Resource: "workflow", ID: "etl#nightly"},
		"halting backfill %s", "backfill-1",
	)

	var nf *errors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "etl#nightly", nf.ID)

	var v *errors.ValidationError
	assert.False(t, errors.As(err, &v))
}

func TestIsMatchesSentinelsThroughChain(t *testing.T) {
	sentinel := errors.New("halted")
	err := errors.Wrap(errors.Wrap(sentinel, "inner"), "outer")

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, errors.New("halted")))
	assert.False(t, errors.Is(nil, sentinel))
}

func TestUnwrapStopsAtLeaf(t *testing.T) {
	assert.NoError(t, errors.Unwrap(errors.New("no cause")))
	assert.NoError(t, errors.Unwrap(nil))
}

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

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWithinBurst(t *testing.T) {
	l := NewSubmissionLimiter(100)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	l := NewSubmissionLimiter(1)

	// Drain the single-token burst, then a canceled context must not block.
	require.NoError(t, l.Acquire(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Acquire(ctx))
}

func TestSetRate(t *testing.T) {
	l := NewSubmissionLimiter(1)
	assert.Equal(t, 1.0, l.Rate())

	l.SetRate(250)
	assert.Equal(t, 250.0, l.Rate())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
}

func TestTokensAdvisory(t *testing.T) {
	l := NewSubmissionLimiter(1000)
	assert.Greater(t, l.Tokens(), 0)

	before := l.Tokens()
	assert.Equal(t, before, l.Tokens(), "Tokens must not consume")
}

func TestBurstFloorsAtOne(t *testing.T) {
	l := NewSubmissionLimiter(0.5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Acquire(ctx))
}

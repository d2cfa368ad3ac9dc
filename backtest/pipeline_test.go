// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStage struct {
	name string
	err  error
	ran  *[]string
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Run(_ context.Context, _ *Context) error {
	*s.ran = append(*s.ran, s.name)
	return s.err
}

func TestPipeline_Run(t *testing.T) {
	t.Run("runs every stage in order", func(t *testing.T) {
		var ran []string
		pipeline := NewPipeline(nil,
			&fakeStage{name: "a", ran: &ran},
			&fakeStage{name: "b", ran: &ran},
			&fakeStage{name: "c", ran: &ran},
		)

		err := pipeline.Run(context.Background(), &Context{JobID: "job-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ran)
	})

	t.Run("stops at the first failing stage", func(t *testing.T) {
		var ran []string
		pipeline := NewPipeline(nil,
			&fakeStage{name: "a", ran: &ran},
			&fakeStage{name: "b", ran: &ran, err: assertError("boom")},
			&fakeStage{name: "c", ran: &ran},
		)

		err := pipeline.Run(context.Background(), &Context{JobID: "job-1"})
		require.Error(t, err)
		assert.Equal(t, []string{"a", "b"}, ran)
	})
}

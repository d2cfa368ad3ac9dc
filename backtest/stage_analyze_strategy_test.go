// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"testing"

	"github.com/tradeforge/core/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategyAnalyser struct {
	required []strategy.RequiredIndicator
	err      error
}

func (f *fakeStrategyAnalyser) ExtractRequiredIndicators(_ context.Context, _ strategy.Definition) ([]strategy.RequiredIndicator, error) {
	return f.required, f.err
}

func TestAnalyzeStrategyStage_Run(t *testing.T) {
	t.Run("populates required indicators", func(t *testing.T) {
		analyser := &fakeStrategyAnalyser{required: []strategy.RequiredIndicator{
			{BaseKey: "rsi_timeperiod_14", ValueKey: "value"},
		}}
		stage := NewAnalyzeStrategyStage(analyser, nil)
		bctx := &Context{JobID: "job-1"}

		err := stage.Run(context.Background(), bctx)
		require.NoError(t, err)
		assert.Len(t, bctx.RequiredIndicators, 1)
	})

	t.Run("wraps analyser failure as a stage error", func(t *testing.T) {
		analyser := &fakeStrategyAnalyser{err: assertError("registry unavailable")}
		stage := NewAnalyzeStrategyStage(analyser, nil)

		err := stage.Run(context.Background(), &Context{JobID: "job-1"})
		require.Error(t, err)
		assert.Equal(t, stageNameAnalyzeStrategy, err.(*StageError).Stage)
	})
}

// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Stage is a single step of the backtest pipeline. It reads and writes
// Context fields; a Stage that needs data an earlier Stage should have
// populated but didn't must report that via StageError rather than
// panic.
type Stage interface {
	Name() string
	Run(ctx context.Context, bctx *Context) error
}

// StageError reports a named stage's failure, with the original cause
// preserved where there is one (a parse error, a wrapped repository
// error). Orchestrator inspects Stage and Message to special-case the
// "waiting for round trip" condition EnsureDataStage raises when
// indicators are missing, which isn't a failure at all.
type StageError struct {
	Stage   string
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("backtest: stage %q failed: %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("backtest: stage %q failed: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error { return e.Cause }

// waitingForRoundTripMarker is the literal substring the ensure-data
// stage's message carries when it halts the pipeline to wait for an
// asynchronous indicator calculation reply, rather than failing the
// job. The orchestrator matches on this exact text, mirroring how the
// reference implementation distinguishes the condition.
const waitingForRoundTripMarker = "Waiting for round trip"

// IsWaitingForRoundTrip reports whether err is the ensure-data stage's
// round-trip-pending condition rather than a genuine failure.
func IsWaitingForRoundTrip(err error) bool {
	var se *StageError
	if !errors.As(err, &se) {
		return false
	}
	return se.Stage == stageNameEnsureData && strings.Contains(se.Message, waitingForRoundTripMarker)
}

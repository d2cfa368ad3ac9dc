// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package indicator

import "encoding/json"

// CalcSuccessTopic is the topic the indicator worker publishes to once a
// CalcRequest has been fully processed. A backtest worker consuming this
// topic replays the job that was waiting on the data, with
// skip_indicator_check set so EnsureDataStage doesn't re-check and race
// the write it was waiting on.
const CalcSuccessTopic = "indicator.calculation.completed"

// CalcSuccess is the wire shape published to CalcSuccessTopic.
type CalcSuccess struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id"`
	Ticker        string `json:"ticker"`
	Timeframe     string `json:"timeframe"`
}

// DecodeCalcSuccess unmarshals a CalcSuccess from a raw message value.
func DecodeCalcSuccess(value []byte) (CalcSuccess, error) {
	var msg CalcSuccess
	if err := json.Unmarshal(value, &msg); err != nil {
		return CalcSuccess{}, err
	}
	return msg, nil
}

// DecodeCalcRequest unmarshals a CalcRequest from a raw message value,
// the counterpart read side of [Resolver.requestCalculation]'s publish.
func DecodeCalcRequest(value []byte) (CalcRequest, error) {
	var req CalcRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return CalcRequest{}, err
	}
	return req, nil
}

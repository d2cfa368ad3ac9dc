// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package backtest

import "encoding/json"

// JobRequestTopic carries the messages that kick off (or replay) a
// backtest job; a replay is a JobRequest with skip_indicator_check set.
// The indicator worker's calculation replies arrive on a separate topic
// (indicator.CalcSuccessTopic), not on this one.
const JobRequestTopic = "backtest.job.requested"

// JobRequest is the wire shape published to JobRequestTopic.
type JobRequest struct {
	JobID              string `json:"job_id"`
	CorrelationID      string `json:"correlation_id"`
	SkipIndicatorCheck bool   `json:"skip_indicator_check"`
}

// DecodeJobRequest unmarshals a JobRequest from a raw message value.
func DecodeJobRequest(value []byte) (JobRequest, error) {
	var req JobRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return JobRequest{}, err
	}
	return req, nil
}

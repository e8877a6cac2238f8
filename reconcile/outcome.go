/*
Copyright © 2016 Apigee Corporation

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package reconcile

import (
	"sync/atomic"
	"time"
)

/*
Result is the result of a reconcile cycle
*/
type Result int

const (
	// NoOp means the rendered configuration matched the active configuration
	NoOp Result = iota
	// Applied means the configuration was written and nginx reloaded
	Applied
	// Error means the cycle failed, the outcome reason has the cause
	Error
)

/*
String returns the wording reported by the status document
*/
func (r Result) String() string {
	switch r {
	case NoOp:
		return "No update"
	case Applied:
		return "Success"
	default:
		return "Error"
	}
}

/*
Label returns the metric label value for the result
*/
func (r Result) Label() string {
	switch r {
	case NoOp:
		return "noop"
	case Applied:
		return "applied"
	default:
		return "error"
	}
}

/*
Outcome is the recorded outcome of a reconcile cycle
*/
type Outcome struct {
	Timestamp time.Time
	Result    Result
	// Reason is only set for Error outcomes
	Reason string
	// Config is the configuration text rendered by the cycle, empty when nothing was rendered
	Config string
}

/*
Message returns the reason for Error outcomes and the result wording otherwise
*/
func (o Outcome) Message() string {
	if o.Result == Error {
		return o.Reason
	}

	return o.Result.String()
}

/*
Status holds the outcome of the last completed cycle. Cycles are the only writer, readers always see a complete
outcome.
*/
type Status struct {
	last atomic.Pointer[Outcome]
}

/*
Record replaces the last outcome
*/
func (s *Status) Record(outcome Outcome) {
	s.last.Store(&outcome)
}

/*
Last returns the last recorded outcome, false when no cycle has completed yet
*/
func (s *Status) Last() (Outcome, bool) {
	outcome := s.last.Load()

	if outcome == nil {
		return Outcome{}, false
	}

	return *outcome, true
}

package models

// Outcome discriminates the variants of an AgentResult.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeRevise  Outcome = "revise"
	OutcomeFail    Outcome = "fail"
)

// AgentResult is the structured output of dispatching one task to an agent.
// Exactly one variant applies. Results are immutable values: agents build
// them, the controller applies them atomically.
type AgentResult struct {
	Outcome     Outcome // Which variant applies
	Payload     string  // Success: the produced artifact or summary
	Feedback    string  // Revise: what the next attempt must address
	Cause       string  // Fail: why the task failed hard
	Recoverable bool    // Fail: whether external action could unblock it
}

// Success builds a success result carrying the produced payload.
func Success(payload string) AgentResult {
	return AgentResult{Outcome: OutcomeSuccess, Payload: payload}
}

// Revise builds a revision-requested result carrying reviewer feedback.
func Revise(feedback string) AgentResult {
	return AgentResult{Outcome: OutcomeRevise, Feedback: feedback}
}

// Fail builds a hard-failure result. A recoverable failure blocks the owning
// feature; an unrecoverable one rejects it.
func Fail(cause string, recoverable bool) AgentResult {
	return AgentResult{Outcome: OutcomeFail, Cause: cause, Recoverable: recoverable}
}

// Detail returns the variant's text for logging and audit rows.
func (r AgentResult) Detail() string {
	switch r.Outcome {
	case OutcomeRevise:
		return r.Feedback
	case OutcomeFail:
		return r.Cause
	default:
		return r.Payload
	}
}

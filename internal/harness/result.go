package harness

// TraceEvent records one executed flow step.
type TraceEvent struct {
	// Seq is the 1-based position of the step in the flow.
	Seq int `json:"seq"`

	// Op and User echo the step.
	Op   string `json:"op"`
	User string `json:"user"`

	// Error is the rejection code when the operation was refused.
	Error string `json:"error,omitempty"`

	// State is the session state after a session operation.
	State string `json:"state,omitempty"`

	// Amount is the operation's primary amount: the user share of a
	// checkpoint, the principal of a stake, the payout of an unstake,
	// the locked credit of a conversion.
	Amount float64 `json:"amount,omitempty"`

	// Completed marks the checkpoint that finished its session.
	Completed bool `json:"completed,omitempty"`
}

// Result is the outcome of running a scenario.
type Result struct {
	// Trace records every executed step in order.
	Trace []TraceEvent

	// Errors lists expectation and assertion failures. Empty means
	// the scenario passed.
	Errors []string
}

// Passed reports whether the scenario ran without failures.
func (r *Result) Passed() bool {
	return len(r.Errors) == 0
}

// AddError records a failure.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

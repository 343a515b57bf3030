package harness

// TraceEvent records one executed scenario step.
type TraceEvent struct {
	Step     int    `json:"step"`
	Action   string `json:"action"`
	Instance string `json:"instance,omitempty"`

	// Activity is where the instance waits after the step, or "ended".
	Activity string `json:"activity,omitempty"`

	// Fired is the number of jobs an execute_jobs step fired.
	Fired *int `json:"fired,omitempty"`

	// Time is the pinned clock after the step; empty while unpinned.
	Time string `json:"time,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates every step succeeded and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per executed step.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// History is the recorded history of every started instance, ordered
	// by alias.
	History []InstanceHistory `json:"history,omitempty"`

	// Instances maps aliases to process instance ids.
	Instances map[string]string `json:"-"`
}

// InstanceHistory is the history of one started instance, free of
// generated ids so it can be compared across runs.
type InstanceHistory struct {
	Instance    string         `json:"instance"`
	Ended       bool           `json:"ended"`
	EndActivity string         `json:"end_activity,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Instances: make(map[string]string),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

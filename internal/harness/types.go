package harness

// TraceEvent is one step or emission in a scenario run.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Type    string `json:"type"`
	Binding string `json:"binding,omitempty"`
	Watcher string `json:"watcher,omitempty"`
	View    string `json:"view,omitempty"`
	Value   string `json:"value,omitempty"`
	// StoreSeq is the store's last commit seq when the event was recorded.
	StoreSeq int64 `json:"store_seq"`
}

// Trace event types.
const (
	EventSet   = "set"
	EventUnset = "unset"
	EventClear = "clear"
	EventGet   = "get"
	EventWatch = "watch"
	EventStop  = "stop"
	EventEmit  = "emit"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step expectation and assertion holds.
	Pass bool `json:"pass"`

	// Trace contains every step and emission in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Emissions holds what each watcher received, keyed by watcher id.
	Emissions map[string][]string `json:"emissions,omitempty"`

	// Final holds every declared binding's value after the last step.
	Final map[string]string `json:"final,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Emissions: make(map[string][]string),
		Final:     make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

package domain

// ExecErrorKind classifies a failed tool execution.
type ExecErrorKind string

const (
	// ExecRemoteHTTP means the target API answered with a non-2xx status.
	ExecRemoteHTTP ExecErrorKind = "remote_http"
	// ExecConnectivity means the request was sent but no response arrived.
	ExecConnectivity ExecErrorKind = "connectivity"
	// ExecInternal means the request could not be built or sent.
	ExecInternal ExecErrorKind = "internal"
	// ExecValidation means the parameter bag was rejected before dispatch.
	ExecValidation ExecErrorKind = "validation"
)

// ExecutionResult is the normalized outcome of one tool execution.
// On success Data, Status and Headers are set; on failure Error and
// ErrorKind are set, plus Status and Data for ExecRemoteHTTP.
type ExecutionResult struct {
	Success            bool              `json:"success"`
	Data               any               `json:"data,omitempty"`
	Status             int               `json:"status,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"`
	ExecutionTimeMs    int64             `json:"executionTimeMs"`
	Error              string            `json:"error,omitempty"`
	ErrorKind          ExecErrorKind     `json:"errorKind,omitempty"`
	ContractViolations []string          `json:"contractViolations,omitempty"`
}

// Outcome is a short label used for metrics and logs.
func (r ExecutionResult) Outcome() string {
	if r.Success {
		return "success"
	}
	return string(r.ErrorKind)
}

// Failure builds a failed result of the given kind.
func Failure(kind ExecErrorKind, msg string, elapsedMs int64) ExecutionResult {
	return ExecutionResult{
		Success:         false,
		Error:           msg,
		ErrorKind:       kind,
		ExecutionTimeMs: elapsedMs,
	}
}

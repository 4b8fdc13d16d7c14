package backend

import "fmt"

// UnsupportedParameterError reports that the model rejected an optional
// request parameter. Param is empty when the API did not name it.
type UnsupportedParameterError struct {
	Param   string
	Message string
}

func (e *UnsupportedParameterError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("unsupported parameter: %s", e.Message)
	}
	return fmt.Sprintf("unsupported parameter %q: %s", e.Param, e.Message)
}

// TruncatedError reports that generation stopped at the output token budget.
type TruncatedError struct {
	Budget int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("response truncated at max_output_tokens=%d", e.Budget)
}

// BackendError is any other failure: transport errors, non-2xx statuses
// and API error objects. Status is 0 for transport failures.
type BackendError struct {
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("API request failed: %s", e.Message)
	}
	return fmt.Sprintf("API returned status %d: %s", e.Status, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

// MalformedResponseError reports a response with no recognizable text.
type MalformedResponseError struct {
	Snippet string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("could not extract text from response: %s", e.Snippet)
}

// truncate bounds s to maxLen bytes for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

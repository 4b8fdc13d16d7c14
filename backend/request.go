package backend

import (
	"strings"

	"github.com/minios-linux/potr/prompt"
)

// MinRetryOutputTokens is the smallest budget used when retrying a
// truncated response.
const MinRetryOutputTokens = 2048

// Request is one completion call.
type Request struct {
	Model           string
	Prompt          prompt.Prompt
	MaxOutputTokens int
	// Temperature is omitted from the wire request when nil.
	Temperature *float64
	// ReasoningEffort is omitted from the wire request when empty.
	ReasoningEffort string
}

// Base returns the request without any optional parameters. This is the
// shape used for fallback models.
func (r Request) Base() Request {
	r.Temperature = nil
	r.ReasoningEffort = ""
	return r
}

// Without returns a reduced request with the named parameter removed. An
// unknown or empty name removes every optional parameter. The second result
// is false when there was nothing left to remove.
func (r Request) Without(param string) (Request, bool) {
	reduced := r
	switch normalizeParam(param) {
	case "temperature":
		reduced.Temperature = nil
	case "reasoning":
		reduced.ReasoningEffort = ""
	}
	if reduced == r {
		reduced = r.Base()
	}
	return reduced, reduced != r
}

// RetryBudget is the output budget for retrying a truncated response.
func RetryBudget(budget int) int {
	if 2*budget > MinRetryOutputTokens {
		return 2 * budget
	}
	return MinRetryOutputTokens
}

func normalizeParam(param string) string {
	p := strings.ToLower(strings.TrimSpace(param))
	switch {
	case p == "temperature":
		return "temperature"
	case p == "reasoning", p == "reasoning_effort", strings.HasPrefix(p, "reasoning."):
		return "reasoning"
	default:
		return ""
	}
}

type wireReasoning struct {
	Effort string `json:"effort"`
}

type wireRequest struct {
	Model           string         `json:"model"`
	Instructions    string         `json:"instructions,omitempty"`
	Input           string         `json:"input"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
	Temperature     *float64       `json:"temperature,omitempty"`
	Reasoning       *wireReasoning `json:"reasoning,omitempty"`
}

func (r Request) wire() wireRequest {
	w := wireRequest{
		Model:           r.Model,
		Instructions:    r.Prompt.Instructions,
		Input:           r.Prompt.Input,
		MaxOutputTokens: r.MaxOutputTokens,
		Temperature:     r.Temperature,
	}
	if r.ReasoningEffort != "" {
		w.Reasoning = &wireReasoning{Effort: r.ReasoningEffort}
	}
	return w
}

package backend

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// shape identifies which envelope form a response used.
type shape int

const (
	shapeUnknown shape = iota
	shapeOutputText
	shapeOutputParts
	shapeChoices
)

func (s shape) String() string {
	switch s {
	case shapeOutputText:
		return "output_text"
	case shapeOutputParts:
		return "output"
	case shapeChoices:
		return "choices"
	default:
		return "unknown"
	}
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outputItem struct {
	Type    string        `json:"type"`
	Text    string        `json:"text"`
	Content []contentPart `json:"content"`
}

type choice struct {
	Message struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param"`
	// Code is a string on OpenAI, a number on some compatible servers.
	Code json.RawMessage `json:"code"`
}

func (e *apiError) code() string {
	var s string
	if err := json.Unmarshal(e.Code, &s); err == nil {
		return s
	}
	return string(e.Code)
}

type envelope struct {
	Status            string `json:"status"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	OutputText json.RawMessage `json:"output_text"`
	Output     []outputItem    `json:"output"`
	Choices    []choice        `json:"choices"`
	Error      *apiError       `json:"error"`
}

// reply is a decoded successful response.
type reply struct {
	shape     shape
	text      string
	truncated bool
}

// decode extracts the generated text from a 2xx response body. Text is
// returned exactly as generated; whitespace is never trimmed.
func decode(status int, body []byte) (reply, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return reply{}, &MalformedResponseError{Snippet: truncate(string(body), 500)}
	}
	if env.Error != nil && env.Error.Message != "" {
		return reply{}, &BackendError{Status: status, Message: env.Error.Message}
	}

	var r reply
	if env.Status == "incomplete" && env.IncompleteDetails != nil && env.IncompleteDetails.Reason == "max_output_tokens" {
		r.truncated = true
	}
	for _, c := range env.Choices {
		if c.FinishReason == "length" {
			r.truncated = true
		}
	}

	switch {
	case rawText(env.OutputText) != "":
		r.shape, r.text = shapeOutputText, rawText(env.OutputText)
	case outputPartsText(env.Output) != "":
		r.shape, r.text = shapeOutputParts, outputPartsText(env.Output)
	case len(env.Choices) > 0 && rawText(env.Choices[0].Message.Content) != "":
		r.shape, r.text = shapeChoices, rawText(env.Choices[0].Message.Content)
	}
	return r, nil
}

// outputPartsText returns the text of the first output item that has any.
func outputPartsText(items []outputItem) string {
	for _, item := range items {
		if item.Type == "reasoning" {
			continue
		}
		var sb strings.Builder
		for _, part := range item.Content {
			if part.Type == "" || part.Type == "output_text" || part.Type == "text" {
				sb.WriteString(part.Text)
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
		if item.Text != "" {
			return item.Text
		}
	}
	return ""
}

// rawText accepts a JSON string, a list of strings, or a list of text parts.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, el := range list {
		if err := json.Unmarshal(el, &s); err == nil {
			sb.WriteString(s)
			continue
		}
		var part contentPart
		if err := json.Unmarshal(el, &part); err == nil && (part.Type == "" || part.Type == "text" || part.Type == "output_text") {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

var quotedParamRE = regexp.MustCompile(`'([A-Za-z_][\w.]*)'`)

// classify400 decides whether a 400 body names an unsupported parameter.
func classify400(body []byte) error {
	var env struct {
		Error *apiError `json:"error"`
	}
	msg := truncate(string(body), 500)
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return &BackendError{Status: 400, Message: msg}
	}
	e := env.Error
	lower := strings.ToLower(e.Message)
	code := e.code()
	unsupported := code == "unsupported_parameter" || code == "unsupported_value" ||
		strings.Contains(lower, "unsupported parameter") || strings.Contains(lower, "unsupported value") ||
		strings.Contains(lower, "not supported with this model")
	if !unsupported {
		return &BackendError{Status: 400, Message: e.Message}
	}
	param := e.Param
	if param == "" {
		if m := quotedParamRE.FindStringSubmatch(e.Message); m != nil {
			param = m[1]
		}
	}
	return &UnsupportedParameterError{Param: param, Message: e.Message}
}

// parseRetryInfo extracts the retry delay from a 429 body carrying a
// Google-style RetryInfo detail, e.g. {"retryDelay": "30s"}.
func parseRetryInfo(body []byte) (time.Duration, bool) {
	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return 0, false
	}
	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil && secs >= 0 {
				return time.Duration(secs * float64(time.Second)), true
			}
		}
	}
	return 0, false
}

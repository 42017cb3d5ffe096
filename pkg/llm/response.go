package llm

import "encoding/json"

// ErrorResponse is the JSON error body the proxy returns to clients.
type ErrorResponse struct {
	Error string `json:"error"`
}

// completionEnvelope matches the subset of an OpenAI chat completion body
// (buffered or chunked) needed for content extraction.
type completionEnvelope struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractContent pulls the assistant text out of a completion payload.
// It understands both the buffered shape (choices[0].message.content) and
// the streaming chunk shape (choices[0].delta.content). Unparseable or
// contentless payloads yield "" — capture is best-effort and must never
// fail the relay.
func ExtractContent(payload []byte) string {
	var env completionEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	if len(env.Choices) == 0 {
		return ""
	}
	if delta := env.Choices[0].Delta.Content; delta != "" {
		return delta
	}
	return env.Choices[0].Message.Content
}

package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrScriptExhausted is returned when a ScriptedClient has no replies left.
var ErrScriptExhausted = errors.New("scripted client: no more responses available")

// ScriptedClient returns a pre-defined sequence of replies. Useful for
// driving multi-call flows (decompose, repair, adapt) in tests and demos.
type ScriptedClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	// Calls records every conversation received, in order.
	Calls [][]Message
	// Route, when set, picks the reply for a call instead of the queue.
	// Returning ok=false falls back to the queue.
	Route func(messages []Message) (reply string, ok bool)
}

// NewScriptedClient creates a client that replies with responses in order.
func NewScriptedClient(responses ...string) *ScriptedClient {
	return &ScriptedClient{Responses: responses}
}

// Complete pops the next scripted reply or returns the configured error.
func (s *ScriptedClient) Complete(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]Message, len(messages))
	copy(cp, messages)
	s.Calls = append(s.Calls, cp)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Route != nil {
		if reply, ok := s.Route(messages); ok {
			return TextResponse(reply), nil
		}
	}
	if len(s.Responses) == 0 {
		return nil, ErrScriptExhausted
	}

	content := s.Responses[0]
	s.Responses = s.Responses[1:]
	return TextResponse(content), nil
}

// AddResponse appends a reply to the queue.
func (s *ScriptedClient) AddResponse(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, response)
}

// CallCount returns how many completions were requested.
func (s *ScriptedClient) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// LastPrompt returns the concatenated content of the most recent call.
func (s *ScriptedClient) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Calls) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range s.Calls[len(s.Calls)-1] {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// Remaining returns how many queued replies are left.
func (s *ScriptedClient) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Responses)
}

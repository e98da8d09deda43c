// Package llm is the generative model boundary. The core only needs
// complete(messages) -> text; everything else here adapts a concrete provider
// to that shape or layers structure on top of it.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ContentPart is one block of a reply.
type ContentPart struct {
	Text string `json:"text"`
}

// Response is a model reply. Content[0].Text is the full textual reply.
type Response struct {
	Content []ContentPart `json:"content"`
	Model   string        `json:"model,omitempty"`
}

// Text returns the first content block, or "".
func (r *Response) Text() string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

// TextResponse wraps plain text as a Response.
func TextResponse(text string) *Response {
	return &Response{Content: []ContentPart{{Text: text}}}
}

// Options tune a single completion.
type Options struct {
	Temperature *float32
	// ResponseFormat is appended to the system instruction as a hint about the
	// expected reply structure.
	ResponseFormat string
	// JSON asks providers that support it for a JSON mime type.
	JSON bool
}

// Option mutates Options.
type Option func(*Options)

// WithTemperature overrides the provider default temperature.
func WithTemperature(t float32) Option {
	return func(o *Options) { o.Temperature = &t }
}

// WithResponseFormat attaches a structure hint.
func WithResponseFormat(hint string) Option {
	return func(o *Options) { o.ResponseFormat = hint }
}

// WithJSON requests JSON output where the provider supports it.
func WithJSON() Option {
	return func(o *Options) { o.JSON = true }
}

// Apply folds opts into an Options value.
func Apply(opts ...Option) Options {
	var o Options
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// Client completes a conversation.
type Client interface {
	Complete(ctx context.Context, messages []Message, opts ...Option) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, messages []Message, opts ...Option) (*Response, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	return f(ctx, messages, opts...)
}

// ErrEmptyResponse is returned when a provider replies without text.
var ErrEmptyResponse = errors.New("llm: empty response")

// CompleteText is the common system+user round trip.
func CompleteText(ctx context.Context, c Client, system, user string, opts ...Option) (string, error) {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, System(system))
	}
	msgs = append(msgs, User(user))

	resp, err := c.Complete(ctx, msgs, opts...)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// SplitSystem separates system messages from the conversation and appends
// the response-format hint, if any, to the joined system instruction.
func SplitSystem(messages []Message, o Options) (string, []Message) {
	var sys []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	if o.ResponseFormat != "" {
		sys = append(sys, "Respond using this format:\n"+o.ResponseFormat)
	}
	return strings.Join(sys, "\n\n"), rest
}

package llm

import (
	"context"

	"autotool/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Traced wraps a Client so every completion is a span.
func Traced(c Client, provider string) Client {
	return &tracedClient{underlying: c, provider: provider}
}

type tracedClient struct {
	underlying Client
	provider   string
}

func (t *tracedClient) Complete(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	ctx, span := telemetry.Tracer("llm").Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", t.provider),
		attribute.Int("llm.messages", len(messages)),
	)

	resp, err := t.underlying.Complete(ctx, messages, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.reply_chars", len(resp.Text())))
	return resp, nil
}

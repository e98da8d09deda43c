package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"autotool/internal/events"
	"autotool/internal/jsonx"
	"autotool/internal/logging"
)

// ErrStructureMismatch means the reply did not contain a value matching the
// requested structure. The raw text is still returned alongside it.
var ErrStructureMismatch = errors.New("llm: response does not match requested structure")

// Format describes the structure a caller expects back.
type Format struct {
	// Hint is shown to the model verbatim.
	Hint string
	// Required keys that the first matching JSON object must carry.
	Required []string
}

// CompleteStructured asks for a reply shaped like format and decodes the
// first conforming JSON object into v. On mismatch it returns the raw text
// with ErrStructureMismatch and emits an error event; transport failures are
// returned as-is with empty text.
func CompleteStructured(ctx context.Context, c Client, emitter events.Emitter, messages []Message, format Format, v any, opts ...Option) (string, error) {
	opts = append(opts, WithResponseFormat(format.Hint), WithJSON())
	resp, err := c.Complete(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	raw := resp.Text()

	for _, obj := range jsonx.ExtractObjects(raw) {
		if !hasKeys(obj, format.Required) {
			continue
		}
		if err := remarshal(obj, v); err != nil {
			continue
		}
		return raw, nil
	}

	logging.APIWarn("structured response mismatch (required %v): %.200s", format.Required, raw)
	if emitter != nil {
		emitter.Emit(events.Error, fmt.Sprintf("structured response mismatch: expected keys %v", format.Required))
	}
	return raw, ErrStructureMismatch
}

func hasKeys(obj map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}

// remarshal copies a decoded generic value into a typed destination.
func remarshal(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

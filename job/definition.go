package job

import (
	"context"
	"encoding/json"
	"fmt"
)

// Definition is a processor with a typed payload. T must round-trip
// through JSON.
type Definition[T any] struct {
	// Name is the job type served.
	Name string

	// Queue restricts the definition to one queue. Empty serves all queues.
	Queue string

	// Handler processes the decoded payload.
	Handler func(ctx context.Context, j *Job, payload T) (any, error)
}

// NewDefinition creates a typed definition serving every queue.
func NewDefinition[T any](name string, handler func(ctx context.Context, j *Job, payload T) (any, error)) *Definition[T] {
	return &Definition[T]{Name: name, Handler: handler}
}

// OnQueue returns a copy of d restricted to queue.
func (d *Definition[T]) OnQueue(queue string) *Definition[T] {
	c := *d
	c.Queue = queue
	return &c
}

// Process decodes payload into T and calls the handler. A payload that does
// not decode is corrupt and will never succeed, so it is unrecoverable.
func (d *Definition[T]) Process(ctx context.Context, j *Job, payload Payload) (any, error) {
	var in T
	if err := DecodePayload(payload, &in); err != nil {
		return nil, Unrecoverable(CorruptionError(fmt.Errorf("decode payload for job %q: %w", d.Name, err)))
	}
	return d.Handler(ctx, j, in)
}

// RegisterDefinition registers a typed definition with r.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.Name, def.Queue, def)
}

// EncodePayload converts a JSON-serializable value into a Payload.
func EncodePayload(v any) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodePayload decodes p into out through JSON.
func DecodePayload(p Payload, out any) error {
	if p == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Package publisher routes audit events to the compliance or ops publisher
// according to the category of their action.
package publisher

import (
	"context"

	audit "accord/pkg/platform/audit"
	"accord/pkg/platform/audit/publishers/compliance"
	"accord/pkg/platform/audit/publishers/ops"
)

// Publisher is the single audit entry point used by the node service.
type Publisher struct {
	compliance *compliance.Publisher
	ops        *ops.Publisher
}

// New wires a router over both publishers.
func New(c *compliance.Publisher, o *ops.Publisher) *Publisher {
	return &Publisher{compliance: c, ops: o}
}

// Emit persists compliance events synchronously and returns their error.
// Ops events are tracked best-effort and always return nil.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if audit.AuditEvent(event.Action).Category() == audit.CategoryCompliance {
		return p.compliance.Emit(ctx, event)
	}
	p.ops.Track(ctx, event)
	return nil
}

// Close drains the ops buffer.
func (p *Publisher) Close() error {
	if err := p.ops.Close(); err != nil {
		return err
	}
	return p.compliance.Close()
}

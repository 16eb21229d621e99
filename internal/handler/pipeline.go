// Package handler holds the built-in downstream delivery pipeline: archive
// the record, then push it to connected WebSocket clients.
package handler

import (
	"context"
	"fmt"

	"github.com/warelay/warelay/internal/types"
)

// Archiver persists delivered records.
type Archiver interface {
	Store(msg *types.Message) error
}

// Publisher pushes delivered records to live subscribers.
type Publisher interface {
	Publish(msg *types.Message)
}

// Pipeline archives then broadcasts. A broadcast failure is impossible by
// contract (Publish never fails); an archive failure fails the delivery
// attempt so the record is retried.
type Pipeline struct {
	archive Archiver
	publish Publisher
}

// NewPipeline wires the default delivery pipeline. publish may be nil, in
// which case records are archived only.
func NewPipeline(archive Archiver, publish Publisher) *Pipeline {
	return &Pipeline{archive: archive, publish: publish}
}

// Handle implements the delivery handler contract.
func (p *Pipeline) Handle(ctx context.Context, msg *types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.archive.Store(msg); err != nil {
		return fmt.Errorf("archive %s: %w", msg.ID, err)
	}
	if p.publish != nil {
		p.publish.Publish(msg)
	}
	return nil
}

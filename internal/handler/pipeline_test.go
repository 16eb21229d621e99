package handler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/warelay/warelay/internal/handler"
	"github.com/warelay/warelay/internal/ident"
	"github.com/warelay/warelay/internal/types"
)

type fakeArchive struct {
	stored []*types.Message
	err    error
}

func (f *fakeArchive) Store(msg *types.Message) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, msg)
	return nil
}

type fakePublisher struct {
	published []*types.Message
}

func (f *fakePublisher) Publish(msg *types.Message) {
	f.published = append(f.published, msg)
}

func testMsg() *types.Message {
	return &types.Message{ID: ident.MustNewID(), Sender: "alice@s.whatsapp.net", Type: "text"}
}

func TestPipeline_ArchivesThenPublishes(t *testing.T) {
	archive := &fakeArchive{}
	pub := &fakePublisher{}
	p := handler.NewPipeline(archive, pub)

	msg := testMsg()
	if err := p.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(archive.stored) != 1 || archive.stored[0].ID != msg.ID {
		t.Errorf("archive: want 1 record, got %+v", archive.stored)
	}
	if len(pub.published) != 1 || pub.published[0].ID != msg.ID {
		t.Errorf("publish: want 1 record, got %+v", pub.published)
	}
}

func TestPipeline_ArchiveFailureSkipsPublish(t *testing.T) {
	boom := errors.New("disk full")
	archive := &fakeArchive{err: boom}
	pub := &fakePublisher{}
	p := handler.NewPipeline(archive, pub)

	err := p.Handle(context.Background(), testMsg())
	if !errors.Is(err, boom) {
		t.Fatalf("Handle: want wrapped %v, got %v", boom, err)
	}
	if len(pub.published) != 0 {
		t.Errorf("publish after archive failure: want 0, got %d", len(pub.published))
	}
}

func TestPipeline_NilPublisher(t *testing.T) {
	p := handler.NewPipeline(&fakeArchive{}, nil)
	if err := p.Handle(context.Background(), testMsg()); err != nil {
		t.Fatalf("Handle with nil publisher: %v", err)
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	archive := &fakeArchive{}
	p := handler.NewPipeline(archive, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Handle(ctx, testMsg()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Handle: want context.Canceled, got %v", err)
	}
	if len(archive.stored) != 0 {
		t.Error("archived despite cancelled context")
	}
}

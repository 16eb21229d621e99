package dispatch_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/warelay/warelay/internal/dispatch"
	"github.com/warelay/warelay/internal/ident"
	"github.com/warelay/warelay/internal/metrics"
	"github.com/warelay/warelay/internal/queue"
	"github.com/warelay/warelay/internal/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestClassify(t *testing.T) {
	cases := []struct {
		msgType string
		want    types.Lane
	}{
		{"text", types.LaneHigh},
		{"reaction", types.LaneHigh},
		{"image", types.LaneDefault},
		{"audio", types.LaneDefault},
		{"video", types.LaneLow},
		{"document", types.LaneLow},
		{"sticker", types.LaneDefault},
		{"poll", types.LaneDefault},
		{"", types.LaneDefault},
	}
	for _, tc := range cases {
		if got := dispatch.Classify(tc.msgType); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.msgType, got, tc.want)
		}
	}
}

func TestDispatch_EnqueuesWithFreshAttempt(t *testing.T) {
	lanes := queue.NewLanes()
	t.Cleanup(lanes.Close)
	reg := &metrics.Registry{}
	backoff := []time.Duration{5 * time.Second, 15 * time.Second}
	d := dispatch.New(lanes, 3, backoff, reg, discard)

	msg := &types.Message{ID: ident.MustNewID(), Sender: "alice@s.whatsapp.net", Type: "video"}
	got := d.Dispatch(msg)

	if got.Lane != types.LaneLow {
		t.Fatalf("lane: want low, got %s", got.Lane)
	}
	if got.Depth != 1 {
		t.Errorf("depth after enqueue: want 1, got %d", got.Depth)
	}
	if n := reg.Dispatched.Get("low"); n != 1 {
		t.Errorf("dispatched counter: want 1, got %d", n)
	}

	dl, ok := lanes.Lease()
	if !ok {
		t.Fatal("Lease: expected an item")
	}
	item := dl.Item
	if item.Msg.ID != msg.ID {
		t.Errorf("leased wrong message: %s", item.Msg.ID)
	}
	if item.Attempt.AttemptsMade != 0 {
		t.Errorf("attempts made: want 0, got %d", item.Attempt.AttemptsMade)
	}
	if item.Attempt.MaxAttempts != 3 {
		t.Errorf("max attempts: want 3, got %d", item.Attempt.MaxAttempts)
	}
	if item.Attempt.Status != types.StatusPending {
		t.Errorf("status: want pending, got %s", item.Attempt.Status)
	}
}

// Dispatching the same record twice yields two independent attempt states.
func TestDispatch_IndependentAttemptState(t *testing.T) {
	lanes := queue.NewLanes()
	t.Cleanup(lanes.Close)
	reg := &metrics.Registry{}
	d := dispatch.New(lanes, 3, []time.Duration{time.Second}, reg, discard)

	msg := &types.Message{ID: ident.MustNewID(), Sender: "bob@s.whatsapp.net", Type: "text"}
	d.Dispatch(msg)
	d.Dispatch(msg)

	first, ok := lanes.Lease()
	if !ok {
		t.Fatal("Lease: expected an item")
	}
	first.Item.Attempt.AttemptsMade = 2

	second, ok := lanes.Lease()
	if !ok {
		t.Fatal("Lease: expected a second item")
	}
	if second.Item.Attempt.AttemptsMade != 0 {
		t.Errorf("second dispatch shares attempt state: attempts = %d", second.Item.Attempt.AttemptsMade)
	}
}

package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/echoscribe/echoscribe/internal/transcribe"
)

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry()

	id := r.Create(42)
	if id == "" {
		t.Fatal("empty job id")
	}

	job, ok := r.Get(id)
	if !ok {
		t.Fatal("job not found after Create")
	}
	if job.OwnerID != 42 {
		t.Errorf("owner = %d, want 42", job.OwnerID)
	}
	if job.Phase != PhaseUploading {
		t.Errorf("phase = %s, want uploading", job.Phase)
	}
	if job.Terminal() {
		t.Error("fresh job reported terminal")
	}

	if _, ok := r.Get("no-such-job"); ok {
		t.Error("Get returned a job for an unknown id")
	}
}

func TestProgress_UpdatesPhase(t *testing.T) {
	r := NewRegistry()
	id := r.Create(1)

	r.Progress(id, 0.30, "starting transcription")
	job, _ := r.Get(id)
	if job.Phase != PhaseSubmitted {
		t.Errorf("phase = %s, want submitted", job.Phase)
	}
	if job.Progress != 0.30 {
		t.Errorf("progress = %v, want 0.30", job.Progress)
	}

	r.Progress(id, 0.50, "transcribing")
	job, _ = r.Get(id)
	if job.Phase != PhasePolling {
		t.Errorf("phase = %s, want polling", job.Phase)
	}
}

func TestCompleteAndFail(t *testing.T) {
	r := NewRegistry()

	done := r.Create(1)
	segments := []transcribe.Segment{{Speaker: "A", Text: "hi"}}
	r.Complete(done, segments)

	job, _ := r.Get(done)
	if !job.Terminal() || job.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", job.Phase)
	}
	if job.Progress != 1.0 {
		t.Errorf("progress = %v, want 1.0", job.Progress)
	}
	if len(job.Segments) != 1 {
		t.Errorf("segments = %d, want 1", len(job.Segments))
	}

	failed := r.Create(2)
	r.Fail(failed, "rate_limited", errors.New("owner 2: rate limit exceeded"))

	job, _ = r.Get(failed)
	if job.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want failed", job.Phase)
	}
	if job.ErrorKind != "rate_limited" {
		t.Errorf("error kind = %q, want rate_limited", job.ErrorKind)
	}
	if job.Error == "" {
		t.Error("error message not recorded")
	}
}

func TestSubscribe_ReceivesUpdatesAndCloses(t *testing.T) {
	r := NewRegistry()
	id := r.Create(1)

	updates, cancel := r.Subscribe(id)
	defer cancel()

	r.Progress(id, 0.30, "starting transcription")
	r.Complete(id, nil)

	var got []Update
	for u := range updates {
		got = append(got, u)
	}

	if len(got) != 2 {
		t.Fatalf("updates = %d, want 2", len(got))
	}
	if got[0].Done {
		t.Error("progress update marked done")
	}
	if !got[1].Done || got[1].Phase != PhaseCompleted {
		t.Errorf("terminal update = %+v", got[1])
	}
}

func TestSubscribe_CancelStopsDelivery(t *testing.T) {
	r := NewRegistry()
	id := r.Create(1)

	updates, cancel := r.Subscribe(id)
	cancel()

	// Publishing after cancel must not panic or block.
	r.Progress(id, 0.5, "transcribing")

	if _, open := <-updates; open {
		t.Error("channel still open after cancel")
	}
}

func TestSubscribe_SlowConsumerDropsIntermediate(t *testing.T) {
	r := NewRegistry()
	id := r.Create(1)

	updates, cancel := r.Subscribe(id)
	defer cancel()

	// Overflow the subscriber buffer without draining.
	published := subscriberBuffer + 10
	for i := 0; i < published; i++ {
		r.Progress(id, float64(i)/float64(published), "transcribing")
	}
	r.Complete(id, nil)

	received := 0
	for range updates {
		received++
	}
	if received > subscriberBuffer+1 {
		t.Fatalf("received %d updates, want at most %d", received, subscriberBuffer+1)
	}

	// Even when updates were dropped, termination is observable: the
	// channel closed and the snapshot is terminal.
	job, _ := r.Get(id)
	if !job.Terminal() {
		t.Error("job snapshot not terminal after Complete")
	}
}

func TestSweep(t *testing.T) {
	r := NewRegistry()

	current := time.Now()
	r.now = func() time.Time { return current }

	terminal := r.Create(1)
	r.Complete(terminal, nil)
	live := r.Create(2)

	current = current.Add(2 * time.Hour)
	removed := r.Sweep(time.Hour)

	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := r.Get(terminal); ok {
		t.Error("terminal job survived the sweep")
	}
	if _, ok := r.Get(live); !ok {
		t.Error("live job was swept")
	}
}

func TestStartSweeper_StopsOnCancel(t *testing.T) {
	r := NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	r.StartSweeper(ctx, time.Millisecond, time.Millisecond)

	id := r.Create(1)
	r.Complete(id, nil)

	deadline := time.After(time.Second)
	for {
		if _, ok := r.Get(id); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper never removed the terminal job")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
}

func TestPhaseForNote(t *testing.T) {
	tests := []struct {
		note string
		want Phase
		ok   bool
	}{
		{"uploading", PhaseUploading, true},
		{"starting transcription", PhaseSubmitted, true},
		{"transcribing", PhasePolling, true},
		{"formatting results", PhasePolling, true},
		{"done", PhaseCompleted, true},
		{"something else", "", false},
	}
	for _, tt := range tests {
		got, ok := PhaseForNote(tt.note)
		if got != tt.want || ok != tt.ok {
			t.Errorf("PhaseForNote(%q) = (%q, %v), want (%q, %v)", tt.note, got, ok, tt.want, tt.ok)
		}
	}
}

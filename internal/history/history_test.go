package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/olaradio/olaradio/internal/feedback"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHistoryRecordsPlays(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	events := []feedback.Event{
		{Kind: feedback.RadioStarted, StationID: "user:onyourwave", BatchID: "b1", At: base},
		{Kind: feedback.TrackStarted, StationID: "user:onyourwave", BatchID: "b1", TrackID: "a", PlayID: "1-1-1", Title: "A", Artist: "X", DurationSec: 200, At: base},
		{Kind: feedback.Trace, TrackID: "a", PlayedSec: 50, At: base.Add(50 * time.Second)},
		{Kind: feedback.Skip, StationID: "user:onyourwave", BatchID: "b1", TrackID: "a", PlayID: "1-1-1", PlayedSec: 50, At: base.Add(50 * time.Second)},
		{Kind: feedback.TrackStarted, StationID: "user:onyourwave", BatchID: "b1", TrackID: "b", PlayID: "2-2-2", Title: "B", Artist: "Y", DurationSec: 180, At: base.Add(51 * time.Second)},
		{Kind: feedback.TrackFinished, StationID: "user:onyourwave", BatchID: "b1", TrackID: "b", PlayID: "2-2-2", PlayedSec: 180, At: base.Add(231 * time.Second)},
	}
	for _, ev := range events {
		if err := store.Deliver(ctx, ev); err != nil {
			t.Fatalf("Deliver %s: %v", ev.Kind, err)
		}
	}

	plays, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(plays) != 2 {
		t.Fatalf("expected 2 plays, got %d", len(plays))
	}
	if plays[0].TrackID != "b" || plays[0].Outcome != OutcomeFinished || plays[0].Played != 180 {
		t.Errorf("unexpected newest play %+v", plays[0])
	}
	if plays[1].TrackID != "a" || plays[1].Outcome != OutcomeSkipped || plays[1].Played != 50 {
		t.Errorf("unexpected oldest play %+v", plays[1])
	}
	if plays[0].SessionID != store.SessionID() {
		t.Errorf("session id mismatch")
	}
	if _, err := uuid.Parse(store.SessionID()); err != nil {
		t.Errorf("session id is not a uuid: %v", err)
	}
}

func TestHistoryLastTrackID(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()

	id, err := store.LastTrackID(ctx, "user:onyourwave")
	if err != nil || id != "" {
		t.Fatalf("expected empty resume point, got %q %v", id, err)
	}
	for _, tid := range []string{"a", "b"} {
		store.Deliver(ctx, feedback.Event{Kind: feedback.TrackStarted, StationID: "user:onyourwave", TrackID: tid, PlayID: tid})
	}
	store.Deliver(ctx, feedback.Event{Kind: feedback.TrackStarted, StationID: "genre:rock", TrackID: "z", PlayID: "z"})

	if id, _ := store.LastTrackID(ctx, "user:onyourwave"); id != "b" {
		t.Fatalf("expected b, got %q", id)
	}
	if id, _ := store.LastTrackID(ctx, "genre:rock"); id != "z" {
		t.Fatalf("expected z, got %q", id)
	}
}

func TestHistoryPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	first.Deliver(ctx, feedback.Event{Kind: feedback.TrackStarted, StationID: "s", TrackID: "a", PlayID: "p"})
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if second.SessionID() == first.SessionID() {
		t.Fatal("each open should start a new session")
	}
	if id, _ := second.LastTrackID(ctx, "s"); id != "a" {
		t.Fatalf("expected a, got %q", id)
	}

	if err := second.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	plays, _ := second.Recent(ctx, 0)
	if len(plays) != 0 {
		t.Fatalf("expected no plays after clear, got %d", len(plays))
	}
}

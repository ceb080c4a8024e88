package lyrics

import (
	"context"
	"errors"
	"testing"

	"github.com/olaradio/olaradio/internal/remote/remotetest"
)

func TestLyricsCached(t *testing.T) {
	fake := remotetest.New()
	fake.LyricsText = map[string]string{"1": "first verse"}
	svc, err := New(fake, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		text, err := svc.Get(ctx, "1", true)
		if err != nil || text != "first verse" {
			t.Fatalf("Get = %q, %v", text, err)
		}
	}
	if fake.LyricsRequests() != 1 {
		t.Fatalf("expected 1 request, got %d", fake.LyricsRequests())
	}
	if svc.Len() != 1 {
		t.Fatalf("expected 1 cached entry, got %d", svc.Len())
	}
}

func TestLyricsUnavailable(t *testing.T) {
	fake := remotetest.New()
	svc, _ := New(fake, 0, nil)
	ctx := context.Background()

	if _, err := svc.Get(ctx, "1", false); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if fake.LyricsRequests() != 0 {
		t.Fatal("unavailable lyrics must not be requested")
	}
	if _, err := svc.Get(ctx, "2", true); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for missing text, got %v", err)
	}
}

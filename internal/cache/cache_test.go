package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/olaradio/olaradio/internal/remote"
	"github.com/olaradio/olaradio/internal/remote/remotetest"
	"github.com/olaradio/olaradio/internal/track"
)

func newTrack(dir, id string) *track.Track {
	return track.New(track.Metadata{ID: id, Title: "Title " + id, ArtistName: "Artist"}, dir, "b1")
}

func TestEnsureCachedIdempotent(t *testing.T) {
	dir := t.TempDir()
	fake := remotetest.New()
	s, err := New(dir, fake, Options{})
	if err != nil {
		t.Fatal(err)
	}
	tr := newTrack(dir, "1")
	ctx := context.Background()

	if err := s.EnsureCached(ctx, tr); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !tr.Cached() || !s.Exists(tr) {
		t.Fatal("track should be cached")
	}
	if err := s.EnsureCached(ctx, tr); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if got := fake.Downloads(); len(got) != 1 {
		t.Fatalf("expected one download, got %v", got)
	}

	// A fresh instance of the same song reuses the file.
	again := newTrack(dir, "1")
	if err := s.EnsureCached(ctx, again); err != nil {
		t.Fatal(err)
	}
	if !again.Cached() || len(fake.Downloads()) != 1 {
		t.Fatal("existing file should be reused")
	}
}

func TestEnsureCachedFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	fake := remotetest.New()
	fake.DownloadErr = map[string]error{"1": remote.ErrNetwork}
	s, _ := New(dir, fake, Options{})
	tr := newTrack(dir, "1")

	err := s.EnsureCached(context.Background(), tr)
	if !remote.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
	if tr.Cached() {
		t.Fatal("failed download must not mark cached")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty cache dir, found %d entries", len(entries))
	}
}

func TestConcurrentEnsureDownloadsOnce(t *testing.T) {
	dir := t.TempDir()
	fake := remotetest.New()
	gate := make(chan struct{})
	fake.DownloadGate = gate
	s, _ := New(dir, fake, Options{})
	ctx := context.Background()

	a := s.Prefetch(ctx, newTrack(dir, "1"))
	b := s.Prefetch(ctx, newTrack(dir, "1"))
	close(gate)
	if err := a.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if got := fake.Downloads(); len(got) != 1 {
		t.Fatalf("expected one download, got %v", got)
	}
}

func TestPrefetchWaitAndCancel(t *testing.T) {
	dir := t.TempDir()
	fake := remotetest.New()
	fake.DownloadGate = make(chan struct{})
	s, _ := New(dir, fake, Options{})
	tr := newTrack(dir, "1")

	d := s.Prefetch(context.Background(), tr)
	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	d.Cancel()
	if err := d.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if s.Exists(tr) {
		t.Fatal("cancelled download must not leave a file")
	}
}

func TestEnsureCachedRecreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "music")
	fake := remotetest.New()
	s, err := New(dir, fake, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	tr := newTrack(dir, "1")
	if err := s.EnsureCached(context.Background(), tr); err != nil {
		t.Fatalf("ensure after the directory vanished: %v", err)
	}
	if !s.Exists(tr) || !tr.Cached() {
		t.Fatal("track should be cached in the recreated directory")
	}
}

func TestRemoveWaitsForInFlightDownload(t *testing.T) {
	dir := t.TempDir()
	fake := remotetest.New()
	gate := make(chan struct{})
	fake.DownloadGate = gate
	s, _ := New(dir, fake, Options{})
	tr := newTrack(dir, "1")
	ctx := context.Background()

	d := s.Prefetch(ctx, tr)
	for len(fake.Downloads()) == 0 {
		time.Sleep(time.Millisecond)
	}

	removed := make(chan error, 1)
	go func() { removed <- s.Remove(ctx, tr) }()

	select {
	case <-removed:
		t.Fatal("remove must wait for the download")
	case <-time.After(30 * time.Millisecond):
	}

	close(gate)
	if err := d.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-removed; err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Exists(tr) || tr.Cached() {
		t.Fatal("file should be gone after remove")
	}
	if s.busy(tr) {
		t.Fatal("lock should be released")
	}
}

func TestRemoveMissingFile(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, remotetest.New(), Options{})
	if err := s.Remove(context.Background(), newTrack(dir, "x")); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
}

// id3v23 builds a minimal ID3v2.3 tag with title and artist frames.
func id3v23(title, artist string) []byte {
	frame := func(id, text string) []byte {
		var b bytes.Buffer
		b.WriteString(id)
		binary.Write(&b, binary.BigEndian, uint32(len(text)+1))
		b.Write([]byte{0, 0, 0})
		b.WriteString(text)
		return b.Bytes()
	}
	body := append(frame("TIT2", title), frame("TPE1", artist)...)
	size := len(body)
	var out bytes.Buffer
	out.WriteString("ID3")
	out.Write([]byte{3, 0, 0})
	out.Write([]byte{byte(size >> 21 & 0x7f), byte(size >> 14 & 0x7f), byte(size >> 7 & 0x7f), byte(size & 0x7f)})
	out.Write(body)
	out.Write(make([]byte, 64))
	return out.Bytes()
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, remotetest.New(), Options{})

	os.WriteFile(filepath.Join(dir, "Band - Song.mp3"), []byte("not a tagged file"), 0o644)
	os.WriteFile(filepath.Join(dir, "whatever.mp3"), id3v23("Tagged Title", "Tagged Artist"), 0o644)
	os.WriteFile(filepath.Join(dir, "Band - Other.mp3.part"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[0].Artist != "Band" || entries[0].Title != "Song" {
		t.Errorf("filename fallback: %+v", entries[0])
	}
	if entries[1].Artist != "Tagged Artist" || entries[1].Title != "Tagged Title" {
		t.Errorf("tags: %+v", entries[1])
	}
	total, err := s.Size()
	if err != nil || total != entries[0].Size+entries[1].Size {
		t.Fatalf("size = %d, %v", total, err)
	}
}

func TestNewRejectsEmptyDir(t *testing.T) {
	if _, err := New("", remotetest.New(), Options{}); err == nil {
		t.Fatal("expected error")
	}
}

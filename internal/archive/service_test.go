package archive

import (
	"fmt"
	"sync"
	"testing"
)

func testSnapshot(title string, stepTitles ...string) Snapshot {
	steps := make([]SnapshotStep, 0, len(stepTitles))
	for i, st := range stepTitles {
		steps = append(steps, SnapshotStep{
			StepNumber:  i + 1,
			Title:       st,
			Description: "Do " + st + " carefully.",
		})
	}
	return Snapshot{
		ID:        "sop-1",
		Title:     title,
		Category:  "Safety",
		Purpose:   "Keep residents safe during a fire.",
		Frequency: "quarterly",
		Steps:     steps,
	}
}

func TestPublishLifecycle(t *testing.T) {
	svc := New(t.TempDir())

	first, err := svc.CommitSnapshot("sop-1", testSnapshot("Fire Drill", "Sound alarm", "Evacuate"), "Dana Admin", "Publish v1")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if first.Hash == "" || first.Author != "Dana Admin" {
		t.Fatalf("CommitSnapshot() = %+v, want hash and author set", first)
	}

	second, err := svc.CommitSnapshot("sop-1", testSnapshot("Fire Drill", "Sound alarm", "Evacuate", "Count heads"), "Dana Admin", "Publish v2")
	if err != nil {
		t.Fatalf("CommitSnapshot() second error = %v", err)
	}
	if second.Hash == first.Hash {
		t.Fatalf("expected distinct commit hashes, both %q", first.Hash)
	}

	history, err := svc.History("sop-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d commits, want 2", len(history))
	}
	if history[0].Message != "Publish v2" || history[1].Message != "Publish v1" {
		t.Fatalf("History() order = %q, %q, want newest first", history[0].Message, history[1].Message)
	}

	snap, head, err := svc.HeadSnapshot("sop-1")
	if err != nil {
		t.Fatalf("HeadSnapshot() error = %v", err)
	}
	if head.Hash != second.Hash {
		t.Fatalf("HeadSnapshot() hash = %q, want %q", head.Hash, second.Hash)
	}
	if len(snap.Steps) != 3 || snap.Steps[2].Title != "Count heads" {
		t.Fatalf("HeadSnapshot() steps = %+v, want the v2 step list", snap.Steps)
	}
}

func TestRepublishUnchangedContentStillCommits(t *testing.T) {
	svc := New(t.TempDir())
	snap := testSnapshot("Med Pass", "Verify MAR")

	if _, err := svc.CommitSnapshot("sop-1", snap, "Dana Admin", "Publish"); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if _, err := svc.CommitSnapshot("sop-1", snap, "Morgan Manager", "Republish"); err != nil {
		t.Fatalf("CommitSnapshot() republish error = %v", err)
	}

	history, err := svc.History("sop-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d commits, want 2", len(history))
	}
	if history[0].Author != "Morgan Manager" {
		t.Fatalf("History()[0].Author = %q, want republisher", history[0].Author)
	}
}

func TestHistoryForNeverPublishedSOP(t *testing.T) {
	svc := New(t.TempDir())

	history, err := svc.History("sop-unknown", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("History() returned %d commits for a never-published SOP, want 0", len(history))
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := New(t.TempDir())
	for i := 1; i <= 5; i++ {
		msg := fmt.Sprintf("Publish v%d", i)
		if _, err := svc.CommitSnapshot("sop-1", testSnapshot("Fire Drill", "Step"), "Dana Admin", msg); err != nil {
			t.Fatalf("CommitSnapshot() %d error = %v", i, err)
		}
	}

	history, err := svc.History("sop-1", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d commits, want limit of 2", len(history))
	}
	if history[0].Message != "Publish v5" {
		t.Fatalf("History()[0].Message = %q, want latest publish", history[0].Message)
	}
}

func TestConcurrentPublishSameSOP(t *testing.T) {
	svc := New(t.TempDir())
	const writers = 12

	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			msg := fmt.Sprintf("Publish run %d", n)
			if _, err := svc.CommitSnapshot("sop-1", testSnapshot("Fire Drill", "Step"), "Dana Admin", msg); err != nil {
				errCh <- fmt.Errorf("writer %d: %w", n, err)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent CommitSnapshot() error = %v", err)
	}

	history, err := svc.History("sop-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("History() returned %d commits, want %d", len(history), writers)
	}
}

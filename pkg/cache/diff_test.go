package cache

import (
	"errors"
	"strings"
	"testing"
)

func TestLineDiff(t *testing.T) {
	if d, err := LineDiff("a", "b", "same", "same"); err != nil || d != "" {
		t.Fatalf("expected empty diff, got %q err=%v", d, err)
	}
	got, err := LineDiff("k:1", "k:2", "Hello\nWorld\nBye", "Hello\nEveryone\nBye")
	if err != nil {
		t.Fatal(err)
	}
	want := "--- k:1\n+++ k:2\n@@ -1,3 +1,3 @@\n Hello\n-World\n+Everyone\n Bye\n"
	if got != want {
		t.Fatalf("diff mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
	got, err = LineDiff("x", "y", "a", "a\nb")
	if err != nil {
		t.Fatal(err)
	}
	if want := "--- x\n+++ y\n@@ -1 +1,2 @@\n a\n+b\n"; got != want {
		t.Fatalf("append diff\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestLineDiffRejectsHugeInput(t *testing.T) {
	big := strings.Repeat("line\n", maxDiffLines+1)
	if _, err := LineDiff("a", "b", big, "x"); !errors.Is(err, ErrDiffTooLarge) {
		t.Fatalf("err=%v want ErrDiffTooLarge", err)
	}
	ok := strings.Repeat("line\n", maxDiffLines-1)
	if _, err := LineDiff("a", "b", ok, ok+"tail"); err != nil {
		t.Fatalf("diff at the limit: %v", err)
	}
}

func TestStoreDiff(t *testing.T) {
	s := newTestStore(t, openBackend(t), newTestClock())
	mustSave(t, s, "song", "la\nla")
	mustSave(t, s, "song", "la\nli")

	d, ok, err := s.Diff(t.Context(), "song", 1, 2)
	if err != nil || !ok {
		t.Fatalf("diff: ok=%v err=%v", ok, err)
	}
	if want := "--- song:1\n+++ song:2\n@@ -1,2 +1,2 @@\n la\n-la\n+li\n"; d != want {
		t.Fatalf("diff mismatch\ngot:\n%s\nwant:\n%s", d, want)
	}

	if _, ok, err := s.Diff(t.Context(), "song", 1, 3); err != nil || ok {
		t.Fatalf("missing version: ok=%v err=%v", ok, err)
	}
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/wilhg/lyrcache/pkg/store"
)

// maxDiffLines bounds the line count of either side of a diff.
const maxDiffLines = 10000

// ErrDiffTooLarge reports contents with more lines than a diff accepts.
var ErrDiffTooLarge = errors.New("cache: content too large to diff")

// Diff returns a unified diff from version `from` to version `to` of id. ok is
// false when either version is missing or expired. Identical contents yield
// an empty diff.
func (s *Store) Diff(ctx context.Context, id string, from, to int64) (diff string, ok bool, err error) {
	a, ok, err := s.GetVersion(ctx, id, from)
	if err != nil || !ok {
		return "", ok, err
	}
	b, ok, err := s.GetVersion(ctx, id, to)
	if err != nil || !ok {
		return "", ok, err
	}
	diff, err = LineDiff(store.VersionKey(id, from), store.VersionKey(id, to), a.Content, b.Content)
	if err != nil {
		return "", false, err
	}
	return diff, true, nil
}

// LineDiff compares a and b line by line and renders a unified diff with
// three lines of context. Inputs over maxDiffLines lines fail with
// ErrDiffTooLarge.
func LineDiff(nameA, nameB, a, b string) (string, error) {
	if a == b {
		return "", nil
	}
	al := splitLines(a)
	bl := splitLines(b)
	if n := max(len(al), len(bl)); n > maxDiffLines {
		return "", fmt.Errorf("%w: %d lines, limit %d", ErrDiffTooLarge, n, maxDiffLines)
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        al,
		B:        bl,
		FromFile: nameA,
		ToFile:   nameB,
		Context:  3,
	})
}

// splitLines splits s on newlines, keeping the terminator on every line so
// the rendered diff ends each line with one.
func splitLines(s string) []string {
	lines := strings.SplitAfter(s, "\n")
	if last := len(lines) - 1; lines[last] == "" {
		lines = lines[:last]
	} else {
		lines[last] += "\n"
	}
	return lines
}

// Package view derives what presentation displays from the reconciled
// sequence of entries.
package view

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/width"

	"github.com/roach88/wins/internal/win"
)

// Project returns the display sequence for entries. The input is already in
// display order (newest first), so projection is a copy: callers may keep
// the result while the source keeps changing. Calling Project twice on an
// unchanged input yields equal output.
func Project(entries []win.Entry) []win.Entry {
	out := make([]win.Entry, len(entries))
	copy(out, entries)
	return out
}

// Marker glyphs used by Render.
const (
	markSaved  = "[x]"
	markSaving = "[~]"
	markFailed = "[!]"
)

// Render writes one line per entry:
//
//	[x] 2026-05-01T10:05:00.000Z  general  shipped the release
//	[~] 2026-05-01T10:06:00.000Z  health   ran 5k (saving)
//	[!] 2026-05-01T10:07:00.000Z  general  call mom (not saved: <reason>)
//
// The category column is padded to the widest category in entries, measured
// in terminal columns.
func Render(w io.Writer, entries []win.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No wins yet.")
		return err
	}

	col := 0
	for _, e := range entries {
		col = max(col, displayWidth(category(e)))
	}

	for _, e := range entries {
		var line string
		switch e := e.(type) {
		case win.Durable:
			line = fmt.Sprintf("%s %s  %s  %s", markSaved, e.CreatedAt, pad(e.Category, col), e.Title)
		case win.Optimistic:
			if e.State == win.StateFailed {
				line = fmt.Sprintf("%s %s  %s  %s (not saved: %v)", markFailed, e.CreatedAt, pad(e.Category, col), e.Title, e.Err)
			} else {
				line = fmt.Sprintf("%s %s  %s  %s (saving)", markSaving, e.CreatedAt, pad(e.Category, col), e.Title)
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func category(e win.Entry) string {
	switch e := e.(type) {
	case win.Durable:
		return e.Category
	case win.Optimistic:
		return e.Category
	}
	return ""
}

// displayWidth counts terminal columns. Wide and fullwidth runes take two.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

func pad(s string, col int) string {
	return s + strings.Repeat(" ", col-displayWidth(s))
}

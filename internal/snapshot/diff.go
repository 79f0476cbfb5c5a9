package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType marks a diff line as unchanged, added or removed.
type LineType int

const (
	LineContext LineType = iota
	LineAdded
	LineRemoved
)

// DiffLine is one line of a snapshot diff.
type DiffLine struct {
	Type    LineType
	Content string // Line content without trailing newline
}

// Canonical renders doc as indented JSON with sorted keys, one value per line,
// so equal documents always render identically.
func Canonical(doc map[string]any) (string, error) {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render snapshot: %w", err)
	}
	return string(out) + "\n", nil
}

// Diff compares the canonical renderings of two documents line by line.
func Diff(oldDoc, newDoc map[string]any) ([]DiffLine, error) {
	oldText, err := Canonical(oldDoc)
	if err != nil {
		return nil, err
	}
	newText, err := Canonical(newDoc)
	if err != nil {
		return nil, err
	}
	return DiffText(oldText, newText), nil
}

// DiffText runs a line-mode diff over two texts.
func DiffText(oldText, newText string) []DiffLine {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var out []DiffLine
	for _, d := range diffs {
		var lt LineType
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			lt = LineContext
		case diffmatchpatch.DiffInsert:
			lt = LineAdded
		case diffmatchpatch.DiffDelete:
			lt = LineRemoved
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out = append(out, DiffLine{Type: lt, Content: strings.TrimSuffix(line, "\n")})
		}
	}
	return out
}

// Changed reports whether any line was added or removed.
func Changed(lines []DiffLine) bool {
	for _, l := range lines {
		if l.Type != LineContext {
			return true
		}
	}
	return false
}

// Stats counts added and removed lines.
func Stats(lines []DiffLine) (added, removed int) {
	for _, l := range lines {
		switch l.Type {
		case LineAdded:
			added++
		case LineRemoved:
			removed++
		}
	}
	return added, removed
}

package inspect

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/odvcencio/burrow/pkg/object"
)

// Op classifies one line of an edit script.
type Op int

const (
	Keep Op = iota
	Add
	Remove
)

// Edit is one line of an edit script.
type Edit struct {
	Op   Op
	Line string
}

// Diff returns the shortest edit script turning a into b (Myers, whole
// lines, O((N+M)·D)).
func Diff(a, b []string) []Edit {
	n, m := len(a), len(b)
	limit := n + m
	if limit == 0 {
		return nil
	}

	// frontier[k+limit] is the furthest x reached on diagonal k. One copy
	// is kept per edit distance for the backward pass.
	frontier := make([]int, 2*limit+2)
	var history [][]int
	for d := 0; d <= limit; d++ {
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && frontier[k-1+limit] < frontier[k+1+limit]) {
				x = frontier[k+1+limit]
			} else {
				x = frontier[k-1+limit] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x, y = x+1, y+1
			}
			frontier[k+limit] = x
			if x >= n && y >= m {
				history = append(history, append([]int(nil), frontier...))
				return unwind(history, a, b)
			}
		}
		history = append(history, append([]int(nil), frontier...))
	}
	return nil
}

func unwind(history [][]int, a, b []string) []Edit {
	limit := len(a) + len(b)
	x, y := len(a), len(b)
	var rev []Edit
	for d := len(history) - 1; d > 0; d-- {
		prev := history[d-1]
		k := x - y
		var pk int
		if k == -d || (k != d && prev[k-1+limit] < prev[k+1+limit]) {
			pk = k + 1
		} else {
			pk = k - 1
		}
		px := prev[pk+limit]
		py := px - pk
		for x > px && y > py {
			x, y = x-1, y-1
			rev = append(rev, Edit{Op: Keep, Line: a[x]})
		}
		if pk == k-1 {
			x--
			rev = append(rev, Edit{Op: Remove, Line: a[x]})
		} else {
			y--
			rev = append(rev, Edit{Op: Add, Line: b[y]})
		}
	}
	for x > 0 && y > 0 {
		x, y = x-1, y-1
		rev = append(rev, Edit{Op: Keep, Line: a[x]})
	}

	out := make([]Edit, len(rev))
	for i, e := range rev {
		out[len(rev)-1-i] = e
	}
	return out
}

// Changed reports whether the script contains any addition or removal.
func Changed(edits []Edit) bool {
	for _, e := range edits {
		if e.Op != Keep {
			return true
		}
	}
	return false
}

// Headers diffs the rendered forms of two archive headers.
func Headers(a, b *object.Header) []Edit {
	return Diff(Lines(a), Lines(b))
}

// Format writes the script with "+", "-" and " " prefixes, labelled like a
// unified diff header.
func Format(from, to string, edits []Edit) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s\n+++ %s\n", from, to)
	for _, e := range edits {
		prefix := " "
		switch e.Op {
		case Add:
			prefix = "+"
		case Remove:
			prefix = "-"
		}
		buf.WriteString(prefix)
		buf.WriteString(strings.TrimRight(e.Line, "\n"))
		buf.WriteByte('\n')
	}
	return buf.String()
}

// Package inspect renders archive headers as text and compares them.
package inspect

import (
	"fmt"
	"strings"

	"github.com/odvcencio/burrow/pkg/object"
)

// Lines renders the generic part of an archive, one fact per line, in a
// stable order suitable for diffing.
func Lines(h *object.Header) []string {
	out := []string{
		fmt.Sprintf("format   %d.%d", h.Major, h.Minor),
		"class    " + h.Ancestry,
	}
	if h.Module != "" {
		out = append(out, "module   "+h.Module)
	}
	out = append(out, "flags    "+h.Flags.String())

	levels := make([]string, len(h.Dataset.Levels))
	for i, v := range h.Dataset.Levels {
		levels[i] = v.String()
	}
	out = append(out, "dataset  "+strings.Join(levels, " "))

	for i, p := range h.Deps {
		out = append(out, fmt.Sprintf("dep %d    %s", i, p))
	}
	if h.Vars != nil {
		for _, name := range h.Vars.Names() {
			v := h.Vars.Lookup(name)
			out = append(out, fmt.Sprintf("var      %s %s = %v", name, v.Kind(), v.Value()))
		}
	}
	for _, c := range h.Children {
		out = append(out, fmt.Sprintf("child    %s %s", c.Name, c.Ancestry))
	}
	return out
}

// Package diag centralizes structured value dumps for debugging: test
// failure output and the "top -v" verbose task dump, both rendered with
// go-spew rather than fmt's default %+v (which elides unexported fields
// and collapses pointer cycles).
package diag

import (
	"io"

	"github.com/davecgh/go-spew/spew"
)

// Dump writes a deep, field-by-field rendering of v to w.
func Dump(w io.Writer, v any) {
	spew.Fdump(w, v)
}

// Sdump returns Dump's output as a string, for embedding in test
// failure messages.
func Sdump(v any) string {
	return spew.Sdump(v)
}

// Package stream assembles streamed model output into a growing full text.
//
// Backends disagree on what a streamed chunk means: some send only the new
// characters (deltas), others resend everything produced so far. Assembler
// infers the convention per chunk, and SSEParser decodes OpenAI-style
// Server-Sent-Events bodies into content fragments.
package stream

import "strings"

// Assembler reconstructs the full text of one generation. It is not safe for
// concurrent use; each generation owns one.
type Assembler struct {
	prev string
	acc  string
}

// Ingest folds one fragment into the running text and returns the current
// full text.
//
// A fragment is treated as a delta when it is shorter than the text gathered
// so far, or when it does not extend the previous fragment. Otherwise it is
// taken as the whole text so far and replaces it. This is a heuristic over
// observed backend behaviour, not a protocol guarantee.
func (a *Assembler) Ingest(fragment string) string {
	delta := (a.acc != "" && len(fragment) < len(a.acc)) || !strings.HasPrefix(fragment, a.prev)
	if delta {
		a.acc += fragment
	} else {
		a.acc = fragment
	}
	a.prev = fragment
	return a.acc
}

// Text returns the current full text.
func (a *Assembler) Text() string { return a.acc }

// Final returns the finished text. The assembler may be discarded afterwards.
func (a *Assembler) Final() string { return a.acc }

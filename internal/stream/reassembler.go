// Package stream recovers JSON object boundaries from an unframed byte stream.
package stream

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// filler is the padding byte the game server places between and after messages.
const filler = 0x00

// Result is the outcome of feeding one payload chunk.
type Result struct {
	Chunk      string   // Decoded chunk text
	Suppressed bool     // Chunk discarded as a retransmitted duplicate
	Tokens     []string // Complete objects extracted by this pass, in stream order
}

// Option configures a Reassembler.
type Option func(*Reassembler)

// WithoutDuplicateSuppression disables the tail-match duplicate check.
func WithoutDuplicateSuppression() Option {
	return func(r *Reassembler) { r.suppress = false }
}

// Reassembler accumulates chunks and cuts complete JSON objects out of them.
// It is not safe for concurrent use; the owning session serializes access.
type Reassembler struct {
	buf      []byte
	last     string // last token extracted, parsed or not
	armed    bool   // duplicate suppression active
	suppress bool
}

// New creates an empty reassembler.
func New(opts ...Option) *Reassembler {
	r := &Reassembler{suppress: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Feed decodes payload, applies the duplicate check, appends it to the buffer
// and returns every object completed by it.
func (r *Reassembler) Feed(payload []byte) Result {
	chunk := Decode(payload)
	res := Result{Chunk: chunk}

	if r.isDuplicate(chunk) {
		res.Suppressed = true
		return res
	}

	r.buf = append(r.buf, chunk...)
	var rest []byte
	res.Tokens, rest = Extract(r.buf)
	r.buf = append(r.buf[:0], rest...)
	if n := len(res.Tokens); n > 0 {
		r.last = res.Tokens[n-1]
	}
	return res
}

// Arm activates duplicate suppression. Callers arm after the first token that
// parses; later chunks are compared against the last extracted token whether
// or not it parsed.
func (r *Reassembler) Arm() {
	r.armed = true
}

// Armed reports whether duplicate suppression is active.
func (r *Reassembler) Armed() bool {
	return r.armed
}

// Len returns the number of buffered bytes awaiting completion.
func (r *Reassembler) Len() int {
	return len(r.buf)
}

// Pending returns a copy of the buffered partial object.
func (r *Reassembler) Pending() string {
	return string(r.buf)
}

// Reset drops the buffer and the duplicate reference.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.last = ""
	r.armed = false
}

func (r *Reassembler) isDuplicate(chunk string) bool {
	if !r.suppress || !r.armed {
		return false
	}
	if len(chunk) > len(r.last) {
		return false
	}
	return strings.HasSuffix(r.last, chunk)
}

// Decode strips filler bytes and converts the payload to UTF-8 text, replacing
// invalid sequences with U+FFFD.
func Decode(payload []byte) string {
	clean := payload
	if bytes.IndexByte(payload, filler) >= 0 {
		clean = bytes.ReplaceAll(payload, []byte{filler}, nil)
	}
	if utf8.Valid(clean) {
		return string(clean)
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(clean)
	if err != nil {
		return strings.ToValidUTF8(string(clean), "\uFFFD")
	}
	return string(out)
}

// Extract scans buf once and returns every brace-balanced object plus the
// unconsumed remainder: the start of an in-progress object, or nothing.
// Braces inside string literals are ignored; a closing brace at depth zero is
// stray and skipped.
func Extract(buf []byte) (tokens []string, rest []byte) {
	var (
		inString bool
		escaped  bool
		depth    int
		start    int
	)

	for i, c := range buf {
		if c == '"' && !escaped {
			inString = !inString
		}

		if inString {
			if c == '\\' && !escaped {
				escaped = true
			} else {
				escaped = false
			}
			continue
		}

		switch c {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				tokens = append(tokens, string(buf[start:i+1]))
			}
		}
	}

	if depth > 0 {
		return tokens, buf[start:]
	}
	return tokens, nil
}

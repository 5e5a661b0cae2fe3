package secret

import (
	"io"
	"sort"
	"strings"
	"sync"
)

// Mask replaces secret values in captured output.
const Mask = "***"

// Redactor rewrites secret values to Mask before output reaches disk.
// Values shorter than four characters are ignored; masking them would leak
// more through position than it hides.
type Redactor struct {
	values []string
}

// NewRedactor builds a redactor over the provided secret values. Longer
// values are replaced first so overlapping secrets never leave fragments.
// Multi-line values (PEM keys, JSON credential blobs) are additionally
// masked line by line, because captured output is flushed per line and the
// full value never appears in a single chunk.
func NewRedactor(values ...string) *Redactor {
	filtered := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	add := func(value string) {
		if len(value) >= 4 && !seen[value] {
			seen[value] = true
			filtered = append(filtered, value)
		}
	}
	for _, value := range values {
		add(value)
		if strings.ContainsAny(value, "\r\n") {
			for _, line := range strings.FieldsFunc(value, isLineBreak) {
				add(line)
			}
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return len(filtered[i]) > len(filtered[j]) })
	return &Redactor{values: filtered}
}

func isLineBreak(r rune) bool {
	return r == '\n' || r == '\r'
}

// Redact returns s with every known secret value masked.
func (r *Redactor) Redact(s string) string {
	if r == nil || len(r.values) == 0 {
		return s
	}
	for _, value := range r.values {
		s = strings.ReplaceAll(s, value, Mask)
	}
	return s
}

// Writer wraps w so that everything written through it is redacted line by
// line. Partial lines are buffered until a newline or Close.
func (r *Redactor) Writer(w io.Writer) io.WriteCloser {
	return &redactingWriter{redactor: r, dst: w}
}

type redactingWriter struct {
	redactor *Redactor
	dst      io.Writer
	mu       sync.Mutex
	pending  strings.Builder
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending.Write(p)
	buffered := w.pending.String()
	idx := strings.LastIndexByte(buffered, '\n')
	if idx < 0 {
		return len(p), nil
	}
	complete, rest := buffered[:idx+1], buffered[idx+1:]
	w.pending.Reset()
	w.pending.WriteString(rest)
	if _, err := io.WriteString(w.dst, w.redactor.Redact(complete)); err != nil {
		return len(p), err
	}
	return len(p), nil
}

// Close flushes any buffered partial line.
func (w *redactingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending.Len() == 0 {
		return nil
	}
	remainder := w.pending.String()
	w.pending.Reset()
	_, err := io.WriteString(w.dst, w.redactor.Redact(remainder))
	return err
}

package redaction

import "io"

// Writer redacts each chunk before passing it on. Secrets split across two
// Write calls are not detected.
type Writer struct {
	w        io.Writer
	redactor *Redactor
}

// NewWriter wraps w. A nil redactor passes data through untouched.
func NewWriter(w io.Writer, redactor *Redactor) *Writer {
	return &Writer{w: w, redactor: redactor}
}

// Write reports len(p) on success even when the redacted output differs in length.
func (w *Writer) Write(p []byte) (int, error) {
	if w.redactor == nil {
		return w.w.Write(p)
	}
	if _, err := io.WriteString(w.w, w.redactor.ScrubString(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

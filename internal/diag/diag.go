// Package diag collects and prints compiler diagnostics. A single Reporter
// is threaded through the frontend, the IR builders, and the lowering passes
// so every stage attaches messages to source positions from one FileSet.
package diag

import (
	"encoding/json"
	"fmt"
	"go/token"
	"io"
	"sync"
)

// Severity classifies a diagnostic message.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic is one reported message with an optional source position.
type Diagnostic struct {
	Severity Severity
	Pos      token.Pos
	Message  string
}

// Reporter accumulates diagnostics and writes them to an output stream in
// either "text" or "json" format.
type Reporter struct {
	mu       sync.Mutex
	w        io.Writer
	format   string
	fset     *token.FileSet
	messages []Diagnostic
	errors   int
	warnings int
}

// NewReporter returns a reporter writing to w. format is "text" or "json";
// anything else falls back to "text".
func NewReporter(w io.Writer, format string) *Reporter {
	if format != "json" {
		format = "text"
	}
	return &Reporter{w: w, format: format}
}

// SetFileSet installs the FileSet used to resolve positions. Diagnostics
// reported before the FileSet is known are printed without file locations.
func (r *Reporter) SetFileSet(fset *token.FileSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fset = fset
}

// Error reports an error attached to pos.
func (r *Reporter) Error(pos token.Pos, msg string) {
	r.emit(Diagnostic{Severity: SeverityError, Pos: pos, Message: msg})
}

// Errorf reports an error without a source position.
func (r *Reporter) Errorf(format string, args ...any) {
	r.emit(Diagnostic{Severity: SeverityError, Pos: token.NoPos, Message: fmt.Sprintf(format, args...)})
}

// Warning reports a warning attached to pos.
func (r *Reporter) Warning(pos token.Pos, msg string) {
	r.emit(Diagnostic{Severity: SeverityWarning, Pos: pos, Message: msg})
}

// HasErrors reports whether any error-severity diagnostic was emitted.
func (r *Reporter) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors > 0
}

// ErrorCount returns the number of error-severity diagnostics.
func (r *Reporter) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

// Messages returns a copy of everything reported so far.
func (r *Reporter) Messages() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reporter) emit(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, d)
	if d.Severity == SeverityError {
		r.errors++
	} else {
		r.warnings++
	}
	if r.w == nil {
		return
	}
	if r.format == "json" {
		r.writeJSON(d)
		return
	}
	r.writeText(d)
}

func (r *Reporter) writeText(d Diagnostic) {
	loc := r.position(d.Pos)
	if loc == "" {
		fmt.Fprintf(r.w, "%s: %s\n", d.Severity, d.Message)
		return
	}
	fmt.Fprintf(r.w, "%s: %s: %s\n", loc, d.Severity, d.Message)
}

func (r *Reporter) writeJSON(d Diagnostic) {
	payload := struct {
		Severity string `json:"severity"`
		Position string `json:"position,omitempty"`
		Message  string `json:"message"`
	}{
		Severity: d.Severity.String(),
		Position: r.position(d.Pos),
		Message:  d.Message,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(r.w, "{\"severity\":%q,\"message\":%q}\n", d.Severity.String(), d.Message)
		return
	}
	r.w.Write(data)
	io.WriteString(r.w, "\n")
}

func (r *Reporter) position(pos token.Pos) string {
	if r.fset == nil || !pos.IsValid() {
		return ""
	}
	return r.fset.Position(pos).String()
}

package agent

import (
	"fmt"
	"io"
	"sync"
)

// Renderer shows agent output to the user.
type Renderer interface {
	Message(role, text string)
	Error(text string)
}

// WriterRenderer prints one line per message.
type WriterRenderer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterRenderer(w io.Writer) *WriterRenderer {
	return &WriterRenderer{w: w}
}

func (r *WriterRenderer) Message(role, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "%s> %s\n", role, text)
}

func (r *WriterRenderer) Error(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "! %s\n", text)
}

type nopRenderer struct{}

func (nopRenderer) Message(string, string) {}
func (nopRenderer) Error(string)           {}

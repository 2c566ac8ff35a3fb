package terminal

import (
	"io"
	"sync"
)

const (
	seqClearLine   = "\r\033[K"
	seqClearScreen = "\033[2J\033[H"
	prompt         = "> "
)

// screen serializes writes to the terminal; the session writer and the input echo
// run on different goroutines.
type screen struct {
	mu sync.Mutex
	w  io.Writer
}

func newScreen(w io.Writer) *screen {
	return &screen{w: w}
}

func (s *screen) writeString(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := io.WriteString(s.w, text)
	return err
}

func (s *screen) Clear() error {
	return s.writeString(seqClearScreen)
}

func (s *screen) ControlAck(label string) error {
	return s.writeString(seqClearLine + label + "\r\n")
}

// Message prints msg on its own line and redraws the prompt with the pending input.
func (s *screen) Message(msg, pending string) error {
	return s.writeString(seqClearLine + msg + "\r\n" + prompt + pending)
}

func (s *screen) Prompt(pending string) error {
	return s.writeString(seqClearLine + prompt + pending)
}

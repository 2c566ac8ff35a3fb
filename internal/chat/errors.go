package chat

import "errors"

var (
	// ErrNameTaken is returned when a join or rename targets a name that another session owns.
	ErrNameTaken = errors.New("chat: name already taken")
	// ErrEmptyName is returned when a join or rename targets a blank name.
	ErrEmptyName = errors.New("chat: empty name")
	// ErrNotMember is returned when an operation needs a session that is not registered.
	ErrNotMember = errors.New("chat: session is not registered")
	// ErrSessionClosed is returned when a session that already left tries to join.
	ErrSessionClosed = errors.New("chat: session already left")
)

// UsageError reports a malformed command. Usage is sent back to the sender verbatim.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return e.Usage
}

func usageError(usage string) *UsageError {
	return &UsageError{Usage: usage}
}

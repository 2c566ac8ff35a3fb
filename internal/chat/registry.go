package chat

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultFallbackName is the base of generated names: anonymous, anonymous(1), anonymous(2), ...
const DefaultFallbackName = "anonymous"

// Registry maps display names to sessions. Every operation runs under one mutex so
// membership changes and fan-outs are linearized. Delivery only enqueues onto the
// recipient's mailbox, so the lock is never held across a network write.
type Registry struct {
	mu      sync.Mutex
	members map[string]*Session

	fallback string
	log      zerolog.Logger
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = logger
	}
}

// WithFallbackName overrides the base used for generated names.
func WithFallbackName(name string) Option {
	return func(r *Registry) {
		if name = strings.TrimSpace(name); name != "" {
			r.fallback = name
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		members:  make(map[string]*Session),
		fallback: DefaultFallbackName,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JoinUnique assigns s the first free generated name and registers it, announcing the
// join to every other member. Name generation and insert share one critical section.
// A session that already left is refused with ErrSessionClosed.
func (r *Registry) JoinUnique(s *Session) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.admitLocked(s); err != nil {
		return "", err
	}
	name := r.uniqueNameLocked()
	r.joinLocked(name, s)
	return name, nil
}

// Join registers s under name. It refuses a name another session already owns.
func (r *Registry) Join(name string, s *Session) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.members[name]; taken {
		return fmt.Errorf("join %q: %w", name, ErrNameTaken)
	}
	if err := r.admitLocked(s); err != nil {
		return err
	}
	r.joinLocked(name, s)
	return nil
}

// admitLocked moves s from connecting to named. Leave stores its state before taking
// the registry lock, so a session that left first can never be registered.
func (r *Registry) admitLocked(s *Session) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateNamed)) {
		return fmt.Errorf("join %s: %w", s.State(), ErrSessionClosed)
	}
	return nil
}

func (r *Registry) joinLocked(name string, s *Session) {
	s.setName(name)
	r.members[name] = s

	notice := joinedNotice(name, len(r.members))
	r.log.Info().Str("member", name).Int("count", len(r.members)).Msg(notice)
	r.broadcastLocked(notice, s)
	r.logMembersLocked()
}

// Leave removes s under its current name and announces the departure to the remaining
// members. A session that is not registered is only logged, so repeated teardown is safe.
func (r *Registry) Leave(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if current, ok := r.members[name]; !ok || current != s {
		r.log.Info().Str("member", name).Msg("attempted to remove non-existent member")
		return false
	}
	delete(r.members, name)

	notice := leftNotice(name, len(r.members))
	r.log.Info().Str("member", name).Int("count", len(r.members)).Msg(notice)
	r.broadcastLocked(notice, nil)
	r.logMembersLocked()
	return true
}

// Rename moves s from its current name to newName and announces it to every other
// member. The availability check, the insert and the announcement happen in the same
// critical section, so of two concurrent renames to one free name exactly one succeeds.
func (r *Registry) Rename(s *Session, newName string) (string, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return "", ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	oldName := s.Name()
	if current, ok := r.members[oldName]; !ok || current != s {
		return "", fmt.Errorf("rename %q: %w", oldName, ErrNotMember)
	}
	if _, taken := r.members[newName]; taken {
		return "", fmt.Errorf("rename %q to %q: %w", oldName, newName, ErrNameTaken)
	}

	delete(r.members, oldName)
	r.members[newName] = s
	s.setName(newName)

	notice := renamedNotice(oldName, newName)
	r.log.Info().Str("old", oldName).Str("new", newName).Msg(notice)
	r.broadcastLocked(notice, s)
	r.logMembersLocked()
	return oldName, nil
}

// Broadcast enqueues msg for every member except exclude and returns how many
// mailboxes accepted it. A non-nil exclude marks a relayed user message, which is
// also logged.
func (r *Registry) Broadcast(msg string, exclude *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if exclude != nil {
		r.log.Info().Str("from", exclude.Name()).Msg(msg)
	}
	return r.broadcastLocked(msg, exclude)
}

func (r *Registry) broadcastLocked(msg string, exclude *Session) int {
	delivered := 0
	for _, name := range r.namesLocked() {
		member := r.members[name]
		if member == exclude {
			continue
		}
		if member.Deliver(msg) {
			delivered++
		}
	}
	return delivered
}

// SendTo delivers msg to the member registered under name. It reports false when no
// such member exists.
func (r *Registry) SendTo(name, msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendLocked(name, msg)
}

// SendToEach delivers msg to every named member in one critical section and returns
// the names that are not registered, in order. A repeated name is handled each time.
func (r *Registry) SendToEach(names []string, msg string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var missing []string
	for _, name := range names {
		if !r.sendLocked(name, msg) {
			missing = append(missing, name)
		}
	}
	return missing
}

func (r *Registry) sendLocked(name, msg string) bool {
	member, ok := r.members[name]
	if !ok {
		return false
	}
	r.log.Info().Str("to", name).Msg(msg)
	member.Deliver(msg)
	return true
}

// Lookup returns the session registered under name.
func (r *Registry) Lookup(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.members[name]
	return s, ok
}

// Exists reports whether name is currently registered.
func (r *Registry) Exists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.members[name]
	return ok
}

// GenerateUniqueName returns the first generated name that is free right now. It does
// not reserve the name; JoinUnique does both atomically.
func (r *Registry) GenerateUniqueName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uniqueNameLocked()
}

func (r *Registry) uniqueNameLocked() string {
	name := r.fallback
	for counter := 1; ; counter++ {
		if _, taken := r.members[name]; !taken {
			return name
		}
		name = fmt.Sprintf("%s(%d)", r.fallback, counter)
	}
}

// ListMembers returns a sorted snapshot of the registered names.
func (r *Registry) ListMembers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namesLocked()
}

// Count returns the number of registered members.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// LogMembers writes the current membership snapshot to the log.
func (r *Registry) LogMembers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logMembersLocked()
}

func (r *Registry) logMembersLocked() {
	r.log.Info().Strs("members", r.namesLocked()).Msg("current members")
}

func (r *Registry) namesLocked() []string {
	names := lo.Keys(r.members)
	sort.Strings(names)
	return names
}

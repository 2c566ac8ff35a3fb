package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

// idleSession builds a session whose writer is not running, so delivered messages
// stay in its mailbox for inspection.
func idleSession(registry *Registry, opts ...SessionOption) *Session {
	return NewSession(registry, newFakeConn(), opts...)
}

func mustJoin(t *testing.T, registry *Registry, s *Session) string {
	t.Helper()
	name, err := registry.JoinUnique(s)
	require.NoError(t, err)
	return name
}

func queued(s *Session) []string {
	var out []string
	for {
		select {
		case msg := <-s.mailbox:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestRegistryGeneratesSequentialFallbackNames(t *testing.T) {
	registry := NewRegistry()

	first := idleSession(registry)
	second := idleSession(registry)
	third := idleSession(registry)

	require.Equal(t, "anonymous", mustJoin(t, registry, first))
	require.Equal(t, "anonymous(1)", mustJoin(t, registry, second))
	require.Equal(t, "anonymous(2)", mustJoin(t, registry, third))

	require.True(t, registry.Leave(second))
	require.Equal(t, "anonymous(1)", registry.GenerateUniqueName())
	require.Equal(t, "anonymous(1)", mustJoin(t, registry, idleSession(registry)))
}

func TestRegistryConcurrentJoinsAssignUniqueNames(t *testing.T) {
	registry := NewRegistry()

	const joins = 64
	names := make([]string, joins)
	errs := make([]error, joins)

	var wg sync.WaitGroup
	for i := 0; i < joins; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			names[i], errs[i] = registry.JoinUnique(idleSession(registry))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, joins)
	for i, name := range names {
		require.NoError(t, errs[i])
		_, dup := seen[name]
		require.False(t, dup, "name %q assigned twice", name)
		seen[name] = struct{}{}
	}
	require.Equal(t, joins, registry.Count())
	require.Len(t, registry.ListMembers(), joins)
}

func TestRegistryJoinAnnouncesToOtherMembers(t *testing.T) {
	registry := NewRegistry()

	first := idleSession(registry)
	mustJoin(t, registry, first)
	require.Empty(t, queued(first))

	second := idleSession(registry)
	mustJoin(t, registry, second)

	require.Equal(t, []string{"anonymous(1) has joined the chatroom. (2 users connected)"}, queued(first))
	require.Empty(t, queued(second))
}

func TestRegistryJoinRefusesTakenName(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Join("alice", idleSession(registry)))
	require.ErrorIs(t, registry.Join("alice", idleSession(registry)), ErrNameTaken)
	require.ErrorIs(t, registry.Join("  ", idleSession(registry)), ErrEmptyName)
	require.Equal(t, []string{"alice"}, registry.ListMembers())
}

func TestRegistryLeaveIsIdempotent(t *testing.T) {
	registry := NewRegistry()

	alice := idleSession(registry)
	bob := idleSession(registry)
	require.NoError(t, registry.Join("alice", alice))
	require.NoError(t, registry.Join("bob", bob))
	queued(alice)

	require.True(t, registry.Leave(bob))
	require.False(t, registry.Leave(bob))

	require.Equal(t, []string{"bob has left the chatroom. (1 users connected)"}, queued(alice))
	require.Equal(t, []string{"alice"}, registry.ListMembers())
}

func TestRegistryLeaveDoesNotEvictNewOwnerOfName(t *testing.T) {
	registry := NewRegistry()

	old := idleSession(registry)
	require.NoError(t, registry.Join("alice", old))
	require.True(t, registry.Leave(old))

	current := idleSession(registry)
	require.NoError(t, registry.Join("alice", current))

	require.False(t, registry.Leave(old))
	session, ok := registry.Lookup("alice")
	require.True(t, ok)
	require.Same(t, current, session)
}

func TestRegistryRenameRoundTrip(t *testing.T) {
	registry := NewRegistry()

	s := idleSession(registry)
	oldName := mustJoin(t, registry, s)
	other := idleSession(registry)
	mustJoin(t, registry, other)
	queued(s)
	queued(other)

	renamedFrom, err := registry.Rename(s, "X")
	require.NoError(t, err)
	require.Equal(t, oldName, renamedFrom)
	require.Equal(t, "X", s.Name())

	members := registry.ListMembers()
	require.Contains(t, members, "X")
	require.NotContains(t, members, oldName)
	require.True(t, registry.Exists("X"))
	require.False(t, registry.Exists(oldName))

	require.Equal(t, []string{oldName + " changed their name to X"}, queued(other))
	require.Empty(t, queued(s))
}

func TestRegistryRenameRejectsTakenName(t *testing.T) {
	registry := NewRegistry()

	alice := idleSession(registry)
	bob := idleSession(registry)
	require.NoError(t, registry.Join("alice", alice))
	require.NoError(t, registry.Join("bob", bob))

	_, err := registry.Rename(bob, "alice")
	require.ErrorIs(t, err, ErrNameTaken)
	require.Equal(t, "bob", bob.Name())
	require.Equal(t, []string{"alice", "bob"}, registry.ListMembers())

	_, err = registry.Rename(idleSession(registry), "carol")
	require.ErrorIs(t, err, ErrNotMember)
}

func TestRegistryConcurrentRenamesToSameNameExactlyOneWins(t *testing.T) {
	for round := 0; round < 50; round++ {
		registry := NewRegistry()

		first := idleSession(registry)
		second := idleSession(registry)
		require.NoError(t, registry.Join("first", first))
		require.NoError(t, registry.Join("second", second))

		target := fmt.Sprintf("target-%d", round)
		errs := make([]error, 2)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i, s := range []*Session{first, second} {
			wg.Add(1)
			go func(i int, s *Session) {
				defer wg.Done()
				<-start
				_, errs[i] = registry.Rename(s, target)
			}(i, s)
		}
		close(start)
		wg.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
				continue
			}
			require.ErrorIs(t, err, ErrNameTaken)
		}
		require.Equal(t, 1, successes)
		require.Len(t, registry.ListMembers(), 2)
		require.True(t, registry.Exists(target))
		require.True(t, registry.Exists("first") || registry.Exists("second"))
	}
}

func TestRegistryBroadcastExcludesSender(t *testing.T) {
	registry := NewRegistry()

	alice := idleSession(registry)
	bob := idleSession(registry)
	carol := idleSession(registry)
	require.NoError(t, registry.Join("alice", alice))
	require.NoError(t, registry.Join("bob", bob))
	require.NoError(t, registry.Join("carol", carol))
	queued(alice)
	queued(bob)

	delivered := registry.Broadcast("alice: hello", alice)

	require.Equal(t, 2, delivered)
	require.Empty(t, queued(alice))
	require.Equal(t, []string{"alice: hello"}, queued(bob))
	require.Equal(t, []string{"alice: hello"}, queued(carol))
}

func TestRegistryBroadcastSkipsFullMailbox(t *testing.T) {
	registry := NewRegistry()

	slow := idleSession(registry, WithMailboxSize(1))
	fast := idleSession(registry)
	require.NoError(t, registry.Join("slow", slow))
	require.NoError(t, registry.Join("fast", fast))
	queued(fast)

	require.True(t, slow.Deliver("filler"))

	delivered := registry.Broadcast("announcement", nil)

	require.Equal(t, 1, delivered)
	require.Equal(t, []string{"announcement"}, queued(fast))
	require.Equal(t, []string{"filler"}, queued(slow))
}

func TestRegistrySendTo(t *testing.T) {
	registry := NewRegistry()

	alice := idleSession(registry)
	require.NoError(t, registry.Join("alice", alice))

	require.True(t, registry.SendTo("alice", "bob(pm): psst"))
	require.False(t, registry.SendTo("ghost", "bob(pm): psst"))
	require.Equal(t, []string{"bob(pm): psst"}, queued(alice))
}

func TestRegistrySendToEachResolvesAllTargetsTogether(t *testing.T) {
	registry := NewRegistry()

	a := idleSession(registry)
	c := idleSession(registry)
	require.NoError(t, registry.Join("a", a))
	require.NoError(t, registry.Join("c", c))
	queued(a)

	missing := registry.SendToEach([]string{"a", "b", "c", "b"}, "sender(pm): hi")

	require.Equal(t, []string{"b", "b"}, missing)
	require.Equal(t, []string{"sender(pm): hi"}, queued(a))
	require.Equal(t, []string{"sender(pm): hi"}, queued(c))
}

func TestRegistrySendToEachSeesRenameAsOneSnapshot(t *testing.T) {
	for n := 0; n < 50; n++ {
		registry := NewRegistry()

		a := idleSession(registry)
		require.NoError(t, registry.Join("a", a))

		var (
			wg      sync.WaitGroup
			missing []string
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			missing = registry.SendToEach([]string{"a", "c"}, "m")
		}()
		go func() {
			defer wg.Done()
			<-start
			_, _ = registry.Rename(a, "c")
		}()
		close(start)
		wg.Wait()

		got := lo.Filter(queued(a), func(msg string, _ int) bool { return msg == "m" })
		require.Len(t, got, 1)
		require.Len(t, missing, 1)
	}
}

func TestRegistryRefusesSessionThatLeft(t *testing.T) {
	registry := NewRegistry()

	s := NewSession(registry, newFakeConn(), WithFlushTimeout(10*time.Millisecond))
	s.Leave()

	_, err := registry.JoinUnique(s)
	require.ErrorIs(t, err, ErrSessionClosed)
	require.ErrorIs(t, registry.Join("ghost", s), ErrSessionClosed)
	require.Zero(t, registry.Count())
}

func TestRegistryCustomFallbackName(t *testing.T) {
	registry := NewRegistry(WithFallbackName("guest"))

	require.Equal(t, "guest", mustJoin(t, registry, idleSession(registry)))
	require.Equal(t, "guest(1)", mustJoin(t, registry, idleSession(registry)))
}

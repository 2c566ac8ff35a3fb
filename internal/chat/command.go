package chat

import (
	"strings"

	"github.com/samber/lo"
)

// CommandKind classifies an inbound line.
type CommandKind int

const (
	// CommandBroadcast relays the line to every other member.
	CommandBroadcast CommandKind = iota
	// CommandRename changes the sender's display name.
	CommandRename
	// CommandLeave ends the session.
	CommandLeave
	// CommandPrivateMessage delivers text to the named members only.
	CommandPrivateMessage
)

// Command is a parsed inbound line.
type Command struct {
	Kind    CommandKind
	Name    string
	Targets []string
	Text    string
}

const (
	prefixRename = "/rename"
	prefixPM     = "/pm "
	cmdLeave     = "/leave"
)

// ParseCommand classifies line. The first matching form wins and prefixes are
// case-sensitive. Malformed commands return a *UsageError.
func ParseCommand(line string) (Command, error) {
	switch {
	case strings.HasPrefix(line, prefixRename):
		return parseRename(line)
	case line == cmdLeave:
		return Command{Kind: CommandLeave}, nil
	case strings.HasPrefix(line, prefixPM):
		return parsePrivateMessage(strings.TrimPrefix(line, prefixPM))
	default:
		return Command{Kind: CommandBroadcast, Text: line}, nil
	}
}

func parseRename(line string) (Command, error) {
	_, rest, found := strings.Cut(line, " ")
	if !found {
		return Command{}, usageError(MsgRenameUsage)
	}
	name := strings.TrimSpace(rest)
	if name == "" {
		return Command{}, usageError(MsgRenameUsage)
	}
	return Command{Kind: CommandRename, Name: name}, nil
}

// parsePrivateMessage reads "<t1>, <t2>, ... <message>". A target token ending in a
// comma continues the list; the first token without one is the last target and the
// rest of the line is the message. Repeated targets are kept in order.
func parsePrivateMessage(rest string) (Command, error) {
	var targets []string
	for {
		rest = strings.TrimLeft(rest, " ")
		token, remainder, found := strings.Cut(rest, " ")
		if !found {
			return Command{}, usageError(MsgPMUsage)
		}
		targets = append(targets, splitTargets(token)...)
		rest = remainder
		if !strings.HasSuffix(token, ",") {
			break
		}
	}

	if len(targets) == 0 || strings.TrimSpace(rest) == "" {
		return Command{}, usageError(MsgPMUsage)
	}
	return Command{Kind: CommandPrivateMessage, Targets: targets, Text: rest}, nil
}

func splitTargets(token string) []string {
	names := lo.Map(strings.Split(token, ","), func(name string, _ int) string {
		return strings.TrimSpace(name)
	})
	return lo.Compact(names)
}

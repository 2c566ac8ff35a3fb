package chat

import "errors"

// dispatch handles one inbound line and reports whether the session keeps reading.
func (s *Session) dispatch(line string) bool {
	cmd, err := ParseCommand(line)
	if err != nil {
		var usage *UsageError
		if errors.As(err, &usage) {
			s.Deliver(usage.Usage)
		}
		return true
	}

	s.state.CompareAndSwap(int32(StateNamed), int32(StateActive))

	switch cmd.Kind {
	case CommandLeave:
		return false
	case CommandRename:
		s.handleRename(cmd.Name)
	case CommandPrivateMessage:
		s.handlePrivateMessage(cmd.Targets, cmd.Text)
	case CommandBroadcast:
		s.registry.Broadcast(chatLine(s.Name(), cmd.Text), s)
	}
	return true
}

func (s *Session) handleRename(newName string) {
	_, err := s.registry.Rename(s, newName)
	switch {
	case errors.Is(err, ErrNameTaken):
		s.Deliver(MsgNameTaken)
		return
	case errors.Is(err, ErrEmptyName):
		s.Deliver(MsgRenameUsage)
		return
	case err != nil:
		s.log.Warn().Err(err).Msg("rename failed")
		return
	}

	s.Deliver(renamedSelfNotice(s.Name()))
}

// handlePrivateMessage delivers text to each target and sends the sender one notice
// per target that is not registered.
func (s *Session) handlePrivateMessage(targets []string, text string) {
	for _, name := range s.registry.SendToEach(targets, privateLine(s.Name(), text)) {
		s.Deliver(notFoundNotice(name))
	}
}

package chat

import "fmt"

// Sender-only notices.
const (
	MsgWelcome     = "Welcome to the chatroom!"
	MsgRenameUsage = "Usage: /rename [new_name]"
	MsgPMUsage     = "Usage: /pm [username(s)] [message]"
	MsgNameTaken   = "Can't rename, username already taken!"
)

func joinedNotice(name string, count int) string {
	return fmt.Sprintf("%s has joined the chatroom. (%d users connected)", name, count)
}

func leftNotice(name string, count int) string {
	return fmt.Sprintf("%s has left the chatroom. (%d users connected)", name, count)
}

func renamedNotice(oldName, newName string) string {
	return fmt.Sprintf("%s changed their name to %s", oldName, newName)
}

func renamedSelfNotice(newName string) string {
	return "You changed your name to " + newName
}

func notFoundNotice(name string) string {
	return fmt.Sprintf("User '%s' not found.", name)
}

func chatLine(name, text string) string {
	return name + ": " + text
}

func privateLine(sender, text string) string {
	return sender + "(pm): " + text
}

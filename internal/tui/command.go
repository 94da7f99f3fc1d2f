package tui

import "strings"

// Command represents a parsed slash command.
type Command struct {
	Name string
	Args string
}

// Commands understood by the composer.
const (
	CmdRetry     = "retry"
	CmdAway      = "away"
	CmdBack      = "back"
	CmdClear     = "clear"
	CmdReconnect = "reconnect"
	CmdNick      = "nick"
	CmdQuit      = "quit"
	CmdHelp      = "help"
)

var commandAliases = map[string]string{
	"q":    CmdQuit,
	"exit": CmdQuit,
	"r":    CmdRetry,
	"?":    CmdHelp,
}

// ParseCommand parses composer input. It reports false for ordinary
// messages; a leading "//" escapes a message that starts with a slash.
func ParseCommand(input string) (Command, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || strings.HasPrefix(input, "//") {
		return Command{}, false
	}
	parts := strings.SplitN(input[1:], " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if alias, ok := commandAliases[cmd.Name]; ok {
		cmd.Name = alias
	}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd, true
}

// MessageText strips the escape from a "//" message.
func MessageText(input string) string {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "//") {
		return trimmed[1:]
	}
	return input
}

const helpText = "/retry [id]  /away  /back  /clear  /reconnect  /nick <name>  /quit"

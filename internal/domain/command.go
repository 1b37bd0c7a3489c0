package domain

import "strings"

// Command is the result of parsing a mention for an opt-in/opt-out token.
type Command int

const (
	CommandNone Command = iota
	CommandFollowOn
	CommandFollowOff
)

// ParseCommand looks for `pk:<agentKey> /tag on` or `pk:<agentKey> /tag off`
// in text, after lower-casing and collapsing whitespace. Off is checked first
// so that "off" never matches as a prefix of itself inside an "on" check.
func ParseCommand(agentKey, text string) Command {
	if agentKey == "" || text == "" {
		return CommandNone
	}
	t := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	token := "pk:" + strings.ToLower(agentKey)
	if strings.Contains(t, token+" /tag off") {
		return CommandFollowOff
	}
	if strings.Contains(t, token+" /tag on") {
		return CommandFollowOn
	}
	return CommandNone
}

// WantsGuidance reports whether a mention references the agent and talks
// about tags without carrying a valid command, in which case the ingestor
// sends one best-effort usage reply.
func WantsGuidance(agentKey, text string) bool {
	if agentKey == "" || text == "" {
		return false
	}
	t := strings.ToLower(text)
	return strings.Contains(t, "pk:"+strings.ToLower(agentKey)) && strings.Contains(t, "tag")
}

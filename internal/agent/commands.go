package agent

import (
	"regexp"
	"strings"
)

// IntentKind tags what an inbound message asks of the engine beyond a
// normal reply.
type IntentKind int

const (
	IntentNone IntentKind = iota
	IntentOwnerCommand
	IntentEndSession
	IntentGlobalMemory
)

// Intent is the parsed meaning of an inbound message.
type Intent struct {
	Kind    IntentKind
	Command *OwnerCommand // IntentOwnerCommand
	Fact    string        // IntentGlobalMemory
}

// OwnerCommand is a "!"-prefixed command sent by the operator.
type OwnerCommand struct {
	Name string // lowercased, without "!"
	Arg  string // raw text after the name
	Raw  string
}

// Owner command names.
const (
	CmdPushToMTM      = "pushtomtm"
	CmdPushToLTM      = "pushtoltm"
	CmdConvoEnd       = "convoend"
	CmdAddPersonality = "addpersonality"
)

const endSessionCommand = "!end session"

// Matched on the original text so fact offsets stay valid for any input.
var globalMemoryMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?is)add to global memory:(.*)`),
	regexp.MustCompile(`(?is)i consent to add this to global memory:(.*)`),
}

// ParseIntent classifies an inbound message. Owner commands take precedence
// over everything else and are only recognized from ownerID.
func ParseIntent(content, authorID, ownerID string) Intent {
	if cmd := ParseOwnerCommand(content, authorID, ownerID); cmd != nil {
		return Intent{Kind: IntentOwnerCommand, Command: cmd}
	}
	if strings.EqualFold(strings.TrimSpace(content), endSessionCommand) {
		return Intent{Kind: IntentEndSession}
	}
	if fact, ok := GlobalMemoryFact(content); ok {
		return Intent{Kind: IntentGlobalMemory, Fact: fact}
	}
	return Intent{Kind: IntentNone}
}

// ParseOwnerCommand returns the command when content is a "!" command from
// the configured owner, nil otherwise.
func ParseOwnerCommand(content, authorID, ownerID string) *OwnerCommand {
	if ownerID == "" || authorID != ownerID {
		return nil
	}
	text := strings.TrimSpace(content)
	if !strings.HasPrefix(text, "!") {
		return nil
	}
	for _, name := range []string{CmdPushToLTM, CmdPushToMTM, CmdConvoEnd, CmdAddPersonality} {
		if n := len(name) + 1; len(text) >= n && strings.EqualFold(text[:n], "!"+name) {
			return &OwnerCommand{
				Name: name,
				Arg:  strings.TrimSpace(text[len(name)+1:]),
				Raw:  text,
			}
		}
	}
	name, _, _ := strings.Cut(strings.ToLower(text[1:]), " ")
	return &OwnerCommand{Name: name, Raw: text}
}

// GlobalMemoryFact extracts the fact declared after a global-memory marker.
// The whole text is the fact when nothing follows the marker. When both
// markers appear the consent form wins.
func GlobalMemoryFact(content string) (string, bool) {
	found := false
	var fact string
	for _, marker := range globalMemoryMarkers {
		m := marker.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		found = true
		fact = strings.TrimSpace(m[1])
	}
	if !found {
		return "", false
	}
	if fact == "" {
		fact = content
	}
	return fact, true
}

// ownerReply is the acknowledgement sent for a finished owner command.
func ownerReply(cmd *OwnerCommand) string {
	switch cmd.Name {
	case CmdPushToMTM:
		return "Manually pushed Short-Term to Medium-Term memory."
	case CmdPushToLTM:
		return "Manually pushed Medium-Term to Long-Term memory."
	case CmdConvoEnd:
		return "Conversation ended, memory segments updated."
	case CmdAddPersonality:
		return "Personality entry added to your profile."
	default:
		return "Unknown owner command: " + cmd.Raw
	}
}

// ownerErrorReply is sent when a memory push failed.
func ownerErrorReply(cmd *OwnerCommand) string {
	switch cmd.Name {
	case CmdPushToMTM:
		return "Error pushing to MTM. Check logs."
	case CmdPushToLTM:
		return "Error pushing to LTM. Check logs."
	default:
		return "Error finalizing conversation. Check logs."
	}
}

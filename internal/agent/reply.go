package agent

import "strings"

// TerminationMarker is appended by the model when the caller has nothing
// else to ask. It is never spoken.
const TerminationMarker = "[HANGUP]"

// ParseReply strips every termination marker from raw and reports whether
// one was present.
func ParseReply(raw string) Reply {
	terminate := strings.Contains(raw, TerminationMarker)
	text := strings.ReplaceAll(raw, TerminationMarker, "")
	return Reply{Text: strings.Join(strings.Fields(text), " "), Terminate: terminate}
}

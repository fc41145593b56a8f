package agent

import (
	"regexp"
	"strings"
)

const (
	maxSearchDirectives = 3
	maxMemoryDirectives = 3
	noResponseDirective = "/noresponse"
)

var (
	searchDirectiveRe = regexp.MustCompile(`(?i)/search\s+(.+)`)
	memoryDirectiveRe = regexp.MustCompile(`(?i)/addmemory\s+(.+?);`)
	newMessageRe      = regexp.MustCompile(`(?i)(/newmsg|\[newmsg\])\s*`)
)

// searchDirective is the first "/search <query>" found in a reply.
type searchDirective struct {
	Before string // text preceding the directive, trimmed
	Query  string
}

// findSearch locates the first search directive. The query runs to the end
// of its line.
func findSearch(reply string) (searchDirective, bool) {
	loc := searchDirectiveRe.FindStringSubmatchIndex(reply)
	if loc == nil {
		return searchDirective{}, false
	}
	return searchDirective{
		Before: strings.TrimSpace(reply[:loc[0]]),
		Query:  strings.TrimSpace(reply[loc[2]:loc[3]]),
	}, true
}

// extractMemories removes up to three "/addmemory <text>;" directives and
// returns their non-empty texts. A directive without ";" is left as text.
func extractMemories(reply string) ([]string, string) {
	var memories []string
	for i := 0; i < maxMemoryDirectives; i++ {
		loc := memoryDirectiveRe.FindStringSubmatchIndex(reply)
		if loc == nil {
			break
		}
		if text := strings.TrimSpace(reply[loc[2]:loc[3]]); text != "" {
			memories = append(memories, text)
		}
		reply = strings.TrimSpace(reply[:loc[0]] + reply[loc[1]:])
	}
	return memories, reply
}

// splitDelivery turns a reply into the lines to send. /newmsg markers become
// line breaks; blank lines are dropped. A /noresponse line suppresses the
// whole reply.
func splitDelivery(reply string) (lines []string, suppressed bool) {
	text := strings.ReplaceAll(reply, "\r\n", "\n")
	text = newMessageRe.ReplaceAllString(text, "\n")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == noResponseDirective {
			return nil, true
		}
		lines = append(lines, line)
	}
	return lines, false
}

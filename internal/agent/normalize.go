package agent

import (
	"path"
	"regexp"
	"strings"
)

// Default prompts and texts.
const (
	DefaultSystemPrompt   = "You are an AI integrated into a Discord user client."
	DefaultIntriguePrompt = "Return yes or no if the message is worth responding to. It's important to respond to most messages. Respond no only when the user clearly hasn't finished their thought."
	DefaultWatermarkText  = "This content is AI generated. Messages shared are processed in accordance with OpenAI's [privacy policy](https://openai.com/privacy). Content generated may be misleading or inaccurate. Verify important information."
)

const watermarkPrefix = "\n-# "

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	punctRunRe    = regexp.MustCompile(`\?{2,}|!{2,}|\.{2,}`)
	provenanceRe  = regexp.MustCompile(`(?m)\[[^\]]+\]\s*(?:\[[^\]]+\]\s*)?:\s*`)
	imageSuffixes = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}
)

// NormalizeContent collapses whitespace and runs of repeated ?, ! or .
func NormalizeContent(s string) string {
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = punctRunRe.ReplaceAllStringFunc(s, func(run string) string { return run[:1] })
	return strings.TrimSpace(s)
}

// StripMetadata removes "[name] [id]: " provenance tags the model sometimes
// echoes back from the transcript.
func StripMetadata(s string) string {
	return provenanceRe.ReplaceAllString(s, "")
}

// AppendWatermark adds the watermark footer.
func AppendWatermark(s, text string) string {
	if text == "" {
		return s
	}
	return s + watermarkPrefix + text
}

// StripWatermark removes a trailing watermark footer, if present.
func StripWatermark(s, text string) string {
	if text == "" {
		return s
	}
	return strings.TrimSuffix(s, watermarkPrefix+text)
}

// isImageURL reports whether an attachment URL points at a supported image.
// The query string is ignored.
func isImageURL(raw string) bool {
	if raw == "" {
		return false
	}
	clean, _, _ := strings.Cut(raw, "?")
	ext := strings.ToLower(path.Ext(clean))
	for _, s := range imageSuffixes {
		if ext == s {
			return true
		}
	}
	return false
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

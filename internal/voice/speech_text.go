package voice

import (
	"regexp"
	"strings"
	"unicode"
)

// Markup the agent sometimes emits even when told it is on a phone line.
var markupRewrites = []struct {
	pattern *regexp.Regexp
	with    string
}{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`\[(.*?)\]\((.*?)\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
}

// Amounts like "$1,250.40" or "-$4.50" are read as "1,250.40 dollars".
var dollarAmount = regexp.MustCompile(`(-?)\$\s?(\d[\d,]*(?:\.\d+)?)`)

var spokenSymbols = strings.NewReplacer(
	"&", " and ",
	"%", " percent",
	"@", " at ",
)

// SanitizeSpeechText turns agent text into something a phone voice can read
// aloud: markup and links go, dollar amounts and common symbols become words,
// and whitespace collapses to single spaces.
func SanitizeSpeechText(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	for _, r := range markupRewrites {
		text = r.pattern.ReplaceAllString(text, r.with)
	}
	text = dollarAmount.ReplaceAllStringFunc(text, func(m string) string {
		parts := dollarAmount.FindStringSubmatch(m)
		spoken := parts[2] + " dollars"
		if parts[1] != "" {
			spoken = "minus " + spoken
		}
		return spoken
	})
	text = spokenSymbols.Replace(text)
	return collapseForSpeech(text)
}

// collapseForSpeech drops glyphs with no spoken form and turns the remaining
// markup punctuation into word breaks.
func collapseForSpeech(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			continue
		case unicode.IsSpace(r) || strings.ContainsRune("*_\\/|#~<>", r) || (unicode.IsPunct(r) && !readablePunct(r)):
			pendingSpace = b.Len() > 0
			continue
		case unicode.IsControl(r) || unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			continue
		}
		if pendingSpace && !strings.ContainsRune(".,!?:;)", r) {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func readablePunct(r rune) bool {
	return strings.ContainsRune(".,!?:;'\"-()", r)
}

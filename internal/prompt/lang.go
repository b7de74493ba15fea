package prompt

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DefaultLanguage is used when no target language is configured.
const DefaultLanguage = "Chinese"

// nativeNames maps the language names offered in the extension settings.
var nativeNames = map[string]string{
	"中文":       "Chinese",
	"English":  "English",
	"日本語":      "Japanese",
	"한국어":      "Korean",
	"Français": "French",
	"Deutsch":  "German",
	"Español":  "Spanish",
}

// ResolveLanguage returns an English language name for a display name or a
// BCP 47 tag. Unknown values pass through with template braces removed.
func ResolveLanguage(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultLanguage
	}
	if name, ok := nativeNames[s]; ok {
		return name
	}
	if tag, err := language.Parse(s); err == nil {
		if name := display.English.Tags().Name(tag); name != "" {
			return name
		}
	}
	return strings.NewReplacer("{", "", "}", "").Replace(s)
}

package converse

import (
	"slices"
	"strings"
)

// DefaultLanguage needs no language instruction.
const DefaultLanguage = "English"

// Languages lists the reply languages offered to users, by their own name.
var Languages = []string{
	"English",
	"Français",
	"Español",
	"Deutsch",
	"Italiano",
	"Português",
	"Nederlands",
	"Polski",
	"Русский",
	"日本語",
	"中文",
	"한국어",
	"العربية",
	"हिन्दी",
	"Türkçe",
}

// IsKnownLanguage reports whether lang is one of [Languages].
func IsKnownLanguage(lang string) bool {
	return slices.Contains(Languages, strings.TrimSpace(lang))
}

// LanguageInstruction returns the sentence appended to the system prompt so
// the model answers in lang. English and empty values yield "".
func LanguageInstruction(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" || lang == DefaultLanguage {
		return ""
	}
	return " Always respond in " + lang + "."
}

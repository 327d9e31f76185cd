// Package sentence splits generated replies into speakable chunks.
//
// [Sentences] performs the raw split: a terminator (. ! ? … 。！？) closes a
// sentence only outside quotes, only when followed by whitespace or the end of
// the text, and, for a period, only when the preceding word is not a known
// abbreviation. [Segment] additionally merges short fragments so that the TTS
// backend receives chunks of a useful size.
//
// Both functions are pure and safe for concurrent use.
package sentence

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MinFragment is the length (in characters) below which a sentence is
	// merged into the preceding group.
	MinFragment = 30

	// TargetChunk is the group length (in characters) at which a merged group
	// is flushed.
	TargetChunk = 100
)

// abbreviations are words that may be followed by a period without ending a
// sentence. Lookups use the word with its periods removed, so the dotted forms
// are stored that way too.
var abbreviations = map[string]struct{}{}

func init() {
	for _, a := range []string{
		"Dr", "Mr", "Mrs", "Ms", "Prof", "Sr", "Jr", "St", "Ave", "Inc", "Ltd", "Co",
		"vs", "etc", "i.e", "e.g", "cf", "al", "Vol", "No", "pp", "Ph.D", "M.D", "B.A",
		"M.A", "B.S", "M.S", "Ph", "U.S", "U.K", "E.U", "U.N",
	} {
		abbreviations[strings.ReplaceAll(a, ".", "")] = struct{}{}
	}
}

// IsAbbreviation reports whether word (with or without its periods) is in the
// abbreviation set. Matching is case-sensitive.
func IsAbbreviation(word string) bool {
	_, ok := abbreviations[strings.ReplaceAll(word, ".", "")]
	return ok
}

// Sentences splits text into trimmed, non-empty sentences in order.
func Sentences(text string) []string {
	var (
		out      []string
		cur      strings.Builder
		inQuotes bool
		prev     rune
	)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i, r := range text {
		cur.WriteRune(r)

		switch r {
		case '"':
			inQuotes = !inQuotes
		case '“':
			inQuotes = true
		case '”':
			inQuotes = false
		}

		if !isTerminator(r) || inQuotes {
			prev = r
			continue
		}

		rest := text[i+utf8.RuneLen(r):]
		if rest == "" {
			// End of input always closes the sentence.
			flush()
			prev = r
			continue
		}

		if r == '.' && unicode.IsLetter(prev) && IsAbbreviation(precedingWord(cur.String())) {
			prev = r
			continue
		}

		next, _ := utf8.DecodeRuneInString(rest)
		if unicode.IsSpace(next) {
			flush()
		}
		prev = r
	}
	flush()
	return out
}

// Segment splits text with [Sentences] and merges short fragments: a sentence
// shorter than [MinFragment] characters joins the current group, any other
// sentence starts a new one, and a group is emitted as soon as it reaches
// [TargetChunk] characters.
func Segment(text string) []string {
	return Merge(Sentences(text))
}

// Merge applies the short-fragment merge rule to an already split sequence.
func Merge(sentences []string) []string {
	var (
		merged []string
		group  string
	)
	for _, s := range sentences {
		if utf8.RuneCountInString(s) < MinFragment && group != "" {
			group += " " + s
		} else {
			if group != "" {
				merged = append(merged, group)
			}
			group = s
		}
		if utf8.RuneCountInString(group) >= TargetChunk {
			merged = append(merged, group)
			group = ""
		}
	}
	if group != "" {
		merged = append(merged, group)
	}
	return merged
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

// precedingWord returns the last space-separated word of s with every period
// removed.
func precedingWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ReplaceAll(fields[len(fields)-1], ".", "")
}

package persona

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Thresholds for [Resolve]. A phonetic candidate needs a lower Jaro-Winkler
// score than a purely fuzzy one.
const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
)

// Resolve finds the persona in list that query names. Matching proceeds in
// order of confidence and the first stage with a hit wins:
//
//  1. exact ID
//  2. case-insensitive name
//  3. Double Metaphone overlap ranked by Jaro-Winkler (score >= 0.70)
//  4. pure Jaro-Winkler similarity (score >= 0.85)
//
// It reports false when no persona qualifies.
func Resolve(list []Persona, query string) (Persona, bool) {
	q := strings.TrimSpace(query)
	if q == "" || len(list) == 0 {
		return Persona{}, false
	}
	for _, p := range list {
		if p.ID == q {
			return p, true
		}
	}
	for _, p := range list {
		if strings.EqualFold(strings.TrimSpace(p.Name), q) {
			return p, true
		}
	}

	qLower := strings.ToLower(q)
	qTokens := strings.Fields(qLower)
	qCodes := codesForTokens(qTokens)

	var (
		best      Persona
		bestScore float64
		phonetic  bool
		found     bool
	)
	for _, p := range list {
		nameLower := strings.ToLower(strings.TrimSpace(p.Name))
		if nameLower == "" {
			continue
		}
		nameTokens := strings.Fields(nameLower)
		score := bestJWScore(qTokens, nameTokens, qLower, nameLower)

		if codesOverlap(qCodes, codesForTokens(nameTokens)) {
			if score >= phoneticThreshold && (!phonetic || score > bestScore) {
				best, bestScore, phonetic, found = p, score, true, true
			}
		} else if !phonetic && score >= fuzzyThreshold && score > bestScore {
			best, bestScore, found = p, score, true
		}
	}
	return best, found
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings, and every token pair.
func bestJWScore(qTokens, nameTokens []string, qFull, nameFull string) float64 {
	score := matchr.JaroWinkler(qFull, nameFull, false)

	if len(qTokens) > 1 || len(nameTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(qTokens, ""), strings.Join(nameTokens, ""), false); s > score {
			score = s
		}
	}
	for _, qt := range qTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(qt, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}

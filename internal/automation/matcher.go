package automation

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// greetingVocabulary decides whether a first message opens a session.
var greetingVocabulary = []string{"oi", "olá", "ola", "bom dia", "boa tarde", "boa noite", "hello", "hi"}

type MatchKind int

const (
	NoMatch MatchKind = iota
	MatchAutoResponse
	MatchGreeting
)

func (k MatchKind) String() string {
	switch k {
	case MatchAutoResponse:
		return "auto_response"
	case MatchGreeting:
		return "greeting"
	default:
		return "no_match"
	}
}

// MatchResult carries the winning rule for MatchAutoResponse and MatchGreeting.
type MatchResult struct {
	Kind MatchKind
	Rule *AutoResponse
}

// Normalize trims surrounding whitespace and lower-cases.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// IsGreeting reports whether normalized text contains a built-in greeting as
// a whole word or phrase.
func IsGreeting(normalized string) bool {
	for _, g := range greetingVocabulary {
		if containsPhrase(normalized, g) {
			return true
		}
	}
	return false
}

// MatchTrigger applies, in order: exact keyword, keyword substring, greeting
// synonyms. Within a pass the highest priority wins, ties keep store order.
func MatchTrigger(rules []AutoResponse, normalized string) MatchResult {
	if normalized == "" {
		return MatchResult{Kind: NoMatch}
	}

	var keywords, greetings []AutoResponse
	for _, r := range byPriority(rules) {
		if !r.Active {
			continue
		}
		switch r.TriggerType {
		case TriggerKeyword:
			keywords = append(keywords, r)
		case TriggerGreeting:
			greetings = append(greetings, r)
		}
	}

	for i := range keywords {
		if keywordOf(keywords[i]) == normalized {
			return MatchResult{Kind: MatchAutoResponse, Rule: &keywords[i]}
		}
	}
	for i := range keywords {
		kw := keywordOf(keywords[i])
		if kw != "" && strings.Contains(normalized, kw) {
			return MatchResult{Kind: MatchAutoResponse, Rule: &keywords[i]}
		}
	}
	for i := range greetings {
		for _, syn := range strings.Split(greetings[i].TriggerValue, ",") {
			syn = Normalize(syn)
			if syn != "" && strings.Contains(normalized, syn) {
				return MatchResult{Kind: MatchGreeting, Rule: &greetings[i]}
			}
		}
	}
	return MatchResult{Kind: NoMatch}
}

// MatchFlow returns the active flow whose trigger set contains normalized
// text, highest priority first.
func MatchFlow(flows []Flow, normalized string) *Flow {
	if normalized == "" {
		return nil
	}
	sorted := make([]Flow, 0, len(flows))
	for _, f := range flows {
		if f.Active {
			sorted = append(sorted, f)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	for i := range sorted {
		for _, kw := range sorted[i].TriggerKeywords {
			if Normalize(kw) == normalized {
				return &sorted[i]
			}
		}
	}
	return nil
}

func keywordOf(r AutoResponse) string {
	return Normalize(r.TriggerValue)
}

func byPriority(rules []AutoResponse) []AutoResponse {
	sorted := make([]AutoResponse, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	return sorted
}

func containsPhrase(text, phrase string) bool {
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], phrase)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(phrase)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

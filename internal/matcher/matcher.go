// Package matcher resolves loose, spoken project identifiers to stored
// projects.
//
// Two lookups are offered and they are deliberately not the same thing.
// FindByKeywords is a tiered, first-hit lookup used when an action names a
// single project. FindSimilar is a weighted ranking used when the bot has to
// offer the user a choice.
package matcher

import (
	"sort"
	"strings"
	"unicode"

	"github.com/p-blackswan/ideabot/internal/project"
)

// DefaultLimit caps FindSimilar when no positive limit is given.
const DefaultLimit = 5

// Weights applied per keyword by FindSimilar.
const (
	WeightName      = 10
	WeightNameFuzzy = 5
	WeightType      = 8
	WeightTypeFuzzy = 4
	WeightTags      = 6
	WeightText      = 3
)

// minFuzzyLen is the shortest string that may count as contained in another
// for fuzzy matching.
const minFuzzyLen = 3

// Match is a scored candidate.
type Match struct {
	Project project.Project
	Score   int
}

// Tokenize lowercases s, splits it on whitespace and trims punctuation from
// each word. Empty words are dropped.
func Tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Score returns the weighted score of p against the given keywords.
func Score(keywords []string, p project.Project) int {
	name := strings.ToLower(p.Name)
	nameWords := Tokenize(p.Name)
	typ := strings.ToLower(string(p.Type))
	tags := strings.ToLower(strings.Join(p.Tags, " "))
	notes := strings.ToLower(p.Notes)
	audio := strings.ToLower(p.OriginalAudio)

	score := 0
	for _, kw := range keywords {
		switch {
		case strings.Contains(name, kw):
			score += WeightName
		case fuzzyAny(kw, nameWords):
			score += WeightNameFuzzy
		}
		switch {
		case typ != "" && strings.Contains(typ, kw):
			score += WeightType
		case typ != "" && Fuzzy(kw, typ):
			score += WeightTypeFuzzy
		}
		if tags != "" && strings.Contains(tags, kw) {
			score += WeightTags
		}
		if strings.Contains(notes, kw) || strings.Contains(audio, kw) {
			score += WeightText
		}
	}
	return score
}

// FindSimilar ranks projects against keywords. Projects scoring zero are
// dropped, ties keep store order, and at most limit matches are returned
// (DefaultLimit when limit <= 0).
func FindSimilar(keywords string, projects []project.Project, limit int) []Match {
	if limit <= 0 {
		limit = DefaultLimit
	}
	kws := Tokenize(keywords)
	if len(kws) == 0 || len(projects) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(projects))
	for _, p := range projects {
		if s := Score(kws, p); s > 0 {
			matches = append(matches, Match{Project: p, Score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Projects strips the scores from matches.
func Projects(matches []Match) []project.Project {
	out := make([]project.Project, len(matches))
	for i, m := range matches {
		out[i] = m.Project
	}
	return out
}

// FindByKeywords returns the first project hit by the tiers below, checked
// in order, each tier scanning projects in store order:
//
//  1. name equals the identifier, ignoring case
//  2. name contains the identifier
//  3. name contains every keyword
//  4. name contains any keyword
//  5. type equals or contains a keyword
//  6. notes or original audio contain the identifier, then any keyword
func FindByKeywords(identifier string, projects []project.Project) (project.Project, bool) {
	ident := strings.ToLower(strings.TrimSpace(identifier))
	kws := Tokenize(identifier)
	if ident == "" || len(projects) == 0 {
		return project.Project{}, false
	}

	tiers := []func(project.Project) bool{
		func(p project.Project) bool { return strings.ToLower(p.Name) == ident },
		func(p project.Project) bool { return strings.Contains(strings.ToLower(p.Name), ident) },
		func(p project.Project) bool { return len(kws) > 0 && containsAll(strings.ToLower(p.Name), kws) },
		func(p project.Project) bool { return containsAny(strings.ToLower(p.Name), kws) },
		func(p project.Project) bool {
			typ := strings.ToLower(string(p.Type))
			return typ != "" && containsAny(typ, kws)
		},
		func(p project.Project) bool {
			return strings.Contains(strings.ToLower(p.Notes), ident) ||
				strings.Contains(strings.ToLower(p.OriginalAudio), ident)
		},
		func(p project.Project) bool {
			return containsAny(strings.ToLower(p.Notes), kws) ||
				containsAny(strings.ToLower(p.OriginalAudio), kws)
		},
	}
	for _, hit := range tiers {
		for _, p := range projects {
			if hit(p) {
				return p, true
			}
		}
	}
	return project.Project{}, false
}

// FindByName returns the first project whose name equals name exactly.
func FindByName(name string, projects []project.Project) (project.Project, bool) {
	if name == "" {
		return project.Project{}, false
	}
	for _, p := range projects {
		if p.Name == name {
			return p, true
		}
	}
	return project.Project{}, false
}

// Fuzzy reports whether a and b are loosely the same word: one contains the
// other and the contained one is at least three letters long, or they are
// listed as synonyms.
func Fuzzy(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == "" || b == "" {
		return false
	}
	if len(a) >= minFuzzyLen && strings.Contains(b, a) {
		return true
	}
	if len(b) >= minFuzzyLen && strings.Contains(a, b) {
		return true
	}
	return Synonyms(a, b)
}

func fuzzyAny(kw string, words []string) bool {
	for _, w := range words {
		if Fuzzy(kw, w) {
			return true
		}
	}
	return false
}

func containsAll(s string, kws []string) bool {
	for _, kw := range kws {
		if !strings.Contains(s, kw) {
			return false
		}
	}
	return true
}

func containsAny(s string, kws []string) bool {
	if s == "" {
		return false
	}
	for _, kw := range kws {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

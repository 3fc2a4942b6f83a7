package matcher

// synonymGroups lists words that name the same idea in this domain. Any two
// words in one group are synonyms of each other.
var synonymGroups = [][]string{
	{"dance", "dancing", "dancer", "dancers", "dances", "movement"},
	{"course", "courses", "class", "classes", "training", "lesson", "lessons", "teaching"},
	{"song", "songs", "track", "tracks", "tune", "single", "music"},
	{"retreat", "retreats", "getaway", "immersion", "residency"},
	{"workshop", "workshops", "seminar", "session", "masterclass"},
	{"book", "books", "novel", "manuscript", "writing"},
	{"album", "albums", "record", "ep", "lp"},
	{"moon", "moons", "lunar", "full-moon", "newmoon"},
	{"feminine", "femininity", "goddess", "woman", "women", "womanhood", "sisterhood"},
}

var synonymIndex = buildSynonymIndex(synonymGroups)

func buildSynonymIndex(groups [][]string) map[string][]int {
	idx := make(map[string][]int)
	for gi, g := range groups {
		for _, w := range g {
			idx[w] = append(idx[w], gi)
		}
	}
	return idx
}

// Synonyms reports whether a and b share a synonym group. The relation is
// symmetric.
func Synonyms(a, b string) bool {
	if a == b {
		return false
	}
	ga, ok := synonymIndex[a]
	if !ok {
		return false
	}
	gb, ok := synonymIndex[b]
	if !ok {
		return false
	}
	for _, x := range ga {
		for _, y := range gb {
			if x == y {
				return true
			}
		}
	}
	return false
}

package classifier

import "strings"

// periodicPatterns holds every base symbol a-i and A-I repeated three times
// with each of the separators the producer uses for short gaps.
var periodicPatterns = buildPeriodicPatterns()

func buildPeriodicPatterns() []string {
	var patterns []string
	for _, bases := range []string{"abcdefghi", "ABCDEFGHI"} {
		for _, sep := range []string{",", "+", "*"} {
			for _, b := range bases {
				patterns = append(patterns, strings.Repeat(string(b)+sep, 3))
			}
		}
	}
	return patterns
}

// IsPeriodic is a cheap periodicity signal: it reports whether state contains
// one of the known three-repetition patterns. Classify does not use it.
func IsPeriodic(state string) bool {
	for _, p := range periodicPatterns {
		if strings.Contains(state, p) {
			return true
		}
	}
	return false
}

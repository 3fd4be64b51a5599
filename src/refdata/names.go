package refdata

import (
	_ "embed"
	"strings"
)

// Embedded name catalogues used as substitution pools.
//
// The lists are common German given names and surnames. They only need to be
// plausible, not exhaustive: substitutes are drawn uniformly and cached per
// original value, so pool size bounds variety, not correctness.
//
//go:embed data/vornamen_maennlich.txt
var vornamenMaennlich string

//go:embed data/vornamen_weiblich.txt
var vornamenWeiblich string

//go:embed data/nachnamen.txt
var nachnamen string

func FirstNamesMale() []string {
	return loadNamesFromData(vornamenMaennlich)
}

func FirstNamesFemale() []string {
	return loadNamesFromData(vornamenWeiblich)
}

func Surnames() []string {
	return loadNamesFromData(nachnamen)
}

// loadNamesFromData loads names from embedded text data
func loadNamesFromData(data string) []string {
	lines := strings.Split(strings.TrimSpace(data), "\n")
	names := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			names = append(names, line)
		}
	}
	return names
}

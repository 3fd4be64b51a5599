package anonengine

import (
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// UniquenessDomain is a named set of already-issued values, e.g. one per
// unique column. Values are compared case-insensitively. A domain is seeded
// with every value already present in the real column so freshly generated
// values never collide with not-yet-processed rows.
type UniquenessDomain struct {
	name string
	used map[string]struct{}
}

func NewUniquenessDomain(name string) *UniquenessDomain {
	return &UniquenessDomain{
		name: name,
		used: make(map[string]struct{}),
	}
}

func (d *UniquenessDomain) Name() string {
	return d.name
}

func (d *UniquenessDomain) Size() int {
	return len(d.used)
}

func (d *UniquenessDomain) SeedValues(values []string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		d.used[strings.ToLower(v)] = struct{}{}
	}
}

func (d *UniquenessDomain) Contains(v string) bool {
	_, ok := d.used[strings.ToLower(v)]
	return ok
}

// Reserve marks v as issued. Returns false if v was already taken.
func (d *UniquenessDomain) Reserve(v string) bool {
	key := strings.ToLower(v)
	if _, ok := d.used[key]; ok {
		return false
	}
	d.used[key] = struct{}{}
	return true
}

// Allocate returns base if free, otherwise suffixBuilder(base, 1),
// suffixBuilder(base, 2), ... until a free value is found. The winner is
// reserved in the domain before returning.
func (d *UniquenessDomain) Allocate(base string, suffixBuilder func(base string, counter int) string) string {
	if d.Reserve(base) {
		return base
	}
	for counter := 1; ; counter++ {
		candidate := suffixBuilder(base, counter)
		if d.Reserve(candidate) {
			return candidate
		}
	}
}

// UsernameSuffix inserts the counter directly before the at-sign separator if
// base contains one, otherwise appends it. Serves both "vorname.nachname"
// usernames and full email addresses.
func UsernameSuffix(base string, counter int) string {
	if at := strings.Index(base, "@"); at >= 0 {
		return base[:at] + strconv.Itoa(counter) + base[at:]
	}
	return base + strconv.Itoa(counter)
}

const (
	kuerzelAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// kuerzelRandomDraws bounds the random fallback so a pathologically full
	// code space cannot stall the run.
	kuerzelRandomDraws = 100
)

// AllocateKuerzel issues a short code derived from the substituted surname:
// the 4-character uppercased prefix, on collision the 3-character prefix plus
// a decimal digit 0-9 in order, then bounded random 4-character draws. If all
// of that is taken the 3-character prefix plus "0" is returned even though it
// duplicates an issued code - completing the run wins over strict uniqueness
// here.
func AllocateKuerzel(d *UniquenessDomain, rs RandomSource, surname string) string {
	base := kuerzelPrefix(surname, 4)
	if base != "" && d.Reserve(base) {
		return base
	}
	prefix := kuerzelPrefix(surname, 3)
	for digit := 0; digit <= 9; digit++ {
		candidate := prefix + strconv.Itoa(digit)
		if d.Reserve(candidate) {
			return candidate
		}
	}
	for i := 0; i < kuerzelRandomDraws; i++ {
		candidate := randomKuerzel(rs, 4)
		if d.Reserve(candidate) {
			return candidate
		}
	}
	fallback := prefix + "0"
	log.Warnf("domain %q exhausted all candidates for surname %q, returning possibly duplicate code %q",
		d.name, surname, fallback)
	return fallback
}

func kuerzelPrefix(surname string, n int) string {
	runes := []rune(strings.ToUpper(surname))
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

func randomKuerzel(rs RandomSource, length int) string {
	var b strings.Builder
	for i := 0; i < length; i++ {
		b.WriteByte(kuerzelAlphabet[rs.Intn(len(kuerzelAlphabet))])
	}
	return b.String()
}

// AllocateNumeric issues a fixed-width numeric identifier: a uniformly random
// integer in [lo, hi], zero-padded to width, redrawn on collision. No
// iteration cap - the numeric range is assumed large relative to the row
// count.
func AllocateNumeric(d *UniquenessDomain, rs RandomSource, lo int, hi int, width int) string {
	for {
		candidate := fmt.Sprintf("%0*d", width, IntBetween(rs, lo, hi))
		if d.Reserve(candidate) {
			return candidate
		}
	}
}

// germanFolder rewrites umlauts and sharp s into their ASCII digraphs before
// the remaining non-alphanumerics are stripped.
var germanFolder = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
	"Ä", "Ae", "Ö", "Oe", "Ü", "Ue",
)

// EmailLocalPart builds "vorname.nachname" from substituted names: diacritics
// folded, non-alphanumerics stripped, lower-cased. Empty parts collapse so a
// single-name record still yields a usable local part.
func EmailLocalPart(firstName string, lastName string) string {
	first := foldNamePart(firstName)
	last := foldNamePart(lastName)
	switch {
	case first == "" && last == "":
		return ""
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + "." + last
}

func foldNamePart(s string) string {
	s = germanFolder.Replace(s)
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}

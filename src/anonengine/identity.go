package anonengine

import (
	"strings"

	"golang.org/x/exp/slices"
)

// IdentityMapper substitutes original names with fakes drawn from NamePools.
// The mapping is stable for the duration of a run: the same (original, tag)
// pair always resolves to the same substitute, so a name recurring across
// tables stays consistent. The mapping is ephemeral - created empty per run,
// never persisted - and need not be injective.
//
// All state is process-local and the engine runs single-threaded, so no
// locking is done here.
type IdentityMapper struct {
	rs    RandomSource
	pools *NamePools

	// firstNames caches substitutes keyed by tag + "\x00" + original.
	firstNames map[string]string
	lastNames  map[string]string

	// genderLock stores the pool rolled for originals resolved with
	// GenderNone. Rolled once per original, then reused - re-rolling would
	// break stability for records seen twice.
	genderLock map[string]GenderTag
}

func NewIdentityMapper(rs RandomSource, pools *NamePools) *IdentityMapper {
	return &IdentityMapper{
		rs:         rs,
		pools:      pools,
		firstNames: make(map[string]string),
		lastNames:  make(map[string]string),
		genderLock: make(map[string]GenderTag),
	}
}

// Resolve returns the stable substitute first name for original under tag.
// Blank originals pass through without creating a mapping entry.
func (m *IdentityMapper) Resolve(original string, tag GenderTag) string {
	if original == "" {
		return ""
	}
	effectiveTag := tag
	if tag == GenderNone {
		effectiveTag = m.lockGender(original)
	}

	key := string(effectiveTag) + "\x00" + original
	if fake, ok := m.firstNames[key]; ok {
		return fake
	}
	fake := Pick(m.rs, m.pools.firstNames(effectiveTag))
	m.firstNames[key] = fake
	return fake
}

// ResolveSurname returns the stable substitute surname for original. Surnames
// use a single category with no gender split.
func (m *IdentityMapper) ResolveSurname(original string) string {
	if original == "" {
		return ""
	}
	if fake, ok := m.lastNames[original]; ok {
		return fake
	}
	fake := Pick(m.rs, m.pools.Last)
	m.lastNames[original] = fake
	return fake
}

// ResolveTokens substitutes a free-text name field token-wise. The field is
// split on whitespace and commas, each token is resolved as a first name under
// tag, and the results are rejoined with single spaces. If anchor is non-empty
// and not already among the substitutes, it replaces the first token - used to
// keep a secondary name field aligned with an already-substituted primary name.
func (m *IdentityMapper) ResolveTokens(original string, tag GenderTag, anchor string) string {
	if original == "" {
		return ""
	}
	fields := strings.FieldsFunc(original, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	})
	if len(fields) == 0 {
		return ""
	}
	out := make([]string, len(fields))
	for i, tok := range fields {
		out[i] = m.Resolve(tok, tag)
	}
	if anchor != "" && !slices.Contains(out, anchor) {
		out[0] = anchor
	}
	return strings.Join(out, " ")
}

func (m *IdentityMapper) lockGender(original string) GenderTag {
	if tag, ok := m.genderLock[original]; ok {
		return tag
	}
	tag := GenderMale
	if m.rs.Intn(2) == 1 {
		tag = GenderFemale
	}
	m.genderLock[original] = tag
	return tag
}

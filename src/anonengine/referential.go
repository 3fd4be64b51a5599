package anonengine

import (
	"strconv"
	"strings"
)

// RelationshipHandling classifies how a dependent record's name fields are
// derived from the primary record it references.
type RelationshipHandling int

const (
	// HandleSalutation resolves the name independently, with the pool implied
	// by the record's salutation.
	HandleSalutation RelationshipHandling = iota

	// HandleSelf marks relationship codes whose dependent record refers to the
	// primary person themself (an adult student acting as their own guardian).
	HandleSelf
)

// salutationTags is the rule table mapping recognized titles to pools.
// Unrecognized salutations resolve against the neutral pool.
var salutationTags = map[string]GenderTag{
	"herr":  GenderMale,
	"herrn": GenderMale,
	"frau":  GenderFemale,
}

func TagFromSalutation(salutation string) GenderTag {
	if tag, ok := salutationTags[strings.ToLower(strings.TrimSpace(salutation))]; ok {
		return tag
	}
	return GenderNeutral
}

// Primary is the already-substituted identity of the record a dependent row
// references.
type Primary struct {
	FirstName string
	CityID    int64
	HasCity   bool
}

// DependentAddress carries the address fields derived for a dependent record.
type DependentAddress struct {
	CityID      int64
	HasCity     bool
	Street      string
	HouseNumber string
}

// ReferentialResolver keeps dependent records textually coherent with the
// primary record they reference after substitution.
type ReferentialResolver struct {
	mapper         *IdentityMapper
	rs             RandomSource
	selfCodes      map[int64]struct{}
	streetSentinel string
	emailDomain    string
}

func NewReferentialResolver(mapper *IdentityMapper, rs RandomSource, selfCodes []int64,
	streetSentinel string, emailDomain string) *ReferentialResolver {
	codes := make(map[int64]struct{}, len(selfCodes))
	for _, c := range selfCodes {
		codes[c] = struct{}{}
	}
	return &ReferentialResolver{
		mapper:         mapper,
		rs:             rs,
		selfCodes:      codes,
		streetSentinel: streetSentinel,
		emailDomain:    emailDomain,
	}
}

func (r *ReferentialResolver) HandlingFor(code int64) RelationshipHandling {
	if _, ok := r.selfCodes[code]; ok {
		return HandleSelf
	}
	return HandleSalutation
}

// DeriveName substitutes one dependent name slot. Under HandleSelf the
// primary's substituted first name is copied verbatim, never re-rolled; the
// surname still goes through the mapper, which by stability yields the same
// substitute the primary got. Empty slots stay empty - a missing second
// guardian must not gain an invented name.
func (r *ReferentialResolver) DeriveName(primary Primary, code int64, salutation string,
	firstName string, lastName string) (string, string) {
	last := r.mapper.ResolveSurname(lastName)
	if firstName == "" {
		return "", last
	}
	if r.HandlingFor(code) == HandleSelf {
		return primary.FirstName, last
	}
	return r.mapper.Resolve(firstName, TagFromSalutation(salutation)), last
}

// DeriveAddress co-locates the dependent with its primary: the city is taken
// from the primary, the street is replaced by the sentinel, the house number
// is re-rolled. If the primary has no city (orphaned reference), the
// dependent keeps its prior city id.
func (r *ReferentialResolver) DeriveAddress(primary Primary, priorCityID int64) DependentAddress {
	addr := DependentAddress{
		CityID:      primary.CityID,
		HasCity:     primary.HasCity,
		Street:      r.streetSentinel,
		HouseNumber: RandomHouseNumber(r.rs),
	}
	if !primary.HasCity {
		addr.CityID = priorCityID
		addr.HasCity = priorCityID != 0
	}
	return addr
}

// DeriveEmail computes the dependent's contact address from its own already
// substituted display name plus the fixed domain. Deliberately not randomized,
// so every exported email textually matches the name shown next to it.
func (r *ReferentialResolver) DeriveEmail(firstName string, lastName string) string {
	local := EmailLocalPart(firstName, lastName)
	if local == "" {
		return ""
	}
	return local + "@" + r.emailDomain
}

func RandomHouseNumber(rs RandomSource) string {
	return strconv.Itoa(IntBetween(rs, 1, 999))
}

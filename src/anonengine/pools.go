package anonengine

import (
	"fmt"
)

// GenderTag selects which first-name pool a lookup resolves against.
type GenderTag string

const (
	GenderMale    GenderTag = "male"
	GenderFemale  GenderTag = "female"
	GenderNeutral GenderTag = "neutral"

	// GenderNone means the caller has no gender information at all. The mapper
	// rolls male or female once per original value and locks that choice.
	GenderNone GenderTag = "none"
)

// NamePools holds the candidate substitute names per category. Loaded once at
// startup and read-only afterwards.
type NamePools struct {
	FirstMale   []string
	FirstFemale []string
	Last        []string

	// firstNeutral is FirstMale and FirstFemale combined, built lazily.
	firstNeutral []string
}

func NewNamePools(male []string, female []string, last []string) (*NamePools, error) {
	p := &NamePools{
		FirstMale:   male,
		FirstFemale: female,
		Last:        last,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.firstNeutral = make([]string, 0, len(male)+len(female))
	p.firstNeutral = append(p.firstNeutral, male...)
	p.firstNeutral = append(p.firstNeutral, female...)
	return p, nil
}

func (p *NamePools) validate() error {
	if len(p.FirstMale) == 0 {
		return fmt.Errorf("name pool %q is empty", "first-name-male")
	}
	if len(p.FirstFemale) == 0 {
		return fmt.Errorf("name pool %q is empty", "first-name-female")
	}
	if len(p.Last) == 0 {
		return fmt.Errorf("name pool %q is empty", "last-name")
	}
	return nil
}

// firstNames returns the pool for a resolved tag. GenderNone must be locked to
// male or female by the caller before reaching here.
func (p *NamePools) firstNames(tag GenderTag) []string {
	switch tag {
	case GenderMale:
		return p.FirstMale
	case GenderFemale:
		return p.FirstFemale
	default:
		return p.firstNeutral
	}
}

package anonengine

import (
	"fmt"
	"strings"
)

// CityRef is one entry of the city catalogue the assigner draws from.
type CityRef struct {
	ID   int64
	Name string
	PLZ  string
}

// GeoIndex maps lower-cased city names to their street lists and keeps a flat
// list of every street as a cross-city fallback. Built once from the reference
// street table, read-only afterwards.
type GeoIndex struct {
	streetsByCity map[string][]string
	allStreets    []string
}

func NewGeoIndex() *GeoIndex {
	return &GeoIndex{
		streetsByCity: make(map[string][]string),
	}
}

func (g *GeoIndex) Add(city string, street string) {
	if street == "" {
		return
	}
	key := strings.ToLower(city)
	g.streetsByCity[key] = append(g.streetsByCity[key], street)
	g.allStreets = append(g.allStreets, street)
}

func (g *GeoIndex) StreetsFor(city string) []string {
	return g.streetsByCity[strings.ToLower(city)]
}

func (g *GeoIndex) StreetCount() int {
	return len(g.allStreets)
}

// GeoAssignment is a (city, street) substitute. Street may be absent when the
// index holds no street at all.
type GeoAssignment struct {
	CityID    int64
	CityName  string
	PLZ       string
	Street    string
	HasStreet bool
}

// GeoAssigner hands out uniformly random (city, street) pairs. The choice is
// independent of the record's original address, so the substitute carries no
// information about it.
type GeoAssigner struct {
	rs     RandomSource
	cities []CityRef
	index  *GeoIndex
}

func NewGeoAssigner(rs RandomSource, cities []CityRef, index *GeoIndex) (*GeoAssigner, error) {
	if len(cities) == 0 {
		return nil, fmt.Errorf("city catalogue is empty")
	}
	return &GeoAssigner{rs: rs, cities: cities, index: index}, nil
}

// Assign picks a random catalogue city, then a random street of that city. A
// city without indexed streets falls back to a random street from the flat
// list - deliberately not preserving the city/street correspondence rather
// than leaving the record without a street.
func (a *GeoAssigner) Assign() GeoAssignment {
	city := a.cities[a.rs.Intn(len(a.cities))]
	assignment := GeoAssignment{
		CityID:   city.ID,
		CityName: city.Name,
		PLZ:      city.PLZ,
	}
	streets := a.index.StreetsFor(city.Name)
	if len(streets) == 0 {
		streets = a.index.allStreets
	}
	if len(streets) > 0 {
		assignment.Street = Pick(a.rs, streets)
		assignment.HasStreet = true
	}
	return assignment
}

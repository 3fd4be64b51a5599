/*
Copyright (c) SVWS Tools contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package anonymize

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/svws-tools/svws-anonym/src/anonengine"
	"github.com/svws-tools/svws-anonym/src/srcdb"
)

type patternKind int

const (
	kindFirstName patternKind = iota
	kindLastName
	kindEmail
	kindPhone
	kindStreet
	kindHouseNumber
	kindPostcode
	kindCity
	kindBirthDate
	kindRemark
)

// genericRules is the ordered pattern table of the generic pass. A column
// matches the first rule whose pattern its lower-cased name contains, so the
// entry order decides ambiguous names: a column containing "name" is a
// surname even when it also contains "strasse".
var genericRules = []struct {
	pattern string
	kind    patternKind
}{
	{"nachname", kindLastName},
	{"vorname", kindFirstName},
	{"name", kindLastName},
	{"familienname", kindLastName},
	{"rufname", kindFirstName},
	{"email", kindEmail},
	{"e_mail", kindEmail},
	{"telefon", kindPhone},
	{"telefonnummer", kindPhone},
	{"handy", kindPhone},
	{"mobilnummer", kindPhone},
	{"fax", kindPhone},
	{"strasse", kindStreet},
	{"strassenname", kindStreet},
	{"hausnummer", kindHouseNumber},
	{"plz", kindPostcode},
	{"postleitzahl", kindPostcode},
	{"ort", kindCity},
	{"wohnort", kindCity},
	{"stadt", kindCity},
	{"geburtsdatum", kindBirthDate},
	{"geburtsort", kindCity},
	{"geburtsname", kindLastName},
	{"bemerkung", kindRemark},
	{"kommentar", kindRemark},
	{"notiz", kindRemark},
	{"memo", kindRemark},
}

func matchRule(columnName string) (patternKind, bool) {
	lower := strings.ToLower(columnName)
	for _, rule := range genericRules {
		if strings.Contains(lower, rule.pattern) {
			return rule.kind, true
		}
	}
	return 0, false
}

var (
	genericTextTypes = map[string]struct{}{
		"varchar": {}, "char": {}, "text": {}, "tinytext": {}, "mediumtext": {}, "longtext": {},
	}
	genericDateTypes = map[string]struct{}{
		"date": {}, "datetime": {}, "timestamp": {},
	}
	genericNumericTypes = map[string]struct{}{
		"tinyint": {}, "smallint": {}, "mediumint": {}, "int": {}, "integer": {}, "bigint": {},
		"decimal": {}, "numeric": {},
	}
)

// typeAllows filters rule matches by the column's declared type, so an
// integer Ort_ID reference never receives a city name. SQLite may report no
// type at all; such columns pass.
func typeAllows(kind patternKind, dataType string) bool {
	if dataType == "" {
		return true
	}
	if _, ok := genericTextTypes[dataType]; ok {
		return true
	}
	switch kind {
	case kindBirthDate:
		_, ok := genericDateTypes[dataType]
		return ok
	case kindHouseNumber, kindPostcode:
		_, ok := genericNumericTypes[dataType]
		return ok
	default:
		return false
	}
}

func (p *Pipeline) genericValue(kind patternKind, old sql.NullString) string {
	value := strings.TrimSpace(old.String)
	switch kind {
	case kindFirstName:
		return p.mapper.Resolve(value, anonengine.GenderNone)
	case kindLastName:
		return p.mapper.ResolveSurname(value)
	case kindEmail:
		return p.randomEmail()
	case kindPhone:
		return FakePhone(p.rs)
	case kindStreet:
		return streetSentinel
	case kindHouseNumber:
		return anonengine.RandomHouseNumber(p.rs)
	case kindPostcode:
		return FakePLZ(p.rs)
	case kindCity:
		return p.randomCityName()
	case kindBirthDate:
		return anonengine.JitterDate(p.rs, value)
	default:
		return remarkSentinel
	}
}

// randomEmail draws an unmapped pool pair. Generic email columns carry no
// uniqueness requirement.
func (p *Pipeline) randomEmail() string {
	local := anonengine.EmailLocalPart(anonengine.Pick(p.rs, p.firstNamePool), anonengine.Pick(p.rs, p.surnamePool))
	return local + "@" + p.opts.PrivateEmailDomain
}

// specializedTables are owned by their own pass and excluded from the
// generic scan.
var specializedTables = map[string]struct{}{
	strings.ToLower(tableSchueler):      {},
	strings.ToLower(tableGuardians):     {},
	strings.ToLower(tableTeachers):      {},
	strings.ToLower(tableCredentials):   {},
	strings.ToLower(tableStudentPhotos): {},
	strings.ToLower(tableTeacherPhotos): {},
}

// selectGenericTables applies the exclusion rules and the user's table
// filters to the full table list. Catalog (K_*) and infrastructure (SVWS_*)
// tables hold public reference data and are never scanned.
func (p *Pipeline) selectGenericTables() ([]string, error) {
	for _, t := range append(append([]string{}, p.opts.TableList...), p.opts.ExcludeTableList...) {
		if p.capFor(t) == nil {
			return nil, fmt.Errorf("table %q from the table list does not exist in the schema", t)
		}
	}
	include := make(map[string]bool, len(p.opts.TableList))
	for _, t := range p.opts.TableList {
		include[strings.ToLower(t)] = true
	}
	exclude := make(map[string]bool, len(p.opts.ExcludeTableList))
	for _, t := range p.opts.ExcludeTableList {
		exclude[strings.ToLower(t)] = true
	}

	return lo.Filter(p.tableNames, func(tableName string, _ int) bool {
		key := strings.ToLower(tableName)
		if _, ok := specializedTables[key]; ok {
			return false
		}
		if strings.HasPrefix(key, "k_") || strings.HasPrefix(key, "svws_") {
			return false
		}
		if len(include) > 0 && !include[key] {
			return false
		}
		return !exclude[key]
	}), nil
}

// anonymizeRemainingTables scans every table no specialized pass owns
// against the pattern rules.
func (p *Pipeline) anonymizeRemainingTables() error {
	tables, err := p.selectGenericTables()
	if err != nil {
		return err
	}
	log.Infof("generic pass covers %d tables", len(tables))
	for _, tableName := range tables {
		if err := p.anonymizeGenericTable(tableName); err != nil {
			return err
		}
	}
	return nil
}

type matchedColumn struct {
	name string
	kind patternKind
}

func (p *Pipeline) anonymizeGenericTable(tableName string) error {
	caps := p.capFor(tableName)
	if !caps.HasPrimaryKey() {
		p.reportSkip(passGeneric, caps.Table, "no primary key")
		return nil
	}
	pk := make(map[string]bool, len(caps.PKColumns))
	for _, c := range caps.PKColumns {
		pk[strings.ToLower(c)] = true
	}
	var matched []matchedColumn
	for _, col := range caps.Columns() {
		if pk[strings.ToLower(col.Name)] {
			continue
		}
		kind, ok := matchRule(col.Name)
		if !ok || !typeAllows(kind, col.DataType) {
			continue
		}
		matched = append(matched, matchedColumn{name: col.Name, kind: kind})
	}
	if len(matched) == 0 {
		log.Infof("table %s: no column matches the pattern rules", caps.Table)
		return nil
	}
	columns := make([]string, len(matched))
	for i, m := range matched {
		columns[i] = m.name
	}
	return p.runTablePass(passGeneric, caps.Table, columns, func(rd *rowReader, row srcdb.Row, cs *changeSet) error {
		for _, m := range matched {
			old := rd.get(row, m.name)
			if !present(old) {
				continue
			}
			cs.set(m.name, old, p.genericValue(m.kind, old))
		}
		return nil
	})
}

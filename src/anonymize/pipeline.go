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
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/gosuri/uitable"
	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"

	"github.com/svws-tools/svws-anonym/src/anonengine"
	"github.com/svws-tools/svws-anonym/src/refdata"
	"github.com/svws-tools/svws-anonym/src/srcdb"
	"github.com/svws-tools/svws-anonym/src/utils"
)

const (
	minMariaDBVersion    = "10.3"
	testedSchemaRevision = 21

	reportFileName        = "anonymize-report.json"
	dryRunChangesFileName = "dry-run-changes.jsonl"
)

// Options configures one anonymization run.
type Options struct {
	DryRun           bool
	DisablePb        bool
	TableList        []string
	ExcludeTableList []string
	ReportDir        string

	// Domain suffixes for derived email addresses; empty fields fall back to
	// the built-in defaults.
	DienstEmailDomain   string
	PrivateEmailDomain  string
	SchuelerEmailDomain string
	GuardianEmailDomain string
}

func (o Options) withDefaults() Options {
	if o.DienstEmailDomain == "" {
		o.DienstEmailDomain = dienstEmailDomain
	}
	if o.PrivateEmailDomain == "" {
		o.PrivateEmailDomain = privateEmailDomain
	}
	if o.SchuelerEmailDomain == "" {
		o.SchuelerEmailDomain = schuelerEmailDomain
	}
	if o.GuardianEmailDomain == "" {
		o.GuardianEmailDomain = guardianEmailDomain
	}
	return o
}

// substitutedPerson is the identity a pass computed for one row, kept in
// memory for the dependent passes: guardians copy the ward's identity,
// credentials the owner's.
type substitutedPerson struct {
	FirstName string
	LastName  string
	CityID    int64
	HasCity   bool
}

type uniquenessDomains struct {
	kuerzel       *anonengine.UniquenessDomain
	panr          *anonengine.UniquenessDomain
	usernames     *anonengine.UniquenessDomain
	dienstEmail   *anonengine.UniquenessDomain
	privateEmail  *anonengine.UniquenessDomain
	schuelerEmail *anonengine.UniquenessDomain
	schulEmail    *anonengine.UniquenessDomain
}

// Pipeline runs the anonymization: preflight loads reference data and
// capability descriptors, then the passes rewrite the tables sequentially,
// one transaction per table.
type Pipeline struct {
	db     srcdb.SourceDB
	source *srcdb.Source
	opts   Options
	runID  string

	rs       anonengine.RandomSource
	mapper   *anonengine.IdentityMapper
	geo      *anonengine.GeoAssigner
	resolver *anonengine.ReferentialResolver
	domains  *uniquenessDomains

	caps             map[string]*TableCapabilities
	tableNames       []string
	cities           []anonengine.CityRef
	cityByID         map[int64]anonengine.CityRef
	wards            map[int64]substitutedPerson
	credentialOwners map[int64]substitutedPerson

	firstNamePool []string
	surnamePool   []string

	report   *RunReport
	sink     *DryRunSink
	progress *ProgressReporter
}

func NewPipeline(db srcdb.SourceDB, source *srcdb.Source, opts Options) *Pipeline {
	return &Pipeline{
		db:               db,
		source:           source,
		opts:             opts.withDefaults(),
		runID:            uuid.New().String(),
		rs:               anonengine.NewSource(),
		wards:            make(map[int64]substitutedPerson),
		credentialOwners: make(map[int64]substitutedPerson),
	}
}

func (p *Pipeline) RunID() string {
	return p.runID
}

func (p *Pipeline) Run() error {
	p.report = newRunReport(p.runID, p.opts.DryRun, p.source.DBType, p.schemaLabel())
	if err := p.preflight(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.opts.ReportDir, 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if p.opts.DryRun {
		sink, err := NewDryRunSink(filepath.Join(p.opts.ReportDir, dryRunChangesFileName))
		if err != nil {
			return err
		}
		p.sink = sink
		defer func() {
			if err := p.sink.Close(); err != nil {
				log.Errorf("closing the dry-run change file: %v", err)
			}
		}()
	}

	p.progress = NewProgressReporter(p.opts.DisablePb)
	passes := []struct {
		name string
		run  func() error
	}{
		{passStudents, p.anonymizeStudents},
		{passGuardians, p.anonymizeGuardians},
		{passTeachers, p.anonymizeTeachers},
		{passCredentials, p.anonymizeCredentials},
		{passPhotos, p.wipePhotos},
		{passGeneric, p.anonymizeRemainingTables},
	}
	var runErr error
	for _, pass := range passes {
		log.Infof("starting pass %q", pass.name)
		if err := pass.run(); err != nil {
			runErr = fmt.Errorf("pass %s: %w", pass.name, err)
			break
		}
	}
	p.progress.Finish()

	reportPath := filepath.Join(p.opts.ReportDir, reportFileName)
	if err := p.report.Save(reportPath); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			log.Errorf("saving the run report: %v", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	p.printSummary(reportPath)
	return nil
}

func (p *Pipeline) schemaLabel() string {
	if p.source.DBType == srcdb.SQLITE {
		return p.source.DBFile
	}
	return p.source.DBName
}

// preflight loads reference data and computes the capability descriptors.
// Any failure here is fatal for the run: nothing has been written yet, and
// continuing without pools or geo data would leave rows half rewritten.
func (p *Pipeline) preflight() error {
	if err := p.checkServerVersion(); err != nil {
		return err
	}
	if err := p.loadCapabilities(); err != nil {
		return err
	}
	maleNames, femaleNames, surnames := refdata.FirstNamesMale(), refdata.FirstNamesFemale(), refdata.Surnames()
	pools, err := anonengine.NewNamePools(maleNames, femaleNames, surnames)
	if err != nil {
		return fmt.Errorf("loading name pools: %w", err)
	}
	p.mapper = anonengine.NewIdentityMapper(p.rs, pools)
	p.firstNamePool = make([]string, 0, len(maleNames)+len(femaleNames))
	p.firstNamePool = append(p.firstNamePool, maleNames...)
	p.firstNamePool = append(p.firstNamePool, femaleNames...)
	p.surnamePool = surnames
	if err := p.loadGeoData(); err != nil {
		return err
	}
	if err := p.loadGuardianTypes(); err != nil {
		return err
	}
	if err := p.seedDomains(); err != nil {
		return err
	}
	p.readSchemaRevision()
	return nil
}

func (p *Pipeline) checkServerVersion() error {
	versionStr, err := p.db.GetServerVersion()
	if err != nil {
		return fmt.Errorf("querying the server version: %w", err)
	}
	p.report.ServerVersion = versionStr
	log.Infof("source server version: %s", versionStr)
	if p.source.DBType != srcdb.MARIADB {
		return nil
	}
	base, _, _ := strings.Cut(versionStr, "-")
	serverVersion, err := goversion.NewVersion(base)
	if err != nil {
		log.Warnf("could not parse server version %q: %v", versionStr, err)
		return nil
	}
	if serverVersion.LessThan(goversion.Must(goversion.NewVersion(minMariaDBVersion))) {
		return fmt.Errorf("MariaDB server version %s is older than the minimum supported %s", versionStr, minMariaDBVersion)
	}
	return nil
}

func (p *Pipeline) loadCapabilities() error {
	tables, err := p.db.GetAllTableNames()
	if err != nil {
		return fmt.Errorf("listing tables: %w", err)
	}
	p.caps = make(map[string]*TableCapabilities, len(tables))
	p.tableNames = tables
	for _, tableName := range tables {
		columns, err := p.db.DescribeColumns(tableName)
		if err != nil {
			return fmt.Errorf("describing table %s: %w", tableName, err)
		}
		pkColumns, err := p.db.GetPrimaryKeyColumns(tableName)
		if err != nil {
			return fmt.Errorf("reading the primary key of %s: %w", tableName, err)
		}
		p.caps[strings.ToLower(tableName)] = NewTableCapabilities(tableName, pkColumns, columns)
	}
	log.Infof("capability descriptors computed for %d tables", len(p.caps))
	return nil
}

func (p *Pipeline) capFor(tableName string) *TableCapabilities {
	return p.caps[strings.ToLower(tableName)]
}

func (p *Pipeline) loadGeoData() error {
	cityCaps := p.capFor(tableCities)
	if cityCaps == nil {
		return fmt.Errorf("reference table %s not found: cannot assign substitute addresses", tableCities)
	}
	if !cityCaps.Has(colID) || !cityCaps.Has(colBezeichnung) {
		return fmt.Errorf("reference table %s is missing its ID/Bezeichnung columns", tableCities)
	}
	columns := cityCaps.Select(colID, colBezeichnung, colPLZ)
	rows, err := p.db.ReadRows(cityCaps.Table, cityCaps.PKColumns, columns)
	if err != nil {
		return fmt.Errorf("reading the city catalogue: %w", err)
	}
	rd := newRowReader(columns)
	p.cityByID = make(map[int64]anonengine.CityRef, len(rows))
	for _, row := range rows {
		id, ok := nullInt64(rd.get(row, colID))
		name := strings.TrimSpace(rd.get(row, colBezeichnung).String)
		if !ok || name == "" {
			continue
		}
		city := anonengine.CityRef{ID: id, Name: name, PLZ: strings.TrimSpace(rd.get(row, colPLZ).String)}
		p.cities = append(p.cities, city)
		p.cityByID[id] = city
	}

	index := anonengine.NewGeoIndex()
	streetCaps := p.capFor(tableStreets)
	if streetCaps == nil {
		return fmt.Errorf("reference table %s not found: cannot assign substitute streets", tableStreets)
	}
	streetColumns := streetCaps.Select(colOrtID, colBezeichnung)
	streetRows, err := p.db.ReadRows(streetCaps.Table, streetCaps.PKColumns, streetColumns)
	if err != nil {
		return fmt.Errorf("reading the street reference: %w", err)
	}
	srd := newRowReader(streetColumns)
	for _, row := range streetRows {
		street := strings.TrimSpace(srd.get(row, colBezeichnung).String)
		if street == "" {
			continue
		}
		cityName := ""
		if ortID, ok := nullInt64(srd.get(row, colOrtID)); ok {
			cityName = p.cityByID[ortID].Name
		}
		index.Add(cityName, street)
	}
	if index.StreetCount() == 0 {
		log.Warnf("street reference %s has no usable rows; substitute addresses will carry no street", tableStreets)
	}

	geo, err := anonengine.NewGeoAssigner(p.rs, p.cities, index)
	if err != nil {
		return fmt.Errorf("building the geo assigner from %s: %w", tableCities, err)
	}
	p.geo = geo
	log.Infof("geo reference loaded: %d cities, %d streets", len(p.cities), index.StreetCount())
	return nil
}

func (p *Pipeline) loadGuardianTypes() error {
	var selfCodes []int64
	caps := p.capFor(tableGuardianTypes)
	if caps == nil || !caps.Has(colID) || !caps.Has(colBezeichnung) {
		log.Warnf("guardian type catalogue %s not found; no guardian rows will be treated as self-references", tableGuardianTypes)
	} else {
		columns := caps.Select(colID, colBezeichnung)
		rows, err := p.db.ReadRows(caps.Table, caps.PKColumns, columns)
		if err != nil {
			return fmt.Errorf("reading the guardian type catalogue: %w", err)
		}
		rd := newRowReader(columns)
		for _, row := range rows {
			id, ok := nullInt64(rd.get(row, colID))
			if !ok {
				continue
			}
			label := strings.ToLower(rd.get(row, colBezeichnung).String)
			if strings.Contains(label, "selbst") || strings.Contains(label, "volljähr") {
				selfCodes = append(selfCodes, id)
			}
		}
		log.Infof("guardian type catalogue loaded: %d self-reference codes", len(selfCodes))
	}
	p.resolver = anonengine.NewReferentialResolver(p.mapper, p.rs, selfCodes, streetSentinel, p.opts.GuardianEmailDomain)
	return nil
}

func (p *Pipeline) seedDomains() error {
	p.domains = &uniquenessDomains{
		kuerzel:       anonengine.NewUniquenessDomain("kuerzel"),
		panr:          anonengine.NewUniquenessDomain("panr"),
		usernames:     anonengine.NewUniquenessDomain("benutzername"),
		dienstEmail:   anonengine.NewUniquenessDomain("email-dienstlich"),
		privateEmail:  anonengine.NewUniquenessDomain("email-privat"),
		schuelerEmail: anonengine.NewUniquenessDomain("schueler-email"),
		schulEmail:    anonengine.NewUniquenessDomain("schueler-schulemail"),
	}
	seeds := []struct {
		domain *anonengine.UniquenessDomain
		table  string
		column string
	}{
		{p.domains.kuerzel, tableTeachers, colKuerzel},
		{p.domains.panr, tableTeachers, colPANr},
		{p.domains.usernames, tableCredentials, colBenutzername},
		{p.domains.dienstEmail, tableTeachers, colEmailDienstlich},
		{p.domains.privateEmail, tableTeachers, colEmail},
		{p.domains.schuelerEmail, tableSchueler, colEmail},
		{p.domains.schulEmail, tableSchueler, colSchulEmail},
	}
	for _, s := range seeds {
		caps := p.capFor(s.table)
		if caps == nil || !caps.Has(s.column) {
			continue
		}
		values, err := p.db.ColumnValues(caps.Table, caps.ColumnName(s.column))
		if err != nil {
			return fmt.Errorf("seeding uniqueness domain %q from %s.%s: %w", s.domain.Name(), caps.Table, s.column, err)
		}
		s.domain.SeedValues(values)
		log.Infof("uniqueness domain %q seeded with %d values from %s.%s", s.domain.Name(), s.domain.Size(), caps.Table, s.column)
	}
	return nil
}

// readSchemaRevision records the SVWS schema revision in the report. Best
// effort: a missing version table is unusual but not a reason to abort.
func (p *Pipeline) readSchemaRevision() {
	caps := p.capFor(tableSchemaVersion)
	if caps == nil || !caps.Has(colRevision) {
		log.Warnf("schema version table %s not found", tableSchemaVersion)
		return
	}
	values, err := p.db.ColumnValues(caps.Table, caps.ColumnName(colRevision))
	if err != nil || len(values) == 0 {
		log.Warnf("could not read the schema revision from %s: %v", tableSchemaVersion, err)
		return
	}
	p.report.SchemaRevision = values[0]
	log.Infof("SVWS schema revision: %s", values[0])
	if rev, convErr := strconv.Atoi(values[0]); convErr == nil && rev != testedSchemaRevision {
		log.Warnf("schema revision %d differs from the tested revision %d; unknown columns are only covered by the pattern rules", rev, testedSchemaRevision)
	}
}

// changeSet accumulates one row's column rewrites.
type changeSet struct {
	pkValues  []interface{}
	columns   []string
	values    []interface{}
	oldValues []string
}

func newChangeSet(row srcdb.Row) *changeSet {
	return &changeSet{pkValues: row.PKValues}
}

// set records a rewrite unless it is a no-op: same value again, or the empty
// string over NULL.
func (c *changeSet) set(columnName string, old sql.NullString, newValue string) {
	if old.Valid && old.String == newValue {
		return
	}
	if !old.Valid && newValue == "" {
		return
	}
	c.columns = append(c.columns, columnName)
	c.values = append(c.values, newValue)
	c.oldValues = append(c.oldValues, old.String)
}

// clear NULLs a column that currently holds a value.
func (c *changeSet) clear(columnName string, old sql.NullString) {
	if !old.Valid {
		return
	}
	c.columns = append(c.columns, columnName)
	c.values = append(c.values, nil)
	c.oldValues = append(c.oldValues, old.String)
}

func (c *changeSet) empty() bool {
	return len(c.columns) == 0
}

func (c *changeSet) size() int {
	return len(c.columns)
}

// applyChanges writes one table's accumulated updates in a single
// transaction, or routes them to the dry-run sink. A failed update rolls the
// whole table back; tables committed earlier in the run stay committed.
func (p *Pipeline) applyChanges(caps *TableCapabilities, changes []*changeSet) error {
	if p.opts.DryRun {
		for _, cs := range changes {
			rowID := pkString(cs.pkValues)
			for i := range cs.columns {
				newValue := ""
				if cs.values[i] != nil {
					newValue = cs.values[i].(string)
				}
				if err := p.sink.Record(caps.Table, rowID, cs.columns[i], cs.oldValues[i], newValue); err != nil {
					return fmt.Errorf("recording dry-run changes for %s: %w", caps.Table, err)
				}
			}
		}
		return nil
	}
	if len(changes) == 0 {
		return nil
	}
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction on %s: %w", caps.Table, err)
	}
	for _, cs := range changes {
		if err := srcdb.UpdateRow(tx, caps.Table, caps.PKColumns, cs.pkValues, cs.columns, cs.values); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Errorf("rolling back %s: %v", caps.Table, rbErr)
			}
			return fmt.Errorf("updating %s: %w", caps.Table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", caps.Table, err)
	}
	return nil
}

func (p *Pipeline) reportSkip(pass string, tableName string, reason string) {
	log.Infof("skipping %s: %s", tableName, reason)
	p.report.addTable(&TableReport{Table: tableName, Pass: pass, SkipReason: reason})
}

func (p *Pipeline) randomCityName() string {
	return p.cities[p.rs.Intn(len(p.cities))].Name
}

func (p *Pipeline) printSummary(reportPath string) {
	headerfmt := color.New(color.FgGreen, color.Underline).SprintFunc()
	table := uitable.New()
	table.AddRow(headerfmt("PASS"), headerfmt("TABLE"), headerfmt("ROWS SCANNED"), headerfmt("ROWS CHANGED"), headerfmt("CELLS CHANGED"), headerfmt("NOTE"))
	for _, t := range p.report.Tables {
		note := t.SkipReason
		if t.RowsDeleted > 0 {
			note = fmt.Sprintf("%s rows deleted", humanize.Comma(t.RowsDeleted))
		}
		table.AddRow(t.Pass, t.Table, humanize.Comma(t.RowsScanned), humanize.Comma(t.RowsChanged), humanize.Comma(t.CellsChanged), note)
	}
	fmt.Print("\n")
	fmt.Println(table)
	fmt.Print("\n")
	if p.opts.DryRun {
		utils.PrintAndLog("Dry run complete: %s candidate cell changes recorded, nothing written (run %s).", humanize.Comma(p.sink.Count()), p.runID)
	} else {
		utils.PrintAndLog("Anonymization complete: %s rows scanned, %s rows changed, %s cells rewritten (run %s).",
			humanize.Comma(p.report.TotalRows), humanize.Comma(p.report.TotalChanged), humanize.Comma(p.report.TotalCells), p.runID)
	}
	utils.PrintAndLog("Run report: %s", reportPath)
}

// pkString renders primary key values for logs and the dry-run report.
func pkString(pkValues []interface{}) string {
	parts := make([]string, len(pkValues))
	for i, v := range pkValues {
		switch val := v.(type) {
		case []byte:
			parts[i] = string(val)
		default:
			parts[i] = fmt.Sprint(val)
		}
	}
	return strings.Join(parts, "/")
}

// pkInt64 extracts an integer primary key in whatever shape the driver
// returned it.
func pkInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case []byte:
		n, err := strconv.ParseInt(string(val), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func nullInt64(v sql.NullString) (int64, bool) {
	if !v.Valid {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v.String), 10, 64)
	return n, err == nil
}

// present reports whether a cell holds a usable value. Missing and blank
// fields pass through unchanged rather than gaining invented data.
func present(v sql.NullString) bool {
	return v.Valid && strings.TrimSpace(v.String) != ""
}

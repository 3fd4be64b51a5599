//go:build unit

package anonymize

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svws-tools/svws-anonym/src/anonengine"
	"github.com/svws-tools/svws-anonym/src/refdata"
	"github.com/svws-tools/svws-anonym/src/srcdb"
)

// fakeSourceDB serves canned schema and rows. Cell maps are keyed by
// lower-cased column name.
type fakeSourceDB struct {
	version    string
	tableOrder []string
	tables     map[string]*fakeTable
	sqldb      *sql.DB
}

type fakeTable struct {
	name    string
	pk      []string
	columns []srcdb.ColumnInfo
	rows    []fakeRow
}

type fakeRow struct {
	pk    []interface{}
	cells map[string]sql.NullString
}

func newFakeSourceDB() *fakeSourceDB {
	return &fakeSourceDB{
		version: "10.6.12-MariaDB-log",
		tables:  make(map[string]*fakeTable),
	}
}

func (f *fakeSourceDB) addTable(t fakeTable) {
	f.tableOrder = append(f.tableOrder, t.name)
	f.tables[strings.ToLower(t.name)] = &t
}

func (f *fakeSourceDB) table(name string) *fakeTable {
	return f.tables[strings.ToLower(name)]
}

func (f *fakeSourceDB) Connect() error                    { return nil }
func (f *fakeSourceDB) Disconnect()                       {}
func (f *fakeSourceDB) Ping() error                       { return nil }
func (f *fakeSourceDB) GetServerVersion() (string, error) { return f.version, nil }
func (f *fakeSourceDB) ListSchemas() ([]string, error)    { return []string{"svws"}, nil }

func (f *fakeSourceDB) GetAllTableNames() ([]string, error) {
	return f.tableOrder, nil
}

func (f *fakeSourceDB) DescribeColumns(tableName string) ([]srcdb.ColumnInfo, error) {
	return f.table(tableName).columns, nil
}

func (f *fakeSourceDB) GetPrimaryKeyColumns(tableName string) ([]string, error) {
	return f.table(tableName).pk, nil
}

func (f *fakeSourceDB) CountRows(tableName string) (int64, error) {
	return int64(len(f.table(tableName).rows)), nil
}

func (f *fakeSourceDB) ColumnValues(tableName string, columnName string) ([]string, error) {
	var out []string
	for _, r := range f.table(tableName).rows {
		if v, ok := r.cells[strings.ToLower(columnName)]; ok && v.Valid {
			out = append(out, v.String)
		}
	}
	return out, nil
}

func (f *fakeSourceDB) ReadRows(tableName string, pkColumns []string, columns []string) ([]srcdb.Row, error) {
	t := f.table(tableName)
	rows := make([]srcdb.Row, 0, len(t.rows))
	for _, r := range t.rows {
		row := srcdb.Row{PKValues: r.pk, Values: make([]sql.NullString, len(columns))}
		for i, col := range columns {
			row.Values[i] = r.cells[strings.ToLower(col)]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (f *fakeSourceDB) Begin() (*sql.Tx, error) {
	if f.sqldb == nil {
		return nil, fmt.Errorf("no transactional backend configured")
	}
	return f.sqldb.Begin()
}

func nv(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func varcharCols(names ...string) []srcdb.ColumnInfo {
	cols := make([]srcdb.ColumnInfo, 0, len(names)+1)
	cols = append(cols, srcdb.ColumnInfo{Name: "ID", DataType: "bigint"})
	for _, n := range names {
		cols = append(cols, srcdb.ColumnInfo{Name: n, DataType: "varchar"})
	}
	return cols
}

// svwsFixture models a small SVWS schema around two students whose shared
// surname and guardian rows exercise the cross-table consistency rules. The
// original Ort_ID values point at a city (999) missing from the catalogue so
// every substituted city id differs from its original.
func svwsFixture() *fakeSourceDB {
	f := newFakeSourceDB()

	f.addTable(fakeTable{
		name:    tableCities,
		pk:      []string{"ID"},
		columns: varcharCols("Bezeichnung", "PLZ"),
		rows: []fakeRow{
			{pk: []interface{}{int64(100)}, cells: map[string]sql.NullString{
				"id": nv("100"), "bezeichnung": nv("Musterstadt"), "plz": nv("48599")}},
			{pk: []interface{}{int64(200)}, cells: map[string]sql.NullString{
				"id": nv("200"), "bezeichnung": nv("Beispielhausen"), "plz": nv("33333")}},
		},
	})
	f.addTable(fakeTable{
		name: tableStreets,
		pk:   []string{"ID"},
		columns: []srcdb.ColumnInfo{
			{Name: "ID", DataType: "bigint"},
			{Name: "Ort_ID", DataType: "bigint"},
			{Name: "Bezeichnung", DataType: "varchar"},
		},
		rows: []fakeRow{
			{pk: []interface{}{int64(1)}, cells: map[string]sql.NullString{
				"ort_id": nv("100"), "bezeichnung": nv("Gartenweg")}},
			{pk: []interface{}{int64(2)}, cells: map[string]sql.NullString{
				"ort_id": nv("200"), "bezeichnung": nv("Lindenallee")}},
		},
	})
	f.addTable(fakeTable{
		name:    tableGuardianTypes,
		pk:      []string{"ID"},
		columns: varcharCols("Bezeichnung"),
		rows: []fakeRow{
			{pk: []interface{}{int64(1)}, cells: map[string]sql.NullString{
				"id": nv("1"), "bezeichnung": nv("Mutter")}},
			{pk: []interface{}{int64(7)}, cells: map[string]sql.NullString{
				"id": nv("7"), "bezeichnung": nv("Schüler/-in ist volljährig")}},
		},
	})
	f.addTable(fakeTable{
		name:    tableSchemaVersion,
		columns: []srcdb.ColumnInfo{{Name: "Revision", DataType: "bigint"}},
		rows: []fakeRow{
			{cells: map[string]sql.NullString{"revision": nv("21")}},
		},
	})

	f.addTable(fakeTable{
		name: tableSchueler,
		pk:   []string{"ID"},
		columns: varcharCols("Geschlecht", "Vorname", "AlleVornamen", "Nachname", "Geburtsname",
			"Strassenname", "HausNr", "HausNrZusatz", "Ort_ID", "PLZ", "Geburtsdatum", "Geburtsort",
			"Telefon", "Fax", "Email", "SchulEmail", "Credential_ID"),
		rows: []fakeRow{
			{pk: []interface{}{int64(1)}, cells: map[string]sql.NullString{
				"geschlecht":    nv("3"),
				"vorname":       nv("Balduin"),
				"allevornamen":  nv("Balduin Johann"),
				"nachname":      nv("Quellenberg"),
				"strassenname":  nv("Hauptstraße"),
				"hausnr":        nv("12b"),
				"hausnrzusatz":  nv("a"),
				"ort_id":        nv("999"),
				"plz":           nv("12345"),
				"geburtsdatum":  nv("2008-03-14"),
				"geburtsort":    nv("Köln"),
				"telefon":       nv("+49 221 998877"),
				"email":         nv("balduin.quellenberg@web.de"),
				"schulemail":    nv("balduin.q@alte-schule.de"),
				"credential_id": nv("900"),
			}},
			{pk: []interface{}{int64(2)}, cells: map[string]sql.NullString{
				"geschlecht": nv("4"),
				"vorname":    nv("Gislinde"),
				"nachname":   nv("Quellenberg"),
			}},
		},
	})
	f.addTable(fakeTable{
		name: tableGuardians,
		pk:   []string{"ID"},
		columns: varcharCols("Schueler_ID", "ErzieherArt_ID", "Anrede1", "Vorname1", "Name1",
			"Anrede2", "Vorname2", "Name2", "ErzStrassenname", "ErzHausNr", "ErzHausNrZusatz",
			"ErzOrt_ID", "ErzPLZ", "ErzEmail", "ErzEmail2", "Bemerkungen"),
		rows: []fakeRow{
			{pk: []interface{}{int64(10)}, cells: map[string]sql.NullString{
				"schueler_id":     nv("1"),
				"erzieherart_id":  nv("1"),
				"anrede1":         nv("Frau"),
				"vorname1":        nv("Mechthild"),
				"name1":           nv("Quellenberg"),
				"anrede2":         nv("Herr"),
				"vorname2":        nv("Kunibert"),
				"name2":           nv("Altmann"),
				"erzstrassenname": nv("Hauptstraße"),
				"erzhausnr":       nv("12b"),
				"erzhausnrzusatz": nv("a"),
				"erzort_id":       nv("999"),
				"erzplz":          nv("12345"),
				"erzemail":        nv("mechthild.quellenberg@web.de"),
				"bemerkungen":     nv("zahlt das Mittagessen bar"),
			}},
			{pk: []interface{}{int64(11)}, cells: map[string]sql.NullString{
				"schueler_id":    nv("2"),
				"erzieherart_id": nv("7"),
				"vorname1":       nv("Gislinde"),
				"name1":          nv("Quellenberg"),
				"erzort_id":      nv("300"),
			}},
		},
	})
	f.addTable(fakeTable{
		name: tableTeachers,
		pk:   []string{"ID"},
		columns: varcharCols("Kuerzel", "Nachname", "Vorname", "Geschlecht", "PANr",
			"Strassenname", "HausNr", "HausNrZusatz", "Ort_ID", "PLZ", "Telefon", "Handy",
			"Email", "EmailDienstlich", "Geburtsdatum", "Credential_ID"),
		rows: []fakeRow{
			{pk: []interface{}{int64(50)}, cells: map[string]sql.NullString{
				"kuerzel":         nv("MUS"),
				"nachname":        nv("Mustermann"),
				"vorname":         nv("Wendelin"),
				"geschlecht":      nv("3"),
				"panr":            nv("123456"),
				"strassenname":    nv("Schulweg"),
				"hausnr":          nv("1a"),
				"ort_id":          nv("999"),
				"plz":             nv("12345"),
				"telefon":         nv("+49 2561 111111"),
				"handy":           nv("+49 170 2222222"),
				"email":           nv("wendelin.mustermann@web.de"),
				"emaildienstlich": nv("wendelin.mustermann@schule-nrw.de"),
				"geburtsdatum":    nv("1980-12-24"),
				"credential_id":   nv("901"),
			}},
		},
	})
	f.addTable(fakeTable{
		name:    tableCredentials,
		pk:      []string{"ID"},
		columns: varcharCols("Benutzername", "Initialkennwort", "PasswordHash", "RSAPublicKey", "RSAPrivateKey", "AES"),
		rows: []fakeRow{
			{pk: []interface{}{int64(900)}, cells: map[string]sql.NullString{
				"benutzername":    nv("balduin.quellenberg"),
				"initialkennwort": nv("Start123"),
				"passwordhash":    nv("$2y$10$abcdef"),
				"rsapublickey":    nv("PUBKEY"),
				"rsaprivatekey":   nv("PRIVKEY"),
				"aes":             nv("AESKEY"),
			}},
			{pk: []interface{}{int64(901)}, cells: map[string]sql.NullString{
				"benutzername": nv("wmustermann"),
			}},
			{pk: []interface{}{int64(902)}, cells: map[string]sql.NullString{
				"benutzername": nv("hausmeister1"),
			}},
		},
	})
	f.addTable(fakeTable{
		name: tableStudentPhotos,
		columns: []srcdb.ColumnInfo{
			{Name: "Schueler_ID", DataType: "bigint"},
			{Name: "Foto", DataType: "longblob"},
		},
		rows: []fakeRow{
			{cells: map[string]sql.NullString{"schueler_id": nv("1"), "foto": nv("BLOB1")}},
			{cells: map[string]sql.NullString{"schueler_id": nv("2"), "foto": nv("BLOB2")}},
		},
	})
	f.addTable(fakeTable{
		name: tableTeacherPhotos,
		columns: []srcdb.ColumnInfo{
			{Name: "Lehrer_ID", DataType: "bigint"},
			{Name: "Foto", DataType: "longblob"},
		},
		rows: []fakeRow{
			{cells: map[string]sql.NullString{"lehrer_id": nv("50"), "foto": nv("BLOB3")}},
		},
	})

	f.addTable(fakeTable{
		name: "Personengruppen_Personen",
		pk:   []string{"ID"},
		columns: []srcdb.ColumnInfo{
			{Name: "ID", DataType: "bigint"},
			{Name: "Name", DataType: "varchar"},
			{Name: "Email", DataType: "varchar"},
			{Name: "Telefon", DataType: "varchar"},
			{Name: "Ort_ID", DataType: "bigint"},
			{Name: "PLZ", DataType: "varchar"},
			{Name: "Bemerkung", DataType: "text"},
		},
		rows: []fakeRow{
			{pk: []interface{}{int64(31)}, cells: map[string]sql.NullString{
				"name":      nv("Grünewald"),
				"email":     nv("gruenewald@firma.de"),
				"telefon":   nv("+49 251 777777"),
				"ort_id":    nv("100"),
				"plz":       nv("48143"),
				"bemerkung": nv("Ansprechpartner der Sparkasse"),
			}},
		},
	})
	f.addTable(fakeTable{
		name:    "ImportLog",
		columns: []srcdb.ColumnInfo{{Name: "Zeile", DataType: "varchar"}, {Name: "Bemerkung", DataType: "varchar"}},
		rows: []fakeRow{
			{cells: map[string]sql.NullString{"zeile": nv("1"), "bemerkung": nv("Import von Herrn Gärtner")}},
		},
	})
	f.addTable(fakeTable{
		name:    "Schuljahresabschnitte",
		pk:      []string{"ID"},
		columns: []srcdb.ColumnInfo{{Name: "ID", DataType: "bigint"}, {Name: "Jahr", DataType: "int"}, {Name: "Abschnitt", DataType: "int"}},
		rows: []fakeRow{
			{pk: []interface{}{int64(5)}, cells: map[string]sql.NullString{"jahr": nv("2024"), "abschnitt": nv("1")}},
		},
	})

	return f
}

func testSource() *srcdb.Source {
	return &srcdb.Source{DBType: srcdb.MARIADB, Host: "localhost", Port: 3306, User: "root", DBName: "svws_test"}
}

type changeKey struct {
	table  string
	row    string
	column string
}

type changeIndex map[changeKey]ChangeRecord

func (ci changeIndex) get(t *testing.T, table string, row string, column string) ChangeRecord {
	t.Helper()
	rec, ok := ci[changeKey{table, row, column}]
	require.True(t, ok, "expected a change record for %s/%s/%s", table, row, column)
	return rec
}

func (ci changeIndex) has(table string, row string, column string) bool {
	_, ok := ci[changeKey{table, row, column}]
	return ok
}

// runDryRun runs the full pipeline against the fixture with the writes routed
// to the dry-run sink and returns the recorded changes plus the run report.
func runDryRun(t *testing.T, f *fakeSourceDB, opts Options) (changeIndex, *RunReport) {
	t.Helper()
	opts.DryRun = true
	opts.DisablePb = true
	if opts.ReportDir == "" {
		opts.ReportDir = t.TempDir()
	}
	p := NewPipeline(f, testSource(), opts)
	p.rs = anonengine.NewSeededSource(7)
	require.NoError(t, p.Run())

	data, err := os.ReadFile(filepath.Join(opts.ReportDir, dryRunChangesFileName))
	require.NoError(t, err)
	idx := make(changeIndex)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec ChangeRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		idx[changeKey{rec.Table, rec.Row, rec.Column}] = rec
	}

	reportData, err := os.ReadFile(filepath.Join(opts.ReportDir, reportFileName))
	require.NoError(t, err)
	var report RunReport
	require.NoError(t, json.Unmarshal(reportData, &report))
	return idx, &report
}

func TestDryRunStudentPass(t *testing.T) {
	idx, _ := runDryRun(t, svwsFixture(), Options{})

	first := idx.get(t, "Schueler", "1", "Vorname")
	assert.NotEqual(t, "Balduin", first.NewValue)
	assert.Contains(t, refdata.FirstNamesMale(), first.NewValue, "code 3 draws from the male pool")

	second := idx.get(t, "Schueler", "2", "Vorname")
	assert.Contains(t, refdata.FirstNamesFemale(), second.NewValue, "code 4 draws from the female pool")

	all := idx.get(t, "Schueler", "1", "AlleVornamen")
	tokens := strings.Fields(all.NewValue)
	require.Len(t, tokens, 2)
	assert.Equal(t, first.NewValue, tokens[0], "the substituted call name leads the full name list")

	last1 := idx.get(t, "Schueler", "1", "Nachname")
	last2 := idx.get(t, "Schueler", "2", "Nachname")
	assert.NotEqual(t, "Quellenberg", last1.NewValue)
	assert.Equal(t, last1.NewValue, last2.NewValue, "a recurring surname maps to one substitute")

	// The jitter keeps year and month; landing on the original day again is
	// a legal outcome that leaves no record.
	if idx.has("Schueler", "1", "Geburtsdatum") {
		assert.Regexp(t, `^2008-03-\d{2}$`, idx.get(t, "Schueler", "1", "Geburtsdatum").NewValue)
	}

	assert.Contains(t, []string{"Musterstadt", "Beispielhausen"}, idx.get(t, "Schueler", "1", "Geburtsort").NewValue)
	assert.Regexp(t, `^0\d{3,4} \d{6,7}$`, idx.get(t, "Schueler", "1", "Telefon").NewValue)

	assert.Equal(t, "", idx.get(t, "Schueler", "1", "HausNrZusatz").NewValue, "house number suffixes are cleared")
	assert.False(t, idx.has("Schueler", "2", "Email"), "absent fields gain no invented data")
	assert.False(t, idx.has("Schueler", "1", "Geschlecht"), "the gender code itself stays")
}

func TestDryRunStudentAddressIsCoherent(t *testing.T) {
	idx, _ := runDryRun(t, svwsFixture(), Options{})

	city := idx.get(t, "Schueler", "1", "Ort_ID")
	plz := idx.get(t, "Schueler", "1", "PLZ")
	street := idx.get(t, "Schueler", "1", "Strassenname")
	switch city.NewValue {
	case "100":
		assert.Equal(t, "48599", plz.NewValue)
		assert.Equal(t, "Gartenweg", street.NewValue)
	case "200":
		assert.Equal(t, "33333", plz.NewValue)
		assert.Equal(t, "Lindenallee", street.NewValue)
	default:
		t.Fatalf("substituted city %q is not in the catalogue", city.NewValue)
	}

	hausNr := idx.get(t, "Schueler", "1", "HausNr")
	assert.Regexp(t, `^\d{1,3}$`, hausNr.NewValue)
}

func TestDryRunStudentEmails(t *testing.T) {
	idx, _ := runDryRun(t, svwsFixture(), Options{})

	first := idx.get(t, "Schueler", "1", "Vorname").NewValue
	last := idx.get(t, "Schueler", "1", "Nachname").NewValue
	local := anonengine.EmailLocalPart(first, last)

	assert.Equal(t, local+"@example-mail.de", idx.get(t, "Schueler", "1", "Email").NewValue)
	assert.Equal(t, local+"@schueler.schule-nrw.de", idx.get(t, "Schueler", "1", "SchulEmail").NewValue)
}

func TestDryRunGuardianPass(t *testing.T) {
	idx, _ := runDryRun(t, svwsFixture(), Options{})

	vorname1 := idx.get(t, "SchuelerErzAdr", "10", "Vorname1")
	assert.Contains(t, refdata.FirstNamesFemale(), vorname1.NewValue, `salutation "Frau" selects the female pool`)
	vorname2 := idx.get(t, "SchuelerErzAdr", "10", "Vorname2")
	assert.Contains(t, refdata.FirstNamesMale(), vorname2.NewValue, `salutation "Herr" selects the male pool`)

	name1 := idx.get(t, "SchuelerErzAdr", "10", "Name1")
	assert.Equal(t, idx.get(t, "Schueler", "1", "Nachname").NewValue, name1.NewValue,
		"the guardian shares the ward's surname substitute")
	name2 := idx.get(t, "SchuelerErzAdr", "10", "Name2")
	assert.NotEqual(t, "Altmann", name2.NewValue)

	assert.Equal(t, idx.get(t, "Schueler", "1", "Ort_ID").NewValue,
		idx.get(t, "SchuelerErzAdr", "10", "ErzOrt_ID").NewValue,
		"the guardian moves to the ward's substituted city")
	assert.Equal(t, streetSentinel, idx.get(t, "SchuelerErzAdr", "10", "ErzStrassenname").NewValue)
	assert.Regexp(t, `^\d{1,3}$`, idx.get(t, "SchuelerErzAdr", "10", "ErzHausNr").NewValue)
	assert.Equal(t, "", idx.get(t, "SchuelerErzAdr", "10", "ErzHausNrZusatz").NewValue)

	wardCity := idx.get(t, "Schueler", "1", "Ort_ID").NewValue
	wantPLZ := map[string]string{"100": "48599", "200": "33333"}[wardCity]
	assert.Equal(t, wantPLZ, idx.get(t, "SchuelerErzAdr", "10", "ErzPLZ").NewValue)

	email := idx.get(t, "SchuelerErzAdr", "10", "ErzEmail")
	assert.Equal(t, anonengine.EmailLocalPart(vorname1.NewValue, name1.NewValue)+"@mail-beispiel.de", email.NewValue)

	assert.Equal(t, remarkSentinel, idx.get(t, "SchuelerErzAdr", "10", "Bemerkungen").NewValue)
}

func TestDryRunGuardianSelfReference(t *testing.T) {
	idx, _ := runDryRun(t, svwsFixture(), Options{})

	assert.Equal(t, idx.get(t, "Schueler", "2", "Vorname").NewValue,
		idx.get(t, "SchuelerErzAdr", "11", "Vorname1").NewValue,
		"an of-age student guarding themself keeps their substituted first name")
	assert.Equal(t, idx.get(t, "Schueler", "2", "Nachname").NewValue,
		idx.get(t, "SchuelerErzAdr", "11", "Name1").NewValue)

	// Ward 2 has no address, so the guardian keeps its prior city id; writing
	// the same value back is a no-op and produces no record.
	assert.False(t, idx.has("SchuelerErzAdr", "11", "ErzOrt_ID"))
}

func TestDryRunTeacherPass(t *testing.T) {
	idx, _ := runDryRun(t, svwsFixture(), Options{})

	kuerzel := idx.get(t, "K_Lehrer", "50", "Kuerzel")
	assert.NotEqual(t, "MUS", kuerzel.NewValue)
	assert.NotEmpty(t, kuerzel.NewValue)

	panr := idx.get(t, "K_Lehrer", "50", "PANr")
	assert.Regexp(t, `^\d{6}$`, panr.NewValue)
	assert.NotEqual(t, "123456", panr.NewValue, "the seeded personnel number cannot be issued again")

	first := idx.get(t, "K_Lehrer", "50", "Vorname").NewValue
	last := idx.get(t, "K_Lehrer", "50", "Nachname").NewValue
	local := anonengine.EmailLocalPart(first, last)
	assert.Equal(t, local+"@dienst.schule-nrw.de", idx.get(t, "K_Lehrer", "50", "EmailDienstlich").NewValue)
	assert.Equal(t, local+"@example-mail.de", idx.get(t, "K_Lehrer", "50", "Email").NewValue)

	assert.Regexp(t, `^0\d{3,4} \d{6,7}$`, idx.get(t, "K_Lehrer", "50", "Handy").NewValue)
	if idx.has("K_Lehrer", "50", "Geburtsdatum") {
		assert.Regexp(t, `^1980-12-\d{2}$`, idx.get(t, "K_Lehrer", "50", "Geburtsdatum").NewValue)
	}
}

func TestDryRunCredentialPass(t *testing.T) {
	idx, _ := runDryRun(t, svwsFixture(), Options{})

	studentFirst := idx.get(t, "Schueler", "1", "Vorname").NewValue
	studentLast := idx.get(t, "Schueler", "1", "Nachname").NewValue
	assert.Equal(t, anonengine.EmailLocalPart(studentFirst, studentLast),
		idx.get(t, "Credentials", "900", "Benutzername").NewValue,
		"the username follows the owning student's substituted name")

	teacherFirst := idx.get(t, "K_Lehrer", "50", "Vorname").NewValue
	teacherLast := idx.get(t, "K_Lehrer", "50", "Nachname").NewValue
	assert.Equal(t, anonengine.EmailLocalPart(teacherFirst, teacherLast),
		idx.get(t, "Credentials", "901", "Benutzername").NewValue)

	orphan := idx.get(t, "Credentials", "902", "Benutzername")
	assert.NotEqual(t, "hausmeister1", orphan.NewValue, "an orphaned credential still gets a fresh username")
	assert.NotEmpty(t, orphan.NewValue)

	pw := idx.get(t, "Credentials", "900", "Initialkennwort")
	assert.Len(t, pw.NewValue, initialPasswordLength)
	assert.NotEqual(t, "Start123", pw.NewValue)

	for _, col := range []string{"PasswordHash", "RSAPublicKey", "RSAPrivateKey", "AES"} {
		assert.Equal(t, "", idx.get(t, "Credentials", "900", col).NewValue, "%s must be cleared", col)
	}
	assert.False(t, idx.has("Credentials", "901", "PasswordHash"), "a NULL secret stays NULL")
}

func TestDryRunGenericPass(t *testing.T) {
	idx, report := runDryRun(t, svwsFixture(), Options{})

	name := idx.get(t, "Personengruppen_Personen", "31", "Name")
	assert.Contains(t, refdata.Surnames(), name.NewValue)

	assert.True(t, strings.HasSuffix(idx.get(t, "Personengruppen_Personen", "31", "Email").NewValue, "@example-mail.de"))
	assert.Regexp(t, `^0\d{3,4} \d{6,7}$`, idx.get(t, "Personengruppen_Personen", "31", "Telefon").NewValue)
	assert.Regexp(t, `^\d{5}$`, idx.get(t, "Personengruppen_Personen", "31", "PLZ").NewValue)
	assert.Equal(t, remarkSentinel, idx.get(t, "Personengruppen_Personen", "31", "Bemerkung").NewValue)

	assert.False(t, idx.has("Personengruppen_Personen", "31", "Ort_ID"),
		"an integer city reference is not overwritten with a name")

	for key := range idx {
		assert.NotEqual(t, "K_Ort", key.table, "catalogue tables are never rewritten")
		assert.NotEqual(t, "ImportLog", key.table, "tables without a primary key are skipped")
	}

	var importLog *TableReport
	for _, tr := range report.Tables {
		if tr.Table == "ImportLog" {
			importLog = tr
		}
	}
	require.NotNil(t, importLog)
	assert.Equal(t, passGeneric, importLog.Pass)
	assert.Equal(t, "no primary key", importLog.SkipReason)
}

func TestDryRunPhotoWipe(t *testing.T) {
	_, report := runDryRun(t, svwsFixture(), Options{})

	byTable := make(map[string]*TableReport)
	for _, tr := range report.Tables {
		byTable[tr.Table] = tr
	}
	require.Contains(t, byTable, tableStudentPhotos)
	assert.Equal(t, int64(2), byTable[tableStudentPhotos].RowsDeleted)
	require.Contains(t, byTable, tableTeacherPhotos)
	assert.Equal(t, int64(1), byTable[tableTeacherPhotos].RowsDeleted)
}

func TestDryRunReport(t *testing.T) {
	_, report := runDryRun(t, svwsFixture(), Options{})

	assert.True(t, report.DryRun)
	assert.Equal(t, srcdb.MARIADB, report.DBType)
	assert.Equal(t, "svws_test", report.SchemaName)
	assert.Equal(t, "10.6.12-MariaDB-log", report.ServerVersion)
	assert.Equal(t, "21", report.SchemaRevision)
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.FinishedAt.IsZero())

	var students *TableReport
	for _, tr := range report.Tables {
		if tr.Table == tableSchueler {
			students = tr
		}
	}
	require.NotNil(t, students)
	assert.Equal(t, int64(2), students.RowsScanned)
	assert.Equal(t, int64(2), students.RowsChanged)
	assert.Greater(t, students.CellsChanged, int64(10))
	assert.Equal(t, report.TotalDeleted, int64(3))
}

func TestRunCommitsPerTable(t *testing.T) {
	f := newFakeSourceDB()
	f.addTable(fakeTable{
		name:    tableCities,
		pk:      []string{"ID"},
		columns: varcharCols("Bezeichnung", "PLZ"),
		rows: []fakeRow{
			{pk: []interface{}{int64(100)}, cells: map[string]sql.NullString{
				"id": nv("100"), "bezeichnung": nv("Musterstadt"), "plz": nv("48599")}},
		},
	})
	f.addTable(fakeTable{
		name: tableStreets,
		pk:   []string{"ID"},
		columns: []srcdb.ColumnInfo{
			{Name: "ID", DataType: "bigint"},
			{Name: "Ort_ID", DataType: "bigint"},
			{Name: "Bezeichnung", DataType: "varchar"},
		},
		rows: []fakeRow{
			{pk: []interface{}{int64(1)}, cells: map[string]sql.NullString{
				"ort_id": nv("100"), "bezeichnung": nv("Gartenweg")}},
		},
	})
	f.addTable(fakeTable{
		name:    tableSchueler,
		pk:      []string{"ID"},
		columns: varcharCols("Vorname", "Nachname"),
		rows: []fakeRow{
			{pk: []interface{}{int64(1)}, cells: map[string]sql.NullString{
				"vorname": nv("Balduin"), "nachname": nv("Quellenberg")}},
		},
	})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	f.sqldb = db
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `Schueler` SET `Vorname` = \\?, `Nachname` = \\? WHERE `ID` = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p := NewPipeline(f, testSource(), Options{DisablePb: true, ReportDir: t.TempDir()})
	p.rs = anonengine.NewSeededSource(3)
	require.NoError(t, p.Run())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRollsBackAndHaltsOnUpdateFailure(t *testing.T) {
	f := newFakeSourceDB()
	f.addTable(fakeTable{
		name:    tableCities,
		pk:      []string{"ID"},
		columns: varcharCols("Bezeichnung", "PLZ"),
		rows: []fakeRow{
			{pk: []interface{}{int64(100)}, cells: map[string]sql.NullString{
				"id": nv("100"), "bezeichnung": nv("Musterstadt"), "plz": nv("48599")}},
		},
	})
	f.addTable(fakeTable{
		name: tableStreets,
		pk:   []string{"ID"},
		columns: []srcdb.ColumnInfo{
			{Name: "Ort_ID", DataType: "bigint"},
			{Name: "Bezeichnung", DataType: "varchar"},
		},
		rows: []fakeRow{
			{cells: map[string]sql.NullString{"ort_id": nv("100"), "bezeichnung": nv("Gartenweg")}},
		},
	})
	f.addTable(fakeTable{
		name:    tableSchueler,
		pk:      []string{"ID"},
		columns: varcharCols("Vorname"),
		rows: []fakeRow{
			{pk: []interface{}{int64(1)}, cells: map[string]sql.NullString{"vorname": nv("Balduin")}},
		},
	})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	f.sqldb = db
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `Schueler` SET").WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	p := NewPipeline(f, testSource(), Options{DisablePb: true, ReportDir: t.TempDir()})
	p.rs = anonengine.NewSeededSource(3)
	err = p.Run()
	require.Error(t, err)
	assert.ErrorContains(t, err, "updating Schueler")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRejectsOldMariaDB(t *testing.T) {
	f := svwsFixture()
	f.version = "10.1.48-MariaDB"
	p := NewPipeline(f, testSource(), Options{DryRun: true, DisablePb: true, ReportDir: t.TempDir()})
	err := p.Run()
	require.Error(t, err)
	assert.ErrorContains(t, err, "older than the minimum supported")
}

func TestRunToleratesUnparsableServerVersion(t *testing.T) {
	f := svwsFixture()
	f.version = "who-knows"
	_, report := runDryRun(t, f, Options{})
	assert.Equal(t, "who-knows", report.ServerVersion)
}

func TestSelectGenericTables(t *testing.T) {
	f := svwsFixture()
	p := NewPipeline(f, testSource(), Options{})
	require.NoError(t, p.loadCapabilities())

	tables, err := p.selectGenericTables()
	require.NoError(t, err)
	assert.Contains(t, tables, "Personengruppen_Personen")
	assert.Contains(t, tables, "ImportLog")
	assert.Contains(t, tables, "Schuljahresabschnitte")
	for _, excluded := range []string{tableSchueler, tableGuardians, tableTeachers, tableCredentials,
		tableStudentPhotos, tableTeacherPhotos, tableCities, tableStreets, tableGuardianTypes, tableSchemaVersion} {
		assert.NotContains(t, tables, excluded)
	}

	p.opts.TableList = []string{"personengruppen_personen"}
	tables, err = p.selectGenericTables()
	require.NoError(t, err)
	assert.Equal(t, []string{"Personengruppen_Personen"}, tables)

	p.opts.TableList = nil
	p.opts.ExcludeTableList = []string{"ImportLog"}
	tables, err = p.selectGenericTables()
	require.NoError(t, err)
	assert.NotContains(t, tables, "ImportLog")
	assert.Contains(t, tables, "Personengruppen_Personen")

	p.opts.ExcludeTableList = []string{"NoSuchTable"}
	_, err = p.selectGenericTables()
	require.Error(t, err)
	assert.ErrorContains(t, err, "NoSuchTable")
}

func TestGenericTableFilterAppliesOnlyToGenericPass(t *testing.T) {
	idx, _ := runDryRun(t, svwsFixture(), Options{ExcludeTableList: []string{"Personengruppen_Personen"}})

	assert.False(t, idx.has("Personengruppen_Personen", "31", "Name"))
	assert.True(t, idx.has("Schueler", "1", "Vorname"), "specialized passes ignore the filter")
}

func TestWithDefaultsFillsDomains(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, dienstEmailDomain, opts.DienstEmailDomain)
	assert.Equal(t, privateEmailDomain, opts.PrivateEmailDomain)
	assert.Equal(t, schuelerEmailDomain, opts.SchuelerEmailDomain)
	assert.Equal(t, guardianEmailDomain, opts.GuardianEmailDomain)

	opts = Options{PrivateEmailDomain: "meine-schule.example"}.withDefaults()
	assert.Equal(t, "meine-schule.example", opts.PrivateEmailDomain)
}

func TestGenderFromCode(t *testing.T) {
	cases := []struct {
		value    sql.NullString
		expected anonengine.GenderTag
	}{
		{nv("3"), anonengine.GenderMale},
		{nv("4"), anonengine.GenderFemale},
		{nv("5"), anonengine.GenderNeutral},
		{nv("6"), anonengine.GenderNone},
		{nv("m"), anonengine.GenderNone},
		{sql.NullString{}, anonengine.GenderNone},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, genderFromCode(tc.value), "code %q", tc.value.String)
	}
}

func TestPKString(t *testing.T) {
	assert.Equal(t, "1", pkString([]interface{}{int64(1)}))
	assert.Equal(t, "1/b", pkString([]interface{}{int64(1), []byte("b")}))
}

func TestPresent(t *testing.T) {
	assert.True(t, present(nv("x")))
	assert.False(t, present(nv("  ")))
	assert.False(t, present(sql.NullString{}))
}

//go:build integration

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
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svws-tools/svws-anonym/src/srcdb"
	"github.com/svws-tools/svws-anonym/src/utils"
	testcontainers "github.com/svws-tools/svws-anonym/test/containers"
)

var mariadbContainer testcontainers.TestContainer

func TestMain(m *testing.M) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mariadbContainer = testcontainers.NewTestContainer(testcontainers.MARIADB, nil)
	if err := mariadbContainer.Start(ctx); err != nil {
		utils.ErrExit("Failed to start mariadb container: %v", err)
	}

	exitCode := m.Run()
	testcontainers.TerminateAllContainers()
	os.Exit(exitCode)
}

func containerSource(t *testing.T) *srcdb.Source {
	t.Helper()
	host, port, err := mariadbContainer.GetHostPort()
	require.NoError(t, err)
	cfg := mariadbContainer.GetConfig()
	return &srcdb.Source{
		DBType:   srcdb.MARIADB,
		Host:     host,
		Port:     port,
		User:     cfg.User,
		Password: cfg.Password,
		DBName:   cfg.DBName,
		SSLMode:  "disable",
	}
}

func queryString(t *testing.T, conn *sql.DB, query string, args ...interface{}) string {
	t.Helper()
	var v sql.NullString
	require.NoError(t, conn.QueryRow(query, args...).Scan(&v))
	return v.String
}

func queryInt(t *testing.T, conn *sql.DB, query string, args ...interface{}) int64 {
	t.Helper()
	var v int64
	require.NoError(t, conn.QueryRow(query, args...).Scan(&v))
	return v
}

// TestAnonymizeMariaDBEndToEnd runs a dry run followed by a real run against
// the seeded container and checks the database contents afterwards. The run is
// not seeded, so the assertions check structure and change, not exact values.
func TestAnonymizeMariaDBEndToEnd(t *testing.T) {
	source := containerSource(t)
	db := source.DB()
	require.NoError(t, db.Connect())
	defer db.Disconnect()
	require.NoError(t, db.Ping())

	conn, err := mariadbContainer.GetConnection()
	require.NoError(t, err)
	defer conn.Close()

	dryRunDir := t.TempDir()
	p := NewPipeline(db, source, Options{DryRun: true, DisablePb: true, ReportDir: dryRunDir})
	require.NoError(t, p.Run())

	// The dry run records changes but writes nothing back.
	assert.Equal(t, "Balduin", queryString(t, conn, "SELECT Vorname FROM Schueler WHERE ID = 1"))
	assert.Equal(t, int64(2), queryInt(t, conn, "SELECT COUNT(*) FROM SchuelerFotos"))
	assert.FileExists(t, filepath.Join(dryRunDir, "dry-run-changes.jsonl"))

	reportDir := t.TempDir()
	p = NewPipeline(db, source, Options{DisablePb: true, ReportDir: reportDir})
	require.NoError(t, p.Run())
	assert.FileExists(t, filepath.Join(reportDir, "anonymize-report.json"))

	// Students: substituted names, coherent address, derived emails.
	newVorname := queryString(t, conn, "SELECT Vorname FROM Schueler WHERE ID = 1")
	newNachname := queryString(t, conn, "SELECT Nachname FROM Schueler WHERE ID = 1")
	assert.NotEqual(t, "Balduin", newVorname)
	assert.NotEmpty(t, newVorname)
	assert.NotEqual(t, "Quellenberg", newNachname)
	assert.Equal(t, newNachname, queryString(t, conn, "SELECT Nachname FROM Schueler WHERE ID = 2"),
		"siblings keep a shared surname substitute")

	studentPLZ := queryString(t, conn, "SELECT PLZ FROM Schueler WHERE ID = 1")
	cityPLZ := queryString(t, conn,
		"SELECT o.PLZ FROM Schueler s JOIN K_Ort o ON o.ID = s.Ort_ID WHERE s.ID = 1")
	assert.Equal(t, cityPLZ, studentPLZ, "postcode must match the assigned city")

	assert.Regexp(t, `^0\d{3,4} \d{6,7}$`, queryString(t, conn, "SELECT Telefon FROM Schueler WHERE ID = 1"))
	assert.Regexp(t, `@example-mail\.de$`, queryString(t, conn, "SELECT Email FROM Schueler WHERE ID = 1"))
	assert.Regexp(t, `@schueler\.schule-nrw\.de$`, queryString(t, conn, "SELECT SchulEmail FROM Schueler WHERE ID = 1"))
	assert.Regexp(t, `^2008-03-\d{2}$`, queryString(t, conn, "SELECT Geburtsdatum FROM Schueler WHERE ID = 1"))

	// Guardians: ward's surname and city, sentinel street, derived email.
	assert.Equal(t, newNachname, queryString(t, conn, "SELECT Name1 FROM SchuelerErzAdr WHERE ID = 10"))
	wardOrt := queryInt(t, conn, "SELECT Ort_ID FROM Schueler WHERE ID = 1")
	assert.Equal(t, wardOrt, queryInt(t, conn, "SELECT ErzOrt_ID FROM SchuelerErzAdr WHERE ID = 10"))
	assert.Equal(t, "Anonymisiert", queryString(t, conn, "SELECT ErzStrassenname FROM SchuelerErzAdr WHERE ID = 10"))
	assert.Equal(t, "Anonymisiert", queryString(t, conn, "SELECT Bemerkungen FROM SchuelerErzAdr WHERE ID = 10"))
	assert.Regexp(t, `@mail-beispiel\.de$`, queryString(t, conn, "SELECT ErzEmail FROM SchuelerErzAdr WHERE ID = 10"))

	// Self-referential guardian carries the ward's own substituted identity
	// and keeps its prior city because the ward has none.
	assert.Equal(t, queryString(t, conn, "SELECT Vorname FROM Schueler WHERE ID = 2"),
		queryString(t, conn, "SELECT Vorname1 FROM SchuelerErzAdr WHERE ID = 11"))
	assert.Equal(t, newNachname, queryString(t, conn, "SELECT Name1 FROM SchuelerErzAdr WHERE ID = 11"))
	assert.Equal(t, int64(300), queryInt(t, conn, "SELECT ErzOrt_ID FROM SchuelerErzAdr WHERE ID = 11"))

	// Teachers: fresh Kürzel and PANr, work email on the dienst domain.
	newKuerzel := queryString(t, conn, "SELECT Kuerzel FROM K_Lehrer WHERE ID = 50")
	assert.NotEqual(t, "MUS", newKuerzel)
	assert.NotEmpty(t, newKuerzel)
	newPANr := queryString(t, conn, "SELECT PANr FROM K_Lehrer WHERE ID = 50")
	assert.NotEqual(t, "123456", newPANr)
	assert.Regexp(t, `^\d{6}$`, newPANr)
	assert.Regexp(t, `@dienst\.schule-nrw\.de$`, queryString(t, conn, "SELECT EmailDienstlich FROM K_Lehrer WHERE ID = 50"))

	// Credentials: usernames substituted, secrets wiped, NULLs left alone.
	assert.NotEqual(t, "balduin.quellenberg", queryString(t, conn, "SELECT Benutzername FROM Credentials WHERE ID = 900"))
	assert.Equal(t, "", queryString(t, conn, "SELECT PasswordHash FROM Credentials WHERE ID = 900"))
	assert.Equal(t, "", queryString(t, conn, "SELECT RSAPrivateKey FROM Credentials WHERE ID = 900"))
	var hash901 sql.NullString
	require.NoError(t, conn.QueryRow("SELECT PasswordHash FROM Credentials WHERE ID = 901").Scan(&hash901))
	assert.False(t, hash901.Valid, "a NULL secret stays NULL")
	assert.NotEqual(t, "hausmeister1", queryString(t, conn, "SELECT Benutzername FROM Credentials WHERE ID = 902"))
	assert.Len(t, queryString(t, conn, "SELECT Initialkennwort FROM Credentials WHERE ID = 900"), initialPasswordLength)

	// Photos are gone, catalogues and the schema revision are untouched.
	assert.Equal(t, int64(0), queryInt(t, conn, "SELECT COUNT(*) FROM SchuelerFotos"))
	assert.Equal(t, int64(0), queryInt(t, conn, "SELECT COUNT(*) FROM LehrerFotos"))
	assert.Equal(t, "Musterstadt", queryString(t, conn, "SELECT Bezeichnung FROM K_Ort WHERE ID = 100"))
	assert.Equal(t, int64(21), queryInt(t, conn, "SELECT Revision FROM SVWS_DB_Version"))

	// Generic sweep: name columns rewritten, numeric city reference preserved.
	assert.NotEqual(t, "Grünewald", queryString(t, conn, "SELECT Name FROM Personengruppen_Personen WHERE ID = 31"))
	assert.Regexp(t, `@example-mail\.de$`, queryString(t, conn, "SELECT Email FROM Personengruppen_Personen WHERE ID = 31"))
	assert.Regexp(t, `^\d{5}$`, queryString(t, conn, "SELECT PLZ FROM Personengruppen_Personen WHERE ID = 31"))
	assert.Equal(t, int64(100), queryInt(t, conn, "SELECT Ort_ID FROM Personengruppen_Personen WHERE ID = 31"))
}

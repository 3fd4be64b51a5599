//go:build unit

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
package srcdb

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockMariaDB(t *testing.T) (*MariaDB, sqlmock.Sqlmock) {
	db, mock := createMockDB(t)
	return &MariaDB{source: &Source{DBType: MARIADB, DBName: "svwsdb"}, db: db}, mock
}

func TestMariaDBListSchemasFiltersSystemSchemas(t *testing.T) {
	m, mock := mockMariaDB(t)

	rows := sqlmock.NewRows([]string{"Database"}).
		AddRow("information_schema").
		AddRow("svwsdb").
		AddRow("mysql").
		AddRow("performance_schema").
		AddRow("sys").
		AddRow("svwsdb_kopie")
	mock.ExpectQuery("SHOW DATABASES").WillReturnRows(rows)

	got, err := m.ListSchemas()
	require.NoError(t, err)
	assert.Equal(t, []string{"svwsdb", "svwsdb_kopie"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMariaDBGetAllTableNames(t *testing.T) {
	m, mock := mockMariaDB(t)

	rows := sqlmock.NewRows([]string{"table_name"}).
		AddRow("K_Lehrer").
		AddRow("Schueler")
	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("svwsdb").
		WillReturnRows(rows)

	got, err := m.GetAllTableNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"K_Lehrer", "Schueler"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMariaDBDescribeColumns(t *testing.T) {
	m, mock := mockMariaDB(t)

	rows := sqlmock.NewRows([]string{"column_name", "data_type"}).
		AddRow("ID", "bigint").
		AddRow("Vorname", "VARCHAR").
		AddRow("Geburtsdatum", "date")
	mock.ExpectQuery("SELECT column_name, data_type FROM information_schema.columns").
		WithArgs("svwsdb", "Schueler").
		WillReturnRows(rows)

	got, err := m.DescribeColumns("Schueler")
	require.NoError(t, err)
	assert.Equal(t, []ColumnInfo{
		{Name: "ID", DataType: "bigint"},
		{Name: "Vorname", DataType: "varchar"},
		{Name: "Geburtsdatum", DataType: "date"},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMariaDBGetPrimaryKeyColumns(t *testing.T) {
	m, mock := mockMariaDB(t)

	rows := sqlmock.NewRows([]string{"column_name"}).AddRow("ID")
	mock.ExpectQuery("SELECT column_name FROM information_schema.key_column_usage").
		WithArgs("svwsdb", "Schueler").
		WillReturnRows(rows)

	got, err := m.GetPrimaryKeyColumns("Schueler")
	require.NoError(t, err)
	assert.Equal(t, []string{"ID"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMariaDBGetPrimaryKeyColumnsNoPK(t *testing.T) {
	m, mock := mockMariaDB(t)

	mock.ExpectQuery("SELECT column_name FROM information_schema.key_column_usage").
		WithArgs("svwsdb", "Logs").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}))

	got, err := m.GetPrimaryKeyColumns("Logs")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMariaDBGetServerVersion(t *testing.T) {
	m, mock := mockMariaDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT VERSION()")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("10.6.12-MariaDB"))

	got, err := m.GetServerVersion()
	require.NoError(t, err)
	assert.Equal(t, "10.6.12-MariaDB", got)
	assert.Equal(t, "10.6.12-MariaDB", m.source.DBVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMariaDBGetConnectionUri(t *testing.T) {
	cases := []struct {
		sslMode  string
		expected string
	}{
		{"disable", "svws:geheim@(dbhost:3306)/svwsdb?tls=false&charset=utf8mb4"},
		{"prefer", "svws:geheim@(dbhost:3306)/svwsdb?tls=preferred&charset=utf8mb4"},
		{"require", "svws:geheim@(dbhost:3306)/svwsdb?tls=skip-verify&charset=utf8mb4"},
	}
	for _, tc := range cases {
		t.Run(tc.sslMode, func(t *testing.T) {
			m := newMariaDB(&Source{
				DBType:   MARIADB,
				Host:     "dbhost",
				Port:     3306,
				User:     "svws",
				Password: "geheim",
				DBName:   "svwsdb",
				SSLMode:  tc.sslMode,
			})
			assert.Equal(t, tc.expected, m.getConnectionUri())
		})
	}
}

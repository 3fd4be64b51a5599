package srcdb

import (
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// SQLite opens an SVWS transfer export (a single-file snapshot of the schema).
type SQLite struct {
	source *Source

	db *sql.DB
}

func newSQLite(s *Source) *SQLite {
	return &SQLite{source: s}
}

func (s *SQLite) Connect() error {
	db, err := sql.Open("sqlite3", s.source.DBFile)
	s.db = db
	return err
}

func (s *SQLite) Disconnect() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		log.Errorf("failed to close connection to the source database: %s", err)
	}
}

func (s *SQLite) Ping() error {
	return s.db.Ping()
}

func (s *SQLite) GetServerVersion() (string, error) {
	var version string
	query := "SELECT sqlite_version()"
	err := s.db.QueryRow(query).Scan(&version)
	if err != nil {
		return "", fmt.Errorf("run query %q on source: %w", query, err)
	}
	s.source.DBVersion = version
	return version, nil
}

// ListSchemas returns the single implicit schema - a transfer export file has
// no schema selection.
func (s *SQLite) ListSchemas() ([]string, error) {
	return []string{"main"}, nil
}

func (s *SQLite) GetAllTableNames() ([]string, error) {
	query := "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'"
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query table names: %w", err)
	}
	defer rows.Close()

	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tableNames = append(tableNames, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query table names: %w", err)
	}
	sort.Strings(tableNames)
	log.Infof("GetAllTableNames(): %s", tableNames)
	return tableNames, nil
}

func (s *SQLite) DescribeColumns(tableName string) ([]ColumnInfo, error) {
	columns, _, err := s.tableInfo(tableName)
	return columns, err
}

func (s *SQLite) GetPrimaryKeyColumns(tableName string) ([]string, error) {
	_, pkColumns, err := s.tableInfo(tableName)
	return pkColumns, err
}

// tableInfo reads PRAGMA table_info once and yields both the column list and
// the primary key columns in key order.
func (s *SQLite) tableInfo(tableName string) ([]ColumnInfo, []string, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(tableName))
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, nil, fmt.Errorf("describe columns of table %s: %w", tableName, err)
	}
	defer rows.Close()

	var columns []ColumnInfo
	type pkCol struct {
		name string
		pos  int
	}
	var pk []pkCol
	for rows.Next() {
		var (
			cid        int
			name       string
			dataType   string
			notNull    int
			defaultVal sql.NullString
			pkPos      int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultVal, &pkPos); err != nil {
			return nil, nil, fmt.Errorf("scan column of table %s: %w", tableName, err)
		}
		columns = append(columns, ColumnInfo{Name: name, DataType: normalizeDataType(dataType)})
		if pkPos > 0 {
			pk = append(pk, pkCol{name: name, pos: pkPos})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("describe columns of table %s: %w", tableName, err)
	}

	sort.Slice(pk, func(i, j int) bool { return pk[i].pos < pk[j].pos })
	pkColumns := make([]string, len(pk))
	for i, c := range pk {
		pkColumns[i] = c.name
	}
	return columns, pkColumns, nil
}

func (s *SQLite) CountRows(tableName string) (int64, error) {
	return countRows(s.db, tableName)
}

func (s *SQLite) ColumnValues(tableName string, columnName string) ([]string, error) {
	return columnValues(s.db, tableName, columnName)
}

func (s *SQLite) ReadRows(tableName string, pkColumns []string, columns []string) ([]Row, error) {
	return readRows(s.db, tableName, pkColumns, columns)
}

func (s *SQLite) Begin() (*sql.Tx, error) {
	return s.db.Begin()
}

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
	"database/sql"
	"fmt"
	"strings"
)

const (
	MARIADB = "mariadb"
	SQLITE  = "sqlite"
)

// ColumnInfo is one column of a table as reported by schema introspection.
// DataType is the lower-cased base type without size attributes ("varchar",
// "date", "bigint").
type ColumnInfo struct {
	Name     string
	DataType string
}

// Row is one table row at the row-store boundary: the primary key values in
// introspection order (driver-native, passed back verbatim into WHERE
// clauses) and the requested columns as nullable strings.
type Row struct {
	PKValues []interface{}
	Values   []sql.NullString
}

type SourceDB interface {
	Connect() error
	Disconnect()
	Ping() error
	GetServerVersion() (string, error)
	ListSchemas() ([]string, error)
	GetAllTableNames() ([]string, error)
	DescribeColumns(tableName string) ([]ColumnInfo, error)
	GetPrimaryKeyColumns(tableName string) ([]string, error)
	CountRows(tableName string) (int64, error)
	ColumnValues(tableName string, columnName string) ([]string, error)
	ReadRows(tableName string, pkColumns []string, columns []string) ([]Row, error)
	Begin() (*sql.Tx, error)
}

func newSourceDB(source *Source) SourceDB {
	switch source.DBType {
	case MARIADB:
		return newMariaDB(source)
	case SQLITE:
		return newSQLite(source)
	default:
		panic(fmt.Sprintf("unknown source database type %q", source.DBType))
	}
}

// quoteIdent backtick-quotes an identifier. Both MariaDB and SQLite accept
// backticks.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// normalizeDataType strips size attributes and lower-cases a declared column
// type, so "VARCHAR(255)" and "varchar" compare equal across engines.
func normalizeDataType(dataType string) string {
	if i := strings.Index(dataType, "("); i >= 0 {
		dataType = dataType[:i]
	}
	return strings.ToLower(strings.TrimSpace(dataType))
}

func quoteIdents(names []string) []string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return quoted
}

// UpdateRow applies the given column values to the row identified by the
// primary key, inside the table's transaction. No-op when columns is empty.
func UpdateRow(tx *sql.Tx, tableName string, pkColumns []string, pkValues []interface{},
	columns []string, values []interface{}) error {
	if len(columns) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(quoteIdent(tableName))
	sb.WriteString(" SET ")
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(col))
		sb.WriteString(" = ?")
	}
	sb.WriteString(" WHERE ")
	for i, col := range pkColumns {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(quoteIdent(col))
		sb.WriteString(" = ?")
	}

	args := make([]interface{}, 0, len(values)+len(pkValues))
	args = append(args, values...)
	args = append(args, pkValues...)

	_, err := tx.Exec(sb.String(), args...)
	if err != nil {
		return fmt.Errorf("update row of table %s: %w", tableName, err)
	}
	return nil
}

// DeleteAllRows empties a table inside its transaction and reports how many
// rows went away.
func DeleteAllRows(tx *sql.Tx, tableName string) (int64, error) {
	res, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", quoteIdent(tableName)))
	if err != nil {
		return 0, fmt.Errorf("delete all rows of table %s: %w", tableName, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for table %s: %w", tableName, err)
	}
	return count, nil
}

// BulkInsert inserts the given rows one statement at a time through a single
// prepared statement.
func BulkInsert(tx *sql.Tx, tableName string, columns []string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(tableName), strings.Join(quoteIdents(columns), ", "), placeholders)
	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare insert into table %s: %w", tableName, err)
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.Exec(row...); err != nil {
			return fmt.Errorf("insert into table %s: %w", tableName, err)
		}
	}
	return nil
}

// readRows is the shared implementation behind SourceDB.ReadRows. Primary key
// values are scanned driver-native so they can be passed back into WHERE
// clauses unchanged; data columns are scanned as nullable strings.
func readRows(db *sql.DB, tableName string, pkColumns []string, columns []string) ([]Row, error) {
	selectList := append(quoteIdents(pkColumns), quoteIdents(columns)...)
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selectList, ", "), quoteIdent(tableName))

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("read rows of table %s: %w", tableName, err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		row := Row{
			PKValues: make([]interface{}, len(pkColumns)),
			Values:   make([]sql.NullString, len(columns)),
		}
		dest := make([]interface{}, 0, len(pkColumns)+len(columns))
		for i := range row.PKValues {
			dest = append(dest, &row.PKValues[i])
		}
		for i := range row.Values {
			dest = append(dest, &row.Values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row of table %s: %w", tableName, err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows of table %s: %w", tableName, err)
	}
	return result, nil
}

func countRows(db *sql.DB, tableName string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(tableName))
	if err := db.QueryRow(query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows of table %s: %w", tableName, err)
	}
	return count, nil
}

// columnValues returns the distinct non-null values of one column, used to
// seed uniqueness domains before any row is rewritten.
func columnValues(db *sql.DB, tableName string, columnName string) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL",
		quoteIdent(columnName), quoteIdent(tableName), quoteIdent(columnName))
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("read values of column %s.%s: %w", tableName, columnName, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan value of column %s.%s: %w", tableName, columnName, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read values of column %s.%s: %w", tableName, columnName, err)
	}
	return values, nil
}

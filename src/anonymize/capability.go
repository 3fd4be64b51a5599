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
	"strings"

	"github.com/svws-tools/svws-anonym/src/srcdb"
)

// TableCapabilities describes one table the way the passes need it: which
// columns exist with which base data type, and the primary key. Computed once
// during preflight from schema introspection; the passes never query the
// schema themselves. Lookups are case-insensitive, the schema's own spelling
// is preserved for the generated SQL.
type TableCapabilities struct {
	Table     string
	PKColumns []string
	columns   map[string]srcdb.ColumnInfo
	order     []string
}

func NewTableCapabilities(tableName string, pkColumns []string, columns []srcdb.ColumnInfo) *TableCapabilities {
	caps := &TableCapabilities{
		Table:     tableName,
		PKColumns: pkColumns,
		columns:   make(map[string]srcdb.ColumnInfo, len(columns)),
		order:     make([]string, 0, len(columns)),
	}
	for _, col := range columns {
		key := strings.ToLower(col.Name)
		if _, ok := caps.columns[key]; ok {
			continue
		}
		caps.columns[key] = col
		caps.order = append(caps.order, key)
	}
	return caps
}

func (c *TableCapabilities) HasPrimaryKey() bool {
	return len(c.PKColumns) > 0
}

func (c *TableCapabilities) Has(columnName string) bool {
	_, ok := c.columns[strings.ToLower(columnName)]
	return ok
}

// ColumnName returns the schema's spelling of the column, or "" when the
// table does not have it.
func (c *TableCapabilities) ColumnName(columnName string) string {
	col, ok := c.columns[strings.ToLower(columnName)]
	if !ok {
		return ""
	}
	return col.Name
}

// DataType returns the normalized base type ("varchar", "date", ...) of the
// column, or "" when the table does not have it.
func (c *TableCapabilities) DataType(columnName string) string {
	col, ok := c.columns[strings.ToLower(columnName)]
	if !ok {
		return ""
	}
	return col.DataType
}

// Select returns the subset of wanted columns the table actually has, in
// wanted order and with the schema's spelling. The result is the column list
// a pass reads and the order its row values arrive in.
func (c *TableCapabilities) Select(wanted ...string) []string {
	present := make([]string, 0, len(wanted))
	for _, w := range wanted {
		if col, ok := c.columns[strings.ToLower(w)]; ok {
			present = append(present, col.Name)
		}
	}
	return present
}

// Columns returns every column of the table in introspection order.
func (c *TableCapabilities) Columns() []srcdb.ColumnInfo {
	out := make([]srcdb.ColumnInfo, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.columns[key])
	}
	return out
}

// rowReader resolves column names to value indexes for rows read with a
// Select-ed column list.
type rowReader struct {
	index map[string]int
}

func newRowReader(columns []string) *rowReader {
	index := make(map[string]int, len(columns))
	for i, col := range columns {
		index[strings.ToLower(col)] = i
	}
	return &rowReader{index: index}
}

func (r *rowReader) has(columnName string) bool {
	_, ok := r.index[strings.ToLower(columnName)]
	return ok
}

// get returns the named column of the row, or an invalid NullString when the
// column was not part of the read.
func (r *rowReader) get(row srcdb.Row, columnName string) sql.NullString {
	i, ok := r.index[strings.ToLower(columnName)]
	if !ok {
		return sql.NullString{}
	}
	return row.Values[i]
}

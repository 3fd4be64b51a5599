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
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
)

// TableReport is the per-table outcome embedded in the run report.
type TableReport struct {
	Table        string `json:"table"`
	Pass         string `json:"pass"`
	RowsScanned  int64  `json:"rows_scanned"`
	RowsChanged  int64  `json:"rows_changed"`
	CellsChanged int64  `json:"cells_changed"`
	RowsDeleted  int64  `json:"rows_deleted,omitempty"`
	SkipReason   string `json:"skip_reason,omitempty"`
}

// RunReport is persisted as JSON at the end of every run, dry or not.
type RunReport struct {
	RunID          string         `json:"run_id"`
	DryRun         bool           `json:"dry_run"`
	DBType         string         `json:"db_type"`
	SchemaName     string         `json:"schema_name"`
	ServerVersion  string         `json:"server_version,omitempty"`
	SchemaRevision string         `json:"schema_revision,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	TotalRows      int64          `json:"total_rows_scanned"`
	TotalChanged   int64          `json:"total_rows_changed"`
	TotalCells     int64          `json:"total_cells_changed"`
	TotalDeleted   int64          `json:"total_rows_deleted,omitempty"`
	Tables         []*TableReport `json:"tables"`
}

func newRunReport(runID string, dryRun bool, dbType string, schemaName string) *RunReport {
	return &RunReport{
		RunID:      runID,
		DryRun:     dryRun,
		DBType:     dbType,
		SchemaName: schemaName,
		StartedAt:  time.Now(),
	}
}

func (r *RunReport) addTable(t *TableReport) {
	r.Tables = append(r.Tables, t)
	r.TotalRows += t.RowsScanned
	r.TotalChanged += t.RowsChanged
	r.TotalCells += t.CellsChanged
	r.TotalDeleted += t.RowsDeleted
}

func (r *RunReport) Save(filePath string) error {
	r.FinishedAt = time.Now()
	bytes, err := json.MarshalIndent(r, "", "\t")
	if err != nil {
		return fmt.Errorf("marshalling the run report: %w", err)
	}
	if err := os.WriteFile(filePath, bytes, 0644); err != nil {
		return fmt.Errorf("writing the run report: %w", err)
	}
	return nil
}

// ChangeRecord is one (column, oldValue, newValue) triple a dry run emits
// instead of issuing the UPDATE.
type ChangeRecord struct {
	Table    string `json:"table"`
	Row      string `json:"row"`
	Column   string `json:"column"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// DryRunSink streams change records as one JSON object per line.
type DryRunSink struct {
	file  *os.File
	enc   *json.Encoder
	count int64
}

func NewDryRunSink(filePath string) (*DryRunSink, error) {
	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("creating dry-run change file: %w", err)
	}
	return &DryRunSink{file: f, enc: json.NewEncoder(f)}, nil
}

func (s *DryRunSink) Record(table string, rowID string, column string, oldValue string, newValue string) error {
	s.count++
	return s.enc.Encode(ChangeRecord{
		Table:    table,
		Row:      rowID,
		Column:   column,
		OldValue: oldValue,
		NewValue: newValue,
	})
}

func (s *DryRunSink) Count() int64 {
	return s.count
}

func (s *DryRunSink) Close() error {
	return s.file.Close()
}

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
	"io"
	"math"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uilive"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ProgressReporter renders per-table progress: one mpb bar per table pass,
// or, when bars are disabled, a periodically refreshed live stats table.
type ProgressReporter struct {
	disablePb bool
	container *mpb.Progress
	stats     *liveStats
}

func NewProgressReporter(disablePb bool) *ProgressReporter {
	pr := &ProgressReporter{disablePb: disablePb}
	if disablePb {
		pr.stats = newLiveStats()
		pr.stats.start()
	} else {
		pr.container = mpb.New()
	}
	return pr
}

// TableProgress tracks one table pass.
type TableProgress struct {
	bar   *mpb.Bar
	stats *liveStats
	total int64
}

func (pr *ProgressReporter) TableStarted(tableName string, totalRows int64) *TableProgress {
	if pr.disablePb {
		pr.stats.tableStarted(tableName)
		return &TableProgress{stats: pr.stats, total: totalRows}
	}
	bar := pr.container.AddBar(totalRows,
		mpb.BarFillerClearOnComplete(),
		mpb.BarRemoveOnComplete(),
		mpb.PrependDecorators(
			decor.Name(tableName),
		),
		mpb.AppendDecorators(
			decor.OnComplete(
				decor.NewPercentage("%.2f", decor.WCSyncSpaceR), "completed",
			),
			decor.OnComplete(
				decor.AverageETA(decor.ET_STYLE_GO), "",
			),
		),
	)
	return &TableProgress{bar: bar, total: totalRows}
}

func (tp *TableProgress) RowProcessed(changed bool) {
	if tp.bar != nil {
		tp.bar.Increment()
	}
	if tp.stats != nil {
		tp.stats.rowProcessed(changed)
	}
}

func (tp *TableProgress) Done() {
	if tp.bar != nil {
		tp.bar.SetCurrent(tp.total)
	}
	if tp.stats != nil {
		tp.stats.tableDone()
	}
}

// Finish flushes the rendering; call once after the last table.
func (pr *ProgressReporter) Finish() {
	if pr.container != nil {
		pr.container.Wait()
	}
	if pr.stats != nil {
		pr.stats.stop()
	}
}

// liveStats is the --disable-pb replacement for the bars: a small metrics
// table repainted in place every few seconds.
type liveStats struct {
	mu           sync.Mutex
	startTime    time.Time
	currentTable string
	tablesDone   int64
	rowsScanned  int64
	rowsChanged  int64
	stopCh       chan struct{}
	stoppedCh    chan struct{}
}

func newLiveStats() *liveStats {
	return &liveStats{
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (s *liveStats) tableStarted(tableName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTable = tableName
}

func (s *liveStats) rowProcessed(changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowsScanned++
	if changed {
		s.rowsChanged++
	}
}

func (s *liveStats) tableDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tablesDone++
	s.currentTable = ""
}

func (s *liveStats) start() {
	go s.render()
}

func (s *liveStats) stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

func (s *liveStats) render() {
	defer close(s.stoppedCh)
	writer := uilive.New()
	separator1 := writer.Newline()
	headerRow := writer.Newline()
	separator2 := writer.Newline()
	tableRow := writer.Newline()
	doneRow := writer.Newline()
	scannedRow := writer.Newline()
	changedRow := writer.Newline()
	timerRow := writer.Newline()
	separator3 := writer.Newline()

	writer.Start()
	defer writer.Stop()

	displayTicker := time.NewTicker(2 * time.Second)
	defer displayTicker.Stop()

	flush := func() {
		s.mu.Lock()
		currentTable := s.currentTable
		tablesDone := s.tablesDone
		rowsScanned := s.rowsScanned
		rowsChanged := s.rowsChanged
		s.mu.Unlock()
		if currentTable == "" {
			currentTable = "-"
		}
		elapsedMins := math.Round(time.Since(s.startTime).Minutes()*100) / 100
		printStatsRow(separator1, "-----------------------------", "-----------------------------")
		printStatsRow(headerRow, "Metric", "Value")
		printStatsRow(separator2, "-----------------------------", "-----------------------------")
		printStatsRow(tableRow, "Current table", currentTable)
		printStatsRow(doneRow, "Tables completed", fmt.Sprintf("%d", tablesDone))
		printStatsRow(scannedRow, "Rows scanned", fmt.Sprintf("%d", rowsScanned))
		printStatsRow(changedRow, "Rows changed", fmt.Sprintf("%d", rowsChanged))
		printStatsRow(timerRow, "Time taken in this Run", fmt.Sprintf("%.2f mins", elapsedMins))
		printStatsRow(separator3, "-----------------------------", "-----------------------------")
		writer.Flush()
	}

	for {
		select {
		case <-s.stopCh:
			flush()
			return
		case <-displayTicker.C:
			flush()
		}
	}
}

func printStatsRow(w io.Writer, metric string, value string) {
	fmt.Fprint(w, color.GreenString("| %-30s | %30s |\n", metric, value))
}

// Package export renders a user's funnel history as downloadable files.
//
// Exports are read-only: they never mutate stored data, and derived CVR
// columns are computed at export time.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/BTreeMap/FunnelCoach/internal/funnel"
	"github.com/BTreeMap/FunnelCoach/internal/metrics"
	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// utf8BOM makes spreadsheet tools detect the encoding of CSV exports.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// csvDelimiter is a semicolon so the files open cleanly in locales that use
// a comma as the decimal separator.
const csvDelimiter = ';'

// xlsxSheetName is the single sheet in XLSX exports.
const xlsxSheetName = "History"

// header returns the export column headers for a funnel variant.
func header(ft models.FunnelType) []string {
	labels := funnel.StageLabels(ft)
	cols := []string{"Week", "Channel"}
	cols = append(cols, labels[:]...)
	cols = append(cols, "Rejections")
	for i := 1; i <= metrics.ConversionCount; i++ {
		cols = append(cols, fmt.Sprintf("CVR%d %%", i))
	}
	return cols
}

// record renders one week data row as export columns.
func record(d models.WeekData) []string {
	cols := []string{d.WeekStart, d.Channel}
	for _, v := range d.Counts.Stages {
		cols = append(cols, strconv.Itoa(v))
	}
	cols = append(cols, strconv.Itoa(d.Counts.Rejections))
	for _, c := range metrics.Conversions(d.Counts.Stages) {
		if c.Defined {
			cols = append(cols, strconv.Itoa(c.Percent))
		} else {
			cols = append(cols, metrics.UndefinedMark)
		}
	}
	return cols
}

// sortRows orders export rows oldest week first, then by channel.
func sortRows(rows []models.WeekData) []models.WeekData {
	sorted := make([]models.WeekData, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].WeekStart != sorted[j].WeekStart {
			return sorted[i].WeekStart < sorted[j].WeekStart
		}
		return sorted[i].Channel < sorted[j].Channel
	})
	return sorted
}

// filterFunnel keeps only rows of the requested variant.
func filterFunnel(rows []models.WeekData, ft models.FunnelType) []models.WeekData {
	var out []models.WeekData
	for _, r := range rows {
		if r.FunnelType == ft {
			out = append(out, r)
		}
	}
	return out
}

// CSV renders the rows of one funnel variant as a semicolon-separated file
// with a UTF-8 byte order mark. With no data the output is header-only.
func CSV(rows []models.WeekData, ft models.FunnelType) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	w := csv.NewWriter(&buf)
	w.Comma = csvDelimiter
	if err := w.Write(header(ft)); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, d := range sortRows(filterFunnel(rows, ft)) {
		if err := w.Write(record(d)); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	slog.Debug("CSV export rendered", "funnel", ft, "rows", len(rows))
	return buf.Bytes(), nil
}

// XLSX renders the rows of one funnel variant as a single-sheet workbook.
// With no data the output carries only the header row.
func XLSX(rows []models.WeekData, ft models.FunnelType) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(xlsxSheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}

	writeRow := func(rowNum int, cols []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(cols))
		for i, c := range cols {
			values[i] = c
		}
		return f.SetSheetRow(xlsxSheetName, cell, &values)
	}

	if err := writeRow(1, header(ft)); err != nil {
		return nil, fmt.Errorf("failed to write XLSX header: %w", err)
	}
	for i, d := range sortRows(filterFunnel(rows, ft)) {
		if err := writeRow(i+2, record(d)); err != nil {
			return nil, fmt.Errorf("failed to write XLSX row: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to render XLSX: %w", err)
	}
	slog.Debug("XLSX export rendered", "funnel", ft, "rows", len(rows))
	return buf.Bytes(), nil
}

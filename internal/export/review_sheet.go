// Package export writes an assembly result into an Excel review sheet so an
// applicant or administrator can check every mapped value before the PDF is
// submitted.
package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/hojokin-tools/subsidy-docgen/internal/models"
)

const (
	sheetName = "Sheet1"

	headerRow    = 1
	dataRowStart = 2
)

// ReviewSheetWriter renders flat values as an .xlsx table.
type ReviewSheetWriter struct {
	logger *zap.Logger
}

// NewReviewSheetWriter creates a new review sheet writer.
func NewReviewSheetWriter(logger *zap.Logger) *ReviewSheetWriter {
	return &ReviewSheetWriter{logger: logger}
}

// Write produces the xlsx bytes: one row per mapped field in mapping order,
// with the resolved value and any warnings for that field.
func (w *ReviewSheetWriter) Write(tmpl *models.TemplateRecord, values *models.FlatValues) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	headers := []string{"Field", "Label", "Value", "Warnings"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, headerRow)
		if err != nil {
			return nil, fmt.Errorf("failed to compute header cell: %w", err)
		}
		if err := file.SetCellValue(sheetName, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header: %w", err)
		}
	}

	warningsByField := make(map[string][]string)
	for _, warning := range values.Warnings {
		warningsByField[warning.Field] = append(warningsByField[warning.Field], warning.Message)
	}

	row := dataRowStart
	for _, entry := range tmpl.FieldMapping.Entries() {
		value, ok := values.Get(entry.Name)
		if !ok {
			value = ""
		}

		cells := []interface{}{
			entry.Name,
			entry.Spec.Label,
			value,
			strings.Join(warningsByField[entry.Name], "; "),
		}
		for i, cellValue := range cells {
			cell, err := excelize.CoordinatesToCellName(i+1, row)
			if err != nil {
				return nil, fmt.Errorf("failed to compute cell at row %d: %w", row, err)
			}
			if err := file.SetCellValue(sheetName, cell, cellValue); err != nil {
				return nil, fmt.Errorf("failed to set value at row %d: %w", row, err)
			}
		}
		row++
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize review sheet: %w", err)
	}

	w.logger.Debug("Review sheet written",
		zap.String("template_id", tmpl.ID),
		zap.Int("rows", row-dataRowStart))
	return buf.Bytes(), nil
}

package payments

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"studioflow/production-portal/production-portal-backend/internal/auth"
	"studioflow/production-portal/production-portal-backend/pkg/apperr"
)

const statementSheet = "Statement"

var statementColumns = []string{
	"Payment ID", "Type", "Status", "Project ID", "Work Item", "Currency",
	"Amount", "Penalty", "Days Late", "Final Amount", "Calculated At", "Paid At", "Received At", "Reference",
}

// ExportStatement renders the entries visible to the actor as an xlsx
// workbook.
func (s *Service) ExportStatement(ctx context.Context, actor auth.Actor) ([]byte, error) {
	const op = "payments.ExportStatement"
	views, err := s.ListVisible(ctx, actor)
	if err != nil {
		return nil, err
	}
	data, err := buildStatement(views)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return data, nil
}

// ExportStatementCSV is the plain-text variant of ExportStatement.
func (s *Service) ExportStatementCSV(ctx context.Context, actor auth.Actor) ([]byte, error) {
	const op = "payments.ExportStatementCSV"
	views, err := s.ListVisible(ctx, actor)
	if err != nil {
		return nil, err
	}
	data, err := buildStatementCSV(views)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return data, nil
}

func statementRow(v PaymentView) []interface{} {
	p := v.Payment
	item := ""
	if v.WorkItem != nil {
		item = v.WorkItem.Title
	}
	return []interface{}{
		p.ID.String(), string(p.Type), string(p.Status), p.ProjectID.String(), item, p.Currency,
		p.Amount, p.Penalty, p.DaysLate, p.FinalAmount,
		timeCell(p.CalculatedAt), timeCell(p.PaidAt), timeCell(p.ReceivedAt), p.Reference,
	}
}

func buildStatementCSV(views []PaymentView) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(statementColumns); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for i, v := range views {
		row := statementRow(v)
		record := make([]string, len(row))
		for j, val := range row {
			record[j] = csvValue(val)
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func csvValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', 2, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func buildStatement(views []PaymentView) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", statementSheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return nil, fmt.Errorf("failed to create number style: %w", err)
	}

	for i, col := range statementColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(statementSheet, cell, col); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(statementColumns), 1)
	if err := f.SetCellStyle(statementSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for r, v := range views {
		row := statementRow(v)
		start, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(statementSheet, start, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", r+2, err)
		}
	}

	if len(views) > 0 {
		top, _ := excelize.CoordinatesToCellName(7, 2)
		bottom, _ := excelize.CoordinatesToCellName(10, len(views)+1)
		if err := f.SetCellStyle(statementSheet, top, bottom, moneyStyle); err != nil {
			return nil, fmt.Errorf("failed to style amounts: %w", err)
		}
	}
	if err := f.SetColWidth(statementSheet, "A", "A", 38); err != nil {
		return nil, fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetPanes(statementSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func timeCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

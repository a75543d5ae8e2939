package auth

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

var userExportHeaders = []string{"id", "username", "email", "attempts", "average_percentage", "registered_at"}

func (s *Service) ExportUsersExcel(ctx context.Context) ([]byte, error) {
	items, err := s.ListStandardUsers(ctx)
	if err != nil {
		return nil, err
	}
	return buildUsersWorkbook(items)
}

func buildUsersWorkbook(items []UserSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	for i, h := range userExportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		values := []any{
			it.ID,
			it.Username,
			it.Email,
			it.Attempts,
			it.AveragePercentage,
			it.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "F", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

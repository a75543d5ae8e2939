package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"leveltest/internal/db"

	"github.com/xuri/excelize/v2"
)

var questionImportColumns = []string{"text", "option1", "option2", "option3", "option4", "correct_option"}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Errors      []ImportRowError `json:"errors"`
}

// ImportQuestionsExcel adds the questions of the first sheet of an .xlsx
// workbook to a test. Rows failing validation are skipped and reported; the
// valid rows are inserted in a single transaction.
func (s *Service) ImportQuestionsExcel(ctx context.Context, testID int64, r io.Reader) (*ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid .xlsx file", ErrInvalidInput)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	inputs, report, err := parseQuestionRows(testID, rows)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetTest(ctx, testID); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return report, nil
	}

	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, in := range inputs {
			if _, err := insertQuestion(ctx, tx, in); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTestNotFound) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("import questions: %w", err)
	}
	report.SuccessRows = len(inputs)
	return report, nil
}

// parseQuestionRows maps sheet rows by header name and validates each data
// row like a single question form submission.
func parseQuestionRows(testID int64, rows [][]string) ([]CreateQuestionInput, *ImportReport, error) {
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range questionImportColumns {
		if _, ok := header[col]; !ok {
			return nil, nil, fmt.Errorf("%w: missing required column %s", ErrInvalidInput, col)
		}
	}

	report := &ImportReport{Errors: make([]ImportRowError, 0)}
	inputs := make([]CreateQuestionInput, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		get := func(key string) string {
			idx := header[key]
			if idx >= len(row) {
				return ""
			}
			return row[idx]
		}
		if isBlankRow(row) {
			continue
		}
		report.TotalRows++

		in, err := validateQuestion(CreateQuestionInput{
			TestID:        testID,
			Text:          get("text"),
			Option1:       get("option1"),
			Option2:       get("option2"),
			Option3:       get("option3"),
			Option4:       get("option4"),
			CorrectOption: get("correct_option"),
		})
		if err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: i + 1, Error: err.Error()})
			continue
		}
		inputs = append(inputs, in)
	}
	return inputs, report, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

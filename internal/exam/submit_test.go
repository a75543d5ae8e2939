package exam

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

var (
	testColumns     = []string{"id", "name", "type", "level"}
	questionColumns = []string{"id", "test_id", "text", "option1", "option2", "option3", "option4", "correct_option"}
)

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewService(conn), mock
}

func TestSubmitTestRejectsTestWithoutQuestions(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery(`FROM tests\s+WHERE id = \$1`).WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(testColumns).AddRow(int64(2), "Quant L2", "qiyas", 2))
	mock.ExpectQuery(`FROM questions`).WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(questionColumns))

	sub, err := svc.SubmitTest(context.Background(), 7, 2, map[int64]string{})
	if !errors.Is(err, ErrNoQuestions) || sub != nil {
		t.Fatalf("expected ErrNoQuestions and no submission, got sub=%+v err=%v", sub, err)
	}
	// No INSERT was expected, so a stored result would fail here.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected statements: %v", err)
	}
}

func TestSubmitTestLooksUpNextTestWhenSaveFails(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery(`FROM tests\s+WHERE id = \$1`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(testColumns).AddRow(int64(3), "Quant L1", "qiyas", 1))
	mock.ExpectQuery(`FROM questions`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(questionColumns).AddRow(int64(11), int64(3), "3+4", "5", "6", "7", "8", "7"))
	mock.ExpectExec(`INSERT INTO test_results`).
		WillReturnError(errors.New("storage rejected insert"))
	mock.ExpectQuery(`FROM tests\s+WHERE type = \$1 AND level = \$2`).WithArgs("qiyas", int64(2)).
		WillReturnRows(sqlmock.NewRows(testColumns).AddRow(int64(9), "Quant L2", "qiyas", 2))

	sub, err := svc.SubmitTest(context.Background(), 7, 3, map[int64]string{11: "7"})
	if err == nil {
		t.Fatalf("expected the save error to be returned")
	}
	if sub == nil || sub.Saved || sub.Score != 1 || sub.Percentage != 100 {
		t.Fatalf("expected unsaved grading, got %+v", sub)
	}
	if sub.NextTestID != 9 {
		t.Fatalf("expected next test 9, got %d", sub.NextTestID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSubmitTestSavesAndIgnoresFailedNextLookup(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery(`FROM tests\s+WHERE id = \$1`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(testColumns).AddRow(int64(3), "Verbal L1", "tahsili", 1))
	mock.ExpectQuery(`FROM questions`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(questionColumns).AddRow(int64(11), int64(3), "q", "a", "b", "c", "d", "a"))
	mock.ExpectExec(`INSERT INTO test_results`).
		WithArgs(int64(7), int64(3), int64(0), int64(1), int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`FROM tests\s+WHERE type = \$1 AND level = \$2`).
		WillReturnError(errors.New("connection reset"))

	sub, err := svc.SubmitTest(context.Background(), 7, 3, map[int64]string{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !sub.Saved || sub.NextTestID != 0 || sub.Details[0].SubmittedAnswer != Unanswered {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

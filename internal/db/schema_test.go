package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestSampleTestsHaveValidAnswers(t *testing.T) {
	for _, st := range sampleTests {
		if st.level <= 0 {
			t.Fatalf("sample test %q has non-positive level %d", st.name, st.level)
		}
		if st.track != "qiyas" && st.track != "tahsili" {
			t.Fatalf("sample test %q has unknown track %q", st.name, st.track)
		}
		for _, q := range st.questions {
			found := false
			for _, opt := range q.options {
				if opt == q.correct {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("question %q: correct option %q not among options", q.text, q.correct)
			}
		}
	}
}

func TestConstraintHelpersIgnorePlainErrors(t *testing.T) {
	if IsUniqueViolation(nil) || IsForeignKeyViolation(nil) {
		t.Fatalf("nil error must not match any constraint")
	}
}

func TestConstraintHelpersUnwrapPgError(t *testing.T) {
	unique := fmt.Errorf("insert user: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(unique) {
		t.Fatalf("expected wrapped 23505 to be a unique violation")
	}
	if IsForeignKeyViolation(unique) {
		t.Fatalf("23505 must not be reported as foreign key violation")
	}

	fk := fmt.Errorf("insert question: %w", &pgconn.PgError{Code: "23503"})
	if !IsForeignKeyViolation(fk) {
		t.Fatalf("expected wrapped 23503 to be a foreign key violation")
	}
	if IsUniqueViolation(errors.New("duplicate key value")) {
		t.Fatalf("plain errors must not match")
	}
}

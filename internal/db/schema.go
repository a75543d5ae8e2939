package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'standard' CHECK (role IN ('standard', 'admin')),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tests (
	id    BIGSERIAL PRIMARY KEY,
	name  TEXT NOT NULL,
	type  TEXT NOT NULL CHECK (type IN ('qiyas', 'tahsili')),
	level INTEGER NOT NULL DEFAULT 1 CHECK (level > 0)
);

CREATE TABLE IF NOT EXISTS questions (
	id             BIGSERIAL PRIMARY KEY,
	test_id        BIGINT NOT NULL REFERENCES tests (id) ON DELETE CASCADE,
	text           TEXT NOT NULL,
	option1        TEXT NOT NULL,
	option2        TEXT NOT NULL,
	option3        TEXT NOT NULL,
	option4        TEXT NOT NULL,
	correct_option TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_results (
	id              BIGSERIAL PRIMARY KEY,
	user_id         BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	test_id         BIGINT NOT NULL REFERENCES tests (id) ON DELETE CASCADE,
	score           INTEGER NOT NULL CHECK (score >= 0),
	total_questions INTEGER NOT NULL CHECK (total_questions >= 0),
	percentage      INTEGER NOT NULL CHECK (percentage BETWEEN 0 AND 100),
	taken_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_questions_test_id ON questions (test_id);
CREATE INDEX IF NOT EXISTS idx_test_results_user_taken ON test_results (user_id, taken_at DESC);
CREATE INDEX IF NOT EXISTS idx_tests_type_level ON tests (type, level);
`

const dropSQL = `DROP TABLE IF EXISTS test_results, questions, tests, users CASCADE`

// EnsureSchema creates missing tables; existing data is left alone.
func EnsureSchema(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Reset drops every table and recreates the schema.
func Reset(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, dropSQL); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	log.Printf("dropped existing tables")
	return EnsureSchema(ctx, conn)
}

type seedQuestion struct {
	text    string
	options [4]string
	correct string
}

type seedTest struct {
	name      string
	track     string
	level     int
	questions []seedQuestion
}

var sampleTests = []seedTest{
	{
		name: "Qiyas practice (quantitative) - level 1", track: "qiyas", level: 1,
		questions: []seedQuestion{
			{text: "If x + 5 = 12, what is x?", options: [4]string{"5", "6", "7", "8"}, correct: "7"},
			{text: "What is 3 × (4 + 6)?", options: [4]string{"18", "22", "30", "42"}, correct: "30"},
			{text: "A circle has radius 5 cm. What is its circumference? (π ≈ 3.14)", options: [4]string{"15.7 cm", "25 cm", "31.4 cm", "50 cm"}, correct: "31.4 cm"},
		},
	},
	{name: "Qiyas practice (quantitative) - level 2", track: "qiyas", level: 2},
	{
		name: "Tahsili practice (biology) - level 1", track: "tahsili", level: 1,
		questions: []seedQuestion{
			{text: "What is the basic unit of life?", options: [4]string{"Tissue", "Organ", "Cell", "System"}, correct: "Cell"},
			{text: "Which part of a plant cell carries out photosynthesis?", options: [4]string{"Mitochondria", "Nucleus", "Cell wall", "Chloroplasts"}, correct: "Chloroplasts"},
		},
	},
	{name: "Tahsili practice (biology) - level 2", track: "tahsili", level: 2},
}

// SeedSampleData inserts the starter tests only when the tests table is empty.
func SeedSampleData(ctx context.Context, conn *sql.DB) error {
	var count int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tests`).Scan(&count); err != nil {
		return fmt.Errorf("count tests: %w", err)
	}
	if count > 0 {
		return nil
	}

	err := WithTx(ctx, conn, func(tx *sql.Tx) error {
		for _, st := range sampleTests {
			var testID int64
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO tests (name, type, level) VALUES ($1, $2, $3)
				RETURNING id
			`, st.name, st.track, st.level).Scan(&testID); err != nil {
				return fmt.Errorf("insert sample test %q: %w", st.name, err)
			}
			for _, q := range st.questions {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO questions (test_id, text, option1, option2, option3, option4, correct_option)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
				`, testID, q.text, q.options[0], q.options[1], q.options[2], q.options[3], q.correct); err != nil {
					return fmt.Errorf("insert sample question: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("seeded %d sample tests", len(sampleTests))
	return nil
}

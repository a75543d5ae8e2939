package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"leveltest/internal/db"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidAnswer    = errors.New("correct option must match one of the options")
	ErrTestNotFound     = errors.New("test not found")
	ErrNoQuestions      = errors.New("test has no questions")
	ErrQuestionNotFound = errors.New("question not found")
)

// Track is one of the two independent test categories.
type Track string

const (
	TrackQiyas   Track = "qiyas"
	TrackTahsili Track = "tahsili"
)

// Tracks lists every track in display order.
var Tracks = []Track{TrackQiyas, TrackTahsili}

func (t Track) Label() string {
	switch t {
	case TrackQiyas:
		return "Qiyas"
	case TrackTahsili:
		return "Tahsili"
	default:
		return string(t)
	}
}

func (t Track) Valid() bool {
	return t == TrackQiyas || t == TrackTahsili
}

func ParseTrack(raw string) (Track, bool) {
	t := Track(strings.ToLower(strings.TrimSpace(raw)))
	return t, t.Valid()
}

type Service struct {
	db *sql.DB
}

type Test struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Type  Track  `json:"type"`
	Level int    `json:"level"`
}

type Question struct {
	ID            int64  `json:"id"`
	TestID        int64  `json:"test_id"`
	Text          string `json:"text"`
	Option1       string `json:"option1"`
	Option2       string `json:"option2"`
	Option3       string `json:"option3"`
	Option4       string `json:"option4"`
	CorrectOption string `json:"correct_option"`
}

// Options returns the four options in their fixed display order.
func (q Question) Options() []string {
	return []string{q.Option1, q.Option2, q.Option3, q.Option4}
}

type CreateTestInput struct {
	Name  string
	Type  string
	Level string
}

type CreateQuestionInput struct {
	TestID        int64
	Text          string
	Option1       string
	Option2       string
	Option3       string
	Option4       string
	CorrectOption string
}

// SheetQuestion is a question as delivered to a test taker: no answer key.
type SheetQuestion struct {
	ID      int64    `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

type TestSheet struct {
	ID        int64           `json:"id"`
	Title     string          `json:"title"`
	Questions []SheetQuestion `json:"questions"`
}

type LevelGroup struct {
	Level int    `json:"level"`
	Tests []Test `json:"tests"`
}

type TrackView struct {
	Track        Track        `json:"track"`
	Label        string       `json:"label"`
	MaxCompleted int          `json:"max_completed"`
	NextLevel    int          `json:"next_level"`
	Levels       []LevelGroup `json:"levels"`
}

type HistoryItem struct {
	TestName       string    `json:"test_name"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"total_questions"`
	Percentage     int       `json:"percentage"`
	TakenAt        time.Time `json:"taken_at"`
}

type Dashboard struct {
	Username string        `json:"username"`
	Tracks   []TrackView   `json:"tracks"`
	History  []HistoryItem `json:"history"`
}

// Submission is the graded outcome of one attempt.
type Submission struct {
	TestID         int64          `json:"test_id"`
	TestTitle      string         `json:"test_title"`
	Score          int            `json:"score"`
	TotalQuestions int            `json:"total_questions"`
	Percentage     int            `json:"percentage"`
	NextTestID     int64          `json:"next_test_id,omitempty"`
	Saved          bool           `json:"saved"`
	Details        []AnswerDetail `json:"details"`
}

func NewService(conn *sql.DB) *Service {
	return &Service{db: conn}
}

func (s *Service) CreateTest(ctx context.Context, in CreateTestInput) (*Test, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || strings.TrimSpace(in.Type) == "" || strings.TrimSpace(in.Level) == "" {
		return nil, fmt.Errorf("%w: name, type and level are required", ErrInvalidInput)
	}
	track, ok := ParseTrack(in.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown test type %q", ErrInvalidInput, in.Type)
	}
	level, err := strconv.Atoi(strings.TrimSpace(in.Level))
	if err != nil || level <= 0 {
		return nil, fmt.Errorf("%w: level must be a positive integer", ErrInvalidInput)
	}

	t := Test{Name: name, Type: track, Level: level}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tests (name, type, level)
		VALUES ($1, $2, $3)
		RETURNING id
	`, t.Name, string(t.Type), t.Level).Scan(&t.ID)
	if err != nil {
		return nil, fmt.Errorf("insert test: %w", err)
	}
	return &t, nil
}

func (s *Service) ListTests(ctx context.Context) ([]Test, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, level
		FROM tests
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()
	return scanTests(rows)
}

func (s *Service) GetTest(ctx context.Context, testID int64) (*Test, error) {
	if testID <= 0 {
		return nil, ErrTestNotFound
	}
	var t Test
	var typ string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, level
		FROM tests
		WHERE id = $1
	`, testID).Scan(&t.ID, &t.Name, &typ, &t.Level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("query test: %w", err)
	}
	t.Type = Track(typ)
	return &t, nil
}

func (s *Service) DeleteTest(ctx context.Context, testID int64) error {
	if testID <= 0 {
		return ErrTestNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tests WHERE id = $1`, testID)
	if err != nil {
		return fmt.Errorf("delete test: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete test rows: %w", err)
	}
	if n == 0 {
		return ErrTestNotFound
	}
	return nil
}

// validateQuestion checks a question before it is stored. Only the question
// text is trimmed; the correct option must equal one of the options exactly,
// since grading compares submitted answers byte for byte.
func validateQuestion(in CreateQuestionInput) (CreateQuestionInput, error) {
	in.Text = strings.TrimSpace(in.Text)

	for _, v := range []string{in.Text, in.Option1, in.Option2, in.Option3, in.Option4, in.CorrectOption} {
		if strings.TrimSpace(v) == "" {
			return in, fmt.Errorf("%w: question text, four options and the correct option are required", ErrInvalidInput)
		}
	}
	switch in.CorrectOption {
	case in.Option1, in.Option2, in.Option3, in.Option4:
		return in, nil
	}
	return in, ErrInvalidAnswer
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertQuestion(ctx context.Context, q rowQuerier, in CreateQuestionInput) (*Question, error) {
	out := Question{
		TestID:        in.TestID,
		Text:          in.Text,
		Option1:       in.Option1,
		Option2:       in.Option2,
		Option3:       in.Option3,
		Option4:       in.Option4,
		CorrectOption: in.CorrectOption,
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO questions (test_id, text, option1, option2, option3, option4, correct_option)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, out.TestID, out.Text, out.Option1, out.Option2, out.Option3, out.Option4, out.CorrectOption).Scan(&out.ID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return &out, nil
}

func (s *Service) CreateQuestion(ctx context.Context, in CreateQuestionInput) (*Question, error) {
	if in.TestID <= 0 {
		return nil, ErrTestNotFound
	}
	in, err := validateQuestion(in)
	if err != nil {
		return nil, err
	}
	return insertQuestion(ctx, s.db, in)
}

func (s *Service) ListQuestions(ctx context.Context, testID int64) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, test_id, text, option1, option2, option3, option4, correct_option
		FROM questions
		WHERE test_id = $1
		ORDER BY id ASC
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.TestID, &q.Text, &q.Option1, &q.Option2, &q.Option3, &q.Option4, &q.CorrectOption); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

// DeleteQuestion removes a question only when it belongs to testID.
func (s *Service) DeleteQuestion(ctx context.Context, testID, questionID int64) error {
	if testID <= 0 || questionID <= 0 {
		return ErrQuestionNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $1 AND test_id = $2`, questionID, testID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete question rows: %w", err)
	}
	if n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

// MaxCompletedLevel is the highest level of track the user has a result
// for, or 0.
func (s *Service) MaxCompletedLevel(ctx context.Context, userID int64, track Track) (int, error) {
	var level int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(t.level), 0)
		FROM test_results r
		JOIN tests t ON t.id = r.test_id
		WHERE r.user_id = $1 AND t.type = $2
	`, userID, string(track)).Scan(&level)
	if err != nil {
		return 0, fmt.Errorf("query max completed level: %w", err)
	}
	return level, nil
}

// OfferedTests lists level 1 of track together with the level right after
// the user's highest completed one. Skipped levels are not offered.
func (s *Service) OfferedTests(ctx context.Context, userID int64, track Track) (*TrackView, error) {
	maxCompleted, err := s.MaxCompletedLevel(ctx, userID, track)
	if err != nil {
		return nil, err
	}
	next := maxCompleted + 1

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, level
		FROM tests
		WHERE type = $1 AND (level = 1 OR level = $2)
		ORDER BY level ASC, name ASC, id ASC
	`, string(track), next)
	if err != nil {
		return nil, fmt.Errorf("list offered tests: %w", err)
	}
	defer rows.Close()

	tests, err := scanTests(rows)
	if err != nil {
		return nil, err
	}
	return &TrackView{
		Track:        track,
		Label:        track.Label(),
		MaxCompleted: maxCompleted,
		NextLevel:    next,
		Levels:       groupByLevel(tests),
	}, nil
}

func groupByLevel(tests []Test) []LevelGroup {
	out := make([]LevelGroup, 0, 2)
	for _, t := range tests {
		if n := len(out); n > 0 && out[n-1].Level == t.Level {
			out[n-1].Tests = append(out[n-1].Tests, t)
			continue
		}
		out = append(out, LevelGroup{Level: t.Level, Tests: []Test{t}})
	}
	return out
}

func (s *Service) History(ctx context.Context, userID int64) ([]HistoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name, r.score, r.total_questions, r.percentage, r.taken_at
		FROM test_results r
		JOIN tests t ON t.id = r.test_id
		WHERE r.user_id = $1
		ORDER BY r.taken_at DESC, r.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	out := make([]HistoryItem, 0)
	for rows.Next() {
		var it HistoryItem
		if err := rows.Scan(&it.TestName, &it.Score, &it.TotalQuestions, &it.Percentage, &it.TakenAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (s *Service) Dashboard(ctx context.Context, userID int64, username string) (*Dashboard, error) {
	d := Dashboard{Username: username, Tracks: make([]TrackView, 0, len(Tracks))}
	for _, track := range Tracks {
		view, err := s.OfferedTests(ctx, userID, track)
		if err != nil {
			return nil, err
		}
		d.Tracks = append(d.Tracks, *view)
	}
	history, err := s.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	d.History = history
	return &d, nil
}

func (s *Service) TakeTest(ctx context.Context, testID int64) (*TestSheet, error) {
	t, err := s.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	questions, err := s.ListQuestions(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	sheet := TestSheet{ID: t.ID, Title: t.Name, Questions: make([]SheetQuestion, 0, len(questions))}
	for _, q := range questions {
		sheet.Questions = append(sheet.Questions, SheetQuestion{ID: q.ID, Text: q.Text, Options: q.Options()})
	}
	return &sheet, nil
}

// SubmitTest grades answers (question id to chosen option) against the
// stored keys and records one result. A test without questions cannot be
// graded. A failed insert is returned as Saved=false together with the
// grading and next test so the caller can still show them.
func (s *Service) SubmitTest(ctx context.Context, userID, testID int64, answers map[int64]string) (*Submission, error) {
	t, err := s.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	questions, err := s.ListQuestions(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	g := Grade(questions, answers)
	out := Submission{
		TestID:         t.ID,
		TestTitle:      t.Name,
		Score:          g.Score,
		TotalQuestions: g.Total,
		Percentage:     g.Percentage,
		Details:        g.Details,
	}

	saveErr := s.saveResult(ctx, userID, t.ID, g, time.Now().UTC())
	out.Saved = saveErr == nil

	next, err := s.NextTest(ctx, t.Type, t.Level)
	if err != nil {
		log.Printf("next test lookup test_id=%d: %v", t.ID, err)
	} else if next != nil {
		out.NextTestID = next.ID
	}
	return &out, saveErr
}

func (s *Service) saveResult(ctx context.Context, userID, testID int64, g Grading, takenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO test_results (user_id, test_id, score, total_questions, percentage, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, userID, testID, g.Score, g.Total, g.Percentage, takenAt)
	if err != nil {
		return fmt.Errorf("insert test result: %w", err)
	}
	return nil
}

// NextTest returns the lowest-id test one level above level in track, or
// nil when there is none.
func (s *Service) NextTest(ctx context.Context, track Track, level int) (*Test, error) {
	var t Test
	var typ string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, level
		FROM tests
		WHERE type = $1 AND level = $2
		ORDER BY id ASC
		LIMIT 1
	`, string(track), level+1).Scan(&t.ID, &t.Name, &typ, &t.Level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query next test: %w", err)
	}
	t.Type = Track(typ)
	return &t, nil
}

func scanTests(rows *sql.Rows) ([]Test, error) {
	out := make([]Test, 0)
	for rows.Next() {
		var t Test
		var typ string
		if err := rows.Scan(&t.ID, &t.Name, &typ, &t.Level); err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		t.Type = Track(typ)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tests: %w", err)
	}
	return out, nil
}

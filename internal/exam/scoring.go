package exam

// Unanswered is shown in place of the submitted answer when a question was
// left blank.
const Unanswered = "Not answered"

type AnswerDetail struct {
	QuestionID      int64  `json:"question_id"`
	QuestionText    string `json:"question_text"`
	SubmittedAnswer string `json:"submitted_answer"`
	CorrectAnswer   string `json:"correct_answer"`
	Answered        bool   `json:"answered"`
	IsCorrect       bool   `json:"is_correct"`
}

type Grading struct {
	Score      int            `json:"score"`
	Total      int            `json:"total"`
	Percentage int            `json:"percentage"`
	Details    []AnswerDetail `json:"details"`
}

// Grade compares each submitted answer to the stored correct option with
// exact string equality. Details keep the order of questions.
func Grade(questions []Question, answers map[int64]string) Grading {
	g := Grading{Total: len(questions), Details: make([]AnswerDetail, 0, len(questions))}
	for _, q := range questions {
		submitted, ok := answers[q.ID]
		answered := ok && submitted != ""
		isCorrect := answered && submitted == q.CorrectOption
		if isCorrect {
			g.Score++
		}
		if !answered {
			submitted = Unanswered
		}
		g.Details = append(g.Details, AnswerDetail{
			QuestionID:      q.ID,
			QuestionText:    q.Text,
			SubmittedAnswer: submitted,
			CorrectAnswer:   q.CorrectOption,
			Answered:        answered,
			IsCorrect:       isCorrect,
		})
	}
	g.Percentage = Percentage(g.Score, g.Total)
	return g
}

// Percentage is score/total*100 rounded half up, or 0 when total is 0.
func Percentage(score, total int) int {
	if total <= 0 || score <= 0 {
		return 0
	}
	return (score*200 + total) / (2 * total)
}

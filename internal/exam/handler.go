package exam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"leveltest/internal/app/view"
	"leveltest/internal/auth"

	"github.com/go-chi/chi/v5"
)

const (
	dashboardPath = "/dashboard"
	testsPath     = "/admin/manage-tests"
)

// answerFieldPrefix names the radio group of each question on the test form.
const answerFieldPrefix = "question_"

type Handler struct {
	svc   examService
	views *view.Renderer
}

type examService interface {
	Dashboard(ctx context.Context, userID int64, username string) (*Dashboard, error)
	TakeTest(ctx context.Context, testID int64) (*TestSheet, error)
	SubmitTest(ctx context.Context, userID, testID int64, answers map[int64]string) (*Submission, error)
}

func NewHandler(svc examService, views *view.Renderer) *Handler {
	return &Handler{svc: svc, views: views}
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentPrincipal(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	page := view.Page{Title: "Dashboard", Viewer: auth.Viewer(r.Context())}
	d, err := h.svc.Dashboard(r.Context(), p.UserID, p.Username)
	if err != nil {
		log.Printf("dashboard user_id=%d: %v", p.UserID, err)
		d = &Dashboard{Username: p.Username}
		page.Flashes = []view.Flash{{Category: view.Danger, Message: "Could not load your tests. Please try again."}}
	}
	page.Data = d
	h.views.Render(w, r, "dashboard", page)
}

func (h *Handler) TakeTest(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "testID"), 10, 64)
	if err != nil || testID <= 0 {
		view.Redirect(w, r, dashboardPath, view.Danger, "Test not found.")
		return
	}

	sheet, err := h.svc.TakeTest(r.Context(), testID)
	if err != nil {
		switch {
		case errors.Is(err, ErrTestNotFound):
			view.Redirect(w, r, dashboardPath, view.Danger, "Test not found.")
		case errors.Is(err, ErrNoQuestions):
			view.Redirect(w, r, dashboardPath, view.Warning, "This test has no questions yet.")
		default:
			log.Printf("take test id=%d: %v", testID, err)
			view.Redirect(w, r, dashboardPath, view.Danger, "Could not load the test.")
		}
		return
	}

	h.views.Render(w, r, "test", view.Page{
		Title:  sheet.Title,
		Viewer: auth.Viewer(r.Context()),
		Data:   sheet,
	})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentPrincipal(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	testID, err := strconv.ParseInt(chi.URLParam(r, "testID"), 10, 64)
	if err != nil || testID <= 0 {
		view.Redirect(w, r, dashboardPath, view.Danger, "Test not found.")
		return
	}
	if err := r.ParseForm(); err != nil {
		view.Redirect(w, r, fmt.Sprintf("/test/%d", testID), view.Danger, "Invalid form submission.")
		return
	}

	sub, err := h.svc.SubmitTest(r.Context(), p.UserID, testID, parseAnswers(r.PostForm))
	page := view.Page{Title: "Results", Viewer: auth.Viewer(r.Context())}
	if err != nil {
		if errors.Is(err, ErrTestNotFound) {
			view.Redirect(w, r, dashboardPath, view.Danger, "Test not found.")
			return
		}
		if errors.Is(err, ErrNoQuestions) {
			view.Redirect(w, r, dashboardPath, view.Warning, "This test has no questions and cannot be graded.")
			return
		}
		if sub == nil {
			log.Printf("submit test id=%d user_id=%d: %v", testID, p.UserID, err)
			view.Redirect(w, r, dashboardPath, view.Danger, "Could not grade your answers.")
			return
		}
		log.Printf("save result test_id=%d user_id=%d: %v", testID, p.UserID, err)
		page.Flashes = []view.Flash{{Category: view.Warning, Message: "Your answers were graded but the result could not be saved."}}
	} else {
		page.Flashes = []view.Flash{{Category: view.Success, Message: "Test submitted."}}
	}
	page.Data = sub
	h.views.Render(w, r, "results", page)
}

// parseAnswers collects question_<id> form fields into question id → answer.
// Fields with a malformed id are ignored.
func parseAnswers(form map[string][]string) map[int64]string {
	out := make(map[int64]string)
	for key, values := range form {
		if !strings.HasPrefix(key, answerFieldPrefix) || len(values) == 0 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(key, answerFieldPrefix), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		out[id] = values[0]
	}
	return out
}

type adminService interface {
	CreateTest(ctx context.Context, in CreateTestInput) (*Test, error)
	ListTests(ctx context.Context) ([]Test, error)
	GetTest(ctx context.Context, testID int64) (*Test, error)
	DeleteTest(ctx context.Context, testID int64) error
	CreateQuestion(ctx context.Context, in CreateQuestionInput) (*Question, error)
	ListQuestions(ctx context.Context, testID int64) ([]Question, error)
	DeleteQuestion(ctx context.Context, testID, questionID int64) error
	ImportQuestionsExcel(ctx context.Context, testID int64, r io.Reader) (*ImportReport, error)
}

// AdminHandler serves test and question authoring.
type AdminHandler struct {
	svc   adminService
	views *view.Renderer
}

type adminTestsPage struct {
	Tests  []Test
	Tracks []Track
}

type adminQuestionsPage struct {
	Test      Test
	Questions []Question
}

func NewAdminHandler(svc adminService, views *view.Renderer) *AdminHandler {
	return &AdminHandler{svc: svc, views: views}
}

func questionsPath(testID int64) string {
	return fmt.Sprintf("/admin/manage-questions/%d", testID)
}

func (h *AdminHandler) Index(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, testsPath, http.StatusFound)
}

func (h *AdminHandler) ManageTests(w http.ResponseWriter, r *http.Request) {
	page := view.Page{Title: "Manage tests", Viewer: auth.Viewer(r.Context())}
	tests, err := h.svc.ListTests(r.Context())
	if err != nil {
		log.Printf("list tests: %v", err)
		tests = []Test{}
		page.Flashes = []view.Flash{{Category: view.Danger, Message: "Could not load tests."}}
	}
	page.Data = adminTestsPage{Tests: tests, Tracks: Tracks}
	h.views.Render(w, r, "admin_tests", page)
}

func (h *AdminHandler) CreateTest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		view.Redirect(w, r, testsPath, view.Danger, "Invalid form submission.")
		return
	}
	t, err := h.svc.CreateTest(r.Context(), CreateTestInput{
		Name:  r.PostForm.Get("test_name"),
		Type:  r.PostForm.Get("test_type"),
		Level: r.PostForm.Get("test_level"),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			view.Redirect(w, r, testsPath, view.Danger, "Enter a name, a track and a positive whole-number level.")
			return
		}
		log.Printf("create test: %v", err)
		view.Redirect(w, r, testsPath, view.Danger, "Could not create the test.")
		return
	}
	view.Redirect(w, r, testsPath, view.Success, fmt.Sprintf("Test %q added.", t.Name))
}

func (h *AdminHandler) DeleteTest(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "testID"), 10, 64)
	if err != nil || testID <= 0 {
		view.Redirect(w, r, testsPath, view.Danger, "Invalid test id.")
		return
	}
	if err := h.svc.DeleteTest(r.Context(), testID); err != nil {
		if errors.Is(err, ErrTestNotFound) {
			view.Redirect(w, r, testsPath, view.Danger, "Test not found.")
			return
		}
		log.Printf("delete test id=%d: %v", testID, err)
		view.Redirect(w, r, testsPath, view.Danger, "Could not delete the test.")
		return
	}
	view.Redirect(w, r, testsPath, view.Success, "Test and all of its questions and results were deleted.")
}

func (h *AdminHandler) ManageQuestions(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "testID"), 10, 64)
	if err != nil || testID <= 0 {
		view.Redirect(w, r, testsPath, view.Danger, "Invalid test id.")
		return
	}
	t, err := h.svc.GetTest(r.Context(), testID)
	if err != nil {
		if errors.Is(err, ErrTestNotFound) {
			view.Redirect(w, r, testsPath, view.Danger, "Test not found.")
			return
		}
		log.Printf("get test id=%d: %v", testID, err)
		view.Redirect(w, r, testsPath, view.Danger, "Could not load the test.")
		return
	}

	page := view.Page{Title: "Questions: " + t.Name, Viewer: auth.Viewer(r.Context())}
	questions, err := h.svc.ListQuestions(r.Context(), testID)
	if err != nil {
		log.Printf("list questions test_id=%d: %v", testID, err)
		questions = []Question{}
		page.Flashes = []view.Flash{{Category: view.Danger, Message: "Could not load questions."}}
	}
	page.Data = adminQuestionsPage{Test: *t, Questions: questions}
	h.views.Render(w, r, "admin_questions", page)
}

func (h *AdminHandler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "testID"), 10, 64)
	if err != nil || testID <= 0 {
		view.Redirect(w, r, testsPath, view.Danger, "Invalid test id.")
		return
	}
	back := questionsPath(testID)
	if err := r.ParseForm(); err != nil {
		view.Redirect(w, r, back, view.Danger, "Invalid form submission.")
		return
	}

	_, err = h.svc.CreateQuestion(r.Context(), CreateQuestionInput{
		TestID:        testID,
		Text:          r.PostForm.Get("question_text"),
		Option1:       r.PostForm.Get("option1"),
		Option2:       r.PostForm.Get("option2"),
		Option3:       r.PostForm.Get("option3"),
		Option4:       r.PostForm.Get("option4"),
		CorrectOption: r.PostForm.Get("correct_option"),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			view.Redirect(w, r, back, view.Danger, "Fill in the question, all four options and the correct answer.")
		case errors.Is(err, ErrInvalidAnswer):
			view.Redirect(w, r, back, view.Warning, "The correct answer must match one of the four options exactly.")
		case errors.Is(err, ErrTestNotFound):
			view.Redirect(w, r, testsPath, view.Danger, "Test not found.")
		default:
			log.Printf("create question test_id=%d: %v", testID, err)
			view.Redirect(w, r, back, view.Danger, "Could not add the question.")
		}
		return
	}
	view.Redirect(w, r, back, view.Success, "Question added.")
}

// maxImportSize bounds the uploaded workbook.
const maxImportSize = 8 << 20

func (h *AdminHandler) ImportQuestions(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "testID"), 10, 64)
	if err != nil || testID <= 0 {
		view.Redirect(w, r, testsPath, view.Danger, "Invalid test id.")
		return
	}
	back := questionsPath(testID)

	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)
	if err := r.ParseMultipartForm(maxImportSize); err != nil {
		view.Redirect(w, r, back, view.Danger, "Upload an .xlsx file of at most 8 MB.")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		view.Redirect(w, r, back, view.Danger, "Choose a file to import.")
		return
	}
	defer file.Close()

	report, err := h.svc.ImportQuestionsExcel(r.Context(), testID, file)
	if err != nil {
		switch {
		case errors.Is(err, ErrTestNotFound):
			view.Redirect(w, r, testsPath, view.Danger, "Test not found.")
		case errors.Is(err, ErrInvalidInput):
			view.Redirect(w, r, back, view.Danger, "Import failed: "+err.Error())
		default:
			log.Printf("import questions test_id=%d: %v", testID, err)
			view.Redirect(w, r, back, view.Danger, "Could not import the questions.")
		}
		return
	}

	msg := fmt.Sprintf("Imported %d of %d questions.", report.SuccessRows, report.TotalRows)
	if report.FailedRows == 0 {
		view.Redirect(w, r, back, view.Success, msg)
		return
	}
	first := report.Errors[0]
	view.Redirect(w, r, back, view.Warning, fmt.Sprintf("%s %d rows skipped; first problem on row %d: %s", msg, report.FailedRows, first.Row, first.Error))
}

func (h *AdminHandler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "testID"), 10, 64)
	if err != nil || testID <= 0 {
		view.Redirect(w, r, testsPath, view.Danger, "Invalid test id.")
		return
	}
	back := questionsPath(testID)
	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil || questionID <= 0 {
		view.Redirect(w, r, back, view.Danger, "Invalid question id.")
		return
	}

	if err := h.svc.DeleteQuestion(r.Context(), testID, questionID); err != nil {
		if errors.Is(err, ErrQuestionNotFound) {
			view.Redirect(w, r, back, view.Danger, "Question not found.")
			return
		}
		log.Printf("delete question id=%d test_id=%d: %v", questionID, testID, err)
		view.Redirect(w, r, back, view.Danger, "Could not delete the question.")
		return
	}
	view.Redirect(w, r, back, view.Success, "Question deleted.")
}

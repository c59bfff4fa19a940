package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-simulator/internal/core"
	"clinical-simulator/internal/db"
	httpserver "clinical-simulator/internal/http"
	"clinical-simulator/internal/llm"
	"clinical-simulator/internal/session"
	"clinical-simulator/pkg"
)

type testEnv struct {
	srv     *httpserver.Server
	mock    *llm.MockClient
	tempDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dataDir := t.TempDir()
	cases, err := db.NewJSONCaseRepository(dataDir)
	require.NoError(t, err)

	mock := llm.NewMockClient()
	speech := core.NewSpeechService(mock, "")
	speech.TempDir = t.TempDir()

	srv, err := httpserver.NewServer(httpserver.Deps{
		Cases:      cases,
		Sessions:   session.NewManager(session.NewMemoryStore(time.Hour)),
		Chat:       core.NewChatService(mock),
		Scorer:     core.NewEvaluator(mock, 75),
		Speech:     speech,
		Efficiency: core.DefaultEfficiencyPolicy,
		DataDir:    dataDir,
	})
	require.NoError(t, err)
	return &testEnv{srv: srv, mock: mock, tempDir: speech.TempDir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

// start opens the simulation page and returns the session cookie.
func (e *testEnv) start(t *testing.T, caseID string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/simulation/"+caseID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == httpserver.SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPages(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/cases", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Alicia Smith")
	assert.Contains(t, rec.Body.String(), "James Wilson")

	rec = env.do(t, http.MethodGet, "/cases?q=wilson", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Alicia Smith")
	assert.Contains(t, rec.Body.String(), "James Wilson")
}

func TestCasesAPI(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/cases?q=chest", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	cases := decode[[]pkg.PatientCase](t, rec)
	require.Len(t, cases, 1)
	assert.Equal(t, "case002", cases[0].ID)
}

func TestSimulationPage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/simulation/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = env.do(t, http.MethodGet, "/simulation/case001", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Alicia Smith")
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "acute appendicitis")
	assert.Contains(t, rec.Body.String(), `fetch("/api/transcribe"`)
	assert.Contains(t, rec.Body.String(), `fetch("/api/text-to-speech"`)
	assert.Contains(t, rec.Body.String(), "MediaRecorder")
}

func TestChatWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/chat", pkg.ChatRequest{Message: "hello"}, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Case not found", decode[pkg.ErrorResponse](t, rec).Error)
	assert.Zero(t, env.mock.CallCount())
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.start(t, "case001")

	rec := env.do(t, http.MethodPost, "/api/chat", "{bad", cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", pkg.ChatRequest{Message: "   "}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.mock.CallCount())
}

func TestChatFallbackStillLogged(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.start(t, "case001")
	env.mock.Err = assert.AnError

	rec := env.do(t, http.MethodPost, "/api/chat", pkg.ChatRequest{Message: "Where is the pain?"}, cookie)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		"I'm Alicia Smith, and I've been experiencing Right lower quadrant pain. What else would you like to know?",
		decode[pkg.ChatResponse](t, rec).Response)

	env.mock.Err = nil
	env.mock.Replies = []string{"42"}
	res := decode[pkg.ResultsSummary](t, env.do(t, http.MethodGet, "/api/results/case001", nil, cookie))
	assert.Equal(t, 1, res.NumQuestions)
}

func TestFullSimulation(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.start(t, "case002")

	const turns = 3
	env.mock.Replies = []string{"It started an hour ago.", "It goes down my left arm.", "I'm sweating."}
	for i := 0; i < turns; i++ {
		rec := env.do(t, http.MethodPost, "/api/chat", pkg.ChatRequest{Message: "question"}, cookie)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/transition", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"phase":"diagnosis"}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/transition", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"phase":"diagnosis"}`, rec.Body.String())

	env.mock.Replies = []string{"Think about cardiac causes first."}
	rec = env.do(t, http.MethodPost, "/api/chat", pkg.ChatRequest{Message: "What could it be?"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Think about cardiac causes first.", decode[pkg.ChatResponse](t, rec).Response)

	calls := env.mock.Calls
	require.Len(t, calls, turns+1)
	assert.Contains(t, calls[0][0].Content, "You are a patient named James Wilson")
	assert.Contains(t, calls[turns][0].Content, "Acute myocardial infarction")

	env.mock.Replies = []string{"Score: 82"}
	rec = env.do(t, http.MethodGet, "/api/results/case002", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[pkg.ResultsSummary](t, rec)
	assert.Equal(t, turns+1, res.NumQuestions)
	assert.Equal(t, 100, res.EfficiencyScore)
	assert.Equal(t, 82, res.ClinicalReasoningScore)
	assert.Equal(t, "case002", res.Case.ID)

	// the scorer saw the whole log in order: system, 8 turns, final instruction
	scoring := env.mock.Calls[len(env.mock.Calls)-1]
	require.Len(t, scoring, 2*(turns+1)+2)
	for i := 1; i <= 2*(turns+1); i++ {
		want := llm.RoleUser
		if i%2 == 0 {
			want = llm.RoleAssistant
		}
		assert.Equal(t, want, scoring[i].Role, "message %d", i)
	}

	env.mock.Replies = []string{"90"}
	rec = env.do(t, http.MethodGet, "/results/case002", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Acute myocardial infarction")
}

func TestTransitionWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/transition", nil, &http.Cookie{Name: httpserver.SessionCookie, Value: "gone"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResults(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/results/case999", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/results/case999", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.mock.Replies = []string{"no idea"}
	rec = env.do(t, http.MethodGet, "/api/results/case001", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[pkg.ResultsSummary](t, rec)
	assert.Equal(t, 0.0, res.Duration)
	assert.Equal(t, 0, res.NumQuestions)
	assert.Equal(t, 100, res.EfficiencyScore)
	assert.Equal(t, 75, res.ClinicalReasoningScore)
}

func TestResultsIgnoreSessionForOtherCase(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.start(t, "case001")
	env.do(t, http.MethodPost, "/api/chat", pkg.ChatRequest{Message: "hi"}, cookie)

	env.mock.Replies = []string{"50"}
	res := decode[pkg.ResultsSummary](t, env.do(t, http.MethodGet, "/api/results/case002", nil, cookie))

	assert.Equal(t, 0, res.NumQuestions)
	assert.Equal(t, "case002", res.Case.ID)
}

func TestRestartingSimulationResetsLog(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.start(t, "case001")
	env.do(t, http.MethodPost, "/api/chat", pkg.ChatRequest{Message: "hi"}, cookie)

	req := httptest.NewRequest(http.MethodGet, "/simulation/case001", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	fresh := rec.Result().Cookies()[0]
	assert.NotEqual(t, cookie.Value, fresh.Value)

	// the old session is gone
	rec = env.do(t, http.MethodPost, "/api/chat", pkg.ChatRequest{Message: "hi"}, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.mock.Replies = []string{"70"}
	res := decode[pkg.ResultsSummary](t, env.do(t, http.MethodGet, "/api/results/case001", nil, fresh))
	assert.Equal(t, 0, res.NumQuestions)
}

func TestTranscribe(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/transcribe", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no audio file provided", decode[pkg.ErrorResponse](t, rec).Error)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", "question.webm")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-audio"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	env.mock.Transcript = "how long have you had the pain"
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "how long have you had the pain", decode[pkg.TranscriptionResponse](t, rec).Text)
	assertTempDirEmpty(t, env.tempDir)
}

func TestTextToSpeech(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/text-to-speech", pkg.SpeechRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No text provided", decode[pkg.ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/text-to-speech", pkg.SpeechRequest{Text: "hi", Voice: "robot"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.mock.Audio = []byte("mp3-data")
	rec = env.do(t, http.MethodPost, "/api/text-to-speech", pkg.SpeechRequest{Text: "My chest hurts."}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="response.mp3"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "mp3-data", rec.Body.String())
	assertTempDirEmpty(t, env.tempDir)

	env.mock.SpeechErr = assert.AnError
	rec = env.do(t, http.MethodPost, "/api/text-to-speech", pkg.SpeechRequest{Text: "again"}, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, decode[pkg.ErrorResponse](t, rec).Details)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodOptions, "/api/chat", nil, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStaticData(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/static/data/"+db.CasesFileName, nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "case001")
}

func assertTempDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProviderCallsOutliveClientDisconnect(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.start(t, "case001")
	gone, cancel := context.WithCancel(context.Background())
	cancel()

	env.mock.Replies = []string{"Since this morning."}
	body, err := json.Marshal(pkg.ChatRequest{Message: "When did it start?"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body)).WithContext(gone)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Since this morning.", decode[pkg.ChatResponse](t, rec).Response)

	env.mock.Replies = []string{"88"}
	req = httptest.NewRequest(http.MethodGet, "/api/results/case001", nil).WithContext(gone)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[pkg.ResultsSummary](t, rec)
	assert.Equal(t, 88, res.ClinicalReasoningScore)
	assert.Equal(t, 1, res.NumQuestions)

	// the logged reply is the model's, not a fallback
	scoring := env.mock.Calls[len(env.mock.Calls)-1]
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "Since this morning."}, scoring[2])
}

package http

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"

	"clinical-simulator/internal/core"
	"clinical-simulator/internal/db"
	"clinical-simulator/internal/observability"
	"clinical-simulator/internal/session"
	"clinical-simulator/pkg"
)

// SessionCookie carries the opaque session id issued at simulation start.
const SessionCookie = "sim_session"

const maxAudioUpload = 32 << 20

//go:embed templates/*.html
var templateFS embed.FS

// Deps are the services the HTTP layer needs.
type Deps struct {
	Cases      db.CaseRepository
	Sessions   *session.Manager
	Chat       *core.ChatService
	Scorer     *core.Evaluator
	Speech     *core.SpeechService
	Efficiency core.EfficiencyPolicy
	// DataDir is served under /static/data/ when set.
	DataDir string
}

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to http.ListenAndServe.
type Server struct {
	Deps
	Templates *template.Template
	handler   http.Handler
}

// NewServer constructs a Server and its routes.  Templates are embedded in
// the binary.
func NewServer(deps Deps) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	s := &Server{Deps: deps, Templates: tmpl}

	router := mux.NewRouter()
	s.RegisterRoutes(router)
	s.handler = chainMiddlewares(router, withCORS, withLogging, withRequestID)
	return s, nil
}

// RegisterRoutes attaches every page and API route to router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/cases", s.handleCasesPage).Methods(http.MethodGet)
	router.HandleFunc("/simulation/{case_id}", s.handleSimulation).Methods(http.MethodGet)
	router.HandleFunc("/results/{case_id}", s.handleResultsPage).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/cases", s.handleCasesAPI).Methods(http.MethodGet)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/transcribe", s.handleTranscribe).Methods(http.MethodPost)
	api.HandleFunc("/text-to-speech", s.handleTextToSpeech).Methods(http.MethodPost)
	api.HandleFunc("/transition", s.handleTransition).Methods(http.MethodPost)
	api.HandleFunc("/results/{case_id}", s.handleResultsAPI).Methods(http.MethodGet)

	if s.DataDir != "" {
		router.PathPrefix("/static/data/").Handler(
			http.StripPrefix("/static/data/", http.FileServer(http.Dir(s.DataDir))))
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "index.html", nil)
}

// handleCasesPage lists cases, optionally filtered by ?q=.
func (s *Server) handleCasesPage(w http.ResponseWriter, r *http.Request) {
	cases, err := s.listCases(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data := struct {
		Query string
		Cases []pkg.PatientCase
	}{r.URL.Query().Get("q"), cases}
	s.render(w, r, "cases.html", data)
}

func (s *Server) handleCasesAPI(w http.ResponseWriter, r *http.Request) {
	cases, err := s.listCases(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load cases", "")
		return
	}
	writeJSON(w, http.StatusOK, cases)
}

func (s *Server) listCases(r *http.Request) ([]pkg.PatientCase, error) {
	cases, err := s.Cases.List(r.Context())
	if err != nil {
		observability.LoggerFromContext(r.Context()).WithError(err).Error("failed to load cases")
		return nil, err
	}
	return db.FilterCases(cases, r.URL.Query().Get("q")), nil
}

// simulationView is what the simulation page may show: no diagnosis.
type simulationView struct {
	ID             string
	Name           string
	Age            int
	Gender         string
	ChiefComplaint string
}

// handleSimulation starts a new session for the case, replacing any session
// the browser already had.
func (s *Server) handleSimulation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := mux.Vars(r)["case_id"]
	c, err := s.Cases.Get(ctx, caseID)
	if errors.Is(err, db.ErrCaseNotFound) {
		http.Error(w, "Case not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sess, err := s.Sessions.Start(ctx, c.ID, sessionID(r))
	if err != nil {
		observability.LoggerFromContext(ctx).WithError(err).Error("failed to start session")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	observability.LoggerFromContext(ctx).WithField("session_id", sess.ID).WithField("case_id", c.ID).Info("simulation started")

	s.render(w, r, "simulation.html", simulationView{
		ID:             c.ID,
		Name:           c.Name,
		Age:            c.Age,
		Gender:         c.Gender,
		ChiefComplaint: c.ChiefComplaint,
	})
}

// handleChat relays one learner message.  The user message and the reply
// (model or fallback) are logged together under the session lock.  The model
// call outlives a client disconnect so the logged reply is the real one.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req pkg.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload", "")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "No message provided", "")
		return
	}

	var reply string
	_, err := s.Sessions.Update(ctx, sessionID(r), func(sess *pkg.Session) error {
		c, err := s.Cases.Get(ctx, sess.CaseID)
		if err != nil {
			return err
		}
		sess.Append(pkg.RoleUser, req.Message, s.Sessions.Now())
		out := s.Chat.Reply(context.WithoutCancel(ctx), c, sess.Phase, req.Message)
		reply = out.Text
		sess.Append(pkg.RoleAssistant, reply, s.Sessions.Now())
		return nil
	})
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, db.ErrCaseNotFound) {
		writeError(w, http.StatusNotFound, "Case not found", "")
		return
	}
	if err != nil {
		observability.LoggerFromContext(ctx).WithError(err).Error("chat failed")
		writeError(w, http.StatusInternalServerError, "Failed to process message", "")
		return
	}
	writeJSON(w, http.StatusOK, pkg.ChatResponse{Response: reply})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeError(w, http.StatusBadRequest, core.ErrNoAudio.Error(), "")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, core.ErrNoAudio.Error(), "")
		return
	}
	defer file.Close()

	text, err := s.Speech.Transcribe(context.WithoutCancel(ctx), file, header.Filename)
	if err != nil {
		observability.LoggerFromContext(ctx).WithError(err).Error("transcription failed")
		writeError(w, http.StatusInternalServerError, "Failed to transcribe audio", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pkg.TranscriptionResponse{Text: text})
}

func (s *Server) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req pkg.SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload", "")
		return
	}

	artifact, err := s.Speech.Synthesize(context.WithoutCancel(ctx), req.Text, req.Voice)
	switch {
	case errors.Is(err, core.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "No text provided", "")
		return
	case errors.Is(err, core.ErrInvalidVoice):
		writeError(w, http.StatusBadRequest, "Unknown voice", err.Error())
		return
	case err != nil:
		observability.LoggerFromContext(ctx).WithError(err).Error("speech synthesis failed")
		writeError(w, http.StatusInternalServerError, "Failed to generate speech", err.Error())
		return
	}
	defer artifact.Close()

	f, err := os.Open(artifact.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate speech", err.Error())
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate speech", err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", `attachment; filename="response.mp3"`)
	http.ServeContent(w, r, "response.mp3", info.ModTime(), f)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Advance(r.Context(), sessionID(r))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No active simulation", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to change phase", "")
		return
	}
	writeJSON(w, http.StatusOK, pkg.TransitionResponse{Success: true, Phase: sess.Phase})
}

func (s *Server) handleResultsPage(w http.ResponseWriter, r *http.Request) {
	results, err := s.results(r.Context(), r)
	if errors.Is(err, db.ErrCaseNotFound) {
		http.Error(w, "Case not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, r, "results.html", results)
}

func (s *Server) handleResultsAPI(w http.ResponseWriter, r *http.Request) {
	results, err := s.results(r.Context(), r)
	if errors.Is(err, db.ErrCaseNotFound) {
		writeError(w, http.StatusNotFound, "Case not found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute results", "")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// results scores the browser's session for the case in the URL.  A session
// for a different case counts as no session at all.
func (s *Server) results(ctx context.Context, r *http.Request) (*pkg.ResultsSummary, error) {
	c, err := s.Cases.Get(ctx, mux.Vars(r)["case_id"])
	if err != nil {
		return nil, err
	}
	sess, err := s.Sessions.Get(ctx, sessionID(r))
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}
	if sess != nil && sess.CaseID != c.ID {
		sess = nil
	}

	var interactions []pkg.Interaction
	if sess != nil {
		interactions = sess.Interactions
	}
	score := s.Scorer.Score(context.WithoutCancel(ctx), c, interactions)
	results := core.ComputeResults(sess, c, score, s.Sessions.Now(), s.Efficiency)
	return &results, nil
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.Templates.ExecuteTemplate(w, name, data); err != nil {
		observability.LoggerFromContext(r.Context()).WithError(err).WithField("template", name).Error("failed to render template")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func sessionID(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message, details string) {
	writeJSON(w, statusCode, pkg.ErrorResponse{Error: message, Details: details})
}

package pkg

import "time"

// PatientCase is a fixed patient scenario loaded from the case store.  Cases
// are never mutated after loading.
type PatientCase struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Age                   int      `json:"age"`
	Gender                string   `json:"gender"`
	ChiefComplaint        string   `json:"chief_complaint"`
	Condition             string   `json:"condition"`
	Symptoms              []string `json:"symptoms"`
	History               string   `json:"history,omitempty"`
	PhysicalExam          string   `json:"physical_exam,omitempty"`
	Diagnosis             string   `json:"diagnosis"`
	DifferentialDiagnosis []string `json:"differential_diagnosis,omitempty"`
	ImagingNeeded         string   `json:"imaging_needed,omitempty"`
}

// Phase is the stage of a simulation.
type Phase string

const (
	PhaseLearn     Phase = "learn"
	PhaseDiagnosis Phase = "diagnosis"
)

// Role describes who authored an interaction.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Interaction is one logged chat message.
type Interaction struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the per-learner simulation state.  It is keyed by an opaque id
// handed to the browser in a cookie when a simulation starts.
type Session struct {
	ID           string        `json:"id"`
	CaseID       string        `json:"case_id"`
	Phase        Phase         `json:"phase"`
	StartTime    time.Time     `json:"start_time"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Interactions []Interaction `json:"interactions"`
}

// Append adds an interaction to the log.  Timestamps are kept strictly
// increasing even when the clock does not advance between two calls.
func (s *Session) Append(role Role, content string, at time.Time) Interaction {
	if n := len(s.Interactions); n > 0 {
		last := s.Interactions[n-1].Timestamp
		if !at.After(last) {
			at = last.Add(time.Nanosecond)
		}
	}
	in := Interaction{Role: role, Content: content, Timestamp: at}
	s.Interactions = append(s.Interactions, in)
	s.UpdatedAt = at
	return in
}

// Advance moves the session to the diagnosis phase.  Calling it again is a
// no-op; there is no way back to the learn phase.
func (s *Session) Advance() {
	s.Phase = PhaseDiagnosis
}

// Clone returns a deep copy so callers can read a session without holding
// the store's lock.
func (s *Session) Clone() *Session {
	out := *s
	out.Interactions = append([]Interaction(nil), s.Interactions...)
	return &out
}

// ResultsSummary is computed on demand when a learner finishes a case.
type ResultsSummary struct {
	Duration               float64     `json:"duration"`
	NumQuestions           int         `json:"num_questions"`
	EfficiencyScore        int         `json:"efficiency_score"`
	ClinicalReasoningScore int         `json:"clinical_reasoning_score"`
	Case                   PatientCase `json:"case"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the assistant's reply.
type ChatResponse struct {
	Response string `json:"response"`
}

// SpeechRequest is the body of POST /api/text-to-speech.
type SpeechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// TranscriptionResponse carries recognised speech.
type TranscriptionResponse struct {
	Text string `json:"text"`
}

// TransitionResponse is returned after the phase switch.
type TransitionResponse struct {
	Success bool  `json:"success"`
	Phase   Phase `json:"phase"`
}

// ErrorResponse is the JSON error envelope.  Details is only set for audio
// endpoints where provider errors are surfaced.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

package core

import (
	"context"
	"fmt"

	"clinical-simulator/internal/llm"
	"clinical-simulator/internal/observability"
	"clinical-simulator/pkg"
)

// Outcome is the result of one gateway call.  Text is always usable: on
// failure it holds the phase fallback and Err records why.
type Outcome struct {
	Text string
	Err  error
}

// Failed reports whether the model call failed and Text is a fallback.
func (o Outcome) Failed() bool { return o.Err != nil }

// ChatService relays learner messages to the chat model under the persona of
// the current phase.
type ChatService struct {
	LLM llm.Client
}

// NewChatService constructs a new ChatService with the given LLM client.
func NewChatService(client llm.Client) *ChatService {
	return &ChatService{LLM: client}
}

// Reply sends the phase instruction and the learner's message to the model.
// It never returns an error: provider failures select the fallback reply.
func (s *ChatService) Reply(ctx context.Context, c *pkg.PatientCase, phase pkg.Phase, message string) Outcome {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: BuildSystemPrompt(c, phase)},
		{Role: llm.RoleUser, Content: message},
	}
	resp, err := s.LLM.Chat(ctx, messages, llm.ChatOptions{})
	if err != nil {
		observability.LoggerFromContext(ctx).WithError(err).
			WithField("case_id", c.ID).
			WithField("phase", phase).
			Warn("chat model failed, using fallback reply")
		return Outcome{Text: FallbackReply(c, phase), Err: err}
	}
	return Outcome{Text: resp}
}

// FallbackReply is the canned reply used when the model is unavailable.
func FallbackReply(c *pkg.PatientCase, phase pkg.Phase) string {
	if phase == pkg.PhaseDiagnosis {
		return DiagnosisFallback
	}
	return fmt.Sprintf(LearnFallbackFormat, c.Name, c.ChiefComplaint)
}

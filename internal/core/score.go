package core

import (
	"context"
	"errors"
	"strconv"

	"github.com/samber/lo"

	"clinical-simulator/internal/llm"
	"clinical-simulator/internal/observability"
	"clinical-simulator/pkg"
)

// DefaultScore is returned when the evaluator reply cannot be used.
const DefaultScore = 75

const scoreTemperature = 0.3

// Evaluator asks the chat model for a 0-100 clinical reasoning score over the
// whole interaction log.
type Evaluator struct {
	LLM          llm.Client
	DefaultScore int
}

// NewEvaluator constructs an evaluator.  A defaultScore outside 0-100 is
// replaced by DefaultScore.
func NewEvaluator(client llm.Client, defaultScore int) *Evaluator {
	if defaultScore < 0 || defaultScore > 100 {
		defaultScore = DefaultScore
	}
	return &Evaluator{LLM: client, DefaultScore: defaultScore}
}

// Score replays the conversation to the model and parses its answer.  It never
// fails: provider errors and unparsable replies yield the default score.
func (e *Evaluator) Score(ctx context.Context, c *pkg.PatientCase, interactions []pkg.Interaction) int {
	log := observability.LoggerFromContext(ctx).WithField("case_id", c.ID)

	messages := make([]llm.Message, 0, len(interactions)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: BuildScoringPrompt(c)})
	for _, in := range interactions {
		role := llm.RoleAssistant
		if in.Role == pkg.RoleUser {
			role = llm.RoleUser
		}
		messages = append(messages, llm.Message{Role: role, Content: in.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: ScoreFinalInstruction})

	resp, err := e.LLM.Chat(ctx, messages, llm.ChatOptions{Temperature: scoreTemperature})
	if err != nil {
		log.WithError(err).Warn("failed to get clinical reasoning score")
		return e.DefaultScore
	}

	score, ok := ParseScore(resp)
	if !ok {
		log.WithField("raw_response", resp).Warn("failed to parse clinical reasoning score")
		return e.DefaultScore
	}
	log.WithField("score", score).WithField("raw_response", resp).Info("clinical reasoning score")
	return score
}

// ParseScore extracts the first run of digits from reply and clamps it into
// 0-100.  Signs and any surrounding text are ignored, so "-5" reads as 5 and
// "Score: 87/100" reads as 87.  A run too long for an int clamps to 100.  ok
// is false only when there are no digits.
func ParseScore(reply string) (int, bool) {
	start := -1
	end := len(reply)
	for i, r := range reply {
		isDigit := r >= '0' && r <= '9'
		if start < 0 && isDigit {
			start = i
		} else if start >= 0 && !isDigit {
			end = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(reply[start:end])
	if errors.Is(err, strconv.ErrRange) {
		return 100, true
	}
	if err != nil {
		return 0, false
	}
	return lo.Clamp(n, 0, 100), true
}

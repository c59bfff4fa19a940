package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MockClient is an offline stand-in for local development and tests.  With
// no scripted replies it echoes the last user message.
type MockClient struct {
	mu sync.Mutex

	Replies  []string
	Err      error
	Calls    [][]Message
	LastOpts ChatOptions

	Transcript string
	SpeechErr  error
	Audio      []byte
	AudioPaths []string
}

func NewMockClient() *MockClient {
	return &MockClient{Audio: []byte("ID3-mock-audio")}
}

func (m *MockClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, append([]Message(nil), messages...))
	m.LastOpts = opts
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Replies) > 0 {
		reply := m.Replies[0]
		m.Replies = m.Replies[1:]
		return reply, nil
	}
	last := ""
	if n := len(messages); n > 0 {
		last = messages[n-1].Content
	}
	return fmt.Sprintf("You said %q. Tell me more.", last), nil
}

func (m *MockClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AudioPaths = append(m.AudioPaths, audioPath)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.SpeechErr != nil {
		return "", m.SpeechErr
	}
	if m.Transcript == "" {
		return "mock transcript", nil
	}
	return m.Transcript, nil
}

func (m *MockClient) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.SpeechErr != nil {
		return nil, m.SpeechErr
	}
	return io.NopCloser(strings.NewReader(string(m.Audio))), nil
}

// CallCount reports how many chat requests were made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

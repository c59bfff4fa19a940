package llm

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// Message is a minimal chat message used by the core services.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyReply is returned when the provider answers without any text.
var ErrEmptyReply = errors.New("llm returned an empty reply")

// ChatOptions tunes a single completion.  A zero Temperature leaves the
// provider default in place.
type ChatOptions struct {
	Temperature float32
}

// Client is the chat model used by the conversation gateway and the scorer.
type Client interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}

// SpeechClient converts audio to text and text to audio.
type SpeechClient interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error)
}

// Voices accepted by the speech endpoint.
var Voices = []string{
	string(openai.VoiceAlloy),
	string(openai.VoiceEcho),
	string(openai.VoiceFable),
	string(openai.VoiceOnyx),
	string(openai.VoiceNova),
	string(openai.VoiceShimmer),
}

// OpenAIClient calls the OpenAI API for chat, transcription and speech.
type OpenAIClient struct {
	client    *openai.Client
	chatModel string
}

// NewOpenAIClient constructs an OpenAI-backed client.  The API key is always
// supplied by configuration.
func NewOpenAIClient(apiKey, chatModel string) *OpenAIClient {
	return NewOpenAIClientWithConfig(openai.DefaultConfig(apiKey), chatModel)
}

// NewOpenAIClientWithConfig allows a custom base URL or HTTP client.
func NewOpenAIClientWithConfig(cfg openai.ClientConfig, chatModel string) *OpenAIClient {
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(cfg),
		chatModel: chatModel,
	}
}

// Chat sends the message history to the OpenAI chat completion API and returns
// the assistant's response.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}

	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    oaMsgs,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyReply
	}
	return resp.Choices[0].Message.Content, nil
}

// Transcribe runs Whisper over the audio file at audioPath.
func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Synthesize returns an mp3 stream for text.  The caller must close it.
func (c *OpenAIClient) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	audio, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

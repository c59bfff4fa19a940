package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"clinical-simulator/internal/llm"
	"clinical-simulator/internal/observability"
)

// DefaultVoice is the synthesis voice when the request names none.
const DefaultVoice = "onyx"

var (
	ErrEmptyText    = errors.New("no text provided")
	ErrNoAudio      = errors.New("no audio file provided")
	ErrInvalidVoice = errors.New("unknown voice")
)

// SpeechService bridges the browser's audio to the speech models.  Every
// temporary file it creates is removed before the owning call returns, or,
// for synthesis, when the returned Artifact is closed.
type SpeechService struct {
	Client       llm.SpeechClient
	DefaultVoice string
	TempDir      string
}

func NewSpeechService(client llm.SpeechClient, defaultVoice string) *SpeechService {
	if defaultVoice == "" {
		defaultVoice = DefaultVoice
	}
	return &SpeechService{Client: client, DefaultVoice: defaultVoice}
}

// Transcribe stores audio in a temporary file, sends it to the transcription
// model and returns the recognised text.  filename only supplies the
// extension the model uses to detect the format; ".wav" is assumed otherwise.
func (s *SpeechService) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if audio == nil {
		return "", ErrNoAudio
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".wav"
	}

	path, err := s.writeTemp("upload-*"+ext, audio)
	if err != nil {
		return "", err
	}
	defer s.remove(ctx, path)

	text, err := s.Client.Transcribe(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	return text, nil
}

// Artifact is a synthesized audio file owned by one request.
type Artifact struct {
	Path string
}

// Close deletes the file.  It is safe to call more than once.
func (a *Artifact) Close() error {
	err := os.Remove(a.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Synthesize turns text into an mp3 stored in a temporary file.  The caller
// owns the returned Artifact and must Close it.
func (s *SpeechService) Synthesize(ctx context.Context, text, voice string) (*Artifact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if voice == "" {
		voice = s.DefaultVoice
	}
	if !lo.Contains(llm.Voices, voice) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVoice, voice)
	}

	stream, err := s.Client.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, fmt.Errorf("failed to generate speech: %w", err)
	}
	defer stream.Close()

	path, err := s.writeTemp("speech-*.mp3", stream)
	if err != nil {
		return nil, err
	}
	return &Artifact{Path: path}, nil
}

// writeTemp copies r into a new temporary file and returns its path.  On any
// failure the file is already gone when writeTemp returns.
func (s *SpeechService) writeTemp(pattern string, r io.Reader) (string, error) {
	f, err := os.CreateTemp(s.TempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()

	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return name, nil
}

func (s *SpeechService) remove(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		observability.LoggerFromContext(ctx).WithError(err).WithField("path", path).Error("failed to remove temp audio")
	}
}

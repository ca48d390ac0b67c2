// Package gemini implements the call backend on the Gemini API, either
// with an API key or through Vertex AI with application default credentials.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"google.golang.org/genai"

	"github.com/square-key-labs/strawgo-screener/src/audio"
	"github.com/square-key-labs/strawgo-screener/src/logger"
	"github.com/square-key-labs/strawgo-screener/src/services"
)

const transcribePrompt = "Transcribe this phone call audio verbatim. Reply with the transcript only, or nothing if there is no speech."

// Config selects the models and how the client authenticates.
type Config struct {
	Name        string
	APIKey      string
	VertexAI    bool
	Project     string
	Location    string
	ChatModel   string // e.g. "gemini-2.5-flash"
	SpeechModel string // e.g. "gemini-2.5-flash-preview-tts"
	Temperature float32
}

// Backend implements services.Backend with the genai SDK.
type Backend struct {
	cfg    Config
	client *genai.Client
	log    *logger.Logger
}

var _ services.Backend = (*Backend)(nil)

// New creates the genai client. With VertexAI set it detects application
// default credentials instead of using an API key.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gemini-2.5-flash"
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = "gemini-2.5-flash-preview-tts"
	}
	if cfg.Name == "" {
		cfg.Name = "gemini"
	}

	cc := &genai.ClientConfig{}
	if cfg.VertexAI {
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			return nil, fmt.Errorf("detect google credentials: %w", err)
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Credentials = creds
	} else {
		if cfg.APIKey == "" {
			return nil, errors.New("gemini: api key is required")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Backend{cfg: cfg, client: client, log: logger.WithPrefix("Gemini")}, nil
}

func (b *Backend) Name() string { return b.cfg.Name }

// OutputRate is the rate of Gemini TTS inline audio.
func (b *Backend) OutputRate() int { return audio.SynthesisRate }

func (b *Backend) Transcribe(ctx context.Context, data []byte, format string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcribePrompt),
			genai.NewPartFromBytes(data, "audio/"+format),
		}, genai.RoleUser),
	}
	resp, err := b.client.Models.GenerateContent(ctx, b.cfg.ChatModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (b *Backend) Generate(ctx context.Context, messages []services.Message) (string, error) {
	contents, system := toContents(messages)
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(b.cfg.Temperature),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.cfg.ChatModel, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	response := strings.TrimSpace(resp.Text())
	b.log.Debug("Assistant response length: %d", len(response))
	return response, nil
}

func (b *Backend) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = "Kore"
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	resp, err := b.client.Models.GenerateContent(ctx, b.cfg.SpeechModel, genai.Text(text), config)
	if err != nil {
		return nil, fmt.Errorf("gemini synthesize: %w", err)
	}

	var pcm []byte
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil {
				pcm = append(pcm, part.InlineData.Data...)
			}
		}
	}
	if len(pcm) == 0 {
		return nil, errors.New("gemini synthesize: no audio in response")
	}
	return pcm, nil
}

// toContents splits system messages out and maps the rest to genai roles.
func toContents(messages []services.Message) ([]*genai.Content, string) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case services.RoleSystem:
			system = append(system, msg.Content)
		case services.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}

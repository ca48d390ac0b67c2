// Package openai talks to any OpenAI-compatible speech and chat endpoint.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/square-key-labs/strawgo-screener/src/audio"
	"github.com/square-key-labs/strawgo-screener/src/logger"
	"github.com/square-key-labs/strawgo-screener/src/services"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Config holds the endpoint, credential and models for one backend.
type Config struct {
	Name            string // label used in logs and metrics
	APIKey          string
	BaseURL         string
	TranscribeModel string // e.g. "whisper-1"
	ChatModel       string // e.g. "gpt-4o-mini"
	SpeechModel     string // e.g. "tts-1"
	Temperature     float64
	MaxTokens       int
	HTTPClient      *http.Client
}

// Backend implements services.Backend over HTTP.
type Backend struct {
	cfg    Config
	client *http.Client
	log    *logger.Logger
}

var _ services.Backend = (*Backend)(nil)

// New returns a Backend. Missing models fall back to OpenAI defaults.
func New(cfg Config) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = "whisper-1"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = "tts-1"
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Backend{cfg: cfg, client: client, log: logger.WithPrefix("OpenAI")}
}

func (b *Backend) Name() string { return b.cfg.Name }

// OutputRate is fixed by the pcm response format.
func (b *Backend) OutputRate() int { return audio.SynthesisRate }

// Transcribe uploads the audio container to /audio/transcriptions.
func (b *Backend) Transcribe(ctx context.Context, data []byte, format string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", b.cfg.TranscribeModel); err != nil {
		return "", err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", "utterance."+format)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	resp, err := b.do(ctx, "/audio/transcriptions", mw.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// Generate streams a chat completion and returns the concatenated reply.
func (b *Backend) Generate(ctx context.Context, messages []services.Message) (string, error) {
	wire := make([]map[string]string, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, map[string]string{
			"role":    string(msg.Role),
			"content": msg.Content,
		})
	}

	requestBody := map[string]interface{}{
		"model":       b.cfg.ChatModel,
		"messages":    wire,
		"temperature": b.cfg.Temperature,
		"stream":      true,
	}
	if b.cfg.MaxTokens > 0 {
		requestBody["max_tokens"] = b.cfg.MaxTokens
	}

	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return "", err
	}

	resp, err := b.do(ctx, "/chat/completions", "application/json", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var fullResponse strings.Builder
	scanner := bufio.NewScanner(resp.Body)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var streamResp struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
			continue
		}
		if len(streamResp.Choices) > 0 {
			fullResponse.WriteString(streamResp.Choices[0].Delta.Content)
		}
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}

	response := strings.TrimSpace(fullResponse.String())
	b.log.Debug("Assistant response length: %d", len(response))
	return response, nil
}

// Synthesize requests raw 24 kHz PCM from /audio/speech.
func (b *Backend) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = "alloy"
	}
	bodyBytes, err := json.Marshal(map[string]interface{}{
		"model":           b.cfg.SpeechModel,
		"input":           text,
		"voice":           voice,
		"response_format": "pcm",
	})
	if err != nil {
		return nil, err
	}

	resp, err := b.do(ctx, "/audio/speech", "application/json", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return pcm, nil
}

func (b *Backend) do(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &services.APIError{Provider: b.cfg.Name, StatusCode: resp.StatusCode, Body: string(msg)}
	}
	return resp, nil
}

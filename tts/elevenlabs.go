// Package tts renders help messages to speech via the ElevenLabs API.
// Failures here are never fatal: a help event is still recorded without
// audio when synthesis fails.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Client calls the ElevenLabs text-to-speech endpoint.
type Client struct {
	apiKey  string
	voiceID string
	modelID string
	http    *http.Client
}

// NewClient builds a TTS client for one voice/model pair.
func NewClient(apiKey, voiceID, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	if voiceID == "" {
		return nil, errors.New("voice id is required")
	}
	return &Client{
		apiKey:  apiKey,
		voiceID: voiceID,
		modelID: modelID,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// GenerateSpeech synthesizes text and returns the encoded audio bytes.
func (c *Client) GenerateSpeech(ctx context.Context, text string) ([]byte, error) {
	url := fmt.Sprintf("https://api.elevenlabs.io/v1/text-to-speech/%s", c.voiceID)

	payload := map[string]interface{}{
		"text":     text,
		"model_id": c.modelID,
		"voice_settings": map[string]float64{
			"stability":        0.75,
			"similarity_boost": 0.7,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "tts request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("tts bad status: %s", resp.Status)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read audio")
	}
	return audio, nil
}

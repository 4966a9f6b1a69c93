package aiapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"personaapi/services"
)

type SpeechRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed,omitempty"`
}

type SpeechResult struct {
	Audio []byte
	// DurationSeconds is 0 when the provider does not report it; the caller
	// estimates from character count in that case.
	DurationSeconds float64
}

type TTSClient interface {
	Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error)
}

type HTTPTTSClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewTTSClient() *HTTPTTSClient {
	return &HTTPTTSClient{
		BaseURL: services.GetEnv("TTS_API_URL", "https://api.tts.local"),
		APIKey:  services.GetEnv("TTS_API_KEY", ""),
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPTTSClient) Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error) {
	var resp struct {
		AudioBase64     string  `json:"audio_base64"`
		DurationSeconds float64 `json:"duration_seconds"`
	}
	if err := doJSON(ctx, c.Client, http.MethodPost, c.BaseURL+"/v1/synthesize", c.APIKey, req, &resp); err != nil {
		return nil, err
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %v", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts response contains no audio")
	}
	return &SpeechResult{Audio: audio, DurationSeconds: resp.DurationSeconds}, nil
}

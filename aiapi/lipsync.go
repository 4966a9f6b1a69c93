package aiapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"personaapi/services"
)

type AnimateRequest struct {
	ImageURL   string `json:"image_url"`
	AudioURL   string `json:"audio_url"`
	Resolution string `json:"resolution,omitempty"`
}

// AnimationStatus mirrors the training service's status shape: lip-sync jobs
// are long-running and observed by polling as well.
type AnimationStatus struct {
	State        string `json:"state"`
	VideoURL     string `json:"video_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Error        string `json:"error"`
}

type LipSyncClient interface {
	Submit(ctx context.Context, req AnimateRequest) (string, error)
	GetStatus(ctx context.Context, remoteJobID string) (*AnimationStatus, error)
}

type HTTPLipSyncClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewLipSyncClient() *HTTPLipSyncClient {
	return &HTTPLipSyncClient{
		BaseURL: services.GetEnv("LIPSYNC_API_URL", "https://api.lipsync.local"),
		APIKey:  services.GetEnv("LIPSYNC_API_KEY", ""),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPLipSyncClient) Submit(ctx context.Context, req AnimateRequest) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := doJSON(ctx, c.Client, http.MethodPost, c.BaseURL+"/v1/animations", c.APIKey, req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("animation response missing job_id")
	}
	return resp.JobID, nil
}

func (c *HTTPLipSyncClient) GetStatus(ctx context.Context, remoteJobID string) (*AnimationStatus, error) {
	var status AnimationStatus
	url := fmt.Sprintf("%s/v1/animations/%s", c.BaseURL, remoteJobID)
	if err := doJSON(ctx, c.Client, http.MethodGet, url, c.APIKey, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

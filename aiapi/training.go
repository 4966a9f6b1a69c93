package aiapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"personaapi/services"
)

// Remote job states as reported by the training service.
const (
	RemoteStateQueued    = "queued"
	RemoteStateRunning   = "running"
	RemoteStateSucceeded = "succeeded"
	RemoteStateFailed    = "failed"
	RemoteStateCancelled = "cancelled"
)

type TrainingSubmission struct {
	ArchiveURL   string  `json:"archive_url"`
	BaseModel    string  `json:"base_model"`
	TriggerToken string  `json:"trigger_word"`
	Steps        int     `json:"steps"`
	LearningRate float64 `json:"learning_rate"`
	Rank         int     `json:"rank"`
	Resolution   int     `json:"resolution"`
}

type TrainingStatus struct {
	State      string `json:"state"`
	Logs       string `json:"logs"`
	WeightsURL string `json:"weights_url"`
	Error      string `json:"error"`
}

type TrainingClient interface {
	Submit(ctx context.Context, sub TrainingSubmission) (string, error)
	GetStatus(ctx context.Context, remoteJobID string) (*TrainingStatus, error)
	Cancel(ctx context.Context, remoteJobID string) error
}

// HTTPTrainingClient talks to the remote LoRA fine-tuning service.
type HTTPTrainingClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewTrainingClient() *HTTPTrainingClient {
	return &HTTPTrainingClient{
		BaseURL: services.GetEnv("TRAINER_API_URL", "https://api.trainer.local"),
		APIKey:  services.GetEnv("TRAINER_API_KEY", ""),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPTrainingClient) Submit(ctx context.Context, sub TrainingSubmission) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	err := doJSON(ctx, c.Client, http.MethodPost, c.BaseURL+"/v1/trainings", c.APIKey, sub, &resp)
	if err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("training response missing job_id")
	}
	return resp.JobID, nil
}

func (c *HTTPTrainingClient) GetStatus(ctx context.Context, remoteJobID string) (*TrainingStatus, error) {
	var status TrainingStatus
	url := fmt.Sprintf("%s/v1/trainings/%s", c.BaseURL, remoteJobID)
	if err := doJSON(ctx, c.Client, http.MethodGet, url, c.APIKey, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *HTTPTrainingClient) Cancel(ctx context.Context, remoteJobID string) error {
	url := fmt.Sprintf("%s/v1/trainings/%s", c.BaseURL, remoteJobID)
	return doJSON(ctx, c.Client, http.MethodDelete, url, c.APIKey, nil, nil)
}

package aiapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"personaapi/services"
)

type GenerationRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	WeightsURL     string  `json:"lora_weights"`
	LoraScale      float64 `json:"lora_scale"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Steps          int     `json:"num_inference_steps"`
	Seed           *int64  `json:"seed,omitempty"`
	AspectRatio    string  `json:"aspect_ratio"`
}

// FaceSwapRequest is the lower-fidelity single-reference technique used
// before a trained model exists.
type FaceSwapRequest struct {
	ReferenceImageURL string `json:"face_image_url"`
	Prompt            string `json:"prompt"`
	NegativePrompt    string `json:"negative_prompt,omitempty"`
	Seed              *int64 `json:"seed,omitempty"`
	AspectRatio       string `json:"aspect_ratio"`
}

type ImageGenClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	FaceSwap(ctx context.Context, req FaceSwapRequest) (string, error)
}

type HTTPImageGenClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewImageGenClient() *HTTPImageGenClient {
	return &HTTPImageGenClient{
		BaseURL: services.GetEnv("IMAGEGEN_API_URL", "https://api.imagegen.local"),
		APIKey:  services.GetEnv("IMAGEGEN_API_KEY", ""),
		// generation is the slowest of the quick calls
		Client: &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *HTTPImageGenClient) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	var resp struct {
		Images []string `json:"images"`
	}
	if err := doJSON(ctx, c.Client, http.MethodPost, c.BaseURL+"/v1/generate", c.APIKey, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Images) == 0 {
		return "", fmt.Errorf("generation response contains no images")
	}
	return resp.Images[0], nil
}

func (c *HTTPImageGenClient) FaceSwap(ctx context.Context, req FaceSwapRequest) (string, error) {
	var resp struct {
		Images []string `json:"images"`
	}
	if err := doJSON(ctx, c.Client, http.MethodPost, c.BaseURL+"/v1/faceswap", c.APIKey, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Images) == 0 {
		return "", fmt.Errorf("faceswap response contains no images")
	}
	return resp.Images[0], nil
}

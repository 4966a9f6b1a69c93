package aiapi

import (
	"context"
	"net/http"
	"time"

	"personaapi/services"
)

type FaceBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type FaceDetection struct {
	FaceDetected bool     `json:"face_detected"`
	Confidence   float64  `json:"confidence"`
	Box          *FaceBox `json:"box"`
}

type FaceClient interface {
	Detect(ctx context.Context, imageURL string) (*FaceDetection, error)
	// Compare returns a similarity in [0,1] between the faces in two images.
	Compare(ctx context.Context, imageA, imageB string) (float64, error)
}

type HTTPFaceClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewFaceClient() *HTTPFaceClient {
	return &HTTPFaceClient{
		BaseURL: services.GetEnv("FACE_API_URL", "https://api.face.local"),
		APIKey:  services.GetEnv("FACE_API_KEY", ""),
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPFaceClient) Detect(ctx context.Context, imageURL string) (*FaceDetection, error) {
	var detection FaceDetection
	body := map[string]string{"image_url": imageURL}
	if err := doJSON(ctx, c.Client, http.MethodPost, c.BaseURL+"/v1/detect", c.APIKey, body, &detection); err != nil {
		return nil, err
	}
	return &detection, nil
}

func (c *HTTPFaceClient) Compare(ctx context.Context, imageA, imageB string) (float64, error) {
	var resp struct {
		Similarity float64 `json:"similarity"`
	}
	body := map[string]string{"image_a": imageA, "image_b": imageB}
	if err := doJSON(ctx, c.Client, http.MethodPost, c.BaseURL+"/v1/compare", c.APIKey, body, &resp); err != nil {
		return 0, err
	}
	return resp.Similarity, nil
}

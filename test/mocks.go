package test

import (
	"context"
	"fmt"

	"personaapi/aiapi"
	"personaapi/models"

	"gorm.io/gorm"
)

type AWSProviderMock struct {
	MockUrl  string
	Uploads  map[string][]byte
	FailNext bool
}

func (awsService *AWSProviderMock) InitPresignClient(ctx context.Context) error {
	return nil
}

func (awsService *AWSProviderMock) PresignLink(ctx context.Context, bucketName string, fileName string) (string, error) {

	return fmt.Sprintf("https://fakebucketurl.com/%s", fileName), nil
}

func (awsService *AWSProviderMock) GetPresignedR2FileReadURL(ctx context.Context, bucketName, fileKey string) (string, error) {
	if awsService.MockUrl != "" {
		return awsService.MockUrl, nil
	}
	return fmt.Sprintf("https://fakebucketurl.com/%s", fileKey), nil
}

func (awsService *AWSProviderMock) UploadToPresignedURL(ctx context.Context, bucketName, url string, fileContent []byte) (string, int, error) {
	return url, 204, nil
}

func (awsService *AWSProviderMock) UploadBytes(ctx context.Context, bucketName, fileKey string, fileContent []byte) (string, error) {
	if awsService.FailNext {
		awsService.FailNext = false
		return "", fmt.Errorf("mock upload failure")
	}
	if awsService.Uploads == nil {
		awsService.Uploads = map[string][]byte{}
	}
	awsService.Uploads[fileKey] = fileContent
	return fmt.Sprintf("https://fakebucketurl.com/%s", fileKey), nil
}

// URLCacheMock maps object keys to read URLs. Unmapped keys get a fake
// bucket URL so assertions can still see which key was resolved.
type URLCacheMock struct {
	URLs map[string]string
	Err  error
}

func (m URLCacheMock) GetReadURL(ctx context.Context, objectKey string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if objectKey == "" {
		return "", nil
	}
	if url, ok := m.URLs[objectKey]; ok {
		return url, nil
	}
	return fmt.Sprintf("https://fakebucketurl.com/%s", objectKey), nil
}

type CaptionServiceMock struct {
	Text string
	Err  error
}

func (m CaptionServiceMock) Caption(ctx context.Context, imagePath string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.Text == "" {
		return "a person standing in soft light", nil
	}
	return m.Text, nil
}

// TrainingClientMock plays the remote trainer. Tests set Status between polls
// to walk a job through its lifecycle.
type TrainingClientMock struct {
	JobID       string
	SubmitErr   error
	Status      *aiapi.TrainingStatus
	StatusErr   error
	Submissions []aiapi.TrainingSubmission
	Cancelled   []string
}

func (m *TrainingClientMock) Submit(ctx context.Context, sub aiapi.TrainingSubmission) (string, error) {
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	m.Submissions = append(m.Submissions, sub)
	if m.JobID == "" {
		return "remote-123", nil
	}
	return m.JobID, nil
}

func (m *TrainingClientMock) GetStatus(ctx context.Context, remoteJobID string) (*aiapi.TrainingStatus, error) {
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	if m.Status == nil {
		return &aiapi.TrainingStatus{State: aiapi.RemoteStateQueued}, nil
	}
	return m.Status, nil
}

func (m *TrainingClientMock) Cancel(ctx context.Context, remoteJobID string) error {
	m.Cancelled = append(m.Cancelled, remoteJobID)
	return nil
}

// ImageGenMock records every request. GenerateFunc overrides the canned
// success when a test needs per-call failures.
type ImageGenMock struct {
	GenerateCalls []aiapi.GenerationRequest
	FaceSwapCalls []aiapi.FaceSwapRequest
	GenerateFunc  func(req aiapi.GenerationRequest) (string, error)
	FaceSwapErr   error
}

func (m *ImageGenMock) Generate(ctx context.Context, req aiapi.GenerationRequest) (string, error) {
	m.GenerateCalls = append(m.GenerateCalls, req)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(req)
	}
	return fmt.Sprintf("https://fakebucketurl.com/generated/%d.png", len(m.GenerateCalls)), nil
}

func (m *ImageGenMock) FaceSwap(ctx context.Context, req aiapi.FaceSwapRequest) (string, error) {
	m.FaceSwapCalls = append(m.FaceSwapCalls, req)
	if m.FaceSwapErr != nil {
		return "", m.FaceSwapErr
	}
	return fmt.Sprintf("https://fakebucketurl.com/swapped/%d.png", len(m.FaceSwapCalls)), nil
}

type FaceClientMock struct {
	Detection  *aiapi.FaceDetection
	DetectErr  error
	Similarity float64
	CompareErr error
}

func (m *FaceClientMock) Detect(ctx context.Context, imageURL string) (*aiapi.FaceDetection, error) {
	if m.DetectErr != nil {
		return nil, m.DetectErr
	}
	if m.Detection == nil {
		return &aiapi.FaceDetection{FaceDetected: true, Confidence: 0.95, Box: &aiapi.FaceBox{X: 10, Y: 10, Width: 200, Height: 200}}, nil
	}
	return m.Detection, nil
}

func (m *FaceClientMock) Compare(ctx context.Context, imageA, imageB string) (float64, error) {
	if m.CompareErr != nil {
		return 0, m.CompareErr
	}
	if m.Similarity == 0 {
		return 0.9, nil
	}
	return m.Similarity, nil
}

type TTSMock struct {
	Audio    []byte
	Duration float64
	Err      error
}

func (m *TTSMock) Synthesize(ctx context.Context, req aiapi.SpeechRequest) (*aiapi.SpeechResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	audio := m.Audio
	if audio == nil {
		audio = []byte("ID3 fake mp3 bytes")
	}
	return &aiapi.SpeechResult{Audio: audio, DurationSeconds: m.Duration}, nil
}

type LipSyncMock struct {
	JobID     string
	SubmitErr error
	Status    *aiapi.AnimationStatus
	StatusErr error
	Requests  []aiapi.AnimateRequest
}

func (m *LipSyncMock) Submit(ctx context.Context, req aiapi.AnimateRequest) (string, error) {
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	m.Requests = append(m.Requests, req)
	if m.JobID == "" {
		return "anim-123", nil
	}
	return m.JobID, nil
}

func (m *LipSyncMock) GetStatus(ctx context.Context, remoteJobID string) (*aiapi.AnimationStatus, error) {
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	if m.Status == nil {
		return &aiapi.AnimationStatus{State: aiapi.RemoteStateRunning}, nil
	}
	return m.Status, nil
}

// QuotaMock allows everything unless Deny is set.
type QuotaMock struct {
	Deny     bool
	Recorded []string
}

func (q *QuotaMock) CheckLimit(db *gorm.DB, user *models.UserAccount, brand *models.Brand, kind string) (bool, int64, error) {
	if q.Deny {
		return false, 0, nil
	}
	return true, 100, nil
}

func (q *QuotaMock) RecordUsage(db *gorm.DB, userID uint, kind string, amount int, cost float64) error {
	q.Recorded = append(q.Recorded, kind)
	return nil
}

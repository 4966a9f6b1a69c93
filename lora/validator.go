package lora

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"personaapi/aiapi"
	"personaapi/services"

	_ "golang.org/x/image/webp"
)

// Empirical thresholds, tuned against the production training service. Treat
// as tunable defaults, not exact science.
const (
	MinFileSize = 10 * 1024
	MaxFileSize = 20 * 1024 * 1024

	MinDimension  = 512
	MaxDimension  = 4096
	MaxAspectRate = 2.0

	MinFaceConfidence = 0.8
	BlurVarianceMin   = 100.0
	BrightnessMin     = 0.2
	BrightnessMax     = 0.85

	// a training set needs at least this many valid included images
	MinTrainingImages         = 5
	RecommendedTrainingImages = 10
)

type ValidationResult struct {
	IsValid        bool           `json:"is_valid"`
	Errors         []string       `json:"errors"`
	Warnings       []string       `json:"warnings"`
	QualityScore   float64        `json:"quality_score"`
	FaceDetected   bool           `json:"face_detected"`
	FaceConfidence float64        `json:"face_confidence"`
	FaceBox        *aiapi.FaceBox `json:"face_box,omitempty"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	FileSize       int64          `json:"file_size"`
	Format         string         `json:"format"`
}

type SetResult struct {
	IsValid         bool                `json:"is_valid"`
	ValidCount      int                 `json:"valid_images"`
	InvalidCount    int                 `json:"invalid_images"`
	Results         []*ValidationResult `json:"results"`
	AverageQuality  float64             `json:"average_quality"`
	FacesDetected   int                 `json:"faces_detected"`
	Issues          []string            `json:"issues"`
	Warnings        []string            `json:"warnings"`
	Recommendations []string            `json:"recommendations"`
}

// Validator inspects candidate reference images. It is a pure function of the
// remote content at call time: download failures become validation failures,
// never faults, so one bad URL cannot crash a batch.
type Validator struct {
	Faces aiapi.FaceClient
}

func NewValidator(faces aiapi.FaceClient) *Validator {
	return &Validator{Faces: faces}
}

func (v *Validator) Validate(ctx context.Context, imageURL string) *ValidationResult {
	result := &ValidationResult{Errors: []string{}, Warnings: []string{}}

	content, err := services.ReadFileFromUrl(imageURL)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Could not download image: %v", err))
		return result
	}

	result.FileSize = int64(len(content))
	if result.FileSize < MinFileSize {
		result.Errors = append(result.Errors, fmt.Sprintf("File too small (%d bytes), minimum is %d bytes", result.FileSize, MinFileSize))
	}
	if result.FileSize > MaxFileSize {
		result.Errors = append(result.Errors, fmt.Sprintf("File too large (%d bytes), maximum is %d bytes", result.FileSize, MaxFileSize))
	}
	if len(result.Errors) > 0 {
		return result
	}

	img, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Unsupported or corrupt image format: %v", err))
		return result
	}
	result.Format = format

	bounds := img.Bounds()
	result.Width = bounds.Dx()
	result.Height = bounds.Dy()

	minDim := result.Width
	if result.Height < minDim {
		minDim = result.Height
	}
	maxDim := result.Width
	if result.Height > maxDim {
		maxDim = result.Height
	}

	if minDim < MinDimension {
		result.Errors = append(result.Errors, fmt.Sprintf("Image too small (%dx%d), minimum dimension is %dpx", result.Width, result.Height, MinDimension))
		return result
	}
	if maxDim > MaxDimension {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Image larger than %dpx will be downscaled", MaxDimension))
	}

	aspect := float64(maxDim) / float64(minDim)
	if aspect > MaxAspectRate {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Extreme aspect ratio %.1f:1, framing may be cropped", aspect))
	}

	brightness, variance := luminanceStats(img)
	blurry := variance < BlurVarianceMin
	if blurry {
		result.Warnings = append(result.Warnings, "Image appears blurry")
	}
	badBrightness := brightness < BrightnessMin || brightness > BrightnessMax
	if badBrightness {
		if brightness < BrightnessMin {
			result.Warnings = append(result.Warnings, "Image is too dark")
		} else {
			result.Warnings = append(result.Warnings, "Image is too bright")
		}
	}

	v.detectFace(ctx, imageURL, result)

	result.QualityScore = qualityScore(minDim, result.FileSize, aspect, result.FaceDetected && result.FaceConfidence >= MinFaceConfidence, blurry, badBrightness)
	result.IsValid = true
	return result
}

func (v *Validator) detectFace(ctx context.Context, imageURL string, result *ValidationResult) {
	if v.Faces == nil {
		result.Warnings = append(result.Warnings, "Face detection unavailable")
		return
	}
	detection, err := v.Faces.Detect(ctx, imageURL)
	if err != nil {
		// face presence is advisory, a detection outage must not fail the image
		result.Warnings = append(result.Warnings, "Face detection unavailable")
		return
	}
	result.FaceDetected = detection.FaceDetected
	result.FaceConfidence = detection.Confidence
	result.FaceBox = detection.Box
	if !detection.FaceDetected {
		result.Warnings = append(result.Warnings, "No face detected in image")
	} else if detection.Confidence < MinFaceConfidence {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Low face detection confidence (%.2f)", detection.Confidence))
	}
}

// qualityScore is a weighted heuristic clamped to [0,100]: base 50, bonuses
// for resolution, file size, near-square framing and a confident face,
// penalties for blur and bad exposure.
func qualityScore(minDim int, fileSize int64, aspect float64, confidentFace, blurry, badBrightness bool) float64 {
	score := 50.0

	if minDim >= 1024 {
		score += 20
	} else if minDim >= 768 {
		score += 10
	}

	if fileSize >= 500*1024 {
		score += 15
	} else if fileSize >= 100*1024 {
		score += 8
	}

	if aspect <= 1.2 {
		score += 10
	} else if aspect <= 1.5 {
		score += 5
	}

	if confidentFace {
		score += 10
	}
	if blurry {
		score -= 15
	}
	if badBrightness {
		score -= 10
	}

	return math.Max(0, math.Min(100, score))
}

// luminanceStats returns normalized mean brightness [0,1] and grayscale
// variance on the 0-255 scale, sampled on a stride to keep large images cheap.
func luminanceStats(img image.Image) (float64, float64) {
	bounds := img.Bounds()
	stride := bounds.Dx() / 256
	if stride < 1 {
		stride = 1
	}

	var sum, sumSq float64
	var count int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stride {
		for x := bounds.Min.X; x < bounds.Max.X; x += stride {
			r, g, b, _ := img.At(x, y).RGBA()
			gray := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			sum += gray
			sumSq += gray * gray
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	mean := sum / float64(count)
	variance := sumSq/float64(count) - mean*mean
	return mean / 255.0, variance
}

// ValidateSet runs Validate over every URL and aggregates a set verdict. The
// overall result is valid once at least MinTrainingImages pass.
func (v *Validator) ValidateSet(ctx context.Context, urls []string) *SetResult {
	set := &SetResult{
		Results:         []*ValidationResult{},
		Issues:          []string{},
		Warnings:        []string{},
		Recommendations: []string{},
	}

	var qualitySum float64
	for _, url := range urls {
		result := v.Validate(ctx, url)
		set.Results = append(set.Results, result)
		if result.IsValid {
			set.ValidCount++
			qualitySum += result.QualityScore
			if result.FaceDetected {
				set.FacesDetected++
			}
		} else {
			set.InvalidCount++
		}
	}

	if set.ValidCount > 0 {
		set.AverageQuality = qualitySum / float64(set.ValidCount)
	}

	if set.ValidCount < MinTrainingImages {
		set.Issues = append(set.Issues, fmt.Sprintf("Need at least %d valid images, got %d", MinTrainingImages, set.ValidCount))
	} else {
		set.IsValid = true
	}

	if set.IsValid && set.ValidCount < RecommendedTrainingImages {
		set.Recommendations = append(set.Recommendations, "Add more images: 15-20 give the best identity consistency")
	}
	if set.ValidCount > 0 && float64(set.FacesDetected)/float64(set.ValidCount) < 0.5 {
		set.Warnings = append(set.Warnings, "Fewer than half of the valid images contain a detectable face")
	}
	if set.ValidCount > 0 && set.AverageQuality < 55 {
		set.Warnings = append(set.Warnings, "Average image quality is low, consider sharper and better lit photos")
	}

	return set
}

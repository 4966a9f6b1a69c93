package models

import (
	"regexp"
	"time"

	"github.com/go-playground/validator"
	"github.com/lib/pq"
)

type TrainingStatus string

const (
	TrainingPending    TrainingStatus = "pending"
	TrainingValidating TrainingStatus = "validating"
	TrainingUploading  TrainingStatus = "uploading"
	TrainingRunning    TrainingStatus = "training"
	TrainingCompleted  TrainingStatus = "completed"
	TrainingFailed     TrainingStatus = "failed"
	TrainingCancelled  TrainingStatus = "cancelled"
)

func (s TrainingStatus) Terminal() bool {
	return s == TrainingCompleted || s == TrainingFailed || s == TrainingCancelled
}

func (s *TrainingStatus) Scan(value interface{}) error {
	*s = TrainingStatus(value.(string))
	return nil
}

func (s TrainingStatus) Value() (string, error) {
	return string(s), nil
}

// TrainingJob is one persona model version: a set of reference images fine-tuned
// into a LoRA weights artifact on a remote training service.
type TrainingJob struct {
	JsonModel
	Name         string      `json:"name"`
	Owner        UserAccount `json:"-"`
	OwnerID      uint        `json:"-"`
	Brand        Brand       `json:"-"`
	BrandID      uint        `json:"brand_id"`
	TriggerToken string      `json:"trigger_token"`

	// training configuration
	BaseModel    string  `gorm:"default:flux-dev" json:"base_model"`
	Steps        int     `gorm:"default:1000" json:"steps"`
	LearningRate float64 `gorm:"default:0.0004" json:"learning_rate"`
	Rank         int     `gorm:"default:16" json:"rank"`
	Resolution   int     `gorm:"default:1024" json:"resolution"`

	Status          TrainingStatus `gorm:"default:pending" json:"status"`
	ProgressPercent int            `gorm:"default:0" json:"progress_percent"`
	ErrorMessage    *string        `json:"error_message"`

	// exactly one remote job per TrainingJob; once set the job is never resubmitted
	RemoteJobID *string    `json:"-"`
	StartedAt   *time.Time `json:"started_at"`

	WeightsURL       *string  `json:"weights_url"`
	ConsistencyScore *float64 `json:"consistency_score"`
	TrainingCost     float64  `json:"training_cost"`
	DurationSeconds  *float64 `json:"duration_seconds"`

	// at most one active job per brand; last writer wins, updates are admin
	// initiated and infrequent
	IsActive bool `gorm:"default:false" json:"is_active"`

	ReferenceImages  []ReferenceImage  `gorm:"constraint:OnDelete:CASCADE" json:"reference_images,omitempty"`
	GeneratedSamples []GeneratedSample `gorm:"constraint:OnDelete:CASCADE" json:"generated_samples,omitempty"`
}

// ReferenceImage is a user-supplied source image. It is written once by the
// validator; afterwards only the caption and inclusion flag may change.
type ReferenceImage struct {
	JsonModel
	TrainingJobID uint   `json:"training_job_id"`
	SourceURL     string `json:"source_url"`

	// set for images uploaded straight into our bucket; source_url is then
	// re-presigned from the key on every read instead of stored verbatim
	ObjectKey *string `json:"-"`

	Validated      bool           `gorm:"default:false" json:"validated"`
	IsValid        bool           `gorm:"default:false" json:"is_valid"`
	Errors         pq.StringArray `gorm:"type:text[]" json:"errors"`
	Warnings       pq.StringArray `gorm:"type:text[]" json:"warnings"`
	QualityScore   float64        `json:"quality_score"`
	FaceDetected   bool           `json:"face_detected"`
	FaceConfidence float64        `json:"face_confidence"`
	FaceX          *int           `json:"face_x"`
	FaceY          *int           `json:"face_y"`
	FaceWidth      *int           `json:"face_width"`
	FaceHeight     *int           `json:"face_height"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	FileSize       int64          `json:"file_size"`
	Format         string         `json:"format"`

	IsIncluded bool    `gorm:"default:false" json:"is_included"`
	Caption    *string `gorm:"type:text" json:"caption"`
}

// GeneratedSample is one output image, either a post-training test sample or a
// user-requested generation. TrainingJobID is nil for single-reference
// fallback generations made before any model exists.
type GeneratedSample struct {
	JsonModel
	TrainingJobID *uint       `json:"training_job_id"`
	Owner         UserAccount `json:"-"`
	OwnerID       uint        `json:"-"`

	Prompt         string  `gorm:"type:text" json:"prompt"`
	NegativePrompt *string `gorm:"type:text" json:"negative_prompt"`
	Seed           *int64  `json:"seed"`

	ImageURL         string   `json:"image_url"`
	ConsistencyScore *float64 `json:"consistency_score"`
	LoraScale        float64  `json:"lora_scale"`
	GuidanceScale    float64  `json:"guidance_scale"`
	Steps            int      `json:"steps"`

	Rating *int    `json:"rating"` // 1..5
	Note   *string `gorm:"type:text" json:"note"`

	IsTestSample bool `gorm:"default:false" json:"is_test_sample"`
}

// ValidateTriggerToken enforces the short alphanumeric trigger token format.
func ValidateTriggerToken(fl validator.FieldLevel) bool {
	matched, _ := regexp.MatchString("^[A-Za-z][A-Za-z0-9]{2,19}$", fl.Field().String())
	return matched
}

package lora

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"personaapi/aiapi"
	"personaapi/models"

	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"
)

// training cost model: flat submission fee plus a per-step rate
const (
	TrainingBaseFee  = 0.5
	TrainingStepRate = 0.002

	// rough remote throughput used for the readiness time estimate
	trainingStepsPerMinute = 40
)

// matches "step 340/1000" style lines in remote training logs
var progressPattern = regexp.MustCompile(`(?i)step[:\s]+(\d+)\s*/\s*(\d+)`)

type Readiness struct {
	IsReady          bool     `json:"is_ready"`
	Issues           []string `json:"issues"`
	Warnings         []string `json:"warnings"`
	EstimatedCost    float64  `json:"estimated_cost"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	Recommendations  []string `json:"recommendations"`
}

// Trainer owns TrainingJob status transitions. Every transition is an
// optimistic check-and-set on the status column: a lost race means the other
// writer already moved the job and the loser backs off.
type Trainer struct {
	Remote   aiapi.TrainingClient
	Preparer *Preparer
}

func NewTrainer(remote aiapi.TrainingClient, preparer *Preparer) *Trainer {
	return &Trainer{Remote: remote, Preparer: preparer}
}

// Start moves a pending or failed job through uploading into training and
// records the remote job id. Once a remote id exists the job is never
// resubmitted, concurrent Start calls lose the status check-and-set and
// return an invalid state error instead of double-submitting.
func (t *Trainer) Start(ctx context.Context, db *gorm.DB, job *models.TrainingJob) error {
	if job.RemoteJobID != nil {
		return NewInvalidStateError("start", string(job.Status), "remote training job already submitted")
	}

	readiness := t.ValidateReadiness(db, job)
	if !readiness.IsReady {
		return NewInvalidStateError("start", string(job.Status), fmt.Sprintf("%v", readiness.Issues))
	}

	claimed := db.Model(&models.TrainingJob{}).
		Where("id = ? AND status IN ?", job.ID, []models.TrainingStatus{models.TrainingPending, models.TrainingFailed}).
		Updates(map[string]interface{}{"status": models.TrainingUploading, "error_message": nil, "progress_percent": 0})
	if claimed.Error != nil {
		return claimed.Error
	}
	if claimed.RowsAffected == 0 {
		return NewInvalidStateError("start", string(job.Status), "job already in progress")
	}
	job.Status = models.TrainingUploading

	var images []models.ReferenceImage
	if err := db.Where("training_job_id = ?", job.ID).Find(&images).Error; err != nil {
		t.MarkFailed(db, job, fmt.Sprintf("failed to load reference images: %v", err))
		return err
	}

	archiveURL, err := t.Preparer.Prepare(ctx, job, images)
	if err != nil {
		t.MarkFailed(db, job, fmt.Sprintf("preparation failed: %v", err))
		return err
	}

	remoteID, err := t.Remote.Submit(ctx, aiapi.TrainingSubmission{
		ArchiveURL:   archiveURL,
		BaseModel:    job.BaseModel,
		TriggerToken: job.TriggerToken,
		Steps:        job.Steps,
		LearningRate: job.LearningRate,
		Rank:         job.Rank,
		Resolution:   job.Resolution,
	})
	if err != nil {
		sentry.CaptureException(err)
		t.MarkFailed(db, job, fmt.Sprintf("training submission failed: %v", err))
		return err
	}

	now := time.Now()
	started := db.Model(&models.TrainingJob{}).
		Where("id = ? AND status = ?", job.ID, models.TrainingUploading).
		Updates(map[string]interface{}{"status": models.TrainingRunning, "remote_job_id": remoteID, "started_at": now})
	if started.Error != nil {
		return started.Error
	}
	job.Status = models.TrainingRunning
	job.RemoteJobID = &remoteID
	job.StartedAt = &now
	fmt.Printf("[Job: %v] Training submitted, remote id %s\n", job.ID, remoteID)
	return nil
}

// CheckProgress polls the remote job and applies its state locally. Safe to
// call on every scheduler tick: a failed poll is logged and swallowed, local
// status only changes on a successful poll result, and progress never
// regresses.
func (t *Trainer) CheckProgress(ctx context.Context, db *gorm.DB, job *models.TrainingJob) error {
	if job.Status.Terminal() || job.RemoteJobID == nil {
		return nil
	}

	status, err := t.Remote.GetStatus(ctx, *job.RemoteJobID)
	if err != nil {
		fmt.Printf("[Job: %v] Poll failed, will retry next tick: %v\n", job.ID, err)
		return nil
	}

	switch status.State {
	case aiapi.RemoteStateSucceeded:
		t.complete(db, job, status)
	case aiapi.RemoteStateFailed:
		message := status.Error
		if message == "" {
			message = "remote training failed without details"
		}
		t.MarkFailed(db, job, message)
	case aiapi.RemoteStateCancelled:
		db.Model(&models.TrainingJob{}).
			Where("id = ? AND status = ?", job.ID, models.TrainingRunning).
			Update("status", models.TrainingCancelled)
		job.Status = models.TrainingCancelled
	default:
		t.updateProgress(db, job, status.Logs)
	}
	return nil
}

func (t *Trainer) complete(db *gorm.DB, job *models.TrainingJob, status *aiapi.TrainingStatus) {
	updates := map[string]interface{}{
		"status":           models.TrainingCompleted,
		"progress_percent": 100,
		"weights_url":      status.WeightsURL,
		"training_cost":    TrainingBaseFee + float64(job.Steps)*TrainingStepRate,
	}
	if job.StartedAt != nil {
		updates["duration_seconds"] = time.Since(*job.StartedAt).Seconds()
	}
	// completion only applies while we still think the job is training, a
	// locally cancelled job ignores the late remote result
	result := db.Model(&models.TrainingJob{}).
		Where("id = ? AND status = ?", job.ID, models.TrainingRunning).
		Updates(updates)
	if result.RowsAffected > 0 {
		job.Status = models.TrainingCompleted
		job.ProgressPercent = 100
		job.WeightsURL = &status.WeightsURL
		fmt.Printf("[Job: %v] Training completed, weights at %s\n", job.ID, status.WeightsURL)
	}
}

func (t *Trainer) updateProgress(db *gorm.DB, job *models.TrainingJob, logs string) {
	percent := parseProgress(logs)
	if percent <= job.ProgressPercent {
		return
	}
	db.Model(&models.TrainingJob{}).
		Where("id = ? AND status = ? AND progress_percent < ?", job.ID, models.TrainingRunning, percent).
		Update("progress_percent", percent)
	job.ProgressPercent = percent
}

// parseProgress extracts the last "step N/M" pair from remote log text.
// Returns 0 when nothing parseable is found so the caller keeps the last
// known value.
func parseProgress(logs string) int {
	matches := progressPattern.FindAllStringSubmatch(logs, -1)
	if len(matches) == 0 {
		return 0
	}
	last := matches[len(matches)-1]
	step, _ := strconv.Atoi(last[1])
	total, _ := strconv.Atoi(last[2])
	if total <= 0 || step < 0 {
		return 0
	}
	percent := step * 100 / total
	if percent > 99 {
		// the final percent is reserved for the completed transition
		percent = 99
	}
	return percent
}

// Cancel requests remote cancellation and marks the job cancelled locally
// regardless of whether the remote call confirms. Best effort only.
func (t *Trainer) Cancel(ctx context.Context, db *gorm.DB, job *models.TrainingJob) error {
	if job.Status != models.TrainingRunning {
		return NewInvalidStateError("cancel", string(job.Status), "only a running training can be cancelled")
	}
	if job.RemoteJobID != nil {
		if err := t.Remote.Cancel(ctx, *job.RemoteJobID); err != nil {
			fmt.Printf("[Job: %v] Remote cancel failed, cancelling locally anyway: %v\n", job.ID, err)
		}
	}
	result := db.Model(&models.TrainingJob{}).
		Where("id = ? AND status = ?", job.ID, models.TrainingRunning).
		Update("status", models.TrainingCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return NewInvalidStateError("cancel", string(job.Status), "job already transitioned")
	}
	job.Status = models.TrainingCancelled
	return nil
}

// MarkFailed records a terminal failure with its cause. Used both by Start
// and by the poller when the remote side reports failure.
func (t *Trainer) MarkFailed(db *gorm.DB, job *models.TrainingJob, message string) {
	db.Model(&models.TrainingJob{}).
		Where("id = ? AND status NOT IN ?", job.ID, []models.TrainingStatus{models.TrainingCompleted, models.TrainingCancelled}).
		Updates(map[string]interface{}{"status": models.TrainingFailed, "error_message": message})
	job.Status = models.TrainingFailed
	job.ErrorMessage = &message
	fmt.Printf("[Job: %v] Training failed: %s\n", job.ID, message)
}

// ValidateReadiness reports whether a job can start. Issues block, warnings
// and recommendations do not.
func (t *Trainer) ValidateReadiness(db *gorm.DB, job *models.TrainingJob) *Readiness {
	readiness := &Readiness{
		Issues:           []string{},
		Warnings:         []string{},
		Recommendations:  []string{},
		EstimatedCost:    TrainingBaseFee + float64(job.Steps)*TrainingStepRate,
		EstimatedMinutes: job.Steps / trainingStepsPerMinute,
	}

	var images []models.ReferenceImage
	if err := db.Where("training_job_id = ? AND is_valid = true AND is_included = true", job.ID).Find(&images).Error; err != nil {
		readiness.Issues = append(readiness.Issues, fmt.Sprintf("Could not load reference images: %v", err))
		return readiness
	}

	if len(images) < MinTrainingImages {
		readiness.Issues = append(readiness.Issues, fmt.Sprintf("Need at least %d valid included images, got %d", MinTrainingImages, len(images)))
	}
	if len(images) >= MinTrainingImages && len(images) < RecommendedTrainingImages {
		readiness.Warnings = append(readiness.Warnings, fmt.Sprintf("Only %d images, %d or more give better results", len(images), RecommendedTrainingImages))
		readiness.Recommendations = append(readiness.Recommendations, "Add more photos with varied poses and settings")
	}

	if len(images) > 0 {
		var qualitySum float64
		faces := 0
		portrait, landscape, square := 0, 0, 0
		for _, img := range images {
			qualitySum += img.QualityScore
			if img.FaceDetected {
				faces++
			}
			switch {
			case img.Height > img.Width:
				portrait++
			case img.Width > img.Height:
				landscape++
			default:
				square++
			}
		}
		if qualitySum/float64(len(images)) < 55 {
			readiness.Warnings = append(readiness.Warnings, "Average image quality is low")
		}
		if float64(faces)/float64(len(images)) < 0.5 {
			readiness.Warnings = append(readiness.Warnings, "Fewer than half of the images contain a detectable face")
		}
		orientations := 0
		for _, n := range []int{portrait, landscape, square} {
			if n > 0 {
				orientations++
			}
		}
		if len(images) >= MinTrainingImages && orientations < 2 {
			readiness.Warnings = append(readiness.Warnings, "All images share one framing, varied angles improve identity learning")
		}
	}

	readiness.IsReady = len(readiness.Issues) == 0
	return readiness
}

package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"personaapi/lora"
	"personaapi/models"
	"personaapi/services"
	"personaapi/telegram"
	"personaapi/video"

	firebase "firebase.google.com/go/v4"
	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	TypeValidateImages      = "persona:validate"
	TypeStartTraining       = "persona:train"
	TypePollTraining        = "persona:poll"
	TypeGenerateTestSamples = "persona:samples"
	TypeVideoPipeline       = "video:pipeline"
	TypePollVideo           = "video:poll"
)

type TrainingPayload struct {
	TrainingJobID uint `json:"training_job_id"`
}

type VideoPayload struct {
	VideoJobID uint `json:"video_job_id"`
}

// post-training test prompts used to measure identity consistency
var testSamplePrompts = []string{
	"professional headshot, neutral background, soft lighting",
	"candid outdoor portrait, golden hour",
	"smiling close up portrait, natural daylight",
	"three quarter studio portrait, grey backdrop",
}

// NewClient initializes an asynq client for enqueuing tasks
func NewClient() (*asynq.Client, error) {
	return asynq.NewClient(asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")}), nil
}

func NewValidateImagesTask(trainingJobID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(TrainingPayload{TrainingJobID: trainingJobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeValidateImages, payload), nil
}

func NewStartTrainingTask(trainingJobID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(TrainingPayload{TrainingJobID: trainingJobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeStartTraining, payload), nil
}

func NewGenerateTestSamplesTask(trainingJobID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(TrainingPayload{TrainingJobID: trainingJobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeGenerateTestSamples, payload), nil
}

func NewVideoPipelineTask(videoJobID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(VideoPayload{VideoJobID: videoJobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeVideoPipeline, payload), nil
}

// Pipeline bundles the components the task handlers drive.
type Pipeline struct {
	Validator *lora.Validator
	Trainer   *lora.Trainer
	Generator *lora.Generator
	Scorer    *lora.Scorer
	Assembler *video.Assembler
	URLCache  services.URLCacheServiceProvider
	FBApp     *firebase.App
	Alerts    *telegram.Notifier
}

// HandleValidateImagesTask runs the validator over every unvalidated
// reference image of a job and writes the verdicts. Valid images default to
// included, the user can exclude them later.
func (p *Pipeline) HandleValidateImagesTask(ctx context.Context, t *asynq.Task, db *gorm.DB) error {
	var payload TrainingPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	fmt.Printf("[Job: %v] Validating reference images\n", payload.TrainingJobID)

	var job models.TrainingJob
	if res := db.First(&job, payload.TrainingJobID); res.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error retrieving training job %v for validation: %v", payload.TrainingJobID, res.Error))
		return res.Error
	}

	claimed := db.Model(&models.TrainingJob{}).
		Where("id = ? AND status IN ?", job.ID, []models.TrainingStatus{models.TrainingPending, models.TrainingValidating}).
		Update("status", models.TrainingValidating)
	if claimed.Error != nil {
		return claimed.Error
	}
	if claimed.RowsAffected == 0 {
		fmt.Printf("[Job: %v] Not validatable in status %s, skipping\n", job.ID, job.Status)
		return nil
	}

	var images []models.ReferenceImage
	if err := db.Where("training_job_id = ? AND validated = false", job.ID).Find(&images).Error; err != nil {
		sentry.CaptureException(err)
		return err
	}

	validCount := 0
	for i := range images {
		sourceURL := images[i].SourceURL
		if images[i].ObjectKey != nil && *images[i].ObjectKey != "" && p.URLCache != nil {
			resolved, err := p.URLCache.GetReadURL(ctx, *images[i].ObjectKey)
			if err != nil {
				sentry.CaptureException(err)
			} else {
				sourceURL = resolved
			}
		}
		result := p.Validator.Validate(ctx, sourceURL)
		updates := map[string]interface{}{
			"validated":       true,
			"is_valid":        result.IsValid,
			"errors":          pq.StringArray(result.Errors),
			"warnings":        pq.StringArray(result.Warnings),
			"quality_score":   result.QualityScore,
			"face_detected":   result.FaceDetected,
			"face_confidence": result.FaceConfidence,
			"width":           result.Width,
			"height":          result.Height,
			"file_size":       result.FileSize,
			"format":          result.Format,
			"is_included":     result.IsValid,
		}
		if result.FaceBox != nil {
			updates["face_x"] = result.FaceBox.X
			updates["face_y"] = result.FaceBox.Y
			updates["face_width"] = result.FaceBox.Width
			updates["face_height"] = result.FaceBox.Height
		}
		if err := db.Model(&models.ReferenceImage{}).Where("id = ?", images[i].ID).Updates(updates).Error; err != nil {
			sentry.CaptureException(err)
			return err
		}
		if result.IsValid {
			validCount++
		}
	}

	db.Model(&models.TrainingJob{}).
		Where("id = ? AND status = ?", job.ID, models.TrainingValidating).
		Update("status", models.TrainingPending)
	fmt.Printf("[Job: %v] Validation done: %d/%d valid\n", job.ID, validCount, len(images))
	return nil
}

// HandleStartTrainingTask submits the training run. Precondition failures are
// final, only unexpected errors are retried by the queue.
func (p *Pipeline) HandleStartTrainingTask(ctx context.Context, t *asynq.Task, db *gorm.DB) error {
	var payload TrainingPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	fmt.Printf("[Job: %v] Starting training\n", payload.TrainingJobID)

	var job models.TrainingJob
	if res := db.First(&job, payload.TrainingJobID); res.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error retrieving training job %v for start: %v", payload.TrainingJobID, res.Error))
		return res.Error
	}

	if err := p.Trainer.Start(ctx, db, &job); err != nil {
		if _, invalid := err.(*lora.InvalidStateError); invalid {
			fmt.Printf("[Job: %v] Start rejected: %v\n", job.ID, err)
			return nil
		}
		sentry.CaptureException(err)
		p.Alerts.Alert(fmt.Sprintf("Training job %d failed to start: %v", job.ID, err))
		// Start already recorded the failure on the job, do not retry
		return nil
	}
	return nil
}

// HandlePollTrainingTask runs on the scheduler tick: advance every running
// training job, kick off test samples and notify when one completes.
func (p *Pipeline) HandlePollTrainingTask(ctx context.Context, t *asynq.Task, db *gorm.DB) error {
	var jobs []models.TrainingJob
	if err := db.Where("status = ?", models.TrainingRunning).Find(&jobs).Error; err != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error listing running training jobs: %v", err))
		return err
	}

	for i := range jobs {
		job := &jobs[i]
		if err := p.Trainer.CheckProgress(ctx, db, job); err != nil {
			sentry.CaptureException(err)
			continue
		}
		switch job.Status {
		case models.TrainingCompleted:
			services.SendNotification(p.FBApp, db, job.OwnerID, "Persona Ready",
				fmt.Sprintf("Training for %s finished, generating preview samples", job.Name),
				map[string]string{"training_job_id": fmt.Sprintf("%d", job.ID), "type": "training_completed"})
			p.enqueueTestSamples(job.ID)
		case models.TrainingFailed:
			message := "training failed"
			if job.ErrorMessage != nil {
				message = *job.ErrorMessage
			}
			services.SendNotification(p.FBApp, db, job.OwnerID, "Training Failed",
				fmt.Sprintf("Training for %s failed: %s", job.Name, message),
				map[string]string{"training_job_id": fmt.Sprintf("%d", job.ID), "type": "training_failed"})
			p.Alerts.Alert(fmt.Sprintf("Training job %d failed: %s", job.ID, message))
		}
	}
	return nil
}

func (p *Pipeline) enqueueTestSamples(jobID uint) {
	asynqClient, err := NewClient()
	if err != nil {
		sentry.CaptureException(err)
		return
	}
	defer asynqClient.Close()

	task, err := NewGenerateTestSamplesTask(jobID)
	if err != nil {
		sentry.CaptureException(err)
		return
	}
	if _, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.ProcessIn(1*time.Second)); err != nil {
		fmt.Printf("[Job: %v] Error enqueuing test samples task: %v\n", jobID, err)
		sentry.CaptureException(err)
	}
}

// HandleGenerateTestSamplesTask produces the automatic post-training samples
// and scores them against the reference set.
func (p *Pipeline) HandleGenerateTestSamplesTask(ctx context.Context, t *asynq.Task, db *gorm.DB) error {
	var payload TrainingPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	fmt.Printf("[Job: %v] Generating test samples\n", payload.TrainingJobID)

	var job models.TrainingJob
	if res := db.First(&job, payload.TrainingJobID); res.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error retrieving training job %v for samples: %v", payload.TrainingJobID, res.Error))
		return res.Error
	}

	batch, err := p.Generator.GenerateBatch(ctx, db, &job, job.OwnerID, testSamplePrompts, lora.GenerationOptions{IsTestSample: true})
	if err != nil {
		if _, invalid := err.(*lora.InvalidStateError); invalid {
			fmt.Printf("[Job: %v] Test samples rejected: %v\n", job.ID, err)
			return nil
		}
		sentry.CaptureException(err)
		return err
	}
	fmt.Printf("[Job: %v] Test samples: %d ok, %d failed\n", job.ID, batch.Succeeded, batch.Failed)

	score, err := p.Scorer.Score(ctx, db, &job)
	if err != nil {
		if err == lora.ErrNoTestSamples {
			fmt.Printf("[Job: %v] No test samples survived, skipping scoring\n", job.ID)
			return nil
		}
		sentry.CaptureException(err)
		return err
	}

	services.SendNotification(p.FBApp, db, job.OwnerID, "Persona Preview Ready",
		fmt.Sprintf("%s scored %.0f/100 on identity consistency", job.Name, score),
		map[string]string{"training_job_id": fmt.Sprintf("%d", job.ID), "type": "samples_ready"})
	return nil
}

// HandleVideoPipelineTask drives a video job through its synchronous stages
// up to the remote animation hand-off.
func (p *Pipeline) HandleVideoPipelineTask(ctx context.Context, t *asynq.Task, db *gorm.DB) error {
	var payload VideoPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	fmt.Printf("[Video: %v] Running pipeline\n", payload.VideoJobID)

	var job models.VideoJob
	if res := db.First(&job, payload.VideoJobID); res.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error retrieving video job %v: %v", payload.VideoJobID, res.Error))
		return res.Error
	}

	if err := p.Assembler.Advance(ctx, db, &job); err != nil {
		sentry.CaptureException(err)
		services.SendNotification(p.FBApp, db, job.OwnerID, "Video Failed",
			fmt.Sprintf("Your video could not be generated: %v", err),
			map[string]string{"video_job_id": fmt.Sprintf("%d", job.ID), "type": "video_failed"})
		// the job carries the failure, retrying cannot help
		return nil
	}
	return nil
}

// HandlePollVideoTask runs on the scheduler tick: poll every video job
// waiting on its remote animation.
func (p *Pipeline) HandlePollVideoTask(ctx context.Context, t *asynq.Task, db *gorm.DB) error {
	var jobs []models.VideoJob
	if err := db.Where("status = ?", models.VideoProcessing).Find(&jobs).Error; err != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error listing processing video jobs: %v", err))
		return err
	}

	for i := range jobs {
		job := &jobs[i]
		if err := p.Assembler.Advance(ctx, db, job); err != nil {
			sentry.CaptureException(err)
			continue
		}
		switch job.Status {
		case models.VideoCompleted:
			services.SendNotification(p.FBApp, db, job.OwnerID, "Video Ready",
				"Your video has finished rendering",
				map[string]string{"video_job_id": fmt.Sprintf("%d", job.ID), "type": "video_completed"})
		case models.VideoFailed:
			message := "video generation failed"
			if job.ErrorMessage != nil {
				message = *job.ErrorMessage
			}
			services.SendNotification(p.FBApp, db, job.OwnerID, "Video Failed", message,
				map[string]string{"video_job_id": fmt.Sprintf("%d", job.ID), "type": "video_failed"})
		}
	}
	return nil
}

package video

import (
	"context"
	"fmt"
	"unicode/utf8"

	"personaapi/aiapi"
	"personaapi/lora"
	"personaapi/models"
	"personaapi/services"

	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"
)

// stage cost model
const (
	AudioPerCharRate   = 0.0001
	AvatarFlatCost     = 0.05
	VideoPerSecondRate = 0.01
	ProcessingBaseCost = 0.02

	// spoken duration estimate when the TTS provider returns none:
	// ~150 words per minute at ~5 characters per word
	wordsPerMinute = 150
	charsPerWord   = 5
)

// progress anchors per stage so a polling UI sees coarse forward motion
const (
	progressAudio      = 10
	progressAvatar     = 30
	progressVideo      = 50
	progressSubmitted  = 85
	progressProcessing = 90
)

const defaultAvatarPrompt = "portrait photo, facing camera, neutral background, soft lighting"

type CostEstimate struct {
	AudioCost        float64 `json:"audio_cost"`
	AvatarCost       float64 `json:"avatar_cost"`
	VideoCost        float64 `json:"video_cost"`
	ProcessingCost   float64 `json:"processing_cost"`
	TotalCost        float64 `json:"total_cost"`
	EstimatedSeconds float64 `json:"estimated_seconds"`
}

// EstimateDurationSeconds converts script length to expected spoken seconds.
// Length is counted in runes, the per-character pricing model is not a
// byte-count model.
func EstimateDurationSeconds(script string) float64 {
	words := float64(utf8.RuneCountInString(script)) / charsPerWord
	return words / wordsPerMinute * 60
}

// EstimateCost prices a video before submission:
// chars x audio rate, plus a flat avatar fee when one must be generated,
// plus estimated duration x video rate, plus the processing base.
func EstimateCost(script string, generateAvatar bool) *CostEstimate {
	estimate := &CostEstimate{
		AudioCost:        float64(utf8.RuneCountInString(script)) * AudioPerCharRate,
		ProcessingCost:   ProcessingBaseCost,
		EstimatedSeconds: EstimateDurationSeconds(script),
	}
	if generateAvatar {
		estimate.AvatarCost = AvatarFlatCost
	}
	estimate.VideoCost = estimate.EstimatedSeconds * VideoPerSecondRate
	estimate.TotalCost = estimate.AudioCost + estimate.AvatarCost + estimate.VideoCost + estimate.ProcessingCost
	return estimate
}

// Assembler drives a VideoJob through its stages. Stages are sequential and
// non-optional: any remote failure is terminal for the job, there is no
// partial-success video.
type Assembler struct {
	TTS       aiapi.TTSClient
	LipSync   aiapi.LipSyncClient
	Images    aiapi.ImageGenClient
	Generator *lora.Generator
	AWS       services.AWSServiceProvider
	Bucket    string
}

func NewAssembler(tts aiapi.TTSClient, lipSync aiapi.LipSyncClient, images aiapi.ImageGenClient, generator *lora.Generator, aws services.AWSServiceProvider) *Assembler {
	return &Assembler{
		TTS:       tts,
		LipSync:   lipSync,
		Images:    images,
		Generator: generator,
		AWS:       aws,
		Bucket:    services.GetEnv("R2_BUCKET_NAME", "persona-media"),
	}
}

// Advance is the idempotent state machine step: it moves the job as far as it
// can without waiting, stopping at `processing` where only the remote
// animation service's polling can move it further. Safe to call on every
// scheduler tick.
func (a *Assembler) Advance(ctx context.Context, db *gorm.DB, job *models.VideoJob) error {
	for {
		switch job.Status {
		case models.VideoPending:
			claimed := db.Model(&models.VideoJob{}).
				Where("id = ? AND status = ?", job.ID, models.VideoPending).
				Updates(map[string]interface{}{"status": models.VideoGeneratingAudio, "progress_percent": progressAudio})
			if claimed.Error != nil {
				return claimed.Error
			}
			if claimed.RowsAffected == 0 {
				// someone else already picked the job up
				return nil
			}
			job.Status = models.VideoGeneratingAudio
			job.ProgressPercent = progressAudio
		case models.VideoGeneratingAudio:
			if err := a.generateAudio(ctx, db, job); err != nil {
				a.MarkFailed(db, job, fmt.Sprintf("audio generation failed: %v", err))
				return err
			}
		case models.VideoGeneratingAvatar:
			if err := a.resolveAvatar(ctx, db, job); err != nil {
				a.MarkFailed(db, job, fmt.Sprintf("avatar generation failed: %v", err))
				return err
			}
		case models.VideoGeneratingVideo:
			if err := a.submitAnimation(ctx, db, job); err != nil {
				a.MarkFailed(db, job, fmt.Sprintf("video submission failed: %v", err))
				return err
			}
		case models.VideoProcessing:
			return a.pollAnimation(ctx, db, job)
		default:
			// terminal
			return nil
		}
	}
}

func (a *Assembler) generateAudio(ctx context.Context, db *gorm.DB, job *models.VideoJob) error {
	result, err := a.TTS.Synthesize(ctx, aiapi.SpeechRequest{
		Text:    job.Script,
		VoiceID: job.VoiceID,
	})
	if err != nil {
		sentry.CaptureException(err)
		return err
	}

	key := fmt.Sprintf("videos/%d/audio.mp3", job.ID)
	audioURL, err := a.AWS.UploadBytes(ctx, a.Bucket, key, result.Audio)
	if err != nil {
		return fmt.Errorf("audio upload failed: %v", err)
	}

	duration := result.DurationSeconds
	if duration <= 0 {
		duration = EstimateDurationSeconds(job.Script)
	}
	audioCost := float64(utf8.RuneCountInString(job.Script)) * AudioPerCharRate

	written := db.Model(&models.VideoJob{}).
		Where("id = ? AND status = ?", job.ID, models.VideoGeneratingAudio).
		Updates(map[string]interface{}{
			"audio_url":        audioURL,
			"audio_key":        key,
			"audio_duration":   duration,
			"audio_cost":       audioCost,
			"status":           models.VideoGeneratingAvatar,
			"progress_percent": progressAvatar,
		})
	if written.Error != nil {
		return written.Error
	}
	if written.RowsAffected == 0 {
		// lost the write, usually to a concurrent cancel; stop spending
		return a.refresh(db, job)
	}
	job.AudioURL = &audioURL
	job.AudioKey = &key
	job.AudioDuration = &duration
	job.AudioCost = audioCost
	job.Status = models.VideoGeneratingAvatar
	job.ProgressPercent = progressAvatar
	return nil
}

// resolveAvatar picks the avatar source in priority order: explicit image
// URL, trained persona model, raw text prompt. The raw prompt path has no
// identity consistency guarantee.
func (a *Assembler) resolveAvatar(ctx context.Context, db *gorm.DB, job *models.VideoJob) error {
	var avatarURL string
	var avatarCost float64

	switch {
	case job.AvatarImageURL != nil && *job.AvatarImageURL != "":
		avatarURL = *job.AvatarImageURL
	case job.TrainingJobID != nil:
		var trainingJob models.TrainingJob
		if err := db.First(&trainingJob, *job.TrainingJobID).Error; err != nil {
			return fmt.Errorf("training job %d not found: %v", *job.TrainingJobID, err)
		}
		prompt := defaultAvatarPrompt
		if job.AvatarPrompt != nil && *job.AvatarPrompt != "" {
			prompt = *job.AvatarPrompt
		}
		samples, err := a.Generator.Generate(ctx, db, &trainingJob, job.OwnerID, prompt, lora.GenerationOptions{Count: 1})
		if err != nil {
			return err
		}
		avatarURL = samples[0].ImageURL
		avatarCost = AvatarFlatCost
	case job.AvatarPrompt != nil && *job.AvatarPrompt != "":
		imageURL, err := a.Images.Generate(ctx, aiapi.GenerationRequest{
			Prompt:        *job.AvatarPrompt,
			GuidanceScale: lora.DefaultGuidanceScale,
			Steps:         lora.DefaultSteps,
			AspectRatio:   lora.DefaultAspectRatio,
		})
		if err != nil {
			sentry.CaptureException(err)
			return err
		}
		avatarURL = imageURL
		avatarCost = AvatarFlatCost
	default:
		return fmt.Errorf("no avatar source: need an image URL, a trained persona or a prompt")
	}

	written := db.Model(&models.VideoJob{}).
		Where("id = ? AND status = ?", job.ID, models.VideoGeneratingAvatar).
		Updates(map[string]interface{}{
			"resolved_avatar_url": avatarURL,
			"avatar_cost":         avatarCost,
			"status":              models.VideoGeneratingVideo,
			"progress_percent":    progressVideo,
		})
	if written.Error != nil {
		return written.Error
	}
	if written.RowsAffected == 0 {
		return a.refresh(db, job)
	}
	job.ResolvedAvatarURL = &avatarURL
	job.AvatarCost = avatarCost
	job.Status = models.VideoGeneratingVideo
	job.ProgressPercent = progressVideo
	return nil
}

func (a *Assembler) submitAnimation(ctx context.Context, db *gorm.DB, job *models.VideoJob) error {
	if job.ResolvedAvatarURL == nil || job.AudioURL == nil {
		return fmt.Errorf("missing avatar or audio artifact")
	}
	remoteID, err := a.LipSync.Submit(ctx, aiapi.AnimateRequest{
		ImageURL: *job.ResolvedAvatarURL,
		AudioURL: *job.AudioURL,
	})
	if err != nil {
		sentry.CaptureException(err)
		return err
	}

	var duration float64
	if job.AudioDuration != nil {
		duration = *job.AudioDuration
	}
	videoCost := duration*VideoPerSecondRate + ProcessingBaseCost

	written := db.Model(&models.VideoJob{}).
		Where("id = ? AND status = ?", job.ID, models.VideoGeneratingVideo).
		Updates(map[string]interface{}{
			"remote_job_id":    remoteID,
			"video_cost":       videoCost,
			"status":           models.VideoProcessing,
			"progress_percent": progressSubmitted,
		})
	if written.Error != nil {
		return written.Error
	}
	if written.RowsAffected == 0 {
		return a.refresh(db, job)
	}
	job.RemoteJobID = &remoteID
	job.VideoCost = videoCost
	job.Status = models.VideoProcessing
	job.ProgressPercent = progressSubmitted
	fmt.Printf("[Video: %v] Animation submitted, remote id %s\n", job.ID, remoteID)
	return nil
}

// pollAnimation applies the remote animation state. Poll errors are logged
// and swallowed, the next scheduled tick retries.
func (a *Assembler) pollAnimation(ctx context.Context, db *gorm.DB, job *models.VideoJob) error {
	if job.RemoteJobID == nil {
		a.MarkFailed(db, job, "processing job has no remote id")
		return nil
	}
	status, err := a.LipSync.GetStatus(ctx, *job.RemoteJobID)
	if err != nil {
		fmt.Printf("[Video: %v] Poll failed, will retry next tick: %v\n", job.ID, err)
		return nil
	}

	switch status.State {
	case aiapi.RemoteStateSucceeded:
		result := db.Model(&models.VideoJob{}).
			Where("id = ? AND status = ?", job.ID, models.VideoProcessing).
			Updates(map[string]interface{}{
				"video_url":        status.VideoURL,
				"thumbnail_url":    status.ThumbnailURL,
				"status":           models.VideoCompleted,
				"progress_percent": 100,
			})
		if result.RowsAffected > 0 {
			job.VideoURL = &status.VideoURL
			job.ThumbnailURL = &status.ThumbnailURL
			job.Status = models.VideoCompleted
			job.ProgressPercent = 100
			fmt.Printf("[Video: %v] Completed: %s\n", job.ID, status.VideoURL)
		}
	case aiapi.RemoteStateFailed:
		message := status.Error
		if message == "" {
			message = "remote animation failed without details"
		}
		a.MarkFailed(db, job, message)
	default:
		if job.ProgressPercent < progressProcessing {
			db.Model(&models.VideoJob{}).
				Where("id = ? AND status = ? AND progress_percent < ?", job.ID, models.VideoProcessing, progressProcessing).
				Update("progress_percent", progressProcessing)
			job.ProgressPercent = progressProcessing
		}
	}
	return nil
}

// refresh reloads the row after a lost stage write so the Advance loop
// observes whatever status the winning writer left, typically cancelled.
func (a *Assembler) refresh(db *gorm.DB, job *models.VideoJob) error {
	var current models.VideoJob
	if err := db.First(&current, job.ID).Error; err != nil {
		return err
	}
	*job = current
	return nil
}

// Cancel is rejected once the job is terminal. Like training cancellation it
// is best effort: the remote animation may keep running, its late completion
// is ignored by the status check in pollAnimation.
func (a *Assembler) Cancel(db *gorm.DB, job *models.VideoJob) error {
	if job.Status.Terminal() {
		return lora.NewInvalidStateError("cancel", string(job.Status), "job already finished")
	}
	result := db.Model(&models.VideoJob{}).
		Where("id = ? AND status NOT IN ?", job.ID, []models.VideoStatus{models.VideoCompleted, models.VideoFailed, models.VideoCancelled}).
		Update("status", models.VideoCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return lora.NewInvalidStateError("cancel", string(job.Status), "job already transitioned")
	}
	job.Status = models.VideoCancelled
	return nil
}

func (a *Assembler) MarkFailed(db *gorm.DB, job *models.VideoJob, message string) {
	db.Model(&models.VideoJob{}).
		Where("id = ? AND status NOT IN ?", job.ID, []models.VideoStatus{models.VideoCompleted, models.VideoCancelled}).
		Updates(map[string]interface{}{"status": models.VideoFailed, "error_message": message})
	job.Status = models.VideoFailed
	job.ErrorMessage = &message
	fmt.Printf("[Video: %v] Failed: %s\n", job.ID, message)
}

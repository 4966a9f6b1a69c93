package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"personaapi/models"
	"personaapi/services"
	"personaapi/tasks"
	"personaapi/video"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type CreateVideoIn struct {
	Script        string `json:"script" validate:"required,min=10,max=5000"`
	VoiceProvider string `json:"voice_provider" validate:"required,oneof=elevenlabs openai azure"`
	VoiceID       string `json:"voice_id" validate:"required,max=100"`

	// avatar sources in priority order, at least one must be set
	AvatarImageURL *string `json:"avatar_image_url" validate:"omitempty,url"`
	TrainingJobID  *uint   `json:"training_job_id"`
	AvatarPrompt   *string `json:"avatar_prompt" validate:"omitempty,max=1000"`
}

type EstimateVideoIn struct {
	Script         string `json:"script" validate:"required,min=1,max=5000"`
	GenerateAvatar bool   `json:"generate_avatar"`
}

type VideoController struct {
	AWSService services.AWSServiceProvider
	URLCache   services.URLCacheServiceProvider
	Assembler  *video.Assembler
	Quota      services.QuotaService
}

func (controller *VideoController) VideoRoutes(g *echo.Group) {
	g.POST("", controller.CreateVideo)
	g.GET("", controller.ListVideos)
	g.POST("/estimate", controller.EstimateVideo)
	g.GET("/:id", controller.GetVideo)
	g.GET("/:id/status", controller.VideoStatus)
	g.POST("/:id/cancel", controller.CancelVideo)
}

func (controller *VideoController) loadVideo(c echo.Context) (*models.VideoJob, *gorm.DB, error) {
	db := c.Get("__db").(*gorm.DB)
	user := c.Get("currentUser").(models.UserAccount)
	var id uint
	if err := echo.PathParamsBinder(c).Uint("id", &id).BindError(); err != nil {
		return nil, db, echo.ErrBadRequest
	}
	var job models.VideoJob
	result := db.Where("id = ? AND owner_id = ?", id, user.ID).Take(&job)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, db, echo.ErrNotFound
	}
	if result.Error != nil {
		sentry.CaptureException(result.Error)
		return nil, db, echo.ErrInternalServerError
	}
	return &job, db, nil
}

func (controller *VideoController) CreateVideo(c echo.Context) error {
	var req CreateVideoIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	user := c.Get("currentUser").(models.UserAccount)
	db := c.Get("__db").(*gorm.DB)
	asynqClient, ok := c.Get("__asynqclient").(*asynq.Client)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Service is not available, please try again a bit later"})
	}

	if req.AvatarImageURL == nil && req.TrainingJobID == nil && req.AvatarPrompt == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Provide an avatar image URL, a trained persona or an avatar prompt"})
	}

	var brand *models.Brand
	if len(user.Brands) > 0 {
		brand = &user.Brands[0]
	}
	if req.TrainingJobID != nil {
		var trainingJob models.TrainingJob
		result := db.Where("id = ? AND owner_id = ?", *req.TrainingJobID, user.ID).Take(&trainingJob)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Persona not found"})
		}
		if result.Error != nil {
			sentry.CaptureException(result.Error)
			return echo.ErrInternalServerError
		}
		if trainingJob.Status != models.TrainingCompleted {
			return c.JSON(http.StatusConflict, map[string]string{"error": "Persona training is not completed yet"})
		}
	}

	if brand != nil {
		allowed, remaining, err := controller.Quota.CheckLimit(db, &user, brand, services.UsageKindVideo)
		if err != nil {
			sentry.CaptureException(err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to check usage limit"})
		}
		if !allowed {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "You have reached your daily video limit, please wait for the next day or upgrade"})
		}
		fmt.Printf("[User %v] Video quota remaining: %v\n", user.ID, remaining)
	}

	job := models.VideoJob{
		OwnerID:        user.ID,
		Script:         req.Script,
		VoiceProvider:  req.VoiceProvider,
		VoiceID:        req.VoiceID,
		AvatarImageURL: req.AvatarImageURL,
		TrainingJobID:  req.TrainingJobID,
		AvatarPrompt:   req.AvatarPrompt,
	}
	if err := db.Create(&job).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create video"})
	}

	task, err := tasks.NewVideoPipelineTask(job.ID)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not start video generation, please try again"})
	}
	info, err := asynqClient.Enqueue(task, asynq.MaxRetry(1), asynq.Queue("pipeline"))
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not start video generation, please try again"})
	}
	fmt.Println("[Queue] Video pipeline task submitted, Video ID: ", job.ID, " Task ID: ", info.ID)

	estimate := video.EstimateCost(req.Script, req.AvatarImageURL == nil)
	if err := controller.Quota.RecordUsage(db, user.ID, services.UsageKindVideo, 1, estimate.TotalCost); err != nil {
		sentry.CaptureException(err)
	}
	return c.JSON(http.StatusCreated, job)
}

func (controller *VideoController) ListVideos(c echo.Context) error {
	user := c.Get("currentUser").(models.UserAccount)
	db := c.Get("__db").(*gorm.DB)

	var jobs []models.VideoJob
	if err := db.Where("owner_id = ?", user.ID).Order("id desc").Find(&jobs).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch videos"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"videos": jobs})
}

func (controller *VideoController) EstimateVideo(c echo.Context) error {
	var req EstimateVideoIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, video.EstimateCost(req.Script, req.GenerateAvatar))
}

func (controller *VideoController) GetVideo(c echo.Context) error {
	job, _, err := controller.loadVideo(c)
	if err != nil {
		return err
	}
	// the stored audio URL is a presigned link that expires, refresh it from
	// the object key on every read
	if job.AudioKey != nil && *job.AudioKey != "" {
		ctx := c.Request().Context()
		if url, cacheErr := controller.URLCache.GetReadURL(ctx, *job.AudioKey); cacheErr == nil {
			job.AudioURL = &url
		} else {
			sentry.CaptureException(cacheErr)
			bucketName := services.GetEnv("R2_BUCKET_NAME", "persona-media")
			if fallback, fallbackErr := controller.AWSService.GetPresignedR2FileReadURL(ctx, bucketName, *job.AudioKey); fallbackErr == nil {
				job.AudioURL = &fallback
			} else {
				sentry.CaptureException(fallbackErr)
			}
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"video":      job,
		"total_cost": job.TotalCost(),
	})
}

func (controller *VideoController) VideoStatus(c echo.Context) error {
	job, _, err := controller.loadVideo(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, JobStatusOut{
		Status:          string(job.Status),
		ProgressPercent: job.ProgressPercent,
		ErrorMessage:    job.ErrorMessage,
	})
}

func (controller *VideoController) CancelVideo(c echo.Context) error {
	job, db, err := controller.loadVideo(c)
	if err != nil {
		return err
	}
	if err := controller.Assembler.Cancel(db, job); err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, JobStatusOut{
		Status:          string(job.Status),
		ProgressPercent: job.ProgressPercent,
		ErrorMessage:    job.ErrorMessage,
	})
}

package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"

	"personaapi/lora"
	"personaapi/models"
	"personaapi/services"
	"personaapi/tasks"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type CreatePersonaIn struct {
	Name         string   `json:"name" validate:"required,max=100"`
	TriggerToken string   `json:"trigger_token" validate:"required,trigger_token"`
	BaseModel    *string  `json:"base_model" validate:"omitempty,oneof=flux-dev flux-schnell sdxl"`
	Steps        *int     `json:"steps" validate:"omitempty,min=100,max=4000"`
	LearningRate *float64 `json:"learning_rate" validate:"omitempty,gt=0,lt=0.01"`
	Rank         *int     `json:"rank" validate:"omitempty,oneof=8 16 32 64"`
	Resolution   *int     `json:"resolution" validate:"omitempty,oneof=512 768 1024"`
}

type RegisterImagesIn struct {
	// empty is allowed: it just re-runs validation over images uploaded
	// through the presigned upload flow
	ImageURLs []string `json:"image_urls" validate:"omitempty,max=40,dive,url"`
}

type ImageUploadURLIn struct {
	FileName string `json:"file_name" validate:"required,max=200"`
}

type UpdateImageIn struct {
	Caption    *string `json:"caption" validate:"omitempty,max=500"`
	IsIncluded *bool   `json:"is_included"`
}

type GenerateIn struct {
	Prompt         string   `json:"prompt" validate:"required,max=1000"`
	NegativePrompt *string  `json:"negative_prompt" validate:"omitempty,max=1000"`
	Seed           *int64   `json:"seed"`
	LoraScale      *float64 `json:"lora_scale" validate:"omitempty,gt=0,lte=2"`
	GuidanceScale  *float64 `json:"guidance_scale" validate:"omitempty,gt=0,lte=20"`
	Steps          *int     `json:"steps" validate:"omitempty,min=1,max=50"`
	AspectRatio    *string  `json:"aspect_ratio" validate:"omitempty,oneof=1:1 3:4 4:3 9:16 16:9"`
	Count          *int     `json:"count" validate:"omitempty,min=1,max=8"`
	// pre-training fallback source
	ReferenceImageURL *string `json:"reference_image_url" validate:"omitempty,url"`
}

type GenerateScenarioIn struct {
	Scenario   string `json:"scenario" validate:"required"`
	Variations int    `json:"variations" validate:"omitempty,min=1,max=9"`
}

type RateSampleIn struct {
	Rating int     `json:"rating" validate:"required,min=1,max=5"`
	Note   *string `json:"note" validate:"omitempty,max=1000"`
}

// JobStatusOut is the generic polling shape shared by training and video
// jobs so one client widget can track both.
type JobStatusOut struct {
	Status          string  `json:"status"`
	ProgressPercent int     `json:"progress_percent"`
	ErrorMessage    *string `json:"error_message"`
}

type PersonaController struct {
	AWSService services.AWSServiceProvider
	URLCache   services.URLCacheServiceProvider
	Trainer    *lora.Trainer
	Generator  *lora.Generator
	Quota      services.QuotaService
}

func (controller *PersonaController) PersonaRoutes(g *echo.Group) {
	g.POST("", controller.CreatePersona)
	g.GET("", controller.ListPersonas)
	g.GET("/scenarios", controller.ListScenarios)
	g.GET("/:id", controller.GetPersona)
	g.DELETE("/:id", controller.DeletePersona)
	g.POST("/:id/images", controller.RegisterImages)
	g.POST("/:id/images/upload-url", controller.CreateImageUploadURL)
	g.GET("/:id/images", controller.ListImages)
	g.PATCH("/:id/images/:imageId", controller.UpdateImage)
	g.GET("/:id/readiness", controller.Readiness)
	g.POST("/:id/start", controller.StartTraining)
	g.POST("/:id/cancel", controller.CancelTraining)
	g.GET("/:id/status", controller.TrainingStatus)
	g.POST("/:id/activate", controller.ActivatePersona)
	g.POST("/:id/generate", controller.Generate)
	g.POST("/:id/generate-scenario", controller.GenerateScenario)
	g.GET("/:id/samples", controller.ListSamples)
	g.POST("/:id/samples/:sampleId/rate", controller.RateSample)
}

func (controller *PersonaController) loadPersona(c echo.Context) (*models.TrainingJob, *gorm.DB, error) {
	db := c.Get("__db").(*gorm.DB)
	brand := c.Get("currentBrand").(models.Brand)
	var id uint
	if err := echo.PathParamsBinder(c).Uint("id", &id).BindError(); err != nil {
		return nil, db, echo.ErrBadRequest
	}
	var job models.TrainingJob
	result := db.Where("id = ? AND brand_id = ?", id, brand.ID).Take(&job)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, db, echo.ErrNotFound
	}
	if result.Error != nil {
		sentry.CaptureException(result.Error)
		return nil, db, echo.ErrInternalServerError
	}
	return &job, db, nil
}

func (controller *PersonaController) CreatePersona(c echo.Context) error {
	var req CreatePersonaIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	user := c.Get("currentUser").(models.UserAccount)
	brand := c.Get("currentBrand").(models.Brand)
	db := c.Get("__db").(*gorm.DB)

	var existing int64
	db.Model(&models.TrainingJob{}).Where("brand_id = ? AND trigger_token = ?", brand.ID, req.TriggerToken).Count(&existing)
	if existing > 0 {
		return c.JSON(http.StatusConflict, map[string]string{"error": "A persona with this trigger token already exists"})
	}

	job := models.TrainingJob{
		Name:         req.Name,
		OwnerID:      user.ID,
		BrandID:      brand.ID,
		TriggerToken: req.TriggerToken,
	}
	if req.BaseModel != nil {
		job.BaseModel = *req.BaseModel
	}
	if req.Steps != nil {
		job.Steps = *req.Steps
	}
	if req.LearningRate != nil {
		job.LearningRate = *req.LearningRate
	}
	if req.Rank != nil {
		job.Rank = *req.Rank
	}
	if req.Resolution != nil {
		job.Resolution = *req.Resolution
	}
	if err := db.Create(&job).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create persona"})
	}
	return c.JSON(http.StatusCreated, job)
}

func (controller *PersonaController) ListPersonas(c echo.Context) error {
	brand := c.Get("currentBrand").(models.Brand)
	db := c.Get("__db").(*gorm.DB)

	var jobs []models.TrainingJob
	if err := db.Where("brand_id = ?", brand.ID).Order("id desc").Find(&jobs).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch personas"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"personas": jobs})
}

func (controller *PersonaController) ListScenarios(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"scenarios": lora.Scenarios()})
}

func (controller *PersonaController) GetPersona(c echo.Context) error {
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	if err := db.Preload("ReferenceImages").First(job, job.ID).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch persona"})
	}
	return c.JSON(http.StatusOK, job)
}

// DeletePersona is blocked while videos still reference the persona so an
// in-flight video never loses its avatar source mid-pipeline.
func (controller *PersonaController) DeletePersona(c echo.Context) error {
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}

	var inflight int64
	db.Model(&models.VideoJob{}).
		Where("training_job_id = ? AND status NOT IN ?", job.ID,
			[]models.VideoStatus{models.VideoCompleted, models.VideoFailed, models.VideoCancelled}).
		Count(&inflight)
	if inflight > 0 {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Persona is used by videos still in progress, wait for them to finish"})
	}

	// completed videos keep working from their stored URLs, just detach them
	db.Model(&models.VideoJob{}).Where("training_job_id = ?", job.ID).Update("training_job_id", nil)

	if err := db.Select("ReferenceImages", "GeneratedSamples").Delete(job).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete persona"})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "deleted"})
}

func (controller *PersonaController) RegisterImages(c echo.Context) error {
	var req RegisterImagesIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	if job.Status != models.TrainingPending && job.Status != models.TrainingFailed {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Images can only be added before training starts"})
	}
	asynqClient, ok := c.Get("__asynqclient").(*asynq.Client)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Service is not available, please try again a bit later"})
	}

	images := make([]models.ReferenceImage, 0, len(req.ImageURLs))
	for _, url := range req.ImageURLs {
		images = append(images, models.ReferenceImage{TrainingJobID: job.ID, SourceURL: url})
	}
	if len(images) > 0 {
		if err := db.Create(&images).Error; err != nil {
			sentry.CaptureException(err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to register images"})
		}
	}

	task, err := tasks.NewValidateImagesTask(job.ID)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not start validation, please try again"})
	}
	info, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Queue("pipeline"))
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not start validation, please try again"})
	}
	fmt.Println("[Queue] Validate images task submitted, Job ID: ", job.ID, " Task ID: ", info.ID)

	return c.JSON(http.StatusCreated, map[string]interface{}{"registered": len(images)})
}

// CreateImageUploadURL presigns a direct-to-bucket upload and registers the
// image row under its object key. The client PUTs the file to upload_url and
// then calls RegisterImages (an empty body is enough) to kick off validation.
func (controller *PersonaController) CreateImageUploadURL(c echo.Context) error {
	var req ImageUploadURLIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	if job.Status != models.TrainingPending && job.Status != models.TrainingFailed {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Images can only be added before training starts"})
	}

	bucketName := services.GetEnv("R2_BUCKET_NAME", "persona-media")
	objectKey := fmt.Sprintf("personas/%d/%s", job.ID, path.Base(req.FileName))
	uploadURL, err := controller.AWSService.PresignLink(c.Request().Context(), bucketName, objectKey)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to prepare upload"})
	}

	image := models.ReferenceImage{TrainingJobID: job.ID, ObjectKey: &objectKey}
	if err := db.Create(&image).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to register image"})
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"image":      image,
		"upload_url": uploadURL,
	})
}

func (controller *PersonaController) ListImages(c echo.Context) error {
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	var images []models.ReferenceImage
	if err := db.Where("training_job_id = ?", job.ID).Order("id asc").Find(&images).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch images"})
	}
	ctx := c.Request().Context()
	for i := range images {
		if images[i].ObjectKey == nil || *images[i].ObjectKey == "" {
			continue
		}
		images[i].SourceURL = controller.presignedReadURL(ctx, *images[i].ObjectKey)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"images": images})
}

// presignedReadURL refreshes a bucket object's read URL, preferring the
// cache and falling back to a direct presign when the cache system itself
// fails. An empty URL is returned only when both paths fail, the request as
// a whole is never failed over one object.
func (controller *PersonaController) presignedReadURL(ctx context.Context, objectKey string) string {
	url, err := controller.URLCache.GetReadURL(ctx, objectKey)
	if err == nil {
		return url
	}
	sentry.CaptureException(err)
	bucketName := services.GetEnv("R2_BUCKET_NAME", "persona-media")
	fallback, fallbackErr := controller.AWSService.GetPresignedR2FileReadURL(ctx, bucketName, objectKey)
	if fallbackErr != nil {
		sentry.CaptureException(fallbackErr)
		return ""
	}
	return fallback
}

// UpdateImage lets the user override caption and inclusion after validation,
// the only mutation allowed after the validator wrote its verdict.
func (controller *PersonaController) UpdateImage(c echo.Context) error {
	var req UpdateImageIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	var imageId uint
	if err := echo.PathParamsBinder(c).Uint("imageId", &imageId).BindError(); err != nil {
		return echo.ErrBadRequest
	}

	var image models.ReferenceImage
	result := db.Where("id = ? AND training_job_id = ?", imageId, job.ID).Take(&image)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return echo.ErrNotFound
	}
	if result.Error != nil {
		sentry.CaptureException(result.Error)
		return echo.ErrInternalServerError
	}

	updates := map[string]interface{}{}
	if req.Caption != nil {
		updates["caption"] = *req.Caption
	}
	if req.IsIncluded != nil {
		if *req.IsIncluded && !image.IsValid {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "An invalid image cannot be included in training"})
		}
		updates["is_included"] = *req.IsIncluded
	}
	if len(updates) > 0 {
		if err := db.Model(&image).Updates(updates).Error; err != nil {
			sentry.CaptureException(err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update image"})
		}
	}
	return c.JSON(http.StatusOK, image)
}

func (controller *PersonaController) Readiness(c echo.Context) error {
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, controller.Trainer.ValidateReadiness(db, job))
}

func (controller *PersonaController) StartTraining(c echo.Context) error {
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	user := c.Get("currentUser").(models.UserAccount)
	brand := c.Get("currentBrand").(models.Brand)
	asynqClient, ok := c.Get("__asynqclient").(*asynq.Client)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Service is not available, please try again a bit later"})
	}

	if job.Status != models.TrainingPending && job.Status != models.TrainingFailed {
		return c.JSON(http.StatusConflict, map[string]string{"error": fmt.Sprintf("Training cannot start from status %s", job.Status)})
	}
	readiness := controller.Trainer.ValidateReadiness(db, job)
	if !readiness.IsReady {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "Persona is not ready for training", "issues": readiness.Issues})
	}

	allowed, remaining, err := controller.Quota.CheckLimit(db, &user, &brand, services.UsageKindTraining)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to check usage limit"})
	}
	if !allowed {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "You have reached your daily training limit, please wait for the next day or upgrade"})
	}
	fmt.Printf("[User %v] Training quota remaining: %v\n", user.ID, remaining)

	task, err := tasks.NewStartTrainingTask(job.ID)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not start training, please try again"})
	}
	info, err := asynqClient.Enqueue(task, asynq.MaxRetry(1), asynq.Queue("pipeline"))
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not start training, please try again"})
	}
	fmt.Println("[Queue] Start training task submitted, Job ID: ", job.ID, " Task ID: ", info.ID)

	if err := controller.Quota.RecordUsage(db, user.ID, services.UsageKindTraining, 1, readiness.EstimatedCost); err != nil {
		sentry.CaptureException(err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message":           "Training started",
		"estimated_cost":    readiness.EstimatedCost,
		"estimated_minutes": readiness.EstimatedMinutes,
	})
}

func (controller *PersonaController) CancelTraining(c echo.Context) error {
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	if err := controller.Trainer.Cancel(c.Request().Context(), db, job); err != nil {
		var invalid *lora.InvalidStateError
		if errors.As(err, &invalid) {
			return c.JSON(http.StatusConflict, map[string]string{"error": invalid.Error()})
		}
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to cancel training"})
	}
	return c.JSON(http.StatusOK, JobStatusOut{
		Status:          string(job.Status),
		ProgressPercent: job.ProgressPercent,
		ErrorMessage:    job.ErrorMessage,
	})
}

func (controller *PersonaController) TrainingStatus(c echo.Context) error {
	job, _, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, JobStatusOut{
		Status:          string(job.Status),
		ProgressPercent: job.ProgressPercent,
		ErrorMessage:    job.ErrorMessage,
	})
}

// ActivatePersona marks this persona as the brand's active one. Last writer
// wins, activations are rare and user initiated.
func (controller *PersonaController) ActivatePersona(c echo.Context) error {
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	brand := c.Get("currentBrand").(models.Brand)
	if job.Status != models.TrainingCompleted {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Only a completed persona can be activated"})
	}

	db.Model(&models.TrainingJob{}).Where("brand_id = ? AND is_active = true", brand.ID).Update("is_active", false)
	if err := db.Model(job).Update("is_active", true).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to activate persona"})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "activated"})
}

func (controller *PersonaController) Generate(c echo.Context) error {
	var req GenerateIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	user := c.Get("currentUser").(models.UserAccount)
	brand := c.Get("currentBrand").(models.Brand)

	allowed, remaining, err := controller.Quota.CheckLimit(db, &user, &brand, services.UsageKindGeneration)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to check usage limit"})
	}
	if !allowed {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "You have reached your daily generation limit, please wait for the next day or upgrade"})
	}
	fmt.Printf("[User %v] Generation quota remaining: %v\n", user.ID, remaining)

	opts := lora.GenerationOptions{Seed: req.Seed}
	if req.NegativePrompt != nil {
		opts.NegativePrompt = *req.NegativePrompt
	}
	if req.LoraScale != nil {
		opts.LoraScale = *req.LoraScale
	}
	if req.GuidanceScale != nil {
		opts.GuidanceScale = *req.GuidanceScale
	}
	if req.Steps != nil {
		opts.Steps = *req.Steps
	}
	if req.AspectRatio != nil {
		opts.AspectRatio = *req.AspectRatio
	}
	if req.Count != nil {
		opts.Count = *req.Count
	}

	ctx := c.Request().Context()
	var samples []models.GeneratedSample
	if job.Status == models.TrainingCompleted && job.WeightsURL != nil {
		samples, err = controller.Generator.Generate(ctx, db, job, user.ID, req.Prompt, opts)
	} else if req.ReferenceImageURL != nil {
		samples, err = controller.Generator.GenerateFromReference(ctx, db, user.ID, *req.ReferenceImageURL, req.Prompt, opts)
	} else {
		// fall back to the best included reference image
		var reference models.ReferenceImage
		result := db.Where("training_job_id = ? AND is_valid = true AND is_included = true", job.ID).
			Order("quality_score desc").Take(&reference)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "Persona is not trained yet and has no valid reference image for fallback generation"})
		}
		if result.Error != nil {
			sentry.CaptureException(result.Error)
			return echo.ErrInternalServerError
		}
		samples, err = controller.Generator.GenerateFromReference(ctx, db, user.ID, reference.SourceURL, req.Prompt, opts)
	}
	if err != nil {
		var invalid *lora.InvalidStateError
		if errors.As(err, &invalid) {
			return c.JSON(http.StatusConflict, map[string]string{"error": invalid.Error()})
		}
		sentry.CaptureException(err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Generation failed, please try again"})
	}

	if err := controller.Quota.RecordUsage(db, user.ID, services.UsageKindGeneration, len(samples), 0); err != nil {
		sentry.CaptureException(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"samples": samples})
}

func (controller *PersonaController) GenerateScenario(c echo.Context) error {
	var req GenerateScenarioIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	user := c.Get("currentUser").(models.UserAccount)
	brand := c.Get("currentBrand").(models.Brand)

	allowed, _, err := controller.Quota.CheckLimit(db, &user, &brand, services.UsageKindGeneration)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to check usage limit"})
	}
	if !allowed {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "You have reached your daily generation limit, please wait for the next day or upgrade"})
	}

	batch, err := controller.Generator.GenerateScenario(c.Request().Context(), db, job, user.ID, req.Scenario, req.Variations, lora.GenerationOptions{})
	if err != nil {
		var invalid *lora.InvalidStateError
		if errors.As(err, &invalid) {
			return c.JSON(http.StatusConflict, map[string]string{"error": invalid.Error()})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := controller.Quota.RecordUsage(db, user.ID, services.UsageKindGeneration, batch.Succeeded, 0); err != nil {
		sentry.CaptureException(err)
	}
	return c.JSON(http.StatusCreated, batch)
}

func (controller *PersonaController) ListSamples(c echo.Context) error {
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	var samples []models.GeneratedSample
	if err := db.Where("training_job_id = ?", job.ID).Order("id desc").Find(&samples).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch samples"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"samples": samples})
}

func (controller *PersonaController) RateSample(c echo.Context) error {
	var req RateSampleIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	job, db, err := controller.loadPersona(c)
	if err != nil {
		return err
	}
	var sampleId uint
	if err := echo.PathParamsBinder(c).Uint("sampleId", &sampleId).BindError(); err != nil {
		return echo.ErrBadRequest
	}

	var sample models.GeneratedSample
	result := db.Where("id = ? AND training_job_id = ?", sampleId, job.ID).Take(&sample)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return echo.ErrNotFound
	}
	if result.Error != nil {
		sentry.CaptureException(result.Error)
		return echo.ErrInternalServerError
	}

	updates := map[string]interface{}{"rating": req.Rating}
	if req.Note != nil {
		updates["note"] = *req.Note
	}
	if err := db.Model(&sample).Updates(updates).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to rate sample"})
	}
	return c.JSON(http.StatusOK, sample)
}

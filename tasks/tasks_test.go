package tasks

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"personaapi/dbhelper"
	"personaapi/lora"
	"personaapi/models"
	"personaapi/test"
	"personaapi/video"

	"github.com/stretchr/testify/assert"
)

func noisyPNG(t *testing.T, width, height int) []byte {
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline() *Pipeline {
	images := &test.ImageGenMock{}
	faces := &test.FaceClientMock{}
	preparer := &lora.Preparer{AWS: &test.AWSProviderMock{}, URLCache: test.URLCacheMock{}, Captions: test.CaptionServiceMock{}, Bucket: "persona-media"}
	generator := lora.NewGenerator(images)
	return &Pipeline{
		Validator: lora.NewValidator(faces),
		Trainer:   lora.NewTrainer(&test.TrainingClientMock{}, preparer),
		Generator: generator,
		Scorer:    lora.NewScorer(faces),
		URLCache:  test.URLCacheMock{},
	}
}

func TestHandleValidateImagesTask(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeTrainingJob(db, user, &user.Brands[0], models.TrainingPending)

	goodImage := noisyPNG(t, 1024, 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(goodImage)
	}))
	defer server.Close()

	for i := 0; i < 2; i++ {
		img := models.ReferenceImage{TrainingJobID: job.ID, SourceURL: fmt.Sprintf("%s/good%d.png", server.URL, i)}
		db.Create(&img)
	}
	broken := models.ReferenceImage{TrainingJobID: job.ID, SourceURL: server.URL + "/broken.png"}
	db.Create(&broken)

	pipeline := newTestPipeline()
	task, err := NewValidateImagesTask(job.ID)
	assert.NoError(t, err)
	assert.NoError(t, pipeline.HandleValidateImagesTask(context.Background(), task, db))

	var images []models.ReferenceImage
	db.Where("training_job_id = ?", job.ID).Order("id asc").Find(&images)
	assert.Len(t, images, 3)
	for _, img := range images {
		assert.True(t, img.Validated)
	}
	assert.True(t, images[0].IsValid)
	assert.True(t, images[0].IsIncluded)
	assert.True(t, images[0].FaceDetected)
	assert.Equal(t, 1024, images[0].Width)

	var rejected models.ReferenceImage
	db.First(&rejected, broken.ID)
	assert.False(t, rejected.IsValid)
	assert.False(t, rejected.IsIncluded)
	assert.NotEmpty(t, rejected.Errors)

	// the job is handed back for the user to review
	var updated models.TrainingJob
	db.First(&updated, job.ID)
	assert.Equal(t, models.TrainingPending, updated.Status)
}

func TestHandleValidateImagesSkipsBusyJob(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeTrainingJob(db, user, &user.Brands[0], models.TrainingRunning)
	img := models.ReferenceImage{TrainingJobID: job.ID, SourceURL: "https://fakebucketurl.com/late.png"}
	db.Create(&img)

	pipeline := newTestPipeline()
	task, _ := NewValidateImagesTask(job.ID)
	assert.NoError(t, pipeline.HandleValidateImagesTask(context.Background(), task, db))

	var untouched models.ReferenceImage
	db.First(&untouched, img.ID)
	assert.False(t, untouched.Validated)
}

func TestHandleStartTrainingRejectionIsFinal(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	// no reference images at all, readiness rejects the start
	job := test.FakeTrainingJob(db, user, &user.Brands[0], models.TrainingPending)

	pipeline := newTestPipeline()
	task, _ := NewStartTrainingTask(job.ID)
	// precondition failure must not surface as a retryable task error
	assert.NoError(t, pipeline.HandleStartTrainingTask(context.Background(), task, db))

	var updated models.TrainingJob
	db.First(&updated, job.ID)
	assert.Equal(t, models.TrainingPending, updated.Status)
}

func TestHandleGenerateTestSamplesTask(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeTrainingJob(db, user, &user.Brands[0], models.TrainingCompleted)
	for i := 0; i < 3; i++ {
		test.FakeReferenceImage(db, job.ID, 85, true)
	}

	pipeline := newTestPipeline()
	task, _ := NewGenerateTestSamplesTask(job.ID)
	assert.NoError(t, pipeline.HandleGenerateTestSamplesTask(context.Background(), task, db))

	var sampleCount int64
	db.Model(&models.GeneratedSample{}).
		Where("training_job_id = ? AND is_test_sample = true", job.ID).
		Count(&sampleCount)
	assert.Equal(t, int64(len(testSamplePrompts)), sampleCount)

	var updated models.TrainingJob
	db.First(&updated, job.ID)
	assert.NotNil(t, updated.ConsistencyScore)
}

func TestHandleVideoPipelineTask(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeVideoJob(db, user, models.VideoPending)

	pipeline := newTestPipeline()
	pipeline.Assembler = &video.Assembler{
		TTS:       &test.TTSMock{Duration: 4},
		LipSync:   &test.LipSyncMock{},
		Images:    &test.ImageGenMock{},
		Generator: pipeline.Generator,
		AWS:       &test.AWSProviderMock{},
		Bucket:    "persona-media",
	}

	task, _ := NewVideoPipelineTask(job.ID)
	assert.NoError(t, pipeline.HandleVideoPipelineTask(context.Background(), task, db))

	var updated models.VideoJob
	db.First(&updated, job.ID)
	assert.Equal(t, models.VideoProcessing, updated.Status)
}

func TestHandleValidateImagesResolvesUploadedObjects(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeTrainingJob(db, user, &user.Brands[0], models.TrainingPending)

	goodImage := noisyPNG(t, 1024, 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(goodImage)
	}))
	defer server.Close()

	// a directly uploaded image has no stored URL, only its bucket key
	objectKey := fmt.Sprintf("personas/%d/selfie.jpg", job.ID)
	uploaded := models.ReferenceImage{TrainingJobID: job.ID, ObjectKey: &objectKey}
	db.Create(&uploaded)

	pipeline := newTestPipeline()
	pipeline.URLCache = test.URLCacheMock{URLs: map[string]string{
		objectKey: server.URL + "/selfie.jpg",
	}}

	task, err := NewValidateImagesTask(job.ID)
	assert.NoError(t, err)
	assert.NoError(t, pipeline.HandleValidateImagesTask(context.Background(), task, db))

	var validated models.ReferenceImage
	db.First(&validated, uploaded.ID)
	assert.True(t, validated.Validated)
	assert.True(t, validated.IsValid)
	assert.Equal(t, 1024, validated.Width)
}

package video

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"personaapi/aiapi"
	"personaapi/dbhelper"
	"personaapi/lora"
	"personaapi/models"
	"personaapi/test"

	"github.com/stretchr/testify/assert"
)

func newTestAssembler(tts *test.TTSMock, lipSync *test.LipSyncMock, images *test.ImageGenMock, aws *test.AWSProviderMock) *Assembler {
	return &Assembler{
		TTS:       tts,
		LipSync:   lipSync,
		Images:    images,
		Generator: lora.NewGenerator(images),
		AWS:       aws,
		Bucket:    "persona-media",
	}
}

func TestEstimateCost(t *testing.T) {
	script := strings.Repeat("a", 750) // 150 words, one spoken minute
	estimate := EstimateCost(script, true)

	assert.InDelta(t, 60.0, estimate.EstimatedSeconds, 0.0001)
	assert.InDelta(t, 0.075, estimate.AudioCost, 0.0001)
	assert.InDelta(t, AvatarFlatCost, estimate.AvatarCost, 0.0001)
	assert.InDelta(t, 0.6, estimate.VideoCost, 0.0001)
	assert.InDelta(t, ProcessingBaseCost, estimate.ProcessingCost, 0.0001)
	assert.InDelta(t, 0.075+0.05+0.6+0.02, estimate.TotalCost, 0.0001)

	noAvatar := EstimateCost(script, false)
	assert.Equal(t, 0.0, noAvatar.AvatarCost)
}

func TestAdvanceRunsThroughSubmission(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeVideoJob(db, user, models.VideoPending)

	tts := &test.TTSMock{Duration: 12.5}
	lipSync := &test.LipSyncMock{JobID: "anim-42"}
	aws := &test.AWSProviderMock{}
	assembler := newTestAssembler(tts, lipSync, &test.ImageGenMock{}, aws)

	err := assembler.Advance(context.Background(), db, job)
	assert.NoError(t, err)

	var updated models.VideoJob
	db.First(&updated, job.ID)
	// synchronous stages all ran, the job now waits on the remote animation
	assert.Equal(t, models.VideoProcessing, updated.Status)
	assert.Equal(t, 85, updated.ProgressPercent)
	assert.Equal(t, "anim-42", *updated.RemoteJobID)
	assert.NotNil(t, updated.AudioURL)
	assert.NotNil(t, updated.AudioKey)
	assert.Equal(t, fmt.Sprintf("videos/%d/audio.mp3", job.ID), *updated.AudioKey)
	assert.InDelta(t, 12.5, *updated.AudioDuration, 0.0001)
	// explicit avatar URL costs nothing
	assert.Equal(t, 0.0, updated.AvatarCost)
	assert.InDelta(t, float64(len(job.Script))*AudioPerCharRate, updated.AudioCost, 0.0001)
	assert.InDelta(t, 12.5*VideoPerSecondRate+ProcessingBaseCost, updated.VideoCost, 0.0001)
	assert.InDelta(t, updated.AudioCost+updated.AvatarCost+updated.VideoCost, updated.TotalCost(), 0.0001)

	// the lip-sync request carried the stored artifacts
	assert.Len(t, lipSync.Requests, 1)
	assert.Equal(t, *updated.ResolvedAvatarURL, lipSync.Requests[0].ImageURL)
	assert.Contains(t, aws.Uploads, fmt.Sprintf("videos/%d/audio.mp3", job.ID))
}

func TestAdvanceAudioFailureIsTerminal(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeVideoJob(db, user, models.VideoPending)

	tts := &test.TTSMock{Err: fmt.Errorf("voice not found")}
	images := &test.ImageGenMock{}
	assembler := newTestAssembler(tts, &test.LipSyncMock{}, images, &test.AWSProviderMock{})

	err := assembler.Advance(context.Background(), db, job)
	assert.Error(t, err)

	var updated models.VideoJob
	db.First(&updated, job.ID)
	assert.Equal(t, models.VideoFailed, updated.Status)
	assert.Contains(t, *updated.ErrorMessage, "audio generation failed")
	// the pipeline never reached the avatar stage
	assert.Empty(t, images.GenerateCalls)
}

func TestAdvanceAvatarFromTrainedPersona(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	trainingJob := test.FakeTrainingJob(db, user, &user.Brands[0], models.TrainingCompleted)
	job := test.FakeVideoJob(db, user, models.VideoPending)
	job.AvatarImageURL = nil
	job.TrainingJobID = &trainingJob.ID
	db.Save(job)

	images := &test.ImageGenMock{}
	assembler := newTestAssembler(&test.TTSMock{Duration: 5}, &test.LipSyncMock{}, images, &test.AWSProviderMock{})

	err := assembler.Advance(context.Background(), db, job)
	assert.NoError(t, err)

	var updated models.VideoJob
	db.First(&updated, job.ID)
	assert.Equal(t, models.VideoProcessing, updated.Status)
	assert.Equal(t, AvatarFlatCost, updated.AvatarCost)
	// the generated avatar prompt invoked the persona trigger token
	assert.Len(t, images.GenerateCalls, 1)
	assert.Contains(t, images.GenerateCalls[0].Prompt, trainingJob.TriggerToken)
}

func TestAdvanceWithoutAvatarSourceFails(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeVideoJob(db, user, models.VideoPending)
	job.AvatarImageURL = nil
	db.Save(job)

	assembler := newTestAssembler(&test.TTSMock{}, &test.LipSyncMock{}, &test.ImageGenMock{}, &test.AWSProviderMock{})
	err := assembler.Advance(context.Background(), db, job)
	assert.Error(t, err)

	var updated models.VideoJob
	db.First(&updated, job.ID)
	assert.Equal(t, models.VideoFailed, updated.Status)
	assert.Contains(t, *updated.ErrorMessage, "no avatar source")
}

func TestPollAnimationCompletes(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeVideoJob(db, user, models.VideoProcessing)
	job.RemoteJobID = test.NewRefString("anim-42")
	job.ProgressPercent = 85
	db.Save(job)

	lipSync := &test.LipSyncMock{
		Status: &aiapi.AnimationStatus{
			State:        aiapi.RemoteStateSucceeded,
			VideoURL:     "https://fakebucketurl.com/final.mp4",
			ThumbnailURL: "https://fakebucketurl.com/thumb.jpg",
		},
	}
	assembler := newTestAssembler(&test.TTSMock{}, lipSync, &test.ImageGenMock{}, &test.AWSProviderMock{})

	assert.NoError(t, assembler.Advance(context.Background(), db, job))

	var updated models.VideoJob
	db.First(&updated, job.ID)
	assert.Equal(t, models.VideoCompleted, updated.Status)
	assert.Equal(t, 100, updated.ProgressPercent)
	assert.Equal(t, "https://fakebucketurl.com/final.mp4", *updated.VideoURL)
	assert.Equal(t, "https://fakebucketurl.com/thumb.jpg", *updated.ThumbnailURL)
}

func TestPollAnimationSwallowsErrorsAndBumpsProgress(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeVideoJob(db, user, models.VideoProcessing)
	job.RemoteJobID = test.NewRefString("anim-42")
	job.ProgressPercent = 85
	db.Save(job)

	lipSync := &test.LipSyncMock{StatusErr: fmt.Errorf("timeout")}
	assembler := newTestAssembler(&test.TTSMock{}, lipSync, &test.ImageGenMock{}, &test.AWSProviderMock{})
	assert.NoError(t, assembler.Advance(context.Background(), db, job))

	var updated models.VideoJob
	db.First(&updated, job.ID)
	assert.Equal(t, models.VideoProcessing, updated.Status)

	// a still-running poll moves progress to the processing anchor only
	lipSync.StatusErr = nil
	assert.NoError(t, assembler.Advance(context.Background(), db, job))
	db.First(&updated, job.ID)
	assert.Equal(t, models.VideoProcessing, updated.Status)
	assert.Equal(t, 90, updated.ProgressPercent)
}

func TestCancelVideo(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	assembler := newTestAssembler(&test.TTSMock{}, &test.LipSyncMock{}, &test.ImageGenMock{}, &test.AWSProviderMock{})

	completed := test.FakeVideoJob(db, user, models.VideoCompleted)
	err := assembler.Cancel(db, completed)
	var stateErr *lora.InvalidStateError
	assert.ErrorAs(t, err, &stateErr)

	inFlight := test.FakeVideoJob(db, user, models.VideoGeneratingVideo)
	assert.NoError(t, assembler.Cancel(db, inFlight))

	var updated models.VideoJob
	db.First(&updated, inFlight.ID)
	assert.Equal(t, models.VideoCancelled, updated.Status)
}

func TestEstimatePricesRunesNotBytes(t *testing.T) {
	// 750 runes of cyrillic text is 1350 bytes; pricing and duration must
	// follow the character count
	script := strings.Repeat("привет еще раз!", 50)
	assert.Equal(t, 750, len([]rune(script)))

	estimate := EstimateCost(script, false)
	assert.InDelta(t, 60.0, estimate.EstimatedSeconds, 0.0001)
	assert.InDelta(t, 750*AudioPerCharRate, estimate.AudioCost, 0.0001)
	assert.InDelta(t, 60.0, EstimateDurationSeconds(script), 0.0001)
}

func TestAdvanceStopsAfterConcurrentCancel(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeVideoJob(db, user, models.VideoGeneratingAudio)

	// a cancel lands while this worker still holds the stale row
	db.Model(&models.VideoJob{}).Where("id = ?", job.ID).Update("status", models.VideoCancelled)

	tts := &test.TTSMock{Duration: 5}
	images := &test.ImageGenMock{}
	lipSync := &test.LipSyncMock{}
	assembler := newTestAssembler(tts, lipSync, images, &test.AWSProviderMock{})

	err := assembler.Advance(context.Background(), db, job)
	assert.NoError(t, err)

	// the lost audio write reloads the row and the loop stops, no further
	// billable calls are made for a cancelled job
	assert.Equal(t, models.VideoCancelled, job.Status)
	assert.Empty(t, images.GenerateCalls)
	assert.Empty(t, lipSync.Requests)

	var updated models.VideoJob
	db.First(&updated, job.ID)
	assert.Equal(t, models.VideoCancelled, updated.Status)
	assert.Nil(t, updated.AudioURL)
	assert.Equal(t, 0.0, updated.AudioCost)
}

package controllers

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"personaapi/models"
	"personaapi/test"
	"personaapi/video"

	"github.com/stretchr/testify/assert"
)

func TestEstimateVideo(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	user := test.FakeUser(env.db, nil)
	script := strings.Repeat("a", 750)

	req := test.NewJSONAuthRequest("POST", "/videos/estimate", fmt.Sprintf("%d", user.ID), EstimateVideoIn{
		Script:         script,
		GenerateAvatar: true,
	})
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)

	var estimate video.CostEstimate
	json.Unmarshal(rec.Body.Bytes(), &estimate)
	assert.InDelta(t, 60.0, estimate.EstimatedSeconds, 0.0001)
	assert.InDelta(t, 0.075+0.05+0.6+0.02, estimate.TotalCost, 0.0001)
}

func TestCreateVideoRequiresAvatarSource(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	user := test.FakeUser(env.db, nil)
	req := test.NewJSONAuthRequest("POST", "/videos", fmt.Sprintf("%d", user.ID), CreateVideoIn{
		Script:        "A script long enough to pass validation",
		VoiceProvider: "elevenlabs",
		VoiceID:       "voice-1",
	})
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 400, rec.Code)
}

func TestCreateVideoRejectsUntrainedPersona(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	user := test.FakeUser(env.db, nil)
	job := test.FakeTrainingJob(env.db, user, &user.Brands[0], models.TrainingRunning)

	req := test.NewJSONAuthRequest("POST", "/videos", fmt.Sprintf("%d", user.ID), CreateVideoIn{
		Script:        "A script long enough to pass validation",
		VoiceProvider: "elevenlabs",
		VoiceID:       "voice-1",
		TrainingJobID: &job.ID,
	})
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 409, rec.Code)
}

func TestCreateVideoRejectsForeignPersona(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	owner := test.FakeUser(env.db, nil)
	intruder := test.FakeUser(env.db, nil)
	job := test.FakeTrainingJob(env.db, owner, &owner.Brands[0], models.TrainingCompleted)

	req := test.NewJSONAuthRequest("POST", "/videos", fmt.Sprintf("%d", intruder.ID), CreateVideoIn{
		Script:        "A script long enough to pass validation",
		VoiceProvider: "elevenlabs",
		VoiceID:       "voice-1",
		TrainingJobID: &job.ID,
	})
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 404, rec.Code)
}

func TestCreateVideo(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	user := test.FakeUser(env.db, nil)
	req := test.NewJSONAuthRequest("POST", "/videos", fmt.Sprintf("%d", user.ID), CreateVideoIn{
		Script:         "Hello world, this is my generated avatar speaking",
		VoiceProvider:  "elevenlabs",
		VoiceID:        "voice-1",
		AvatarImageURL: test.NewRefString("https://fakebucketurl.com/avatar.png"),
	})
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 201, rec.Code)

	var created models.VideoJob
	json.Unmarshal(rec.Body.Bytes(), &created)
	assert.Equal(t, models.VideoPending, created.Status)
	assert.Equal(t, []string{"video"}, env.quota.Recorded)
}

func TestVideoQuotaDenied(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	user := test.FakeUser(env.db, nil)
	env.quota.Deny = true

	req := test.NewJSONAuthRequest("POST", "/videos", fmt.Sprintf("%d", user.ID), CreateVideoIn{
		Script:         "A script long enough to pass validation",
		VoiceProvider:  "elevenlabs",
		VoiceID:        "voice-1",
		AvatarImageURL: test.NewRefString("https://fakebucketurl.com/avatar.png"),
	})
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 403, rec.Code)
}

func TestVideoStatusAndCancel(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	user := test.FakeUser(env.db, nil)
	userPk := fmt.Sprintf("%d", user.ID)
	job := test.FakeVideoJob(env.db, user, models.VideoGeneratingVideo)

	req := test.NewJSONAuthRequest("GET", fmt.Sprintf("/videos/%d/status", job.ID), userPk, nil)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)

	var status JobStatusOut
	json.Unmarshal(rec.Body.Bytes(), &status)
	assert.Equal(t, "generating_video", status.Status)

	req = test.NewJSONAuthRequest("POST", fmt.Sprintf("/videos/%d/cancel", job.ID), userPk, nil)
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)

	var updated models.VideoJob
	env.db.First(&updated, job.ID)
	assert.Equal(t, models.VideoCancelled, updated.Status)

	// a finished job cannot be cancelled
	completed := test.FakeVideoJob(env.db, user, models.VideoCompleted)
	req = test.NewJSONAuthRequest("POST", fmt.Sprintf("/videos/%d/cancel", completed.ID), userPk, nil)
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 409, rec.Code)
}

func TestGetVideoReportsTotalCost(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	user := test.FakeUser(env.db, nil)
	job := test.FakeVideoJob(env.db, user, models.VideoCompleted)
	env.db.Model(job).Updates(map[string]interface{}{
		"audio_cost":  0.1,
		"avatar_cost": 0.05,
		"video_cost":  0.2,
	})

	req := test.NewJSONAuthRequest("GET", fmt.Sprintf("/videos/%d", job.ID), fmt.Sprintf("%d", user.ID), nil)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)

	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	assert.InDelta(t, 0.35, body["total_cost"].(float64), 0.0001)

	// videos are scoped to their owner
	other := test.FakeUser(env.db, nil)
	req = test.NewJSONAuthRequest("GET", fmt.Sprintf("/videos/%d", job.ID), fmt.Sprintf("%d", other.ID), nil)
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 404, rec.Code)
}

func TestGetVideoRefreshesAudioURL(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	user := test.FakeUser(env.db, nil)
	job := test.FakeVideoJob(env.db, user, models.VideoCompleted)
	audioKey := fmt.Sprintf("videos/%d/audio.mp3", job.ID)
	env.db.Model(job).Updates(map[string]interface{}{
		"audio_key": audioKey,
		"audio_url": "https://fakebucketurl.com/expired?X-Amz-Expires=900",
	})

	req := test.NewJSONAuthRequest("GET", fmt.Sprintf("/videos/%d", job.ID), fmt.Sprintf("%d", user.ID), nil)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)

	// the stored presigned URL is never served back, it is re-presigned
	// from the object key on each read
	var body struct {
		Video models.VideoJob `json:"video"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	assert.NotNil(t, body.Video.AudioURL)
	assert.Equal(t, fmt.Sprintf("https://fakebucketurl.com/%s", audioKey), *body.Video.AudioURL)
}

package lora

import (
	"context"
	"fmt"
	"testing"

	"personaapi/dbhelper"
	"personaapi/models"
	"personaapi/test"

	"github.com/stretchr/testify/assert"
)

func TestScoreAveragesSimilarity(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeTrainingJob(db, user, &user.Brands[0], models.TrainingCompleted)
	for i := 0; i < 3; i++ {
		test.FakeReferenceImage(db, job.ID, 80, true)
	}
	for i := 0; i < 2; i++ {
		sample := models.GeneratedSample{
			TrainingJobID: &job.ID,
			OwnerID:       user.ID,
			Prompt:        "test prompt",
			ImageURL:      fmt.Sprintf("https://fakebucketurl.com/sample%d.png", i),
			IsTestSample:  true,
		}
		db.Create(&sample)
	}

	scorer := NewScorer(&test.FaceClientMock{Similarity: 0.82})
	score, err := scorer.Score(context.Background(), db, job)
	assert.NoError(t, err)
	assert.InDelta(t, 82.0, score, 0.0001)

	var updated models.TrainingJob
	db.First(&updated, job.ID)
	assert.NotNil(t, updated.ConsistencyScore)
	assert.InDelta(t, 82.0, *updated.ConsistencyScore, 0.0001)

	var samples []models.GeneratedSample
	db.Where("training_job_id = ? AND is_test_sample = true", job.ID).Find(&samples)
	for _, s := range samples {
		assert.NotNil(t, s.ConsistencyScore)
		assert.InDelta(t, 82.0, *s.ConsistencyScore, 0.0001)
	}
}

func TestScoreFallsBackWhenComparisonUnavailable(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeTrainingJob(db, user, &user.Brands[0], models.TrainingCompleted)
	test.FakeReferenceImage(db, job.ID, 80, true)
	sample := models.GeneratedSample{
		TrainingJobID: &job.ID,
		OwnerID:       user.ID,
		Prompt:        "test prompt",
		ImageURL:      "https://fakebucketurl.com/sample.png",
		IsTestSample:  true,
	}
	db.Create(&sample)

	scorer := NewScorer(&test.FaceClientMock{CompareErr: fmt.Errorf("service down")})
	score, err := scorer.Score(context.Background(), db, job)
	assert.NoError(t, err)
	assert.Equal(t, FallbackSimilarityScore, score)
}

func TestScoreWithoutTestSamples(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeTrainingJob(db, user, &user.Brands[0], models.TrainingCompleted)
	test.FakeReferenceImage(db, job.ID, 80, true)

	scorer := NewScorer(&test.FaceClientMock{})
	_, err := scorer.Score(context.Background(), db, job)
	assert.ErrorIs(t, err, ErrNoTestSamples)

	var updated models.TrainingJob
	db.First(&updated, job.ID)
	assert.Nil(t, updated.ConsistencyScore)
}

func TestScoreCapsSampleFanOut(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	user := test.FakeUser(db, nil)
	job := test.FakeTrainingJob(db, user, &user.Brands[0], models.TrainingCompleted)
	test.FakeReferenceImage(db, job.ID, 80, true)
	for i := 0; i < 7; i++ {
		sample := models.GeneratedSample{
			TrainingJobID: &job.ID,
			OwnerID:       user.ID,
			Prompt:        "test prompt",
			ImageURL:      fmt.Sprintf("https://fakebucketurl.com/sample%d.png", i),
			IsTestSample:  true,
		}
		db.Create(&sample)
	}

	scorer := NewScorer(&test.FaceClientMock{Similarity: 0.9})
	_, err := scorer.Score(context.Background(), db, job)
	assert.NoError(t, err)

	var scored int64
	db.Model(&models.GeneratedSample{}).
		Where("training_job_id = ? AND consistency_score IS NOT NULL", job.ID).
		Count(&scored)
	assert.Equal(t, int64(maxScoredSamples), scored)
}

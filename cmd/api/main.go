package main

import (
	"log"
	"os"
	"time"

	"personaapi/aiapi"
	"personaapi/controllers"
	"personaapi/dbhelper"
	"personaapi/lora"
	"personaapi/services"
	"personaapi/video"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              os.Getenv("SENTRY_DSN"),
		Environment:      services.GetEnv("ENV", "local"),
		Release:          "personaapi@1.0.0",
		Debug:            false,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer sentry.Recover()
	defer sentry.Flush(2 * time.Second)

	db := dbhelper.SetupDB()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")})
	bucketName := services.GetEnv("R2_BUCKET_NAME", "")
	awsService := &services.AWSService{}
	urlCache, err := services.NewURLCacheService(awsService, bucketName)
	if err != nil {
		log.Fatal("Failed to initialize URL cache service")
	}

	preparer := lora.NewPreparer(awsService, urlCache, services.GoogleCaptionService{})
	trainer := lora.NewTrainer(aiapi.NewTrainingClient(), preparer)
	imageGen := aiapi.NewImageGenClient()
	generator := lora.NewGenerator(imageGen)
	assembler := video.NewAssembler(aiapi.NewTTSClient(), aiapi.NewLipSyncClient(), imageGen, generator, awsService)

	e := controllers.SetupServer(
		db, awsService, urlCache, asynqClient,
		trainer, generator, assembler, services.TierQuotaService{},
	)
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(3)))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	e.Logger.Fatal(e.Start(":8083"))
}

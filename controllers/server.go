package controllers

import (
	"context"
	"log"
	"net/http"
	"os"

	"personaapi/lora"
	"personaapi/models"
	"personaapi/services"
	"personaapi/video"

	"github.com/go-playground/validator"
	"github.com/hibiken/asynq"
	echojwt "github.com/labstack/echo-jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func SetupServer(
	db *gorm.DB,
	awsService services.AWSServiceProvider,
	urlCache services.URLCacheServiceProvider,
	asynqClient *asynq.Client,
	trainer *lora.Trainer,
	generator *lora.Generator,
	assembler *video.Assembler,
	quota services.QuotaService,
) *echo.Echo {

	err := awsService.InitPresignClient(context.Background())
	if err != nil {
		log.Fatal("Failed to initialize AWS provider: S3")
	}

	e := echo.New()
	v := validator.New()
	v.RegisterValidation("platform", models.ValidatePlatform)
	v.RegisterValidation("subscription", models.ValidateSubscription)
	v.RegisterValidation("trigger_token", models.ValidateTriggerToken)
	e.Validator = &CustomValidator{validator: v}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("__db", db)
			c.Set("__asynqclient", asynqClient)
			return next(c)
		}
	})

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	authController := AuthController{}
	authGroup := e.Group("auth")
	authController.AuthRoutes(authGroup)

	profileGroup := e.Group("auth", echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), UserMiddleware)
	authController.ProfileRoutes(profileGroup)

	personaController := PersonaController{
		AWSService: awsService,
		URLCache:   urlCache,
		Trainer:    trainer,
		Generator:  generator,
		Quota:      quota,
	}
	brandGroup := e.Group("/brand/:brandId", echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), BrandMiddleware)
	personaController.PersonaRoutes(brandGroup.Group("/personas"))

	videoController := VideoController{
		AWSService: awsService,
		URLCache:   urlCache,
		Assembler:  assembler,
		Quota:      quota,
	}
	videoGroup := e.Group("/videos", echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), UserMiddleware)
	videoController.VideoRoutes(videoGroup)

	return e
}

package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"personaapi/models"

	"github.com/getsentry/sentry-go"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type RegisterIn struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=100"`
	Platform string `json:"platform" validate:"required,platform"`
}

type LoginIn struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshTokenIn struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type TokenOut struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

type AuthController struct{}

func (controller *AuthController) AuthRoutes(g *echo.Group) {
	g.POST("/register", controller.Register)
	g.POST("/login", controller.Login)
	g.POST("/refresh-token", controller.RefreshToken)
}

func (controller *AuthController) ProfileRoutes(g *echo.Group) {
	g.GET("/me", controller.Me)
	g.POST("/register-push", controller.RegisterPush)
	g.POST("/delete-push", controller.DeletePush)
}

func (controller *AuthController) Register(c echo.Context) error {
	var req RegisterIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	db := c.Get("__db").(*gorm.DB)

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create account"})
	}

	user := models.UserAccount{
		Name:     req.Name,
		Email:    req.Email,
		Password: string(hashed),
		Platform: models.Platform(req.Platform),
		LastIp:   c.RealIP(),
	}
	if err := db.Create(&user).Error; err != nil {
		fmt.Println("Error creating user", err)
		return c.JSON(http.StatusConflict, map[string]string{"error": "Account with this email already exists"})
	}

	// every account starts with one default brand
	brand := models.Brand{
		Name:         fmt.Sprintf("%s's Brand", user.Name),
		OwnerID:      user.ID,
		Subscription: models.Free,
	}
	if err := db.Create(&brand).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create default brand"})
	}

	refresh, err := GenerateRefreshToken(UIntToStr(user.ID))
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to issue token"})
	}
	return c.JSON(http.StatusCreated, TokenOut{
		Token:        GenerateUserToken(UIntToStr(user.ID), c),
		RefreshToken: refresh,
	})
}

func (controller *AuthController) Login(c echo.Context) error {
	var req LoginIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	db := c.Get("__db").(*gorm.DB)

	var user models.UserAccount
	result := db.Where("email = ?", req.Email).Take(&user)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid email or password"})
	}
	if result.Error != nil {
		sentry.CaptureException(result.Error)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to log in"})
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid email or password"})
	}
	if user.Banned {
		return echo.NewHTTPError(http.StatusLocked)
	}

	db.Model(&user).Update("last_ip", c.RealIP())

	refresh, err := GenerateRefreshToken(UIntToStr(user.ID))
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to issue token"})
	}
	return c.JSON(http.StatusOK, TokenOut{
		Token:        GenerateUserToken(UIntToStr(user.ID), c),
		RefreshToken: refresh,
	})
}

func (controller *AuthController) RefreshToken(c echo.Context) error {
	var req RefreshTokenIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	token, err := jwt.Parse(req.RefreshToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(os.Getenv("JWT_SECRET")), nil
	})
	if err != nil || !token.Valid {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid refresh token"})
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid refresh token"})
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid refresh token"})
	}

	db := c.Get("__db").(*gorm.DB)
	var user models.UserAccount
	if err := db.First(&user, sub).Error; err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Account not found"})
	}
	return c.JSON(http.StatusOK, TokenOut{
		Token:        GenerateUserToken(UIntToStr(user.ID), c),
		RefreshToken: req.RefreshToken,
	})
}

func (controller *AuthController) Me(c echo.Context) error {
	user := c.Get("currentUser").(models.UserAccount)
	return c.JSON(http.StatusOK, user)
}

func (controller *AuthController) RegisterPush(c echo.Context) error {
	var req models.UserPushIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	user := c.Get("currentUser").(models.UserAccount)
	db := c.Get("__db").(*gorm.DB)

	var existing models.UserPushToken
	result := db.Where("user_account_id = ? AND token = ?", user.ID, req.Token).Take(&existing)
	if result.Error == nil {
		db.Model(&existing).Update("active", true)
		return c.JSON(http.StatusOK, map[string]string{"message": "ok"})
	}

	pushToken := models.UserPushToken{
		UserAccountID: user.ID,
		Platform:      models.Platform(req.Platform),
		Token:         req.Token,
		Active:        true,
	}
	if err := db.Create(&pushToken).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to register push token"})
	}
	return c.JSON(http.StatusCreated, map[string]string{"message": "ok"})
}

func (controller *AuthController) DeletePush(c echo.Context) error {
	var req models.UserPushIn
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	user := c.Get("currentUser").(models.UserAccount)
	db := c.Get("__db").(*gorm.DB)

	db.Model(&models.UserPushToken{}).
		Where("user_account_id = ? AND token = ?", user.ID, req.Token).
		Update("active", false)
	return c.JSON(http.StatusOK, map[string]string{"message": "ok"})
}

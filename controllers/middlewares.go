package controllers

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"personaapi/models"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

func UserMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		db := c.Get("__db").(*gorm.DB)
		userRaw := c.Get("user")
		if userRaw == nil {
			return echo.ErrUnauthorized
		}
		user := userRaw.(*jwt.Token)
		claims := user.Claims.(jwt.MapClaims)
		userId := claims["sub"]
		if userId == nil || userId == "" {
			log.Println("Error while getting the token information!")
			return echo.ErrUnauthorized
		}

		var currentUser models.UserAccount
		result := db.Preload("Brands").First(&currentUser, userId)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return echo.ErrUnauthorized
		}
		if result.Error != nil {
			fmt.Println("Failed to fetch user", result.Error)
			return echo.ErrInternalServerError
		}
		if currentUser.Banned {
			return echo.NewHTTPError(http.StatusLocked)
		}
		c.Set("currentUser", currentUser)
		return next(c)
	}
}

// BrandMiddleware resolves the :brandId path param and verifies the current
// user owns that brand before any persona or video route runs.
func BrandMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		db := c.Get("__db").(*gorm.DB)
		var brandId uint
		if err := echo.PathParamsBinder(c).Uint("brandId", &brandId).BindError(); err != nil {
			return echo.ErrBadRequest
		}

		userRaw := c.Get("user")
		if userRaw == nil {
			return echo.ErrUnauthorized
		}
		user := userRaw.(*jwt.Token)
		claims := user.Claims.(jwt.MapClaims)
		userId := claims["sub"]
		if userId == nil || userId == "" {
			log.Println("Error while getting the token information!")
			return echo.ErrUnauthorized
		}

		var currentUser models.UserAccount
		result := db.Where("ID = ?", userId).Take(&currentUser)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return echo.ErrNotFound
		}
		if result.Error != nil {
			fmt.Println("Failed to fetch user", result.Error)
			return echo.ErrInternalServerError
		}
		if currentUser.Banned {
			return echo.NewHTTPError(http.StatusLocked)
		}

		var brand models.Brand
		result = db.Where("id = ? AND owner_id = ?", brandId, currentUser.ID).Take(&brand)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return echo.ErrNotFound
		}
		if result.Error != nil {
			fmt.Println("Failed to fetch brand", result.Error)
			return echo.ErrInternalServerError
		}
		if !brand.Active {
			return echo.NewHTTPError(http.StatusLocked)
		}

		c.Set("currentUser", currentUser)
		c.Set("currentBrand", brand)
		return next(c)
	}
}

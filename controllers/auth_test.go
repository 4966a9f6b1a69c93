package controllers

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"personaapi/models"
	"personaapi/test"

	"github.com/stretchr/testify/assert"
)

func TestRegisterCreatesAccountWithDefaultBrand(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	req := test.NewJSONRequest("POST", "/auth/register", RegisterIn{
		Name:     "New User",
		Email:    "newuser@example.com",
		Password: "supersecret1",
		Platform: "ios",
	})
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 201, rec.Code)

	var tokens TokenOut
	json.Unmarshal(rec.Body.Bytes(), &tokens)
	assert.NotEmpty(t, tokens.Token)
	assert.NotEmpty(t, tokens.RefreshToken)

	var user models.UserAccount
	env.db.Preload("Brands").Where("email = ?", "newuser@example.com").First(&user)
	assert.Len(t, user.Brands, 1)
	assert.Equal(t, models.Free, user.Brands[0].Subscription)

	// the issued token works against the profile endpoint
	meReq := test.NewJSONAuthRequest("GET", "/auth/me", fmt.Sprintf("%d", user.ID), nil)
	meRec := httptest.NewRecorder()
	env.e.ServeHTTP(meRec, meReq)
	assert.Equal(t, 200, meRec.Code)

	// duplicate email is rejected
	req = test.NewJSONRequest("POST", "/auth/register", RegisterIn{
		Name:     "Other User",
		Email:    "newuser@example.com",
		Password: "supersecret2",
		Platform: "android",
	})
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 409, rec.Code)
}

func TestLogin(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	req := test.NewJSONRequest("POST", "/auth/register", RegisterIn{
		Name:     "Login User",
		Email:    "login@example.com",
		Password: "supersecret1",
		Platform: "web",
	})
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 201, rec.Code)

	req = test.NewJSONRequest("POST", "/auth/login", LoginIn{
		Email:    "login@example.com",
		Password: "supersecret1",
	})
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)

	var tokens TokenOut
	json.Unmarshal(rec.Body.Bytes(), &tokens)
	assert.NotEmpty(t, tokens.Token)

	req = test.NewJSONRequest("POST", "/auth/login", LoginIn{
		Email:    "login@example.com",
		Password: "wrongpassword",
	})
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 401, rec.Code)

	// refresh token exchanges for a fresh access token
	req = test.NewJSONRequest("POST", "/auth/refresh-token", RefreshTokenIn{
		RefreshToken: tokens.RefreshToken,
	})
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}

func TestBannedUserIsLocked(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	user := test.FakeUser(env.db, nil)
	env.db.Model(user).Update("banned", true)

	req := test.NewJSONAuthRequest("GET", "/auth/me", fmt.Sprintf("%d", user.ID), nil)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 423, rec.Code)
}

func TestPushTokenLifecycle(t *testing.T) {
	env, cleanup := setupEnv(t)
	defer cleanup()

	user := test.FakeUser(env.db, nil)
	userPk := fmt.Sprintf("%d", user.ID)

	req := test.NewJSONAuthRequest("POST", "/auth/register-push", userPk, models.UserPushIn{
		Token:    "device-token-1",
		Platform: "ios",
	})
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 201, rec.Code)

	// registering the same token again reactivates instead of duplicating
	req = test.NewJSONAuthRequest("POST", "/auth/register-push", userPk, models.UserPushIn{
		Token:    "device-token-1",
		Platform: "ios",
	})
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)

	req = test.NewJSONAuthRequest("POST", "/auth/delete-push", userPk, models.UserPushIn{
		Token:    "device-token-1",
		Platform: "ios",
	})
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)

	var pushToken models.UserPushToken
	env.db.Where("user_account_id = ? AND token = ?", user.ID, "device-token-1").First(&pushToken)
	assert.False(t, pushToken.Active)
}

package test

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"personaapi/models"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func JsonString(model interface{}) string {
	bytes, _ := json.Marshal(model)
	return string(bytes)
}

func NewJSONRequest(method string, target string, param interface{}) *http.Request {

	req := httptest.NewRequest(method, target, strings.NewReader(JsonString(param)))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	return req
}

func GenerateUserToken(userPk string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userPk,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * 72)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	t, err := token.SignedString([]byte(os.Getenv("JWT_SECRET")))
	if err != nil {
		log.Fatalf("Error when signing user token for %s. Error %s ", userPk, err)
	}
	return t
}

func NewJSONAuthRequest(method string, target string, userPk string, param interface{}) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(JsonString(param)))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	token := GenerateUserToken(userPk)
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	return req
}

func NewJSONAuthRequestRaw(method string, target string, userPk string, json string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(json))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	token := GenerateUserToken(userPk)
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	return req
}

func Int64Pointer(i int64) *int64 {
	return &i
}

func NewRefString(data string) *string {
	return &data
}

func Contains(items []string, lookFor string) bool {

	for i := 0; i < len(items); i++ {

		if items[i] == lookFor {
			return true
		}
	}
	return false
}

// FakeUser creates a user with one active brand and a push token, the minimum
// fixture nearly every test starts from.
func FakeUser(db *gorm.DB, brand *models.Brand) *models.UserAccount {
	hashed, _ := bcrypt.GenerateFromPassword([]byte("testpassword"), bcrypt.MinCost)
	user := &models.UserAccount{
		Name:     "OurName",
		Email:    fmt.Sprintf("email%d@example.com", time.Now().UnixNano()),
		Password: string(hashed),
		Platform: models.PlatformIOS,
		LastIp:   "123.122.122.122",
		Status:   "FINISHED_AUTH",
	}
	db.Create(&user)

	if brand == nil {
		brand = &models.Brand{
			Name:         "My Brand",
			OwnerID:      user.ID,
			Subscription: models.Free,
			Active:       true,
		}
		db.Create(&brand)
	}
	tokenDb := models.UserPushToken{
		UserAccountID: user.ID,
		Platform:      "android",
		Token:         "cX-UZ3zwQEiPt-2GJkG2gA:APA91bGqRflaGrJrnynhRwZ442HdgUjVcO7mWMFnx6IwAdJ9RRKopvSP4QU7hbvTmk1XAp8XGvtHZLvo5JmOPTVKBbGqqvhfbZWKlXA9csEjx1hgpNvrWepU",
		Active:        true,
	}
	db.Save(&tokenDb)
	db.Preload("Brands").First(&user, user.ID)

	return user
}

func FakeBrand(db *gorm.DB, ownerID uint, subscription models.Subscription) *models.Brand {
	brand := &models.Brand{
		Name:         "Second Brand",
		OwnerID:      ownerID,
		Subscription: subscription,
		Active:       true,
	}
	db.Create(&brand)
	return brand
}

// FakeTrainingJob creates a persona in the given status. Completed jobs get
// weights so sample generation against them works.
func FakeTrainingJob(db *gorm.DB, user *models.UserAccount, brand *models.Brand, status models.TrainingStatus) *models.TrainingJob {
	job := &models.TrainingJob{
		Name:         "Test Persona",
		OwnerID:      user.ID,
		BrandID:      brand.ID,
		TriggerToken: fmt.Sprintf("TOK%d", time.Now().UnixNano()%1000000),
		BaseModel:    "flux-dev",
		Steps:        1000,
		LearningRate: 0.0004,
		Rank:         16,
		Resolution:   1024,
		Status:       status,
	}
	if status == models.TrainingCompleted {
		job.WeightsURL = NewRefString("https://fakebucketurl.com/weights/test.safetensors")
		job.ProgressPercent = 100
	}
	db.Create(&job)
	return job
}

// FakeReferenceImage creates an already-validated image attached to a job.
func FakeReferenceImage(db *gorm.DB, jobID uint, quality float64, valid bool) *models.ReferenceImage {
	img := &models.ReferenceImage{
		TrainingJobID:  jobID,
		SourceURL:      fmt.Sprintf("https://fakebucketurl.com/refs/%d.jpg", time.Now().UnixNano()),
		Validated:      true,
		IsValid:        valid,
		IsIncluded:     valid,
		QualityScore:   quality,
		FaceDetected:   valid,
		FaceConfidence: 0.95,
		Width:          1024,
		Height:         1280,
		FileSize:       600 * 1024,
		Format:         "jpeg",
	}
	db.Create(&img)
	return img
}

func FakeVideoJob(db *gorm.DB, user *models.UserAccount, status models.VideoStatus) *models.VideoJob {
	job := &models.VideoJob{
		OwnerID:        user.ID,
		Script:         "Hello and welcome to our channel, today we talk about consistency.",
		VoiceProvider:  "elevenlabs",
		VoiceID:        "test-voice",
		AvatarImageURL: NewRefString("https://fakebucketurl.com/avatars/ref.png"),
		Status:         status,
	}
	db.Create(&job)
	return job
}

package models

import "time"

type UserAccount struct {
	JsonModel
	Name     string `json:"name"`
	Email    string `json:"email" gorm:"unique"`
	Password string `json:"-"`
	Banned   bool   `gorm:"default:false" json:"-"`
	LastIp   string `json:"-"`
	Status   string `json:"-"`

	Platform     Platform   `sql:"type:ENUM('ios', 'android', 'web')" json:"platform"`
	Subscription *string    `json:"subscription"`
	TrialEndDate *time.Time `json:"-"`

	Brands []Brand `gorm:"foreignKey:OwnerID" json:"brands"`

	ReceiveNotifications bool `json:"receive_notifications"`
	IsSuperadmin         bool `json:"-"`

	AvatarURL string `json:"avatar_url"`
}

type UserPushToken struct {
	JsonModel
	UserAccountID uint
	UserAccount   UserAccount `json:"user_account"`
	Platform      Platform    `sql:"type:ENUM('ios', 'android', 'web')" json:"platform"`
	Token         string      `json:"token"`
	Active        bool        `gorm:"default:false" json:"-"`
}

type UserPushIn struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// Brand is the tenant scope ("brand persona" owner): all training jobs and
// generated content belong to exactly one brand of one user.
type Brand struct {
	JsonModel
	Name         string       `json:"name"`
	Description  *string      `gorm:"type:text" json:"description"`
	Owner        UserAccount  `json:"-"`
	OwnerID      uint         `json:"-"`
	Subscription Subscription `json:"subscription"`
	Active       bool         `gorm:"default:true" json:"active"`

	// admin-set overrides on top of the subscription tier defaults
	EnforcedDailyTrainingLimit   *int32 `json:"enforced_daily_training_limit"`
	EnforcedDailyGenerationLimit *int32 `json:"enforced_daily_generation_limit"`
	EnforcedDailyVideoLimit      *int32 `json:"enforced_daily_video_limit"`
}

// UsageRecord tracks billable remote calls, written after each successful
// paid operation.
type UsageRecord struct {
	JsonModel
	UserAccountID uint        `json:"-"`
	UserAccount   UserAccount `json:"-"`
	Kind          string      `json:"kind"` // training, generation, video
	Amount        int         `json:"amount"`
	Cost          float64     `json:"cost"`
}

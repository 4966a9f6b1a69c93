package services

import (
	"fmt"
	"time"

	"personaapi/models"

	"gorm.io/gorm"
)

const (
	UsageKindTraining   = "training"
	UsageKindGeneration = "generation"
	UsageKindVideo      = "video"
)

// QuotaService is the billing collaborator boundary: the pipeline only asks
// "may I" before paid work and reports usage after, it never manages billing
// state itself.
type QuotaService interface {
	CheckLimit(db *gorm.DB, user *models.UserAccount, brand *models.Brand, kind string) (bool, int64, error)
	RecordUsage(db *gorm.DB, userID uint, kind string, amount int, cost float64) error
}

// tier defaults per day; admin-enforced overrides on the brand win
var freeTierDailyLimits = map[string]int64{
	UsageKindTraining:   1,
	UsageKindGeneration: 10,
	UsageKindVideo:      2,
}

var proTierDailyLimits = map[string]int64{
	UsageKindTraining:   5,
	UsageKindGeneration: 200,
	UsageKindVideo:      50,
}

type TierQuotaService struct{}

func (q TierQuotaService) CheckLimit(db *gorm.DB, user *models.UserAccount, brand *models.Brand, kind string) (bool, int64, error) {
	limit := q.dailyLimit(brand, kind)
	if limit < 0 {
		return true, -1, nil
	}

	var usedToday int64
	today := time.Now().UTC().Format("2006-01-02")
	err := db.Model(&models.UsageRecord{}).
		Where("user_account_id = ? AND kind = ? AND DATE(created_at) = ?", user.ID, kind, today).
		Count(&usedToday).Error
	if err != nil {
		return false, 0, fmt.Errorf("failed to count %s usage: %v", kind, err)
	}
	remaining := limit - usedToday
	if remaining < 0 {
		remaining = 0
	}
	return usedToday < limit, remaining, nil
}

func (q TierQuotaService) dailyLimit(brand *models.Brand, kind string) int64 {
	var enforced *int32
	switch kind {
	case UsageKindTraining:
		enforced = brand.EnforcedDailyTrainingLimit
	case UsageKindGeneration:
		enforced = brand.EnforcedDailyGenerationLimit
	case UsageKindVideo:
		enforced = brand.EnforcedDailyVideoLimit
	}
	if enforced != nil {
		return int64(*enforced)
	}
	switch brand.Subscription {
	case models.Pro, models.ProPlus, models.Trial:
		return proTierDailyLimits[kind]
	default:
		return freeTierDailyLimits[kind]
	}
}

func (q TierQuotaService) RecordUsage(db *gorm.DB, userID uint, kind string, amount int, cost float64) error {
	record := models.UsageRecord{
		UserAccountID: userID,
		Kind:          kind,
		Amount:        amount,
		Cost:          cost,
	}
	return db.Create(&record).Error
}

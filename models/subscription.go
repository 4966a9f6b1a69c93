package models

import (
	"regexp"

	"github.com/go-playground/validator"
)

type Subscription string

const (
	Free    Subscription = "free"
	Trial   Subscription = "trial"
	Pro     Subscription = "pro"
	ProPlus Subscription = "pro_plus"
)

func (l *Subscription) Scan(value interface{}) error {
	*l = Subscription(value.(string))
	return nil
}

func (l Subscription) Value() (string, error) {
	return string(l), nil
}

func ValidateSubscription(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	matched, _ := regexp.MatchString("^free|trial|pro|pro_plus$", string(value))
	return matched
}

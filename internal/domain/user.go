// Package domain holds the records shared by the dispatch components.
package domain

import (
	"fmt"
	"sync"

	validator "github.com/go-playground/validator/v10"
)

// User describes a recipient of notifications and payouts.
type User struct {
	ID              string   `json:"id" validate:"required"`
	Name            string   `json:"name"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Language        string   `json:"language" validate:"omitempty,bcp47_language_tag"`
	Timezone        string   `json:"timezone" validate:"omitempty,timezone"`
	Region          string   `json:"region" validate:"omitempty,iso3166_1_alpha2"`
	PushChannels    []string `json:"pushChannels"`
	PaymentChannels []string `json:"paymentChannels"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the user's field constraints.
func (u User) Validate() error {
	if err := validatorInstance().Struct(u); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	return nil
}

// HasPaymentChannel reports whether channel is among the user's enabled payment channels.
func (u User) HasPaymentChannel(channel string) bool {
	for _, c := range u.PaymentChannels {
		if c == channel {
			return true
		}
	}
	return false
}

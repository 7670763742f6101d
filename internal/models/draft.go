package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/luyichen/pikapost/internal/common"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PostcardDraft is the input of the two-step postcard creation: the entity
// fields plus the relationship fields for the creating user.
type PostcardDraft struct {
	Title       string `validate:"required,max=120"`
	Location    string `validate:"required,max=120"`
	Country     string `validate:"max=60"`
	ImageURL    string `validate:"required,url"`
	Description string `validate:"max=2000"`
	Color       string `validate:"omitempty,hexcolor"`
	Category    string `validate:"max=20"`
	IsSpecial   bool

	CollectedDate time.Time `validate:"required"`
	SentTo        []string  `validate:"dive,required,max=60"`
}

// Validate checks the draft and wraps failures in common.ErrValidation.
func (d PostcardDraft) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return nil
}

// Normalized returns a copy with documented defaults filled in.
func (d PostcardDraft) Normalized() PostcardDraft {
	if d.Color == "" {
		d.Color = DefaultColor
	}
	if d.Category == "" {
		d.Category = DefaultCategory
	}
	return d
}

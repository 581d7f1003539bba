// Package models contains shared data models used across the platewise codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MealTypeBreakfast = "breakfast"
	MealTypeLunch     = "lunch"
	MealTypeDinner    = "dinner"
	MealTypeSnack     = "snack"
)

// DateLayout is the calendar-day format used in URLs and query parameters.
const DateLayout = "2006-01-02"

// Meal is one batch of photos uploaded together for a single eating occasion.
type Meal struct {
	ID        uuid.UUID   `db:"id"         json:"id"`
	UserID    uuid.UUID   `db:"user_id"    json:"user_id"`
	Date      time.Time   `db:"date"       json:"date"`
	Type      string      `db:"type"       json:"type"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
	Items     []*MealItem `db:"-"          json:"items,omitempty"`
}

// MealItem is a single photo within a meal. It is immutable once created,
// apart from the analysis attached to it.
type MealItem struct {
	ID        uuid.UUID         `db:"id"         json:"id"`
	MealID    uuid.UUID         `db:"meal_id"    json:"meal_id"`
	ImageName string            `db:"image_name" json:"image_name"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	Analysis  *MealItemAnalysis `db:"-"          json:"analysis,omitempty"`
}

// ValidMealType reports whether t is one of the known meal types.
func ValidMealType(t string) bool {
	switch t {
	case MealTypeBreakfast, MealTypeLunch, MealTypeDinner, MealTypeSnack:
		return true
	}
	return false
}

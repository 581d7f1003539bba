package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/platewise/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetSessionsByPrefix(ctx context.Context, prefix string) ([]*models.Session, error)
	UpdateSessionLastUsed(ctx context.Context, id uuid.UUID) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	CreateMeal(ctx context.Context, meal *models.Meal, items []*models.MealItem) error
	GetMeal(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Meal, error)
	ListMeals(ctx context.Context, filter MealFilter) ([]*models.Meal, error)
	DeleteMeal(ctx context.Context, id uuid.UUID, userID uuid.UUID) ([]string, error)

	GetMealItem(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.MealItem, error)
	CreateMealItemAnalysis(ctx context.Context, a *models.MealItemAnalysis) error
}

// MealFilter selects a user's meals. Zero-valued fields do not filter.
type MealFilter struct {
	UserID uuid.UUID
	Date   time.Time
	Type   string
	Limit  int
}

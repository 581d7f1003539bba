package handler

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/platewise/internal/store"
	"github.com/kiranshivaraju/platewise/pkg/models"
)

// MealStore is the persistence the meal and analysis handlers depend on.
type MealStore interface {
	CreateMeal(ctx context.Context, meal *models.Meal, items []*models.MealItem) error
	GetMeal(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Meal, error)
	ListMeals(ctx context.Context, filter store.MealFilter) ([]*models.Meal, error)
	DeleteMeal(ctx context.Context, id uuid.UUID, userID uuid.UUID) ([]string, error)
	GetMealItem(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.MealItem, error)
}

// ImageStore holds the uploaded photos.
type ImageStore interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, string, error)
	Remove(ctx context.Context, name string) error
	URL(name string) string
}

// Locker grants short exclusive leases on a key.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

type mealView struct {
	ID        uuid.UUID  `json:"id"`
	Date      string     `json:"date"`
	Type      string     `json:"type"`
	CreatedAt time.Time  `json:"created_at"`
	Items     []itemView `json:"items"`
}

type itemView struct {
	ID        uuid.UUID                `json:"id"`
	ImageName string                   `json:"image_name"`
	ImageURL  string                   `json:"image_url"`
	Analysis  *models.MealItemAnalysis `json:"analysis"`
}

func newMealView(m *models.Meal, images ImageStore) mealView {
	v := mealView{
		ID:        m.ID,
		Date:      m.Date.Format(models.DateLayout),
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
		Items:     make([]itemView, 0, len(m.Items)),
	}
	for _, it := range m.Items {
		v.Items = append(v.Items, itemView{
			ID:        it.ID,
			ImageName: it.ImageName,
			ImageURL:  images.URL(it.ImageName),
			Analysis:  it.Analysis,
		})
	}
	return v
}

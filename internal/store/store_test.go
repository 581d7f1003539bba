package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/platewise/internal/store"
	"github.com/kiranshivaraju/platewise/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("platewise_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func seedUser(t *testing.T, s *store.PostgresStore) *models.User {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := &models.User{
		ID:           uuid.New(),
		Email:        uuid.NewString() + "@example.com",
		Name:         "Test User",
		IsRegistered: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func seedMeal(t *testing.T, s *store.PostgresStore, userID uuid.UUID, day time.Time, mealType string, images ...string) *models.Meal {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	meal := &models.Meal{
		ID:        uuid.New(),
		UserID:    userID,
		Date:      day,
		Type:      mealType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var items []*models.MealItem
	for i, img := range images {
		items = append(items, &models.MealItem{
			ID:        uuid.New(),
			MealID:    meal.ID,
			ImageName: img,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
	}
	require.NoError(t, s.CreateMeal(context.Background(), meal, items))
	return meal
}

func ptr(f float64) *float64 { return &f }

// --- Users & Sessions ---

func TestUserAndSessions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	s := store.NewPostgresStore(setupTestDB(t))

	u := seedUser(t, s)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
	assert.True(t, got.IsRegistered)

	_, err = s.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	dup := *u
	dup.ID = uuid.New()
	assert.ErrorIs(t, s.CreateUser(ctx, &dup), store.ErrDuplicateKey)

	active := &models.Session{
		ID:          uuid.New(),
		UserID:      u.ID,
		TokenHash:   "$2a$10$hash",
		TokenPrefix: "abcd1234",
		ExpiresAt:   time.Now().Add(time.Hour),
		CreatedAt:   time.Now(),
	}
	expired := &models.Session{
		ID:          uuid.New(),
		UserID:      u.ID,
		TokenHash:   "$2a$10$old",
		TokenPrefix: "abcd1234",
		ExpiresAt:   time.Now().Add(-time.Hour),
		CreatedAt:   time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, active))
	require.NoError(t, s.CreateSession(ctx, expired))

	sessions, err := s.GetSessionsByPrefix(ctx, "abcd1234")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, active.ID, sessions[0].ID)
	assert.Nil(t, sessions[0].LastUsedAt)

	require.NoError(t, s.UpdateSessionLastUsed(ctx, active.ID))
	sessions, err = s.GetSessionsByPrefix(ctx, "abcd1234")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.NotNil(t, sessions[0].LastUsedAt)

	sessions, err = s.GetSessionsByPrefix(ctx, "zzzz0000")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

// --- Meals ---

func TestCreateAndGetMeal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	s := store.NewPostgresStore(setupTestDB(t))
	u := seedUser(t, s)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	meal := seedMeal(t, s, u.ID, day, models.MealTypeLunch, "a.jpg", "b.jpg")

	got, err := s.GetMeal(ctx, meal.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MealTypeLunch, got.Type)
	assert.Equal(t, "2026-03-14", got.Date.Format(models.DateLayout))
	require.Len(t, got.Items, 2)
	assert.Equal(t, "a.jpg", got.Items[0].ImageName)
	assert.Equal(t, "b.jpg", got.Items[1].ImageName)
	assert.Nil(t, got.Items[0].Analysis)

	other := seedUser(t, s)
	_, err = s.GetMeal(ctx, meal.ID, other.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListMeals(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	s := store.NewPostgresStore(setupTestDB(t))
	u := seedUser(t, s)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	seedMeal(t, s, u.ID, day, models.MealTypeBreakfast, "b1.jpg")
	seedMeal(t, s, u.ID, day, models.MealTypeDinner, "d1.jpg", "d2.jpg")
	seedMeal(t, s, u.ID, day.AddDate(0, 0, 1), models.MealTypeLunch, "l1.jpg")
	seedMeal(t, s, seedUser(t, s).ID, day, models.MealTypeLunch, "x.jpg")

	meals, err := s.ListMeals(ctx, store.MealFilter{UserID: u.ID, Date: day})
	require.NoError(t, err)
	require.Len(t, meals, 2)
	assert.Equal(t, models.MealTypeBreakfast, meals[0].Type)
	assert.Len(t, meals[0].Items, 1)
	assert.Len(t, meals[1].Items, 2)

	meals, err = s.ListMeals(ctx, store.MealFilter{UserID: u.ID, Date: day, Type: models.MealTypeDinner})
	require.NoError(t, err)
	require.Len(t, meals, 1)
	assert.Equal(t, models.MealTypeDinner, meals[0].Type)

	meals, err = s.ListMeals(ctx, store.MealFilter{UserID: u.ID})
	require.NoError(t, err)
	assert.Len(t, meals, 3)

	meals, err = s.ListMeals(ctx, store.MealFilter{UserID: u.ID, Date: day.AddDate(0, 0, 7)})
	require.NoError(t, err)
	assert.Empty(t, meals)
}

func TestDeleteMeal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	s := store.NewPostgresStore(setupTestDB(t))
	u := seedUser(t, s)
	meal := seedMeal(t, s, u.ID, time.Now().UTC(), models.MealTypeSnack, "s1.jpg", "s2.jpg")

	require.NoError(t, s.CreateMealItemAnalysis(ctx,
		models.NewMealItemAnalysis(meal.Items[0].ID, models.AnalysisResult{FoodName: "apple"})))

	_, err := s.DeleteMeal(ctx, meal.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	images, err := s.DeleteMeal(ctx, meal.ID, u.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1.jpg", "s2.jpg"}, images)

	_, err = s.GetMeal(ctx, meal.ID, u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetMealItem(ctx, meal.Items[0].ID, u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Analyses ---

func TestCreateMealItemAnalysis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	s := store.NewPostgresStore(setupTestDB(t))
	u := seedUser(t, s)
	meal := seedMeal(t, s, u.ID, time.Now().UTC(), models.MealTypeLunch, "rice.jpg")
	itemID := meal.Items[0].ID

	item, err := s.GetMealItem(ctx, itemID, u.ID)
	require.NoError(t, err)
	assert.Nil(t, item.Analysis)

	res := models.AnalysisResult{
		FoodName:   "rice",
		Confidence: ptr(0.9),
		Nutrition:  &models.Nutrition{CaloriesKcal: ptr(200), ProteinG: ptr(4.2)},
	}
	require.NoError(t, s.CreateMealItemAnalysis(ctx, models.NewMealItemAnalysis(itemID, res)))

	item, err = s.GetMealItem(ctx, itemID, u.ID)
	require.NoError(t, err)
	require.NotNil(t, item.Analysis)
	a := item.Analysis
	assert.Equal(t, itemID, a.MealItemID)
	assert.Equal(t, "rice", a.FoodName)
	require.NotNil(t, a.Confidence)
	assert.InDelta(t, 0.9, *a.Confidence, 1e-9)
	require.NotNil(t, a.CaloriesKcal)
	assert.InDelta(t, 200, *a.CaloriesKcal, 1e-9)
	assert.Nil(t, a.FatG, "absent nutrients must stay NULL")
	assert.Nil(t, a.VolumeMl)

	err = s.CreateMealItemAnalysis(ctx, models.NewMealItemAnalysis(itemID, res))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	err = s.CreateMealItemAnalysis(ctx, models.NewMealItemAnalysis(uuid.New(), res))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetMealItem_Ownership(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	s := store.NewPostgresStore(setupTestDB(t))
	owner := seedUser(t, s)
	stranger := seedUser(t, s)
	meal := seedMeal(t, s, owner.ID, time.Now().UTC(), models.MealTypeDinner, "pasta.jpg")

	_, err := s.GetMealItem(ctx, meal.Items[0].ID, stranger.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetMealItem(ctx, uuid.New(), owner.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	assert.NoError(t, s.Ping(context.Background()))
}

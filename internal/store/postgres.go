package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/platewise/pkg/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	defaultMealLimit = 50
	maxMealLimit     = 200
)

const mealColumns = "id, user_id, date, type, created_at, updated_at"

const analysisColumns = `id, meal_item_id, food_name, confidence, volume_ml, mass_g,
	calories_kcal, protein_g, fat_g, carbs_g, water_g, sugars_g, dietary_fiber_g,
	sodium_mg, cholesterol_mg, saturated_fat_g, calcium_mg, iron_mg, vitamin_a_ug,
	vitamin_c_mg, created_at`

const joinedAnalysisColumns = `a.id, a.meal_item_id, a.food_name, a.confidence, a.volume_ml, a.mass_g,
	a.calories_kcal, a.protein_g, a.fat_g, a.carbs_g, a.water_g, a.sugars_g, a.dietary_fiber_g,
	a.sodium_mg, a.cholesterol_mg, a.saturated_fat_g, a.calcium_mg, a.iron_mg, a.vitamin_a_ug,
	a.vitamin_c_mg, a.created_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users & Sessions ---

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, is_registered, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.IsRegistered, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetSessionsByPrefix(ctx context.Context, prefix string) ([]*models.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, token_hash, token_prefix, expires_at, last_used_at, created_at
		 FROM sessions WHERE token_prefix = $1 AND expires_at > NOW()`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get sessions by prefix: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var ss models.Session
		if err := rows.Scan(&ss.ID, &ss.UserID, &ss.TokenHash, &ss.TokenPrefix,
			&ss.ExpiresAt, &ss.LastUsedAt, &ss.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, &ss)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) UpdateSessionLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update session last used: %w", err)
	}
	return nil
}

// --- Meals ---

// CreateMeal inserts the meal and its items in one transaction.
func (s *PostgresStore) CreateMeal(ctx context.Context, meal *models.Meal, items []*models.MealItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create meal: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO meals (id, user_id, date, type, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		meal.ID, meal.UserID, meal.Date, meal.Type, meal.CreatedAt, meal.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create meal: %w", err)
	}

	for _, it := range items {
		_, err = tx.Exec(ctx,
			`INSERT INTO meal_items (id, meal_id, image_name, created_at) VALUES ($1, $2, $3, $4)`,
			it.ID, meal.ID, it.ImageName, it.CreatedAt)
		if err != nil {
			return fmt.Errorf("create meal item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create meal: %w", err)
	}
	meal.Items = items
	return nil
}

// GetMeal returns the meal with its items and their analyses.
func (s *PostgresStore) GetMeal(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Meal, error) {
	var m models.Meal
	err := s.pool.QueryRow(ctx,
		`SELECT `+mealColumns+` FROM meals WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&m.ID, &m.UserID, &m.Date, &m.Type, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get meal: %w", err)
	}

	items, err := s.itemsByMeal(ctx, []uuid.UUID{m.ID})
	if err != nil {
		return nil, err
	}
	m.Items = items[m.ID]
	return &m, nil
}

// ListMeals returns the user's meals matching filter, newest day first, with
// items and analyses attached.
func (s *PostgresStore) ListMeals(ctx context.Context, filter MealFilter) ([]*models.Meal, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultMealLimit
	}
	if limit > maxMealLimit {
		limit = maxMealLimit
	}

	q := psql.Select(mealColumns).From("meals").Where(sq.Eq{"user_id": filter.UserID})
	if !filter.Date.IsZero() {
		q = q.Where(sq.Eq{"date": filter.Date})
	}
	if filter.Type != "" {
		q = q.Where(sq.Eq{"type": filter.Type})
	}
	q = q.OrderBy("date DESC", "created_at ASC").Limit(uint64(limit))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list meals query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}
	defer rows.Close()

	meals := []*models.Meal{}
	var ids []uuid.UUID
	for rows.Next() {
		var m models.Meal
		if err := rows.Scan(&m.ID, &m.UserID, &m.Date, &m.Type, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan meal: %w", err)
		}
		meals = append(meals, &m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}
	if len(ids) == 0 {
		return meals, nil
	}

	items, err := s.itemsByMeal(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range meals {
		m.Items = items[m.ID]
	}
	return meals, nil
}

// DeleteMeal removes an owned meal; items and analyses cascade. It returns the
// image names of the removed items so the caller can clean up storage.
func (s *PostgresStore) DeleteMeal(ctx context.Context, id uuid.UUID, userID uuid.UUID) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin delete meal: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT i.image_name FROM meal_items i JOIN meals m ON m.id = i.meal_id
		 WHERE m.id = $1 AND m.user_id = $2`, id, userID)
	if err != nil {
		return nil, fmt.Errorf("list meal images: %w", err)
	}
	images, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan meal images: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM meals WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return nil, fmt.Errorf("delete meal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delete meal: %w", err)
	}
	return images, nil
}

// --- Meal items & analyses ---

// GetMealItem returns the item only if its meal belongs to userID, with its
// analysis attached when one exists.
func (s *PostgresStore) GetMealItem(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.MealItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT i.id, i.meal_id, i.image_name, i.created_at, `+joinedAnalysisColumns+`
		 FROM meal_items i
		 JOIN meals m ON m.id = i.meal_id
		 LEFT JOIN meal_item_analyses a ON a.meal_item_id = i.id
		 WHERE i.id = $1 AND m.user_id = $2`, id, userID)
	if err != nil {
		return nil, fmt.Errorf("get meal item: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, fmt.Errorf("get meal item: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

// CreateMealItemAnalysis writes the analysis record. A second record for the
// same item fails with ErrDuplicateKey; an unknown item with ErrNotFound.
func (s *PostgresStore) CreateMealItemAnalysis(ctx context.Context, a *models.MealItemAnalysis) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO meal_item_analyses (`+analysisColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		a.ID, a.MealItemID, a.FoodName, a.Confidence, a.VolumeMl, a.MassG,
		a.CaloriesKcal, a.ProteinG, a.FatG, a.CarbsG, a.WaterG, a.SugarsG, a.DietaryFiberG,
		a.SodiumMg, a.CholesterolMg, a.SaturatedFatG, a.CalciumMg, a.IronMg, a.VitaminAUg,
		a.VitaminCMg, a.CreatedAt)
	if err != nil {
		switch {
		case isDuplicateKeyError(err):
			return ErrDuplicateKey
		case isForeignKeyError(err):
			return ErrNotFound
		}
		return fmt.Errorf("create meal item analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) itemsByMeal(ctx context.Context, mealIDs []uuid.UUID) (map[uuid.UUID][]*models.MealItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT i.id, i.meal_id, i.image_name, i.created_at, `+joinedAnalysisColumns+`
		 FROM meal_items i
		 LEFT JOIN meal_item_analyses a ON a.meal_item_id = i.id
		 WHERE i.meal_id = ANY($1)
		 ORDER BY i.created_at, i.id`, mealIDs)
	if err != nil {
		return nil, fmt.Errorf("list meal items: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, fmt.Errorf("list meal items: %w", err)
	}

	byMeal := make(map[uuid.UUID][]*models.MealItem, len(mealIDs))
	for _, it := range items {
		byMeal[it.MealID] = append(byMeal[it.MealID], it)
	}
	return byMeal, nil
}

// scanItems reads item rows joined with a nullable analysis.
func scanItems(rows pgx.Rows) ([]*models.MealItem, error) {
	defer rows.Close()

	var items []*models.MealItem
	for rows.Next() {
		var (
			it        models.MealItem
			a         models.MealItemAnalysis
			aID       *uuid.UUID
			aItemID   *uuid.UUID
			foodName  *string
			createdAt *time.Time
		)
		if err := rows.Scan(&it.ID, &it.MealID, &it.ImageName, &it.CreatedAt,
			&aID, &aItemID, &foodName, &a.Confidence, &a.VolumeMl, &a.MassG,
			&a.CaloriesKcal, &a.ProteinG, &a.FatG, &a.CarbsG, &a.WaterG, &a.SugarsG, &a.DietaryFiberG,
			&a.SodiumMg, &a.CholesterolMg, &a.SaturatedFatG, &a.CalciumMg, &a.IronMg, &a.VitaminAUg,
			&a.VitaminCMg, &createdAt); err != nil {
			return nil, fmt.Errorf("scan meal item: %w", err)
		}
		if aID != nil {
			a.ID = *aID
			a.MealItemID = *aItemID
			a.FoodName = *foodName
			a.CreatedAt = *createdAt
			it.Analysis = &a
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

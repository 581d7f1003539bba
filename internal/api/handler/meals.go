package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/platewise/internal/api/middleware"
	"github.com/kiranshivaraju/platewise/internal/api/response"
	"github.com/kiranshivaraju/platewise/internal/store"
	"github.com/kiranshivaraju/platewise/pkg/models"
)

// NewGetMealHandler returns an http.HandlerFunc for GET /api/meals/{mealID}.
func NewGetMealHandler(meals MealStore, images ImageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing session", nil)
			return
		}

		mealID, err := uuid.Parse(chi.URLParam(r, "mealID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "mealID must be a valid UUID", nil)
			return
		}

		meal, err := meals.GetMeal(r.Context(), mealID, userID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Meal not found", nil)
			return
		}
		if err != nil {
			slog.Error("failed to get meal", "meal_id", mealID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, newMealView(meal, images))
	}
}

// NewListMealsHandler returns an http.HandlerFunc for GET /api/meals?date=&type=.
func NewListMealsHandler(meals MealStore, images ImageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing session", nil)
			return
		}

		q := r.URL.Query()
		filter := store.MealFilter{UserID: userID}

		if raw := q.Get("date"); raw != "" {
			date, err := time.Parse(models.DateLayout, raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "date must be YYYY-MM-DD", nil)
				return
			}
			filter.Date = date
		}
		if t := q.Get("type"); t != "" {
			if !models.ValidMealType(t) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"type must be one of breakfast, lunch, dinner, snack", nil)
				return
			}
			filter.Type = t
		}

		list, err := meals.ListMeals(r.Context(), filter)
		if err != nil {
			slog.Error("failed to list meals", "user_id", userID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		views := make([]mealView, 0, len(list))
		for _, m := range list {
			views = append(views, newMealView(m, images))
		}
		response.JSON(w, views)
	}
}

// NewDeleteMealHandler returns an http.HandlerFunc for DELETE /api/meals?mealId=.
// Stored images are removed after the rows are gone.
func NewDeleteMealHandler(meals MealStore, images ImageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing session", nil)
			return
		}

		raw := r.URL.Query().Get("mealId")
		if raw == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "mealId is required", nil)
			return
		}
		mealID, err := uuid.Parse(raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "mealId must be a valid UUID", nil)
			return
		}

		names, err := meals.DeleteMeal(r.Context(), mealID, userID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Meal not found", nil)
			return
		}
		if err != nil {
			slog.Error("failed to delete meal", "meal_id", mealID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		removeImages(r.Context(), images, names)
		slog.Info("meal deleted", "meal_id", mealID, "images", len(names))
		response.NoContent(w)
	}
}

package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/platewise/internal/api/middleware"
	"github.com/kiranshivaraju/platewise/internal/api/response"
	"github.com/kiranshivaraju/platewise/internal/imagestore"
	"github.com/kiranshivaraju/platewise/pkg/models"
)

const defaultMaxUploadBytes = 32 << 20

// UploadDeps wires NewUploadHandler.
type UploadDeps struct {
	Meals        MealStore
	Images       ImageStore
	MaxImages    int
	MaxBytes     int64
	MaxDimension int
}

// NewUploadHandler returns an http.HandlerFunc for POST /api/upload.
// It accepts multipart fields date, type and one or more images, stores the
// normalised photos and creates the meal with one item per photo.
func NewUploadHandler(d UploadDeps) http.HandlerFunc {
	if d.MaxBytes <= 0 {
		d.MaxBytes = defaultMaxUploadBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing session", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, d.MaxBytes)
		if err := r.ParseMultipartForm(d.MaxBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
					fmt.Sprintf("Upload exceeds %d bytes", d.MaxBytes), nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart form", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		date, err := time.Parse(models.DateLayout, r.FormValue("date"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "date must be YYYY-MM-DD", nil)
			return
		}
		mealType := r.FormValue("type")
		if !models.ValidMealType(mealType) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"type must be one of breakfast, lunch, dinner, snack", nil)
			return
		}

		files := r.MultipartForm.File["images"]
		if len(files) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "at least one image is required", nil)
			return
		}
		if d.MaxImages > 0 && len(files) > d.MaxImages {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				fmt.Sprintf("at most %d images per meal", d.MaxImages), nil)
			return
		}

		now := time.Now().UTC()
		meal := &models.Meal{
			ID:        uuid.New(),
			UserID:    userID,
			Date:      date,
			Type:      mealType,
			CreatedAt: now,
			UpdatedAt: now,
		}

		var stored []string
		cleanup := func() {
			removeImages(context.WithoutCancel(r.Context()), d.Images, stored)
		}

		items := make([]*models.MealItem, 0, len(files))
		for i, fh := range files {
			data, err := normalizeUpload(fh, d.MaxDimension)
			if err != nil {
				cleanup()
				response.Error(w, http.StatusBadRequest, "INVALID_IMAGE",
					fmt.Sprintf("%s is not a supported image", fh.Filename), nil)
				return
			}

			name := uuid.NewString() + imagestore.Ext
			if err := d.Images.Put(r.Context(), name, bytes.NewReader(data), int64(len(data)), imagestore.ContentType); err != nil {
				slog.Error("failed to store image", "image", name, "error", err)
				cleanup()
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store image", nil)
				return
			}
			stored = append(stored, name)

			items = append(items, &models.MealItem{
				ID:        uuid.New(),
				MealID:    meal.ID,
				ImageName: name,
				// Keep upload order stable when listing.
				CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			})
		}

		if err := d.Meals.CreateMeal(r.Context(), meal, items); err != nil {
			slog.Error("failed to create meal", "user_id", userID, "error", err)
			cleanup()
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save meal", nil)
			return
		}
		meal.Items = items

		slog.Info("meal uploaded", "meal_id", meal.ID, "user_id", userID, "images", len(items))
		response.Created(w, newMealView(meal, d.Images))
	}
}

func normalizeUpload(fh *multipart.FileHeader, maxDim int) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return imagestore.Normalize(f, maxDim)
}

// removeImages deletes stored images, logging failures. Orphaned objects are
// harmless; a failed cleanup never fails the request.
func removeImages(ctx context.Context, images ImageStore, names []string) {
	for _, name := range names {
		if err := images.Remove(ctx, name); err != nil {
			slog.Warn("failed to remove image", "image", name, "error", err)
		}
	}
}

package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event statuses emitted by the analyzer.
const (
	EventStatusInProgress = "in_progress"
	EventStatusCompleted  = "completed"
	EventStatusError      = "error"
)

// AnalysisEvent is one progress message of an analyzer stream. It is never
// persisted; only the Result of a completed event is.
type AnalysisEvent struct {
	Status  string          `json:"status"`
	Step    int             `json:"step,omitempty"`
	Message string          `json:"message,omitempty"`
	Result  *AnalysisResult `json:"result,omitempty"`
}

// UnmarshalJSON decodes an event object field by field. A field whose value
// has an unexpected type is left zero instead of failing the whole event, so
// a completed event with one odd nutrient still carries its result. Only a
// payload that is not a JSON object is an error.
func (e *AnalysisEvent) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*e = AnalysisEvent{}
	_ = json.Unmarshal(fields["status"], &e.Status)
	_ = json.Unmarshal(fields["message"], &e.Message)
	if step := lenientFloat(fields["step"]); step != nil {
		e.Step = int(*step)
	}
	if raw := fields["result"]; !isNull(raw) {
		var res AnalysisResult
		if err := json.Unmarshal(raw, &res); err == nil {
			e.Result = &res
		}
	}
	return nil
}

// Terminal reports whether the event ends meaningful progress for an item.
func (e AnalysisEvent) Terminal() bool {
	return e.Status == EventStatusCompleted || e.Status == EventStatusError
}

// AnalysisResult is the nutritional payload carried by a completed event.
// Only FoodName is guaranteed; every numeric field may be absent.
type AnalysisResult struct {
	FoodName   string     `json:"foodName"`
	Confidence *float64   `json:"confidence,omitempty"`
	VolumeMl   *float64   `json:"volumeMl,omitempty"`
	MassG      *float64   `json:"massG,omitempty"`
	Nutrition  *Nutrition `json:"nutrition,omitempty"`
}

// Nutrition holds per-item nutrient estimates.
type Nutrition struct {
	CaloriesKcal  *float64 `json:"caloriesKcal,omitempty"`
	ProteinG      *float64 `json:"proteinG,omitempty"`
	FatG          *float64 `json:"fatG,omitempty"`
	CarbsG        *float64 `json:"carbsG,omitempty"`
	WaterG        *float64 `json:"waterG,omitempty"`
	SugarsG       *float64 `json:"sugarsG,omitempty"`
	DietaryFiberG *float64 `json:"dietaryFiberG,omitempty"`
	SodiumMg      *float64 `json:"sodiumMg,omitempty"`
	CholesterolMg *float64 `json:"cholesterolMg,omitempty"`
	SaturatedFatG *float64 `json:"saturatedFatG,omitempty"`
	CalciumMg     *float64 `json:"calciumMg,omitempty"`
	IronMg        *float64 `json:"ironMg,omitempty"`
	VitaminAUg    *float64 `json:"vitaminAUg,omitempty"`
	VitaminCMg    *float64 `json:"vitaminCMg,omitempty"`
}

// UnmarshalJSON accepts numbers or numeric strings for every measurement and
// leaves anything else absent.
func (r *AnalysisResult) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = AnalysisResult{}
	_ = json.Unmarshal(fields["foodName"], &r.FoodName)
	r.Confidence = lenientFloat(fields["confidence"])
	r.VolumeMl = lenientFloat(fields["volumeMl"])
	r.MassG = lenientFloat(fields["massG"])
	if raw := fields["nutrition"]; !isNull(raw) {
		var n Nutrition
		if err := json.Unmarshal(raw, &n); err == nil {
			r.Nutrition = &n
		}
	}
	return nil
}

func (n *Nutrition) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*n = Nutrition{}
	for key, dst := range n.byKey() {
		*dst = lenientFloat(fields[key])
	}
	return nil
}

func (n *Nutrition) byKey() map[string]**float64 {
	return map[string]**float64{
		"caloriesKcal":  &n.CaloriesKcal,
		"proteinG":      &n.ProteinG,
		"fatG":          &n.FatG,
		"carbsG":        &n.CarbsG,
		"waterG":        &n.WaterG,
		"sugarsG":       &n.SugarsG,
		"dietaryFiberG": &n.DietaryFiberG,
		"sodiumMg":      &n.SodiumMg,
		"cholesterolMg": &n.CholesterolMg,
		"saturatedFatG": &n.SaturatedFatG,
		"calciumMg":     &n.CalciumMg,
		"ironMg":        &n.IronMg,
		"vitaminAUg":    &n.VitaminAUg,
		"vitaminCMg":    &n.VitaminCMg,
	}
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// lenientFloat reads a JSON number or a string holding one. Missing, null and
// non-numeric values yield nil.
func lenientFloat(raw json.RawMessage) *float64 {
	if isNull(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}

// MealItemAnalysis is the durable record of a completed analysis.
// A meal item owns at most one; it is never updated.
type MealItemAnalysis struct {
	ID            uuid.UUID `db:"id"              json:"id"`
	MealItemID    uuid.UUID `db:"meal_item_id"    json:"meal_item_id"`
	FoodName      string    `db:"food_name"       json:"food_name"`
	Confidence    *float64  `db:"confidence"      json:"confidence,omitempty"`
	VolumeMl      *float64  `db:"volume_ml"       json:"volume_ml,omitempty"`
	MassG         *float64  `db:"mass_g"          json:"mass_g,omitempty"`
	CaloriesKcal  *float64  `db:"calories_kcal"   json:"calories_kcal,omitempty"`
	ProteinG      *float64  `db:"protein_g"       json:"protein_g,omitempty"`
	FatG          *float64  `db:"fat_g"           json:"fat_g,omitempty"`
	CarbsG        *float64  `db:"carbs_g"         json:"carbs_g,omitempty"`
	WaterG        *float64  `db:"water_g"         json:"water_g,omitempty"`
	SugarsG       *float64  `db:"sugars_g"        json:"sugars_g,omitempty"`
	DietaryFiberG *float64  `db:"dietary_fiber_g" json:"dietary_fiber_g,omitempty"`
	SodiumMg      *float64  `db:"sodium_mg"       json:"sodium_mg,omitempty"`
	CholesterolMg *float64  `db:"cholesterol_mg"  json:"cholesterol_mg,omitempty"`
	SaturatedFatG *float64  `db:"saturated_fat_g" json:"saturated_fat_g,omitempty"`
	CalciumMg     *float64  `db:"calcium_mg"      json:"calcium_mg,omitempty"`
	IronMg        *float64  `db:"iron_mg"         json:"iron_mg,omitempty"`
	VitaminAUg    *float64  `db:"vitamin_a_ug"    json:"vitamin_a_ug,omitempty"`
	VitaminCMg    *float64  `db:"vitamin_c_mg"    json:"vitamin_c_mg,omitempty"`
	CreatedAt     time.Time `db:"created_at"      json:"created_at"`
}

// NewMealItemAnalysis copies every field of res into a new record for itemID.
// Absent values stay nil.
func NewMealItemAnalysis(itemID uuid.UUID, res AnalysisResult) *MealItemAnalysis {
	a := &MealItemAnalysis{
		ID:         uuid.New(),
		MealItemID: itemID,
		FoodName:   res.FoodName,
		Confidence: res.Confidence,
		VolumeMl:   res.VolumeMl,
		MassG:      res.MassG,
		CreatedAt:  time.Now().UTC(),
	}
	if n := res.Nutrition; n != nil {
		a.CaloriesKcal = n.CaloriesKcal
		a.ProteinG = n.ProteinG
		a.FatG = n.FatG
		a.CarbsG = n.CarbsG
		a.WaterG = n.WaterG
		a.SugarsG = n.SugarsG
		a.DietaryFiberG = n.DietaryFiberG
		a.SodiumMg = n.SodiumMg
		a.CholesterolMg = n.CholesterolMg
		a.SaturatedFatG = n.SaturatedFatG
		a.CalciumMg = n.CalciumMg
		a.IronMg = n.IronMg
		a.VitaminAUg = n.VitaminAUg
		a.VitaminCMg = n.VitaminCMg
	}
	return a
}

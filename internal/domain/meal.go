package domain

import (
	"slices"
	"time"
)

// Named defaults substituted at the ingestion boundary and inside the
// aggregator. They are exported so the defaulting behavior stays auditable.
const (
	// DefaultFoodConfidence is the confidence assumed for a food item whose
	// detection confidence was not reported.
	DefaultFoodConfidence = 0.7

	// DefaultHealthScore is used when a model omits the health score.
	DefaultHealthScore = 50.0

	// DefaultHealthStatus is used when a model omits or garbles the status.
	DefaultHealthStatus = StatusModerate

	// DefaultFeedback is used when no model supplied any feedback text.
	DefaultFeedback = "Nutritional analysis completed."

	// DefaultFoodName labels a food item reported without a name.
	DefaultFoodName = "Unknown Food"

	// DefaultQuantity labels a food item reported without a portion.
	DefaultQuantity = "Unknown"

	// MaxConsensusConfidence caps merged food-item confidence. A consensus
	// never claims certainty.
	MaxConsensusConfidence = 0.99

	// OutlierIQRMultiplier is the Tukey fence factor used when trimming
	// numeric outliers before averaging.
	OutlierIQRMultiplier = 1.5

	// MinHealthScore and MaxHealthScore bound every health score.
	MinHealthScore = 0.0
	MaxHealthScore = 100.0
)

// HealthStatus is the categorical verdict a model assigns to a meal.
type HealthStatus string

// Supported health statuses, best to worst.
const (
	StatusExcellent HealthStatus = "excellent"
	StatusGood      HealthStatus = "good"
	StatusModerate  HealthStatus = "moderate"
	StatusPoor      HealthStatus = "poor"
)

// HealthStatuses lists every valid status in rank order.
var HealthStatuses = []HealthStatus{StatusExcellent, StatusGood, StatusModerate, StatusPoor}

// IsValid reports whether s is one of the known statuses.
func (s HealthStatus) IsValid() bool { return slices.Contains(HealthStatuses, s) }

// String returns the status as a plain string.
func (s HealthStatus) String() string { return string(s) }

// ImageRef is an opaque reference to the photographed meal. It is passed
// through the aggregator unchanged.
type ImageRef string

// FoodItem is a single food a model detected in the photo.
type FoodItem struct {
	// Name is the free-text label, e.g. "Grilled chicken breast".
	Name string `json:"name"`

	// Quantity is the free-text portion description, e.g. "150g".
	Quantity string `json:"quantity"`

	// Confidence is the detection confidence in [0, 1]. Nil means the model
	// did not report one.
	Confidence *float64 `json:"confidence,omitempty"`
}

// EffectiveConfidence returns the reported confidence or
// DefaultFoodConfidence when none was reported.
func (f FoodItem) EffectiveConfidence() float64 {
	if f.Confidence == nil {
		return DefaultFoodConfidence
	}
	return *f.Confidence
}

// Confidence returns a pointer to c for populating FoodItem.Confidence.
func Confidence(c float64) *float64 { return &c }

// NutritionFacts holds the macro totals for the whole meal. Calories are kcal,
// everything else grams.
type NutritionFacts struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	Fiber    float64 `json:"fiber"`
	Sugar    float64 `json:"sugar"`
}

// AnalysisResult is one model's complete, already-validated analysis of a
// meal photo.
type AnalysisResult struct {
	// Model identifies the provider/model that produced the analysis.
	// It is provenance only and plays no part in merging.
	Model string `json:"model,omitempty"`

	FoodItems          []FoodItem     `json:"foodItems"`
	Nutrition          NutritionFacts `json:"nutrition"`
	HealthScore        float64        `json:"healthScore"`
	Status             HealthStatus   `json:"status"`
	Feedback           string         `json:"feedback"`
	Warnings           []string       `json:"warnings"`
	Allergens          []string       `json:"allergens"`
	HealthyAlternative string         `json:"healthyAlternative,omitempty"`
}

// Clone returns a deep copy of r so callers can hand results around without
// sharing backing arrays.
func (r AnalysisResult) Clone() AnalysisResult {
	out := r
	if r.FoodItems != nil {
		out.FoodItems = make([]FoodItem, len(r.FoodItems))
		for i, item := range r.FoodItems {
			out.FoodItems[i] = item
			if item.Confidence != nil {
				out.FoodItems[i].Confidence = Confidence(*item.Confidence)
			}
		}
	}
	out.Warnings = slices.Clone(r.Warnings)
	out.Allergens = slices.Clone(r.Allergens)
	return out
}

// ConsensusResult is the merged analysis for one meal photo. It carries the
// same content as an AnalysisResult plus identity and provenance.
type ConsensusResult struct {
	AnalysisResult

	// ID uniquely identifies this consensus within the process.
	ID string `json:"id"`

	// ImageRef is the reference supplied by the caller, untouched.
	ImageRef ImageRef `json:"imageRef"`

	// GeneratedAt records when the consensus was produced.
	GeneratedAt time.Time `json:"generatedAt"`

	// Models lists the contributing models in input order. Entries are
	// empty when the inputs carried no provenance.
	Models []string `json:"models,omitempty"`

	// EnsembleSize is the number of analyses merged into this result.
	EnsembleSize int `json:"ensembleSize"`
}

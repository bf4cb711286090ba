package units

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ahrav/go-nutriscan/internal/domain"
)

var _ domain.Aggregator = (*ConsensusAggregator)(nil)

// ConsensusAggregator merges the analyses several models produced for the
// same meal photo into one ConsensusResult.
//
// Food items are grouped by their trimmed, case-folded name. Every numeric
// field is averaged after Tukey outlier trimming and rounded to the nearest
// integer. Status is decided by plurality vote. Warnings and allergens are
// unioned in first-seen order. Every tie is broken by input order, so the
// result is fully determined by the order of the inputs.
//
// Concurrency: the aggregator holds no mutable state and is safe for
// concurrent use.
//
// Example:
//
//	agg, err := NewConsensusAggregator(DefaultAggregatorConfig())
//	consensus, err := agg.Aggregate(results, "s3://meals/123.jpg")
type ConsensusAggregator struct {
	config AggregatorConfig
	now    func() time.Time
	newID  func() string
}

// AggregatorConfig tunes the merge. The zero value is invalid; start from
// DefaultAggregatorConfig.
type AggregatorConfig struct {
	// MaxConfidence caps merged food-item confidence.
	MaxConfidence float64 `yaml:"max_confidence" json:"max_confidence" validate:"gt=0,lte=1"`

	// DefaultConfidence stands in for a food item that reports none.
	DefaultConfidence float64 `yaml:"default_confidence" json:"default_confidence" validate:"gte=0,lte=1"`

	// OutlierMultiplier is the IQR factor of the outlier fences.
	OutlierMultiplier float64 `yaml:"outlier_multiplier" json:"outlier_multiplier" validate:"gt=0,lte=10"`
}

// DefaultAggregatorConfig returns the standard merge parameters.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		MaxConfidence:     domain.MaxConsensusConfidence,
		DefaultConfidence: domain.DefaultFoodConfidence,
		OutlierMultiplier: domain.OutlierIQRMultiplier,
	}
}

// AggregatorOption customizes a ConsensusAggregator.
type AggregatorOption func(*ConsensusAggregator)

// WithClock overrides the time source used for GeneratedAt.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *ConsensusAggregator) { a.now = now }
}

// WithIDGenerator overrides the generator of consensus IDs.
func WithIDGenerator(newID func() string) AggregatorOption {
	return func(a *ConsensusAggregator) { a.newID = newID }
}

// NewConsensusAggregator validates config and returns an aggregator stamping
// results with the wall clock and UUIDv7 identifiers unless overridden.
func NewConsensusAggregator(config AggregatorConfig, opts ...AggregatorOption) (*ConsensusAggregator, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: aggregator: %w", domain.ErrInvalidConfiguration, err)
	}
	a := &ConsensusAggregator{
		config: config,
		now:    time.Now,
		newID:  newConsensusID,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// newConsensusID returns a time-ordered UUID. NewV7 only fails when the
// system random source does, in which case a random v4 is used.
func newConsensusID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Aggregate implements domain.Aggregator.
//
// An empty ensemble fails with domain.ErrEmptyEnsemble. A single result is
// returned with its content unchanged. results is never modified.
func (a *ConsensusAggregator) Aggregate(
	results []domain.AnalysisResult,
	image domain.ImageRef,
) (domain.ConsensusResult, error) {
	if len(results) == 0 {
		return domain.ConsensusResult{}, domain.ErrEmptyEnsemble
	}

	var content domain.AnalysisResult
	if len(results) == 1 {
		content = results[0].Clone()
	} else {
		content = a.merge(results)
	}

	models := make([]string, len(results))
	for i, r := range results {
		models[i] = r.Model
	}

	return domain.ConsensusResult{
		AnalysisResult: content,
		ID:             a.newID(),
		ImageRef:       image,
		GeneratedAt:    a.now(),
		Models:         models,
		EnsembleSize:   len(results),
	}, nil
}

// Restamp returns a deep copy of result with a fresh ID, the current time and
// image as its reference. The merged content is left untouched.
func (a *ConsensusAggregator) Restamp(result domain.ConsensusResult, image domain.ImageRef) domain.ConsensusResult {
	out := result
	out.AnalysisResult = result.AnalysisResult.Clone()
	out.Models = slices.Clone(result.Models)
	out.ID = a.newID()
	out.ImageRef = image
	out.GeneratedAt = a.now()
	return out
}

func (a *ConsensusAggregator) merge(results []domain.AnalysisResult) domain.AnalysisResult {
	folder := newKeyFolder()
	n := len(results)

	field := func(get func(domain.AnalysisResult) float64) float64 {
		values := make([]float64, n)
		for i, r := range results {
			values[i] = get(r)
		}
		return math.Round(trimmedMean(values, a.config.OutlierMultiplier))
	}

	statuses := make([]domain.HealthStatus, n)
	warnings := make([][]string, n)
	allergens := make([][]string, n)
	for i, r := range results {
		statuses[i] = r.Status
		warnings[i] = r.Warnings
		allergens[i] = r.Allergens
	}
	status, _ := plurality(statuses)

	score := field(func(r domain.AnalysisResult) float64 { return r.HealthScore })

	return domain.AnalysisResult{
		FoodItems: a.mergeFoodItems(folder, results),
		Nutrition: domain.NutritionFacts{
			Calories: field(func(r domain.AnalysisResult) float64 { return r.Nutrition.Calories }),
			Protein:  field(func(r domain.AnalysisResult) float64 { return r.Nutrition.Protein }),
			Carbs:    field(func(r domain.AnalysisResult) float64 { return r.Nutrition.Carbs }),
			Fat:      field(func(r domain.AnalysisResult) float64 { return r.Nutrition.Fat }),
			Fiber:    field(func(r domain.AnalysisResult) float64 { return r.Nutrition.Fiber }),
			Sugar:    field(func(r domain.AnalysisResult) float64 { return r.Nutrition.Sugar }),
		},
		HealthScore:        clamp(score, domain.MinHealthScore, domain.MaxHealthScore),
		Status:             status,
		Feedback:           consensusFeedback(results),
		Warnings:           folder.union(warnings...),
		Allergens:          folder.union(allergens...),
		HealthyAlternative: bestAlternative(results),
	}
}

// foodGroup collects every detection of one food across the ensemble, in
// input order.
type foodGroup struct {
	items []domain.FoodItem
}

func (a *ConsensusAggregator) mergeFoodItems(folder *keyFolder, results []domain.AnalysisResult) []domain.FoodItem {
	groups := make(map[string]*foodGroup)
	var order []string
	for _, r := range results {
		for _, item := range r.FoodItems {
			k := folder.key(item.Name)
			g, ok := groups[k]
			if !ok {
				g = &foodGroup{}
				groups[k] = g
				order = append(order, k)
			}
			g.items = append(g.items, item)
		}
	}

	ensemble := float64(len(results))
	merged := make([]domain.FoodItem, 0, len(order))
	for _, k := range order {
		g := groups[k]

		name := g.items[0].Name
		quantities := make([]string, len(g.items))
		var confSum float64
		for i, item := range g.items {
			if utf8.RuneCountInString(item.Name) > utf8.RuneCountInString(name) {
				name = item.Name
			}
			quantities[i] = item.Quantity
			if item.Confidence == nil {
				confSum += a.config.DefaultConfidence
			} else {
				confSum += *item.Confidence
			}
		}
		quantity, _ := plurality(quantities)

		size := float64(len(g.items))
		conf := (confSum / size) * (size / ensemble)
		merged = append(merged, domain.FoodItem{
			Name:       name,
			Quantity:   quantity,
			Confidence: domain.Confidence(clamp(conf, 0, a.config.MaxConfidence)),
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return *merged[i].Confidence > *merged[j].Confidence
	})
	return merged
}

func consensusFeedback(results []domain.AnalysisResult) string {
	for _, r := range results {
		if strings.TrimSpace(r.Feedback) != "" {
			return fmt.Sprintf("Consensus from %d AI models: %s", len(results), r.Feedback)
		}
	}
	return domain.DefaultFeedback
}

// bestAlternative returns the suggestion of the highest-scoring result,
// preferring the earliest on ties.
func bestAlternative(results []domain.AnalysisResult) string {
	best := results[0]
	for _, r := range results[1:] {
		if r.HealthScore > best.HealthScore {
			best = r
		}
	}
	return best.HealthyAlternative
}

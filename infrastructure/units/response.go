package units

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-nutriscan/internal/domain"
	"github.com/ahrav/go-nutriscan/internal/ports"
)

// maxStatusDistance is the largest edit distance at which a garbled status
// ("moderat", "Exellent") is still mapped to a known one.
const maxStatusDistance = 2

// requiredFields must be present and non-null in every model reply.
var requiredFields = []string{"foodItems", "nutrition", "healthScore"}

// analysisResponse is the wire record a vision model is asked to produce.
// Every scalar is a pointer so absent fields can be told apart from zeros.
type analysisResponse struct {
	Error              *string            `json:"error"`
	FoodItems          []foodItemResponse `json:"foodItems" validate:"dive"`
	Nutrition          *nutritionResponse `json:"nutrition"`
	HealthScore        *float64           `json:"healthScore"`
	Status             *string            `json:"status"`
	Feedback           *string            `json:"feedback"`
	Warnings           []string           `json:"warnings"`
	Allergens          []string           `json:"allergens"`
	HealthyAlternative *string            `json:"healthyAlternative"`
}

type foodItemResponse struct {
	Name       *string  `json:"name" validate:"omitempty,max=200"`
	Quantity   *string  `json:"quantity" validate:"omitempty,max=100"`
	Confidence *float64 `json:"confidence" validate:"omitempty,min=0,max=1"`
}

type nutritionResponse struct {
	Calories *float64 `json:"calories" validate:"omitempty,min=0,max=10000"`
	Protein  *float64 `json:"protein" validate:"omitempty,min=0,max=1000"`
	Carbs    *float64 `json:"carbs" validate:"omitempty,min=0,max=1000"`
	Fat      *float64 `json:"fat" validate:"omitempty,min=0,max=1000"`
	Fiber    *float64 `json:"fiber" validate:"omitempty,min=0,max=500"`
	Sugar    *float64 `json:"sugar" validate:"omitempty,min=0,max=1000"`
}

// ParseAnalysisResponse turns the raw text of a model reply into a fully
// defaulted AnalysisResult attributed to model.
//
// The JSON object may be wrapped in markdown fences or prose. A reply of the
// form {"error": "..."} yields ErrNoFoodDetected. A reply missing foodItems,
// nutrition or healthScore yields ErrIncompleteResponse. Out-of-range values
// yield a *domain.ValidationError. Text that holds no parseable JSON object
// yields a *ports.ReplyError wrapping ports.ErrInvalidResponse.
func ParseAnalysisResponse(model, raw string) (domain.AnalysisResult, error) {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return domain.AnalysisResult{}, ports.NewReplyError(model, raw,
			fmt.Errorf("%w: no JSON object found", ports.ErrInvalidResponse))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &fields); err != nil {
		return domain.AnalysisResult{}, ports.NewReplyError(model, raw, fmt.Errorf("%w: %w", ports.ErrInvalidResponse, err))
	}

	var resp analysisResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return domain.AnalysisResult{}, ports.NewReplyError(model, raw, fmt.Errorf("%w: %w", ports.ErrInvalidResponse, err))
	}

	if resp.Error != nil && strings.TrimSpace(*resp.Error) != "" {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %s", ErrNoFoodDetected, *resp.Error)
	}

	var missing []string
	for _, name := range requiredFields {
		if v, ok := fields[name]; !ok || string(v) == "null" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %s", ErrIncompleteResponse, strings.Join(missing, ", "))
	}

	if err := validate.Struct(resp); err != nil {
		return domain.AnalysisResult{}, toValidationError("analysis response", err)
	}
	return resp.toDomain(model), nil
}

// toDomain substitutes defaults for everything the model left out.
func (r analysisResponse) toDomain(model string) domain.AnalysisResult {
	items := make([]domain.FoodItem, 0, len(r.FoodItems))
	for _, it := range r.FoodItems {
		conf := domain.DefaultFoodConfidence
		if it.Confidence != nil {
			conf = *it.Confidence
		}
		items = append(items, domain.FoodItem{
			Name:       textOr(it.Name, domain.DefaultFoodName),
			Quantity:   textOr(it.Quantity, domain.DefaultQuantity),
			Confidence: domain.Confidence(conf),
		})
	}

	var nutrition domain.NutritionFacts
	if n := r.Nutrition; n != nil {
		nutrition = domain.NutritionFacts{
			Calories: numberOr(n.Calories, 0),
			Protein:  numberOr(n.Protein, 0),
			Carbs:    numberOr(n.Carbs, 0),
			Fat:      numberOr(n.Fat, 0),
			Fiber:    numberOr(n.Fiber, 0),
			Sugar:    numberOr(n.Sugar, 0),
		}
	}

	return domain.AnalysisResult{
		Model:              model,
		FoodItems:          items,
		Nutrition:          nutrition,
		HealthScore:        clamp(numberOr(r.HealthScore, domain.DefaultHealthScore), domain.MinHealthScore, domain.MaxHealthScore),
		Status:             normalizeStatus(r.Status),
		Feedback:           textOr(r.Feedback, domain.DefaultFeedback),
		Warnings:           nonBlank(r.Warnings),
		Allergens:          nonBlank(r.Allergens),
		HealthyAlternative: textOr(r.HealthyAlternative, ""),
	}
}

// normalizeStatus maps a free-form status onto the known set. Unknown values
// within maxStatusDistance edits of a known status snap to it; anything else
// becomes domain.DefaultHealthStatus.
func normalizeStatus(raw *string) domain.HealthStatus {
	if raw == nil {
		return domain.DefaultHealthStatus
	}
	// Models occasionally echo the "excellent|good|..." placeholder.
	s, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(*raw)), "|")
	s = strings.TrimSpace(s)
	if status := domain.HealthStatus(s); status.IsValid() {
		return status
	}
	if s == "" {
		return domain.DefaultHealthStatus
	}

	best, bestDist := domain.DefaultHealthStatus, maxStatusDistance+1
	for _, candidate := range domain.HealthStatuses {
		if d := levenshtein.ComputeDistance(s, string(candidate)); d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best
}

func textOr(s *string, def string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return def
	}
	return strings.TrimSpace(*s)
}

func numberOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func nonBlank(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// toValidationError flattens validator failures into a domain error. Other
// errors are returned unchanged.
func toValidationError(entity string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	ve := domain.NewValidationError(entity)
	for _, fe := range fieldErrs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		ve.Add(field, rule)
	}
	return ve
}

// extractJSON pulls the first JSON object out of a reply that may carry
// markdown fences or prose around it.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```"); start != -1 {
		body := response[start+3:]
		// Skip a language tag such as "json".
		if nl := strings.Index(body, "\n"); nl != -1 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			candidate := strings.TrimSpace(body[:end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	// Find the matching closing brace, ignoring braces inside strings.
	depth := 0
	inString := false
	escapeNext := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if escapeNext {
			escapeNext = false
			continue
		}
		if c == '\\' {
			escapeNext = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}

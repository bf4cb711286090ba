package testutils

import (
	"github.com/ahrav/go-nutriscan/internal/domain"
	"github.com/ahrav/go-nutriscan/internal/ports"
)

// Canned model replies in the wire format the analyzers expect.
const (
	SaladJSON = `{
  "foodItems": [
    {"name": "Grilled chicken breast", "quantity": "150g", "confidence": 0.95},
    {"name": "Mixed greens", "quantity": "80g", "confidence": 0.9},
    {"name": "Cherry tomatoes", "quantity": "50g", "confidence": 0.85}
  ],
  "nutrition": {"calories": 420, "protein": 45, "carbs": 12, "fat": 18, "fiber": 5, "sugar": 6},
  "healthScore": 88,
  "status": "excellent",
  "feedback": "Lean protein with plenty of vegetables.",
  "warnings": [],
  "allergens": [],
  "healthyAlternative": ""
}`

	BurgerJSON = "Here is the analysis:\n```json\n" + `{
  "foodItems": [
    {"name": "Beef burger", "quantity": "1 burger", "confidence": 0.92},
    {"name": "French fries", "quantity": "120g", "confidence": 0.88}
  ],
  "nutrition": {"calories": 980, "protein": 38, "carbs": 92, "fat": 52, "fiber": 6, "sugar": 14},
  "healthScore": 35,
  "status": "poor",
  "feedback": "High in saturated fat and sodium.",
  "warnings": ["High sodium", "High saturated fat"],
  "allergens": ["gluten", "dairy"],
  "healthyAlternative": "Swap the fries for a side salad."
}` + "\n```"

	NoFoodJSON = `{"error": "No food items detected in this image. Please upload a clear photo of a meal."}`
)

// PNGImage returns a minimal image whose bytes carry the PNG signature.
func PNGImage() ports.Image {
	return ports.Image{
		MIMEType: "image/png",
		Data:     []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'},
	}
}

// SaladAnalysis returns the parsed form of SaladJSON attributed to model.
func SaladAnalysis(model string) domain.AnalysisResult {
	return domain.AnalysisResult{
		Model: model,
		FoodItems: []domain.FoodItem{
			{Name: "Grilled chicken breast", Quantity: "150g", Confidence: domain.Confidence(0.95)},
			{Name: "Mixed greens", Quantity: "80g", Confidence: domain.Confidence(0.9)},
			{Name: "Cherry tomatoes", Quantity: "50g", Confidence: domain.Confidence(0.85)},
		},
		Nutrition:   domain.NutritionFacts{Calories: 420, Protein: 45, Carbs: 12, Fat: 18, Fiber: 5, Sugar: 6},
		HealthScore: 88,
		Status:      domain.StatusExcellent,
		Feedback:    "Lean protein with plenty of vegetables.",
		Warnings:    []string{},
		Allergens:   []string{},
	}
}

// BurgerAnalysis returns the parsed form of BurgerJSON attributed to model.
func BurgerAnalysis(model string) domain.AnalysisResult {
	return domain.AnalysisResult{
		Model: model,
		FoodItems: []domain.FoodItem{
			{Name: "Beef burger", Quantity: "1 burger", Confidence: domain.Confidence(0.92)},
			{Name: "French fries", Quantity: "120g", Confidence: domain.Confidence(0.88)},
		},
		Nutrition:          domain.NutritionFacts{Calories: 980, Protein: 38, Carbs: 92, Fat: 52, Fiber: 6, Sugar: 14},
		HealthScore:        35,
		Status:             domain.StatusPoor,
		Feedback:           "High in saturated fat and sodium.",
		Warnings:           []string{"High sodium", "High saturated fat"},
		Allergens:          []string{"gluten", "dairy"},
		HealthyAlternative: "Swap the fries for a side salad.",
	}
}

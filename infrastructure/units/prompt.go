package units

import (
	"bytes"
	"fmt"
	"text/template"
)

// DefaultAnalysisPrompt is the nutritionist instruction sent with every meal
// photo. It is a text/template rendered with PromptData.
const DefaultAnalysisPrompt = `You are a certified nutritionist and food scientist experienced in dietary analysis, portion estimation and allergen identification.

Analyze the attached meal photo.

1. Identify every visible food item, including sauces, garnishes and drinks. Note the cooking method and estimate the portion from visual cues. Give each item a confidence between 0.0 and 1.0 reflecting how clearly it is visible.
2. Estimate totals for the whole meal: calories (kcal) and protein, carbs, fat, fiber and sugar (grams). Account for cooking oils, butter and hidden ingredients.
3. Rate the meal from 0 to 100 (90+ excellent, 70-89 good, 40-69 moderate, below 40 poor) and pick the matching status.
4. List allergens (gluten, dairy, eggs, nuts, soy, shellfish, fish, sesame) and health warnings such as high sodium or added sugar.
5. Give two or three sentences of practical feedback.{{if .AlternativeBelow}} If the score is below {{.AlternativeBelow}}, suggest one specific healthier alternative.{{end}}
{{- if .Notes}}

Additional context from the user: {{.Notes}}
{{- end}}

Respond with ONLY this JSON object, without markdown:
{
  "foodItems": [{"name": "food with cooking method", "quantity": "e.g. 150g", "confidence": 0.9}],
  "nutrition": {"calories": 0, "protein": 0, "carbs": 0, "fat": 0, "fiber": 0, "sugar": 0},
  "healthScore": 0,
  "status": "excellent|good|moderate|poor",
  "feedback": "",
  "warnings": [],
  "allergens": [],
  "healthyAlternative": ""
}

If the photo shows no food, respond with {"error": "No food items detected in this image."}`

// PromptData is the template input for analysis prompts.
type PromptData struct {
	// AlternativeBelow is the score under which a healthier alternative is
	// requested. Zero omits the request.
	AlternativeBelow int
	// Notes carries optional user-supplied context such as dietary goals.
	Notes string
}

// parsePrompt compiles an analysis prompt template.
func parsePrompt(text string) (*template.Template, error) {
	tmpl, err := template.New("analysisPrompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse analysis prompt template: %w", err)
	}
	return tmpl, nil
}

func renderPrompt(tmpl *template.Template, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute analysis prompt template: %w", err)
	}
	return buf.String(), nil
}

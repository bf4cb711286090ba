package llm

// Option keys understood by every provider. Unknown keys are passed through
// to RequestOptions.Extra for provider-specific handling.
const (
	OptModel          = "model"
	OptMaxTokens      = "max_tokens"
	OptTemperature    = "temperature"
	OptTopP           = "top_p"
	OptSystem         = "system"
	OptResponseFormat = "response_format"
)

// Request defaults tuned for structured nutrition extraction: low
// temperature for stable numbers and enough room for a full JSON document.
const (
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.3
)

// ResponseFormatJSON is the response_format value that asks the provider
// for a JSON object body.
const ResponseFormatJSON = "json_object"

// ExtractOptionalInt extracts an integer value from options map with validation.
// Returns defaultVal if key doesn't exist, value is not numeric, or validator fails.
func ExtractOptionalInt(opts map[string]any, key string, defaultVal int, validator func(int) bool) int {
	val, ok := opts[key]
	if !ok {
		return defaultVal
	}

	intVal, ok := SafeInt(val)
	if !ok {
		return defaultVal
	}

	if validator != nil && !validator(intVal) {
		return defaultVal
	}

	return intVal
}

// ExtractOptionalString extracts a string value from options map with validation.
// Returns defaultVal if key doesn't exist, value is not a string, or validator fails.
func ExtractOptionalString(opts map[string]any, key string, defaultVal string, validator func(string) bool) string {
	val, ok := opts[key]
	if !ok {
		return defaultVal
	}

	strVal, ok := val.(string)
	if !ok {
		return defaultVal
	}

	if validator != nil && !validator(strVal) {
		return defaultVal
	}

	return strVal
}

// ExtractOptionalFloat64 extracts a float64 value from options map with validation.
// Integer values are accepted and widened.
func ExtractOptionalFloat64(opts map[string]any, key string, defaultVal float64, validator func(float64) bool) float64 {
	val, ok := opts[key]
	if !ok {
		return defaultVal
	}

	var floatVal float64
	switch v := val.(type) {
	case float64:
		floatVal = v
	case float32:
		floatVal = float64(v)
	case int:
		floatVal = float64(v)
	default:
		return defaultVal
	}

	if validator != nil && !validator(floatVal) {
		return defaultVal
	}

	return floatVal
}

// wantsJSON reports whether opts ask for a JSON object response. Both the
// bare string form and the OpenAI-style {"type": "json_object"} map are
// accepted.
func wantsJSON(opts map[string]any) bool {
	switch v := opts[OptResponseFormat].(type) {
	case string:
		return v == ResponseFormatJSON
	case map[string]string:
		return v["type"] == ResponseFormatJSON
	case map[string]any:
		t, _ := v["type"].(string)
		return t == ResponseFormatJSON
	}
	return false
}

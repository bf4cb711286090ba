// Package ports holds the interfaces and value types shared by the analyzers
// and the infrastructure that talks to vision models.
package ports

import (
	"context"
	"encoding/base64"
	"time"
)

// Image is an encoded meal photo ready to be sent to a vision model.
type Image struct {
	// MIMEType is the media type of Data, e.g. "image/jpeg".
	MIMEType string

	// Data holds the raw encoded image bytes.
	Data []byte
}

// Base64 returns the standard base64 encoding of the image bytes.
func (img Image) Base64() string { return base64.StdEncoding.EncodeToString(img.Data) }

// DataURL returns the image as a data URL ("data:image/jpeg;base64,...").
func (img Image) DataURL() string { return "data:" + img.MIMEType + ";base64," + img.Base64() }

// IsEmpty reports whether the image carries no bytes.
func (img Image) IsEmpty() bool { return len(img.Data) == 0 }

// LLMClient sends meal photos and a prompt to one vision model.
// Retries, pacing and timeouts are the implementation's concern.
type LLMClient interface {
	// Complete returns the model's reply text. Recognized options are
	// "temperature" (float64), "max_tokens" (int), "top_p" (float64),
	// "system" (string) and "response_format" ("json_object"); providers
	// ignore what they do not support.
	Complete(ctx context.Context, prompt string, images []Image, options map[string]any) (string, error)

	// CompleteWithUsage is Complete plus input and output token counts.
	CompleteWithUsage(ctx context.Context, prompt string, images []Image, options map[string]any) (string, int, int, error)

	// EstimateTokens approximates the token count of text.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model identifier used for provenance.
	GetModel() string
}

// MetricsCollector receives operational metrics. Metric names and label
// keys are defined by the emitting package; collectors map the ones they
// know onto dedicated series.
type MetricsCollector interface {
	RecordLatency(operation string, duration time.Duration, labels map[string]string)
	RecordCounter(metric string, value float64, labels map[string]string)
	RecordGauge(metric string, value float64, labels map[string]string)
	RecordHistogram(metric string, value float64, labels map[string]string)
}

package llm

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/go-nutriscan/internal/ports"
)

// pngMagic is the smallest prefix mimetype recognizes as a PNG.
var pngMagic = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// jpegMagic is a JPEG SOI marker followed by a JFIF APP0 header.
var jpegMagic = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")

func testImage() ports.Image {
	return ports.Image{MIMEType: "image/png", Data: pngMagic}
}

// funcCore is a CoreLLM whose behavior is supplied per test.
type funcCore struct {
	BaseProvider
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, prompt string, images []ports.Image, opts map[string]any) (string, int, int, error)
}

func newFuncCore(model string, fn func(context.Context, string, []ports.Image, map[string]any) (string, int, int, error)) *funcCore {
	return &funcCore{BaseProvider: BaseProvider{model: model}, fn: fn}
}

func (f *funcCore) DoRequest(ctx context.Context, prompt string, images []ports.Image, opts map[string]any) (string, int, int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, prompt, images, opts)
}

func (f *funcCore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingCollector is an in-memory ports.MetricsCollector.
type recordingCollector struct {
	mu         sync.Mutex
	counters   map[string]float64
	histograms map[string][]float64
	gauges     map[string][]float64
	labels     []map[string]string
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{
		counters:   make(map[string]float64),
		histograms: make(map[string][]float64),
		gauges:     make(map[string][]float64),
	}
}

func (r *recordingCollector) RecordLatency(string, time.Duration, map[string]string) {}

func (r *recordingCollector) RecordCounter(metric string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := metric
	if tt, ok := labels["token_type"]; ok {
		key += ":" + tt
	}
	r.counters[key] += value
	r.labels = append(r.labels, labels)
}

func (r *recordingCollector) RecordGauge(metric string, value float64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[metric] = append(r.gauges[metric], value)
}

func (r *recordingCollector) RecordHistogram(metric string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histograms[metric] = append(r.histograms[metric], value)
}

const appleReply = `{"foodItems":[{"name":"Apple","quantity":"1 medium","confidence":0.9}],"nutrition":{"calories":95,"protein":0.5,"carbs":25,"fat":0.3,"fiber":4,"sugar":19},"healthScore":85,"status":"excellent","feedback":"Great snack."}`

// outcome is one scripted reply of a scriptedCore.
type outcome struct {
	reply string
	err   error
}

func ok() outcome            { return outcome{reply: appleReply} }
func fail(err error) outcome { return outcome{err: err} }

// scriptedCore answers call i with script[i] and repeats the last entry
// once the script runs out.
type scriptedCore struct {
	BaseProvider
	delay time.Duration

	mu      sync.Mutex
	script  []outcome
	calls   int
	images  []ports.Image
	lastCtx context.Context
}

func newScriptedCore(script ...outcome) *scriptedCore {
	if len(script) == 0 {
		script = []outcome{ok()}
	}
	return &scriptedCore{BaseProvider: BaseProvider{model: "test-model"}, script: script}
}

func (s *scriptedCore) DoRequest(ctx context.Context, _ string, images []ports.Image, _ map[string]any) (string, int, int, error) {
	s.mu.Lock()
	next := s.script[min(s.calls, len(s.script)-1)]
	s.calls++
	s.images = images
	s.lastCtx = ctx
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		}
	}
	if next.err != nil {
		return "", 0, 0, next.err
	}
	return next.reply, 10, 20, nil
}

func (s *scriptedCore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedCore) lastImages() []ports.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images
}

func (s *scriptedCore) lastContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCtx
}

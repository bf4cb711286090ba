package llm

// Middleware wraps a CoreLLM to add one concern such as retries, pacing,
// or instrumentation.
type Middleware func(CoreLLM) CoreLLM

// Chain wraps core so that mws[0] is the outermost layer: a request passes
// through the middleware in slice order on its way to the provider.
func Chain(core CoreLLM, mws ...Middleware) CoreLLM {
	for i := len(mws) - 1; i >= 0; i-- {
		core = mws[i](core)
	}
	return core
}

// forward is embedded by middleware that only intercepts DoRequest.
type forward struct{ next CoreLLM }

func (f forward) GetModel() string  { return f.next.GetModel() }
func (f forward) SetModel(m string) { f.next.SetModel(m) }

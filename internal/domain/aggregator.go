package domain

// Aggregator combines several independent analyses of the same meal photo
// into one consensus result.
type Aggregator interface {
	// Aggregate merges results into a single ConsensusResult stamped with
	// image.
	//
	// Implementations must not mutate results. An empty slice returns
	// ErrEmptyEnsemble. A single result is returned with its content
	// unchanged.
	//
	// Example:
	//
	//	consensus, err := aggregator.Aggregate([]AnalysisResult{a, b, c}, "file:///meal.jpg")
	Aggregate(results []AnalysisResult, image ImageRef) (ConsensusResult, error)
}

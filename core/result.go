package core

import "time"

// StageTiming records when a pipeline stage started and ended.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// SizeStats summarizes chunk sizes in rows.
type SizeStats struct {
	Mean     float64 `json:"mean"`
	Std      float64 `json:"std"`
	Variance float64 `json:"variance"`
	Min      int     `json:"min"`
	Max      int     `json:"max"`
}

// ChunkQuality is the quality assessment of a chunking result.
type ChunkQuality struct {
	OverallQuality     string    `json:"overall_quality"`
	QualityScore       float64   `json:"quality_score"`
	Coverage           float64   `json:"coverage"`
	TotalChunks        int       `json:"total_chunks"`
	TotalRowsProcessed int       `json:"total_rows_processed"`
	OriginalRows       int       `json:"original_rows"`
	SizeStats          SizeStats `json:"chunk_size_stats"`
	EmptyChunks        int       `json:"empty_chunks"`
	VerySmallChunks    int       `json:"very_small_chunks"`
	VeryLargeChunks    int       `json:"very_large_chunks"`
}

// EmbeddingQuality is the validation report of an embedding result.
// Index lists refer to positions in the embedded chunk sequence.
type EmbeddingQuality struct {
	TotalVectors        int     `json:"total_vectors"`
	Dimension           int     `json:"dimension"`
	DimensionConsistent bool    `json:"dimension_consistent"`
	NonFiniteVectors    []int   `json:"non_finite_vectors,omitempty"`
	ZeroVectors         []int   `json:"zero_vectors,omitempty"`
	MinNorm             float64 `json:"min_norm"`
	MaxNorm             float64 `json:"max_norm"`
	MeanNorm            float64 `json:"mean_norm"`
}

// Valid reports whether every vector is finite and dimensions agree.
// Zero vectors are flagged but do not make a report invalid.
func (q EmbeddingQuality) Valid() bool {
	return q.DimensionConsistent && len(q.NonFiniteVectors) == 0
}

// Fallback records a chunking strategy substitution.
type Fallback struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// ChunkingSummary describes the chunking stage of a run.
type ChunkingSummary struct {
	RequestedMethod string       `json:"requested_method"`
	Method          string       `json:"method"`
	TotalChunks     int          `json:"total_chunks"`
	Quality         ChunkQuality `json:"quality"`
	Fallback        *Fallback    `json:"fallback,omitempty"`
}

// EmbeddingSummary describes the embedding stage of a run.
type EmbeddingSummary struct {
	Model           string           `json:"model"`
	VectorDimension int              `json:"vector_dimension"`
	TotalChunks     int              `json:"total_chunks"`
	BatchSize       int              `json:"batch_size"`
	Batches         int              `json:"batches"`
	Quality         EmbeddingQuality `json:"quality"`
}

// StorageSummary describes where a run's collection lives.
type StorageSummary struct {
	StoreType  string `json:"store_type"`
	Collection string `json:"collection"`
	Location   string `json:"location"`
	Metric     string `json:"similarity_metric"`
	Count      int    `json:"count"`
}

// ProcessingResult summarizes one successful pipeline run. It is never
// produced for a failed run.
type ProcessingResult struct {
	ProcessingID   string           `json:"processing_id"`
	SourceFile     string           `json:"source_file"`
	CreatedAt      time.Time        `json:"created_at"`
	RowsIn         int              `json:"rows_in"`
	RowsOut        int              `json:"rows_out"`
	Timings        []StageTiming    `json:"timings"`
	TotalDuration  time.Duration    `json:"total_duration"`
	Chunking       ChunkingSummary  `json:"chunking"`
	Embedding      EmbeddingSummary `json:"embedding"`
	Storage        StorageSummary   `json:"storage"`
	DownloadLinks  []string         `json:"download_links,omitempty"`
	SearchEndpoint string           `json:"search_endpoint"`
}

// Timing returns the timing of the named stage.
func (r *ProcessingResult) Timing(stage string) (StageTiming, bool) {
	for _, t := range r.Timings {
		if t.Stage == stage {
			return t, true
		}
	}
	return StageTiming{}, false
}

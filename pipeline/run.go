package pipeline

import (
	"time"

	"github.com/poiesic/tabvec/chunking"
	"github.com/poiesic/tabvec/config"
	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/embedding"
	"github.com/poiesic/tabvec/preprocess"
)

// Request is the input of one run.
type Request struct {
	// SourceFile is recorded as provenance on every stored chunk.
	SourceFile string
	Table      *core.Table
	Config     config.RunConfig
	// Progress, when set, receives embedding progress.
	Progress embedding.ProgressFunc
}

// run is the state a worker carries through the stages of one run.
type run struct {
	id       string
	job      *Job
	state    State
	received time.Time
	source   string
	cfg      *config.Resolved
	progress embedding.ProgressFunc

	table    *core.Table
	pre      *preprocess.Result
	chunks   *chunking.Result
	fallback *core.Fallback
	embedded *embedding.Result
	storage  core.StorageSummary
	timings  []core.StageTiming
}

func (r *run) record(stage State, start, end time.Time) {
	r.timings = append(r.timings, core.StageTiming{
		Stage:    string(stage),
		Start:    start,
		End:      end,
		Duration: end.Sub(start),
	})
}

// result assembles the ProcessingResult of a run that finished every stage.
func (r *run) result(searchEndpoint string) *core.ProcessingResult {
	chunkingSummary := core.ChunkingSummary{
		RequestedMethod: string(r.cfg.Method),
		Method:          string(r.chunks.Method),
		TotalChunks:     len(r.chunks.Chunks),
		Quality:         r.chunks.Quality,
		Fallback:        r.fallback,
	}
	var total time.Duration
	if n := len(r.timings); n > 0 {
		total = r.timings[n-1].End.Sub(r.received)
	}
	return &core.ProcessingResult{
		ProcessingID:   r.id,
		SourceFile:     r.source,
		CreatedAt:      r.received,
		RowsIn:         r.pre.FileMetadata.RowsIn,
		RowsOut:        r.pre.FileMetadata.RowCount,
		Timings:        append([]core.StageTiming(nil), r.timings...),
		TotalDuration:  total,
		Chunking:       chunkingSummary,
		Embedding:      r.embedded.Summary(),
		Storage:        r.storage,
		SearchEndpoint: searchEndpoint,
	}
}

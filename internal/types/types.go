// Package types defines the shared data model of the resolver pipeline:
// artifact references extracted from workflows, local inventory entries,
// search hits from remote catalogs, and download tasks.
package types

import "time"

// Kind is the semantic class of a model artifact. It determines the target
// subdirectory under the models root and the catalog routing.
type Kind string

const (
	KindCheckpoint   Kind = "checkpoint"
	KindLora         Kind = "lora"
	KindVAE          Kind = "vae"
	KindCLIP         Kind = "clip"
	KindUNet         Kind = "unet"
	KindControlNet   Kind = "controlnet"
	KindUpscale      Kind = "upscale"
	KindEmbeddings   Kind = "embeddings"
	KindCLIPVision   Kind = "clip_vision"
	KindHypernetwork Kind = "hypernetwork"
	KindTextEncoder  Kind = "text_encoder"
	KindReactor      Kind = "reactor"
	KindUnknown      Kind = "unknown"
)

// kindRank orders kinds from most specific to least. Deduplication keeps the
// reference with the lowest rank when the same filename appears under several
// node hints.
var kindRank = map[Kind]int{
	KindVAE:          0,
	KindLora:         1,
	KindCLIP:         2,
	KindUNet:         3,
	KindReactor:      4,
	KindControlNet:   5,
	KindUpscale:      6,
	KindCheckpoint:   7,
	KindEmbeddings:   8,
	KindCLIPVision:   9,
	KindHypernetwork: 10,
	KindTextEncoder:  11,
	KindUnknown:      12,
}

// Rank returns the specificity rank of k; lower is more specific. Unregistered
// kinds rank after unknown.
func (k Kind) Rank() int {
	if r, ok := kindRank[k]; ok {
		return r
	}
	return len(kindRank)
}

// MoreSpecificThan reports whether k should win over other during dedup.
func (k Kind) MoreSpecificThan(other Kind) bool {
	return k.Rank() < other.Rank()
}

// DetectionStrategy records which analyzer strategy produced a reference.
type DetectionStrategy string

const (
	DetectKnownLoader  DetectionStrategy = "known_loader"
	DetectFluxSpecific DetectionStrategy = "flux_specific"
	DetectPathWalk     DetectionStrategy = "path_walk"
	DetectWidgetScan   DetectionStrategy = "widget_scan"
	DetectGGUFHint     DetectionStrategy = "gguf_hint"
	DetectCustomNode   DetectionStrategy = "custom_node"
)

// ArtifactRef is a model requirement extracted from a workflow. Filenames are
// stored as written but compared case-insensitively.
type ArtifactRef struct {
	Filename string            `json:"filename"`
	Kind     Kind              `json:"kind"`
	NodeID   string            `json:"node_id,omitempty"`
	NodeType string            `json:"node_type,omitempty"`
	Strategy DetectionStrategy `json:"strategy,omitempty"`
}

// LocalModel is a model file discovered on disk by the inventory scan.
type LocalModel struct {
	AbsolutePath string    `json:"absolute_path"`
	Filename     string    `json:"filename"`
	SizeBytes    int64     `json:"size_bytes"`
	ModifiedAt   time.Time `json:"modified_at"`
	Subdirectory string    `json:"subdirectory"`
	Keywords     []string  `json:"keywords,omitempty"`
}

// MatchStatus classifies how well a requirement is satisfied locally.
type MatchStatus string

const (
	MatchPresent MatchStatus = "present"
	MatchPartial MatchStatus = "partial"
	MatchMissing MatchStatus = "missing"
)

// MatchResult pairs an ArtifactRef with its best local candidate. Score is
// 1.0 for exact filename matches, otherwise the keyword Jaccard similarity.
type MatchResult struct {
	Ref       ArtifactRef `json:"ref"`
	Status    MatchStatus `json:"status"`
	Score     float64     `json:"score"`
	Candidate *LocalModel `json:"candidate,omitempty"`
}

// Confidence grades a search hit.
type Confidence string

const (
	ConfidenceExact         Confidence = "exact"
	ConfidenceFilenameMatch Confidence = "filename_match"
	ConfidenceKeywordMatch  Confidence = "keyword_match"
	ConfidenceSuggestive    Confidence = "suggestive"
)

// SearchHit is one downloadable candidate returned by a catalog adapter.
type SearchHit struct {
	Catalog     string     `json:"catalog"`
	Repository  string     `json:"repository"`
	DisplayName string     `json:"display_name"`
	DirectURL   string     `json:"direct_url"`
	SizeBytes   int64      `json:"size_bytes,omitempty"`
	KindHint    Kind       `json:"kind_hint,omitempty"`
	Confidence  Confidence `json:"confidence"`
	// MatchScore is the keyword Jaccard between the hit and the requested
	// filename; only meaningful for keyword_match hits.
	MatchScore float64 `json:"match_score,omitempty"`
}

// RankedCandidate is the ranked, deduplicated hit list for one artifact.
// Rating is 0 (no hits) through 5 stars. Suggestions carries the top queries
// tried when no hit survived, so a caller can supply a manual URL.
type RankedCandidate struct {
	Ref         ArtifactRef `json:"ref"`
	Hits        []SearchHit `json:"hits"`
	Rating      int         `json:"rating"`
	Recommended *SearchHit  `json:"recommended,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
	// Err records a non-fatal adapter failure (transient, auth) attached to
	// this candidate instead of aborting the pipeline.
	Err string `json:"error,omitempty"`
}

// TaskState is the download task state machine. Transitions are monotone
// except active<->paused and failed->queued on retry.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskActive    TaskState = "active"
	TaskPaused    TaskState = "paused"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether s is a final state.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// DownloadTask is the unit of work for the download manager.
type DownloadTask struct {
	ID           int64       `json:"id"`
	Ref          ArtifactRef `json:"ref"`
	SourceURL    string      `json:"source_url"`
	TargetPath   string      `json:"target_path"`
	TempPath     string      `json:"temp_path"`
	ExpectedSize int64       `json:"expected_size,omitempty"`
	State        TaskState   `json:"state"`
	Transferred  int64       `json:"transferred"`
	TotalBytes   int64       `json:"total_bytes"` // 0 when unknown
	Error        string      `json:"error,omitempty"`
	EnqueuedAt   time.Time   `json:"enqueued_at"`
	StartedAt    time.Time   `json:"started_at,omitempty"`
	FinishedAt   time.Time   `json:"finished_at,omitempty"`
	Attempts     int         `json:"attempts"`
}

// Progress is a typed progress event emitted while a task transfers.
// BytesPerSec is the instantaneous rate over the last reporting interval.
type Progress struct {
	TaskID      int64     `json:"task_id"`
	Filename    string    `json:"filename"`
	Transferred int64     `json:"transferred"`
	Total       int64     `json:"total"` // 0 when unknown
	BytesPerSec float64   `json:"bytes_per_sec"`
	Time        time.Time `json:"time"`
}

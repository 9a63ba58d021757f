package model

import (
	"time"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/graphlstm"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ModelRecord is an exported set of GraphLSTM weights plus the widths needed
// to rebuild the network before loading them.
type ModelRecord struct {
	VersionedRecord
	ID         string                  `json:"id"`
	Name       string                  `json:"name"`
	CreatedAt  time.Time               `json:"created_at"`
	Config     graphlstm.Config        `json:"config"`
	State      map[string]nn.ParamData `json:"state"`
	Checksum   uint64                  `json:"checksum"`
	NormDictID string                  `json:"norm_dict_id,omitempty"`
	ParentID   string                  `json:"parent_id,omitempty"`
}

// Range is a [min, max] scaling interval.
type Range [2]float64

func (r Range) Min() float64 { return r[0] }
func (r Range) Max() float64 { return r[1] }

// Span is max - min.
func (r Range) Span() float64 { return r[1] - r[0] }

// NormDict holds the scaling ranges of every feature and response group,
// keyed by group name (acc, vel, disp, momentY, ...).
type NormDict struct {
	VersionedRecord
	ID     string           `json:"id"`
	Ranges map[string]Range `json:"ranges"`
}

// GroupScore is one response group's accuracy.
type GroupScore struct {
	Group  string  `json:"group"`
	R2     float64 `json:"r2"`
	PeakR2 float64 `json:"peak_r2"`
}

// HingeCounts is a confusion matrix for plastic hinge detection.
type HingeCounts struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	TN int `json:"tn"`
}

// EvaluationRecord summarises one model evaluated on one data split.
type EvaluationRecord struct {
	VersionedRecord
	RunID      string       `json:"run_id"`
	ModelID    string       `json:"model_id"`
	Split      string       `json:"split"`
	CreatedAt  time.Time    `json:"created_at"`
	Structures int          `json:"structures"`
	Nodes      int          `json:"nodes"`
	Timesteps  int          `json:"timesteps"`
	Loss       float64      `json:"loss"`
	R2         float64      `json:"r2"`
	PeakR2     float64      `json:"peak_r2"`
	Groups     []GroupScore `json:"groups,omitempty"`
	Hinges     HingeCounts  `json:"hinges"`
}

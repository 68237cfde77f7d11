package model

import "time"

// SessionState is the conversation phase of a session.
type SessionState string

// Conversation phases.
const (
	StateSelectingWorkflow SessionState = "SELECT_WORKFLOW"
	StateConfiguring       SessionState = "CONFIGURING"
	StateReview            SessionState = "REVIEW"
	StateComplete          SessionState = "COMPLETE"
)

// StageProgress tracks collection for one stage.
type StageProgress struct {
	// Values holds collected answers: bool for boolean fields, string otherwise.
	Values map[string]any `json:"values"`
	// FieldOrder is snapshotted from the template at selection time.
	FieldOrder []string `json:"fieldOrder"`
	// Cursor indexes FieldOrder.
	Cursor int `json:"currentFieldIndex"`
}

// Collected reports whether key has a value that is not the empty string.
func (p StageProgress) Collected(key string) bool {
	v, ok := p.Values[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && s == "" {
		return false
	}
	return true
}

// CurrentField returns the key under the cursor.
func (p StageProgress) CurrentField() (string, bool) {
	if p.Cursor < 0 || p.Cursor >= len(p.FieldOrder) {
		return "", false
	}
	return p.FieldOrder[p.Cursor], true
}

func (p StageProgress) clone() StageProgress {
	values := make(map[string]any, len(p.Values))
	for k, v := range p.Values {
		values[k] = v
	}
	order := make([]string, len(p.FieldOrder))
	copy(order, p.FieldOrder)
	return StageProgress{Values: values, FieldOrder: order, Cursor: p.Cursor}
}

// Session is one user's configuration conversation. Sessions are treated as
// values: the engine returns a modified copy and the store swaps it in.
type Session struct {
	ID                 string                     `json:"id"`
	State              SessionState               `json:"state"`
	SelectedTemplateID string                     `json:"selectedWorkflow,omitempty"`
	Progress           map[StageKey]StageProgress `json:"workflowConfig"`
	ActiveStage        StageKey                   `json:"activeNode,omitempty"`
	ActiveFieldKey     string                     `json:"activeFieldKey,omitempty"`
	Version            int                        `json:"version"`
	CreatedAt          time.Time                  `json:"createdAt"`
	UpdatedAt          time.Time                  `json:"updatedAt"`
}

// NewSession returns a fresh session in the workflow-selection phase.
func NewSession(id string, now time.Time) Session {
	progress := make(map[StageKey]StageProgress, len(StageOrder))
	for _, k := range StageOrder {
		progress[k] = StageProgress{Values: map[string]any{}, FieldOrder: []string{}}
	}
	return Session{
		ID:        id,
		State:     StateSelectingWorkflow,
		Progress:  progress,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	out.Progress = make(map[StageKey]StageProgress, len(s.Progress))
	for k, p := range s.Progress {
		out.Progress[k] = p.clone()
	}
	return out
}

// StageProgress returns the progress for stage k. A missing entry yields an
// empty progress record.
func (s Session) StageProgress(k StageKey) StageProgress {
	if p, ok := s.Progress[k]; ok {
		return p
	}
	return StageProgress{Values: map[string]any{}}
}

// HasSelection reports whether a template has been chosen.
func (s Session) HasSelection() bool {
	return s.SelectedTemplateID != ""
}

// IsActiveField reports whether (stage, key) is the field being asked about.
func (s Session) IsActiveField(stage StageKey, key string) bool {
	return s.ActiveStage == stage && s.ActiveFieldKey == key
}

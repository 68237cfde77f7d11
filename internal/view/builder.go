// Package view derives the pipeline diagram shown next to the chat from a
// session and its template.
package view

import (
	"github.com/pitabwire/wizard/model"
)

// Catalog resolves templates by id.
type Catalog interface {
	Get(id string) (model.Template, bool)
}

// Builder computes WorkflowView snapshots. It is stateless and safe for
// concurrent use.
type Builder struct {
	catalog Catalog
}

// NewBuilder creates a Builder over catalog.
func NewBuilder(catalog Catalog) *Builder {
	return &Builder{catalog: catalog}
}

// Build returns the view of s. It never modifies s.
func (b *Builder) Build(s model.Session) model.WorkflowView {
	if !s.HasSelection() {
		return selecting()
	}
	t, ok := b.catalog.Get(s.SelectedTemplateID)
	if !ok {
		return selecting()
	}

	id := t.ID
	summary := t.Summary()
	v := model.WorkflowView{
		SelectedWorkflow: &id,
		Template:         &summary,
		Nodes:            make(map[model.StageKey]model.StageView, len(model.StageOrder)),
		OverallStatus:    model.OverallComplete,
	}

	for _, k := range model.StageOrder {
		st, _ := t.Stage(k)
		sv := buildStage(s, k, st)
		if sv.Status != model.StageComplete {
			v.OverallStatus = model.OverallConfiguring
		}
		v.Nodes[k] = sv
	}
	return v
}

func selecting() model.WorkflowView {
	return model.WorkflowView{OverallStatus: model.OverallSelecting}
}

func buildStage(s model.Session, k model.StageKey, st model.Stage) model.StageView {
	progress := s.StageProgress(k)

	fields := make([]model.FieldView, len(st.Fields))
	for i, f := range st.Fields {
		fields[i] = model.FieldView{
			FieldSchema: f,
			Value:       fieldValue(progress, f.Key),
			Status:      fieldStatus(s, progress, k, f.Key),
		}
	}

	return model.StageView{
		Type:   st.Type,
		Name:   st.Name,
		Icon:   st.Icon,
		Status: stageStatus(s, progress, k, st),
		Fields: fields,
	}
}

func fieldValue(p model.StageProgress, key string) any {
	if !p.Collected(key) {
		return nil
	}
	return p.Values[key]
}

func fieldStatus(s model.Session, p model.StageProgress, k model.StageKey, key string) model.FieldStatus {
	switch {
	case p.Collected(key):
		return model.FieldCollected
	case s.IsActiveField(k, key):
		return model.FieldInProgress
	default:
		return model.FieldTodo
	}
}

// stageStatus follows pipeline position, not only field coverage: a stage
// that is still active never reports complete before review.
func stageStatus(s model.Session, p model.StageProgress, k model.StageKey, st model.Stage) model.StageStatus {
	required := st.RequiredKeys()
	collected := 0
	for _, key := range required {
		if p.Collected(key) {
			collected++
		}
	}

	finished := s.State == model.StateReview || s.State == model.StateComplete
	passed := s.ActiveStage.Index() >= 0 && k.Index() < s.ActiveStage.Index()

	switch {
	case collected == len(required) && (passed || finished):
		return model.StageComplete
	case k == s.ActiveStage:
		return model.StageInProgress
	case collected > 0:
		return model.StagePartial
	default:
		return model.StageTodo
	}
}

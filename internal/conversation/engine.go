// Package conversation implements the scripted dialogue that walks a user
// through choosing a template and filling in its stage fields.
package conversation

import (
	"regexp"
	"strings"
	"time"

	"github.com/pitabwire/wizard/model"
)

// Catalog is the read side of the template registry.
type Catalog interface {
	Get(id string) (model.Template, bool)
	All() []model.Template
}

// Engine is the conversation state machine. It holds no per-session state
// and is safe for concurrent use.
type Engine struct {
	catalog Catalog
	now     func() time.Time
}

// NewEngine creates an Engine over catalog.
func NewEngine(catalog Catalog) *Engine {
	return &Engine{
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Greeting returns the welcome prompt shown to a fresh session.
func (e *Engine) Greeting() model.Response {
	return e.selection(greetingMessage)
}

// Advance applies utterance to s and returns the next session value and the
// response to show. s is never modified. Advance always produces a response.
func (e *Engine) Advance(s model.Session, utterance string) (model.Session, model.Response) {
	next := s.Clone()
	switch s.State {
	case model.StateSelectingWorkflow:
		return e.selectWorkflow(next, utterance)
	case model.StateConfiguring:
		return e.configure(next, utterance)
	case model.StateReview:
		return e.review(next, utterance)
	case model.StateComplete:
		return e.complete(next, utterance)
	default:
		return s, e.Greeting()
	}
}

// Fresh returns a brand-new session with the same id as s. The version is
// carried so the store accepts it as the successor of s.
func (e *Engine) Fresh(s model.Session) model.Session {
	fresh := model.NewSession(s.ID, e.now())
	fresh.Version = s.Version
	return fresh
}

func (e *Engine) restart(s model.Session) (model.Session, model.Response) {
	return e.Fresh(s), e.Greeting()
}

func (e *Engine) selection(message string) model.Response {
	all := e.catalog.All()
	opts := make([]model.Option, len(all))
	for i, t := range all {
		opts[i] = model.Option{ID: t.ID, Label: t.Name, Description: t.Description}
	}
	return model.Response{Message: message, Options: opts, InputType: model.InputOptions}
}

var whitespace = regexp.MustCompile(`\s+`)

func normalizeID(utterance string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(utterance)), "-")
}

func (e *Engine) lookup(utterance string) (model.Template, bool) {
	if t, ok := e.catalog.Get(normalizeID(utterance)); ok {
		return t, true
	}
	return e.catalog.Get(utterance)
}

func (e *Engine) selectWorkflow(s model.Session, utterance string) (model.Session, model.Response) {
	if strings.TrimSpace(utterance) == "" {
		return s, e.Greeting()
	}

	t, ok := e.lookup(utterance)
	if !ok {
		return s, e.selection(unknownWorkflowMessage)
	}

	if len(t.Source.Fields) == 0 {
		return s, e.selection(unknownWorkflowMessage)
	}

	s.SelectedTemplateID = t.ID
	s.State = model.StateConfiguring
	s.ActiveStage = model.StageSource
	for _, k := range model.StageOrder {
		st, _ := t.Stage(k)
		s.Progress[k] = model.StageProgress{
			Values:     map[string]any{},
			FieldOrder: st.Fields.Keys(),
			Cursor:     0,
		}
	}

	field := t.Source.Fields[0]
	s.ActiveFieldKey = field.Key
	r := fieldPrompt(field)
	r.Message = selectedMessage(t) + "\n\n" + r.Message
	return s, r
}

func (e *Engine) configure(s model.Session, utterance string) (model.Session, model.Response) {
	t, ok := e.catalog.Get(s.SelectedTemplateID)
	if !ok {
		// The template left the catalog; start selection over.
		return e.Fresh(s), e.selection(templateGoneMessage)
	}
	stage, ok := t.Stage(s.ActiveStage)
	if !ok || s.ActiveFieldKey == "" {
		return s, e.reprompt(s, t)
	}
	field, ok := stage.Fields.Get(s.ActiveFieldKey)
	if !ok {
		return s, e.reprompt(s, t)
	}

	progress := s.Progress[s.ActiveStage]
	if progress.Values == nil {
		progress.Values = map[string]any{}
	}
	progress.Values[s.ActiveFieldKey] = coerce(field.Kind, utterance)

	if progress.Cursor < len(progress.FieldOrder)-1 {
		progress.Cursor++
		s.Progress[s.ActiveStage] = progress
		s.ActiveFieldKey = progress.FieldOrder[progress.Cursor]

		nextField, _ := stage.Fields.Get(s.ActiveFieldKey)
		r := fieldPrompt(nextField)
		r.Message = ackPrefix + "\n\n" + r.Message
		return s, r
	}
	s.Progress[s.ActiveStage] = progress

	nextKey, hasNext := s.ActiveStage.Next()
	if !hasNext {
		s.State = model.StateReview
		return s, model.Response{
			Message:   reviewMessage(t),
			Options:   reviewOptions(),
			InputType: model.InputOptions,
		}
	}

	nextStage, _ := t.Stage(nextKey)
	nextProgress := s.Progress[nextKey]
	nextProgress.Cursor = 0
	s.Progress[nextKey] = nextProgress
	s.ActiveStage = nextKey
	s.ActiveFieldKey, _ = nextProgress.CurrentField()

	nextField, _ := nextStage.Fields.Get(s.ActiveFieldKey)
	r := fieldPrompt(nextField)
	r.Message = stageDoneMessage(stage, nextKey.Index()+1, nextStage) + "\n\n" + r.Message
	return s, r
}

// reprompt asks again for whatever the cursor points at, or falls back to
// the template list when nothing can be resolved.
func (e *Engine) reprompt(s model.Session, t model.Template) model.Response {
	stage, ok := t.Stage(s.ActiveStage)
	if !ok {
		return e.selection(unknownWorkflowMessage)
	}
	key, ok := s.StageProgress(s.ActiveStage).CurrentField()
	if !ok {
		return e.selection(unknownWorkflowMessage)
	}
	field, ok := stage.Fields.Get(key)
	if !ok {
		return e.selection(unknownWorkflowMessage)
	}
	return fieldPrompt(field)
}

// matchAction reports whether action equals the option id or its label.
func matchAction(action string, opts ...model.Option) bool {
	for _, o := range opts {
		if action == o.ID || action == strings.ToLower(o.Label) {
			return true
		}
	}
	return false
}

func (e *Engine) review(s model.Session, utterance string) (model.Session, model.Response) {
	action := strings.ToLower(strings.TrimSpace(utterance))
	t, _ := e.catalog.Get(s.SelectedTemplateID)

	switch {
	case matchAction(action, optActivate):
		s.State = model.StateComplete
		return s, model.Response{
			Message:   activatedMessage(t),
			Options:   []model.Option{optAnother},
			InputType: model.InputOptions,
		}
	case matchAction(action, optTest):
		return s, model.Response{
			Message:   testedMessage(t),
			Options:   []model.Option{optActivate, optNew},
			InputType: model.InputOptions,
		}
	case matchAction(action, optNew, optAnother):
		return e.restart(s)
	default:
		return s, model.Response{
			Message:   selectOptionMessage,
			Options:   []model.Option{optActivate, optTest, optNew},
			InputType: model.InputOptions,
		}
	}
}

func (e *Engine) complete(s model.Session, utterance string) (model.Session, model.Response) {
	lower := strings.ToLower(utterance)
	if strings.Contains(lower, "new") || strings.Contains(lower, "another") {
		return e.restart(s)
	}
	return s, model.Response{
		Message:   runningMessage,
		Options:   []model.Option{optAnother},
		InputType: model.InputOptions,
	}
}

package conversation

import (
	"fmt"
	"strings"

	"github.com/pitabwire/wizard/model"
)

// promptFunc builds the response asking for one field.
type promptFunc func(f model.FieldSchema) model.Response

var prompts = map[model.FieldKind]promptFunc{
	model.FieldText:        textPrompt,
	model.FieldPassword:    textPrompt,
	model.FieldSelect:      choicePrompt,
	model.FieldMultiSelect: choicePrompt,
	model.FieldBoolean:     booleanPrompt,
	model.FieldOAuth:       oauthPrompt,
	model.FieldFile:        filePrompt,
}

// fieldPrompt dispatches on the field kind. Unknown kinds are asked as text.
func fieldPrompt(f model.FieldSchema) model.Response {
	p, ok := prompts[f.Kind]
	if !ok {
		p = textPrompt
	}
	return p(f)
}

func fieldLine(f model.FieldSchema) string {
	return fmt.Sprintf("**%s**: %s", f.Label, f.Description)
}

func choicePrompt(f model.FieldSchema) model.Response {
	opts := make([]model.Option, len(f.Options))
	for i, o := range f.Options {
		opts[i] = model.Option{ID: o, Label: o}
	}
	return model.Response{Message: fieldLine(f), Options: opts, InputType: model.InputOptions}
}

func booleanPrompt(f model.FieldSchema) model.Response {
	return model.Response{
		Message: fieldLine(f),
		Options: []model.Option{
			{ID: "yes", Label: "Yes"},
			{ID: "no", Label: "No"},
		},
		InputType: model.InputOptions,
	}
}

func oauthPrompt(f model.FieldSchema) model.Response {
	return model.Response{
		Message: fieldLine(f) + "\n\n_Click to authenticate (simulated)_",
		Options: []model.Option{
			{ID: "connected", Label: "🔗 Connect Account", Description: "Authenticate with OAuth"},
		},
		InputType: model.InputOptions,
	}
}

func filePrompt(f model.FieldSchema) model.Response {
	return model.Response{
		Message: fieldLine(f) + "\n\n_Upload your file (simulated)_",
		Options: []model.Option{
			{ID: "uploaded", Label: "📁 Upload File", Description: "Select file to upload"},
		},
		InputType: model.InputOptions,
	}
}

// urlHints mark placeholders that are worth pre-filling as an example.
var urlHints = []string{"http", ".com", "@", "/"}

func textPrompt(f model.FieldSchema) model.Response {
	r := model.Response{Message: fieldLine(f), InputType: model.InputText}
	if f.Placeholder == "" {
		r.Placeholder = "Enter " + strings.ToLower(f.Label) + "..."
		return r
	}
	r.Placeholder = "e.g., " + f.Placeholder
	if f.Kind == model.FieldText {
		for _, h := range urlHints {
			if strings.Contains(f.Placeholder, h) {
				r.Example = f.Placeholder
				break
			}
		}
	}
	return r
}

// coerce converts an utterance into the stored value for a field kind.
func coerce(kind model.FieldKind, utterance string) any {
	v := strings.TrimSpace(utterance)
	if kind == model.FieldBoolean {
		lower := strings.ToLower(v)
		return lower == "yes" || lower == "true"
	}
	return v
}

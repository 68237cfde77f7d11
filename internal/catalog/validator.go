package catalog

import (
	"fmt"

	"github.com/pitabwire/wizard/model"
)

// VError describes a single validation error in a template file.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks templates structurally.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every template in files. Duplicate ids are rejected
// within one file; across files a later file overrides an earlier one.
func (v *Validator) Validate(files []File) []VError {
	var errs []VError
	total := 0
	for _, f := range files {
		seen := make(map[string]bool)
		for i, t := range f.Templates {
			prefix := fmt.Sprintf("%s.templates[%d]", f.SourceFile, i)
			if t.ID != "" && seen[t.ID] {
				errs = append(errs, VError{Path: prefix + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate template id %q", t.ID)})
			}
			seen[t.ID] = true
			errs = append(errs, v.validateTemplate(prefix, t)...)
			total++
		}
	}
	if total == 0 {
		errs = append(errs, VError{Path: "templates", Code: "REQUIRED", Message: "at least one template is required"})
	}
	return errs
}

func (v *Validator) validateTemplate(prefix string, t model.Template) []VError {
	var errs []VError

	if t.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if t.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}

	for _, k := range model.StageOrder {
		st, _ := t.Stage(k)
		errs = append(errs, v.validateStage(fmt.Sprintf("%s.%s", prefix, k), st)...)
	}

	return errs
}

func (v *Validator) validateStage(prefix string, s model.Stage) []VError {
	var errs []VError

	if s.Type == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "type is required"})
	}
	if s.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if len(s.Fields) == 0 {
		errs = append(errs, VError{Path: prefix + ".fields", Code: "REQUIRED", Message: "at least one field is required"})
	}

	keys := make(map[string]bool)
	for _, f := range s.Fields {
		fp := fmt.Sprintf("%s.fields.%s", prefix, f.Key)
		if keys[f.Key] {
			errs = append(errs, VError{Path: fp, Code: "DUPLICATE", Message: fmt.Sprintf("duplicate field key %q", f.Key)})
		}
		keys[f.Key] = true
		errs = append(errs, v.validateField(fp, f)...)
	}

	return errs
}

func (v *Validator) validateField(prefix string, f model.FieldSchema) []VError {
	var errs []VError

	if f.Key == "" {
		errs = append(errs, VError{Path: prefix, Code: "REQUIRED", Message: "field key is required"})
	}
	if f.Label == "" {
		errs = append(errs, VError{Path: prefix + ".label", Code: "REQUIRED", Message: "label is required"})
	}
	if f.Kind == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "type is required"})
	} else if !f.Kind.Valid() {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid field type %q", f.Kind)})
	}
	if f.Kind.HasChoices() && len(f.Options) == 0 {
		errs = append(errs, VError{Path: prefix + ".options", Code: "REQUIRED", Message: fmt.Sprintf("options required for %s fields", f.Kind)})
	}

	return errs
}

// AsFieldErrors converts validation errors for an error envelope.
func AsFieldErrors(errs []VError) []model.FieldError {
	out := make([]model.FieldError, len(errs))
	for i, e := range errs {
		out[i] = model.FieldError{Field: e.Path, Code: e.Code, Message: e.Message}
	}
	return out
}

// Build loads, validates, and indexes the catalog in one step.
func Build(directories []string) (*Registry, error) {
	files, err := NewLoader().LoadAll(directories)
	if err != nil {
		return nil, err
	}
	if verrs := NewValidator().Validate(files); len(verrs) > 0 {
		return nil, model.NewCatalogInvalidError(AsFieldErrors(verrs))
	}
	return NewRegistry(files), nil
}

// Reload re-reads directories and swaps the result into r. On any load or
// validation error r keeps serving the previous catalog.
func (r *Registry) Reload(directories []string) error {
	files, err := NewLoader().LoadAll(directories)
	if err != nil {
		return err
	}
	if verrs := NewValidator().Validate(files); len(verrs) > 0 {
		return model.NewCatalogInvalidError(AsFieldErrors(verrs))
	}
	r.Replace(files)
	return nil
}

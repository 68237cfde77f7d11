// Package catalog loads workflow templates from the embedded built-in catalog
// and optional YAML directories, validates them, and serves them from a
// read-optimized registry.
package catalog

import (
	"crypto/sha256"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/wizard/model"
)

//go:embed templates.yaml
var builtinTemplates []byte

// BuiltinSource is the SourceFile recorded for embedded templates.
const BuiltinSource = "builtin:templates.yaml"

// catalogFile is the on-disk shape of a template file.
type catalogFile struct {
	Templates []model.Template `yaml:"templates"`
}

// File is one parsed template file.
type File struct {
	Templates  []model.Template
	Checksum   string
	SourceFile string
}

// Loader scans directories for YAML template files and parses them.
type Loader struct{}

// NewLoader creates a new template Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadBuiltin parses the embedded catalog.
func (l *Loader) LoadBuiltin() (File, error) {
	return l.parse(builtinTemplates, BuiltinSource)
}

// LoadAll returns the built-in catalog followed by every *.yaml and *.yml
// file found under directories, in walk order.
func (l *Loader) LoadAll(directories []string) ([]File, error) {
	builtin, err := l.LoadBuiltin()
	if err != nil {
		return nil, err
	}
	files := []File{builtin}

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			f, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			files = append(files, f)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return files, nil
}

// LoadFile loads and parses a single template file.
func (l *Loader) LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return l.parse(data, path)
}

func (l *Loader) parse(data []byte, source string) (File, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return File{}, fmt.Errorf("parsing %s: %w", source, err)
	}
	return File{
		Templates:  cf.Templates,
		Checksum:   fmt.Sprintf("%x", sha256.Sum256(data)),
		SourceFile: source,
	}, nil
}

// Templates flattens files into a single ordered template list.
func Templates(files []File) []model.Template {
	var out []model.Template
	for _, f := range files {
		out = append(out, f.Templates...)
	}
	return out
}

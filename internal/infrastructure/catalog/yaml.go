package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/case-documents/internal/core/domain"
)

// File is a template catalog stored as YAML on disk.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

type document struct {
	Templates []entry `yaml:"templates"`
}

type entry struct {
	DisplayName string   `yaml:"display_name"`
	Category    string   `yaml:"category"`
	Issuer      string   `yaml:"issuer"`
	TargetKind  string   `yaml:"target_kind"`
	Lifecycle   string   `yaml:"lifecycle"`
	Frequency   string   `yaml:"frequency"`
	RequiredFor []string `yaml:"required_for"`
}

func (f *File) Templates(_ context.Context) ([]domain.TemplateInput, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a catalog and validates every entry.
func Parse(raw []byte) ([]domain.TemplateInput, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode template catalog: %w", err)
	}

	out := make([]domain.TemplateInput, 0, len(doc.Templates))
	for i, e := range doc.Templates {
		in := e.input().Normalize()
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %d (%s): %w", i, e.DisplayName, err)
		}
		out = append(out, in)
	}
	return out, nil
}

func (e entry) input() domain.TemplateInput {
	in := domain.TemplateInput{
		DisplayName: e.DisplayName,
		Category:    domain.Category(e.Category),
		Issuer:      e.Issuer,
		TargetKind:  domain.TargetKind(e.TargetKind),
		Lifecycle:   domain.Lifecycle(e.Lifecycle),
		RequiredFor: make([]domain.RequiredForTag, 0, len(e.RequiredFor)),
	}
	if e.Frequency != "" {
		freq := domain.Frequency(e.Frequency)
		in.Frequency = &freq
	}
	for _, tag := range e.RequiredFor {
		in.RequiredFor = append(in.RequiredFor, domain.RequiredForTag(tag))
	}
	return in
}

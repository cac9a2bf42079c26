package settings

import (
	"context"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// FileSource reads settings from a YAML file. Keys absent from the file
// keep their defaults.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (f *FileSource) Fetch(ctx context.Context) (Shift, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Shift{}, fmt.Errorf("read settings file: %w", err)
	}
	next := Default()
	if err := yaml.Unmarshal(data, &next); err != nil {
		return Shift{}, fmt.Errorf("parse settings file: %w", err)
	}
	return next, nil
}

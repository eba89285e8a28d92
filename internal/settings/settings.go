// Package settings provides the company settings consumed by the drainer,
// read from the database row or, for local setups, from a YAML file.
package settings

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"lmsmail/internal/models"
)

// Source returns the current company settings.
type Source interface {
	Load(ctx context.Context) (models.CompanySettings, error)
}

// RowLoader is implemented by *db.Store.
type RowLoader interface {
	LoadSettings(ctx context.Context) (models.CompanySettings, error)
}

type dbSource struct {
	loader RowLoader
}

func (s dbSource) Load(ctx context.Context) (models.CompanySettings, error) {
	return s.loader.LoadSettings(ctx)
}

// FileSource reads settings from a YAML file on every Load, expanding
// ${VAR} references so secrets can stay in the environment.
type FileSource struct {
	Path string
}

func (f FileSource) Load(_ context.Context) (models.CompanySettings, error) {
	var cs models.CompanySettings

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return cs, fmt.Errorf("read settings file %s: %w", f.Path, err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cs); err != nil {
		return cs, fmt.Errorf("parse settings file %s: %w", f.Path, err)
	}
	return cs, nil
}

// New returns a FileSource when path is set, otherwise a source backed by
// the company_settings row.
func New(path string, loader RowLoader) Source {
	if path != "" {
		return FileSource{Path: path}
	}
	return dbSource{loader: loader}
}

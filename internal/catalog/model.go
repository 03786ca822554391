// Package catalog holds the model catalog: immutable model configurations,
// the in-memory repository that serves lookups, and the providers that push
// catalog updates into it.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"modelbench/internal/common/fsutil"
	"modelbench/internal/config"
)

// ErrModelNotFound is returned when a model id is not present in the catalog.
var ErrModelNotFound = errors.New("catalog: model not found")

// ModelConfiguration describes one downloadable model bundle.
// Values are immutable once loaded; identity is ModelID.
type ModelConfiguration struct {
	ModelID              string `json:"model_id" yaml:"model_id" toml:"model_id"`
	ModelFamily          string `json:"model_family" yaml:"model_family" toml:"model_family"`
	DownloadURL          string `json:"download_url" yaml:"download_url" toml:"download_url"`
	BundleFilename       string `json:"bundle_filename" yaml:"bundle_filename" toml:"bundle_filename"`
	ApproximateSizeBytes int64  `json:"approximate_size_bytes" yaml:"approximate_size_bytes" toml:"approximate_size_bytes"`
	SupportsTools        bool   `json:"supports_tools" yaml:"supports_tools" toml:"supports_tools"`
	Quantization         string `json:"quantization" yaml:"quantization" toml:"quantization"`
}

// Validate checks the fields every catalog entry must carry.
func (m ModelConfiguration) Validate() error {
	if strings.TrimSpace(m.ModelID) == "" {
		return errors.New("model_id is required")
	}
	if _, err := fsutil.SafeBase(m.BundleFilename); err != nil {
		return fmt.Errorf("model %s: %w", m.ModelID, err)
	}
	return nil
}

// catalogFile is the on-disk catalog shape.
type catalogFile struct {
	Models []ModelConfiguration `json:"models" yaml:"models" toml:"models"`
}

// LoadFile decodes a catalog file (.json, .yaml/.yml or .toml) and validates
// every entry.
func LoadFile(path string) ([]ModelConfiguration, error) {
	var f catalogFile
	if err := config.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	for i, m := range f.Models {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("catalog %s entry %d: %w", path, i, err)
		}
	}
	return f.Models, nil
}

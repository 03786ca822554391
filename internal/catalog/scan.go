package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modelbench/internal/common/fsutil"
)

// ScanDir scans a directory for *.gguf files and builds local-only catalog
// entries from the filenames. ModelID and BundleFilename are the full
// filename; the size is taken from the file. Other metadata is empty.
func ScanDir(dir string) ([]ModelConfiguration, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []ModelConfiguration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		var size int64
		if fi, err := e.Info(); err == nil {
			size = fi.Size()
		}
		models = append(models, ModelConfiguration{
			ModelID:              name,
			BundleFilename:       name,
			ApproximateSizeBytes: size,
			Quantization:         quantFromName(name),
		})
	}
	return models, nil
}

// quantFromName extracts a llama.cpp style quantization tag (e.g. Q4_K_M)
// from a bundle filename, or returns "".
func quantFromName(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.FieldsFunc(stem, func(r rune) bool { return r == '.' || r == '-' })
	for i := len(parts) - 1; i >= 0; i-- {
		p := strings.ToUpper(parts[i])
		if len(p) >= 2 && (p[0] == 'Q' || p[0] == 'F') && p[1] >= '0' && p[1] <= '9' {
			return p
		}
	}
	return ""
}

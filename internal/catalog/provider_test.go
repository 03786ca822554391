package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogV1 = `models:
  - model_id: gemma3-1b
    model_family: gemma
    download_url: https://example.com/gemma3-1b.gguf
    bundle_filename: gemma3-1b.gguf
    approximate_size_bytes: 1024
`

const catalogV2 = `models:
  - model_id: qwen2.5-1.5b
    model_family: qwen
    download_url: https://example.com/qwen.gguf
    bundle_filename: qwen.gguf
    supports_tools: true
  - model_id: qwen2.5-3b
    model_family: qwen
    bundle_filename: qwen3b.gguf
`

func recv(t *testing.T, ch <-chan []ModelConfiguration) []ModelConfiguration {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "provider channel closed")
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for catalog")
		return nil
	}
}

func TestLoadFile_Formats(t *testing.T) {
	dir := t.TempDir()
	js := filepath.Join(dir, "c.json")
	require.NoError(t, os.WriteFile(js, []byte(`{"models":[{"model_id":"m","bundle_filename":"m.gguf","supports_tools":true}]}`), 0o644))
	tm := filepath.Join(dir, "c.toml")
	require.NoError(t, os.WriteFile(tm, []byte("[[models]]\nmodel_id = \"m\"\nbundle_filename = \"m.gguf\"\n"), 0o644))

	for _, p := range []string{js, tm} {
		models, err := LoadFile(p)
		require.NoError(t, err, p)
		require.Len(t, models, 1)
		assert.Equal(t, "m.gguf", models[0].BundleFilename)
	}
}

func TestLoadFile_RejectsUnsafeBundleName(t *testing.T) {
	p := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(p, []byte("models:\n  - model_id: x\n    bundle_filename: ../x.gguf\n"), 0o644))
	_, err := LoadFile(p)
	require.Error(t, err)
}

func TestStaticProvider_EmitsOnceAndCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := StaticProvider{Models: sampleModels()}.Watch(ctx)
	require.NoError(t, err)
	assert.Len(t, recv(t, ch), 3)
	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestFileProvider_ReloadsOnChange(t *testing.T) {
	p := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(p, []byte(catalogV1), 0o644))

	fp := NewFileProvider(p, zerolog.Nop())
	fp.Debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := fp.Watch(ctx)
	require.NoError(t, err)

	first := recv(t, ch)
	require.Len(t, first, 1)
	assert.Equal(t, "gemma3-1b", first[0].ModelID)

	require.NoError(t, os.WriteFile(p, []byte(catalogV2), 0o644))
	second := recv(t, ch)
	require.Len(t, second, 2)
	assert.True(t, second[0].SupportsTools)
}

func TestFileProvider_KeepsLastGoodOnDecodeError(t *testing.T) {
	p := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(p, []byte(catalogV1), 0o644))

	fp := NewFileProvider(p, zerolog.Nop())
	fp.Debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := fp.Watch(ctx)
	require.NoError(t, err)
	_ = recv(t, ch)

	require.NoError(t, os.WriteFile(p, []byte("models: [::"), 0o644))
	select {
	case m := <-ch:
		t.Fatalf("unexpected emission after broken catalog: %v", m)
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(p, []byte(catalogV2), 0o644))
	assert.Len(t, recv(t, ch), 2)
}

func TestFileProvider_MissingFile(t *testing.T) {
	fp := NewFileProvider(filepath.Join(t.TempDir(), "nope.yaml"), zerolog.Nop())
	_, err := fp.Watch(context.Background())
	require.Error(t, err)
}

package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"modelbench/internal/catalog"
)

// fakeBackend is a lightweight in-memory backend used for tests.
type fakeBackend struct {
	tools   bool
	loadErr error
	model   *fakeModel
	loads   int
	mu      sync.Mutex
}

func (b *fakeBackend) SupportsTools() bool { return b.tools }

func (b *fakeBackend) Load(ctx context.Context, o LoadOptions) (Model, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads++
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	if b.model == nil {
		b.model = &fakeModel{}
	}
	b.model.opts = o
	return b.model, nil
}

// fakeModel replies via respond, or echoes the last user turn.
type fakeModel struct {
	mu      sync.Mutex
	respond func(history []Message) ([]string, []ToolCall)
	genErr  error
	// block makes Generate wait for cancellation after the first fragment.
	block  bool
	opts   LoadOptions
	seen   [][]Message
	closed int
	active int
	maxAct int
}

func (m *fakeModel) Generate(ctx context.Context, history []Message, tools []Tool, onToken func(string) error) (FinalResult, error) {
	m.mu.Lock()
	m.seen = append(m.seen, cloneMessages(history))
	m.active++
	if m.active > m.maxAct {
		m.maxAct = m.active
	}
	respond, genErr, block := m.respond, m.genErr, m.block
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if genErr != nil {
		return FinalResult{}, genErr
	}
	if respond == nil {
		respond = echo
	}
	toks, calls := respond(history)
	for i, tok := range toks {
		select {
		case <-ctx.Done():
			return FinalResult{}, ctx.Err()
		default:
		}
		if err := onToken(tok); err != nil {
			return FinalResult{}, err
		}
		if block && i == 0 {
			<-ctx.Done()
			return FinalResult{}, ctx.Err()
		}
	}
	return FinalResult{Content: strings.Join(toks, ""), ToolCalls: calls, FinishReason: "stop"}, nil
}

func (m *fakeModel) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	return nil
}

func (m *fakeModel) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeModel) lastSeen() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seen) == 0 {
		return nil
	}
	return m.seen[len(m.seen)-1]
}

// echo answers with the last user turn and the history length.
func echo(history []Message) ([]string, []ToolCall) {
	last := history[len(history)-1].Content
	return []string{"you ", "said: ", last, " (", strings.Repeat("*", len(history)), ")"}, nil
}

// createModelFile writes a small non-GGUF bundle and returns its path.
func createModelFile(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return p
}

// writeGGUF writes a minimal GGUF v3 file with no tensors.
func writeGGUF(t *testing.T, arch string) string {
	t.Helper()
	var b bytes.Buffer
	le := binary.LittleEndian
	str := func(s string) {
		_ = binary.Write(&b, le, uint64(len(s)))
		b.WriteString(s)
	}
	b.WriteString("GGUF")
	_ = binary.Write(&b, le, uint32(3)) // version
	_ = binary.Write(&b, le, uint64(0)) // tensors
	_ = binary.Write(&b, le, uint64(2)) // kv pairs
	str("general.architecture")
	_ = binary.Write(&b, le, uint32(8)) // string
	str(arch)
	str("general.file_type")
	_ = binary.Write(&b, le, uint32(4)) // uint32
	_ = binary.Write(&b, le, uint32(15))
	for b.Len()%32 != 0 {
		b.WriteByte(0)
	}
	p := filepath.Join(t.TempDir(), "tiny.gguf")
	if err := os.WriteFile(p, b.Bytes(), 0o644); err != nil {
		t.Fatalf("write gguf: %v", err)
	}
	return p
}

func testConfig(tools bool) catalog.ModelConfiguration {
	return catalog.ModelConfiguration{ModelID: "tiny", ModelFamily: "test", BundleFilename: "tiny.bin", SupportsTools: tools}
}

// readyEngine returns an initialized engine over a fresh fake backend.
func readyEngine(t *testing.T, tools bool, opts ...Option) (*Engine, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{tools: tools}
	e := New(fb, opts...)
	if err := e.Initialize(testCtx(t), testConfig(tools), createModelFile(t, "tiny.bin"), InitOptions{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = e.CloseSession() })
	return e, fb
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"modelbench/internal/catalog"
)

// DefaultMaxToolRounds bounds generate/invoke cycles within one turn.
const DefaultMaxToolRounds = 4

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.pub = p
		}
	}
}

// WithMaxToolRounds overrides DefaultMaxToolRounds.
func WithMaxToolRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxToolRounds = n
		}
	}
}

// Engine owns exactly one session: the loaded model, the active tool set and
// the conversation history.
type Engine struct {
	backend       Backend
	log           zerolog.Logger
	pub           EventPublisher
	maxToolRounds int

	// slot admits one turn or (re)initialization at a time; waiters are
	// admitted in arrival order.
	slot chan struct{}
	life context.Context
	kill context.CancelFunc

	mu      sync.Mutex
	state   State
	model   Model
	cfg     catalog.ModelConfiguration
	path    string
	info    ModelInfo
	opts    InitOptions
	tools   []Tool
	history []Message
	lastErr error
}

// New returns an Uninitialized engine using backend.
func New(backend Backend, opts ...Option) *Engine {
	life, kill := context.WithCancel(context.Background())
	e := &Engine{
		backend:       backend,
		log:           zerolog.Nop(),
		pub:           noopPublisher{},
		maxToolRounds: DefaultMaxToolRounds,
		slot:          make(chan struct{}, 1),
		life:          life,
		kill:          kill,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Model returns the configuration and path of the loaded model.
func (e *Engine) Model() (catalog.ModelConfiguration, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.path, e.state == Ready
}

// LoadedOptions returns the options the current model was loaded with.
// The zero value is returned when no model is ready.
func (e *Engine) LoadedOptions() InitOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		return InitOptions{}
	}
	return e.opts
}

// Info returns metadata read from the loaded bundle.
func (e *Engine) Info() ModelInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

// LastError returns the most recent initialization or inference error.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// History returns a copy of the conversation history.
func (e *Engine) History() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneMessages(e.history)
}

// ToolNames returns the names of the active tools.
func (e *Engine) ToolNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.tools))
	for i, t := range e.tools {
		out[i] = t.Name
	}
	return out
}

// acquire takes the turn slot. It fails fast once the session is closed.
func (e *Engine) acquire(ctx context.Context, op string) error {
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return &InferenceError{Op: op, Err: ctx.Err()}
	case <-e.life.Done():
		return &SessionClosedError{Op: op}
	}
	e.mu.Lock()
	closed := e.state == Closed
	e.mu.Unlock()
	if closed {
		e.release()
		return &SessionClosedError{Op: op}
	}
	return nil
}

// release frees the turn slot. If the session was closed while the slot was
// held, the model is freed here.
func (e *Engine) release() {
	e.mu.Lock()
	var m Model
	if e.state == Closed {
		m, e.model = e.model, nil
	}
	<-e.slot
	e.mu.Unlock()
	if m != nil {
		if err := m.Close(); err != nil {
			e.log.Warn().Err(err).Msg("engine event=model_close_failed")
		}
	}
}

func (e *Engine) setErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func (e *Engine) publish(name string, fields map[string]any) {
	e.mu.Lock()
	id := e.cfg.ModelID
	e.mu.Unlock()
	e.pub.Publish(Event{Name: name, ModelID: id, Fields: fields})
}

// CloseSession moves the engine to Closed, cancels any outstanding turn and
// releases the model. Closed is terminal. CloseSession is idempotent.
func (e *Engine) CloseSession() error {
	e.mu.Lock()
	if e.state == Closed {
		e.mu.Unlock()
		return nil
	}
	e.state = Closed
	e.history, e.tools = nil, nil
	var m Model
	select {
	case e.slot <- struct{}{}:
		// Idle: take the slot for good and free the model now.
		m, e.model = e.model, nil
	default:
		// A turn is running; release frees the model when it returns.
	}
	e.mu.Unlock()
	e.kill()

	var err error
	if m != nil {
		err = m.Close()
	}
	e.log.Info().Msg("engine event=session_closed")
	e.publish(EventSessionClose, nil)
	return err
}

// Package download fetches model bundles into a local directory and tracks a
// status per bundle filename.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"modelbench/internal/common/broadcast"
	"modelbench/internal/common/fsutil"
)

const (
	partSuffix              = ".part"
	defaultProgressInterval = 200 * time.Millisecond
	copyBufferSize          = 256 << 10
)

// TokenSource supplies the bearer token for authenticated downloads.
type TokenSource interface {
	Token() (string, bool)
}

// StatusHook observes every status change synchronously, in emission order.
type StatusHook func(filename string, st Status)

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for transfers.
func WithHTTPClient(c *http.Client) Option { return func(m *Manager) { m.client = c } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.log = l } }

// WithTokenSource attaches an auth token source.
func WithTokenSource(ts TokenSource) Option { return func(m *Manager) { m.tokens = ts } }

// WithProgressInterval sets the minimum time between InProgress updates.
func WithProgressInterval(d time.Duration) Option { return func(m *Manager) { m.every = d } }

// WithStatusHook registers a hook called for every status change.
func WithStatusHook(h StatusHook) Option { return func(m *Manager) { m.hook = h } }

// DownloadOption tunes a single DownloadModel call.
type DownloadOption func(*downloadOpts)

type downloadOpts struct {
	force bool
}

// WithForce re-downloads even when the bundle is already completed.
func WithForce() DownloadOption { return func(o *downloadOpts) { o.force = true } }

// attempt is one in-flight transfer of a filename.
type attempt struct {
	gen    uint64
	cancel context.CancelFunc
	revert Status
}

// flightKey names the shared transfer of one generation of a filename.
func flightKey(name string, gen uint64) string {
	return name + "#" + strconv.FormatUint(gen, 10)
}

// Manager owns the bundle directory and the filename -> Status map.
type Manager struct {
	dir    string
	client *http.Client
	tokens TokenSource
	log    zerolog.Logger
	every  time.Duration
	hook   StatusHook

	base    context.Context
	stopAll context.CancelFunc
	group   singleflight.Group

	mu       sync.Mutex
	statuses map[string]Status
	active   map[string]*attempt
	gens     map[string]uint64 // bumped when an attempt is retired early
	waiters  map[string]int    // callers per flight key
	hub      *broadcast.Hub[map[string]Status]
	disposed bool
}

// NewManager creates the bundle directory if needed and reports every bundle
// already present in it as Completed. Stale partial files are removed.
func NewManager(dir string, opts ...Option) (*Manager, error) {
	d, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(d)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dir:      abs,
		client:   &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		log:      zerolog.Nop(),
		every:    defaultProgressInterval,
		base:     base,
		stopAll:  cancel,
		statuses: make(map[string]Status),
		active:   make(map[string]*attempt),
		gens:     make(map[string]uint64),
		waiters:  make(map[string]int),
	}
	for _, o := range opts {
		o(m)
	}
	if err := m.scan(); err != nil {
		cancel()
		return nil, err
	}
	m.hub = broadcast.NewHub(cloneStatuses(m.statuses))
	return m, nil
}

func (m *Manager) scan() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("read models dir: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		p := filepath.Join(m.dir, name)
		if strings.HasSuffix(name, partSuffix) {
			if err := os.Remove(p); err == nil {
				m.log.Debug().Str("file", name).Msg("download event=stale_part_removed")
			}
			continue
		}
		if strings.HasPrefix(name, ".") {
			continue
		}
		m.statuses[name] = Status{Kind: Completed, LocalPath: p}
	}
	return nil
}

// Dir returns the absolute bundle directory.
func (m *Manager) Dir() string { return m.dir }

// GetModelPath maps a bundle filename to its local path. It does no I/O.
func (m *Manager) GetModelPath(bundleFilename string) string {
	return filepath.Join(m.dir, filepath.Base(bundleFilename))
}

// Statuses returns a copy of the status map.
func (m *Manager) Statuses() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneStatuses(m.statuses)
}

// Status returns the status of one filename; unknown filenames are NotStarted.
func (m *Manager) Status(bundleFilename string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[filepath.Base(bundleFilename)]
}

// ActiveCount returns the number of transfers in flight.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Subscribe returns a channel of status map snapshots. The first value is the
// current map; later values follow every change. Snapshots are never replayed
// and a slow reader only sees the latest one. Call the returned func to stop.
func (m *Manager) Subscribe() (<-chan map[string]Status, func()) {
	return m.hub.Subscribe()
}

// DownloadModel fetches url into the bundle directory as bundleFilename.
// Concurrent calls for the same filename share one transfer. A completed
// bundle that is still on disk is not fetched again unless WithForce is given.
// Cancelling ctx makes this call return; the transfer itself is stopped only
// when no other caller is still waiting on it, the same way CancelDownload
// does. A call made after CancelDownload always starts a fresh transfer.
func (m *Manager) DownloadModel(ctx context.Context, modelID, url, bundleFilename string, opts ...DownloadOption) error {
	var o downloadOpts
	for _, opt := range opts {
		opt(&o)
	}
	name, err := fsutil.SafeBase(bundleFilename)
	if err != nil {
		return &TransferError{Filename: bundleFilename, Op: "request", Err: err}
	}
	if strings.TrimSpace(url) == "" {
		return &TransferError{Filename: name, Op: "request", Err: errors.New("empty download url")}
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	st := m.statuses[name]
	m.mu.Unlock()
	if !o.force && st.Kind == Completed && fsutil.IsRegularFile(m.GetModelPath(name)) {
		m.log.Debug().Str("model", modelID).Str("file", name).Msg("download event=skip_completed")
		return nil
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	gen := m.gens[name]
	key := flightKey(name, gen)
	m.waiters[key]++
	m.mu.Unlock()

	ch := m.group.DoChan(key, func() (any, error) {
		return nil, m.transfer(gen, modelID, url, name)
	})
	select {
	case res := <-ch:
		m.leave(name, gen, false)
		return res.Err
	case <-ctx.Done():
		m.leave(name, gen, true)
		return &TransferError{Filename: name, Op: "cancelled", Err: ctx.Err()}
	}
}

// leave drops one caller from the flight of gen. When the last caller gives
// up, the attempt is retired as if CancelDownload had been called.
func (m *Manager) leave(name string, gen uint64, gaveUp bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := flightKey(name, gen)
	if m.waiters[key]--; m.waiters[key] > 0 {
		return
	}
	delete(m.waiters, key)
	if gaveUp && m.gens[name] == gen {
		if m.retireLocked(name) {
			m.log.Info().Str("file", name).Msg("download event=abandoned")
		}
	}
}

// retireLocked moves name to a new generation so later calls start a fresh
// transfer, and cancels the live attempt, reverting its status.
func (m *Manager) retireLocked(name string) bool {
	m.gens[name]++
	att, ok := m.active[name]
	if !ok {
		return false
	}
	delete(m.active, name)
	m.setLocked(name, att.revert)
	att.cancel()
	return true
}

func (m *Manager) transfer(gen uint64, modelID, url, name string) error {
	ctx, cancel := context.WithCancel(m.base)
	defer cancel()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	if m.gens[name] != gen {
		// retired before it started
		m.mu.Unlock()
		return &TransferError{Filename: name, Op: "cancelled", Err: context.Canceled}
	}
	prev := m.statuses[name]
	revert := Status{}
	if prev.Kind == Completed {
		revert = prev
	}
	att := &attempt{gen: gen, cancel: cancel, revert: revert}
	m.active[name] = att
	m.setLocked(name, Status{Kind: NotStarted})
	m.mu.Unlock()

	downloadsActive.Inc()
	defer downloadsActive.Dec()
	start := time.Now()
	m.log.Info().Str("model", modelID).Str("file", name).Str("url", url).Msg("download event=start")

	path, err := m.fetch(ctx, att, url, name)
	if err != nil {
		if ctx.Err() != nil {
			m.abandon(name, att)
			downloadsTotal.WithLabelValues("cancelled").Inc()
			m.log.Info().Str("model", modelID).Str("file", name).Msg("download event=cancelled")
			if errors.Is(m.base.Err(), context.Canceled) {
				return &TransferError{Filename: name, Op: "cancelled", Err: ErrDisposed}
			}
			return &TransferError{Filename: name, Op: "cancelled", Err: context.Canceled}
		}
		m.finish(name, att, Status{Kind: Failed, Reason: err.Error()})
		downloadsTotal.WithLabelValues("failed").Inc()
		m.log.Warn().Err(err).Str("model", modelID).Str("file", name).Msg("download event=failed")
		return err
	}
	m.finish(name, att, Status{Kind: Completed, LocalPath: path})
	downloadsTotal.WithLabelValues("completed").Inc()
	m.log.Info().Str("model", modelID).Str("file", name).Dur("took", time.Since(start)).Msg("download event=completed")
	return nil
}

// fetch streams url into <name>.part and renames it into place.
func (m *Manager) fetch(ctx context.Context, att *attempt, url, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &TransferError{Filename: name, Op: "request", Err: err}
	}
	if m.tokens != nil {
		if tok, ok := m.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	req.Header.Set("User-Agent", "modelbench")
	resp, err := m.client.Do(req)
	if err != nil {
		return "", &TransferError{Filename: name, Op: "request", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &TransferError{Filename: name, Op: "status", Err: fmt.Errorf("unexpected HTTP status %s", resp.Status)}
	}

	total := resp.ContentLength
	if !m.emit(name, att, inProgress(0, total)) {
		return "", &TransferError{Filename: name, Op: "cancelled", Err: context.Canceled}
	}

	final := m.GetModelPath(name)
	part := partPath(final, att.gen)
	f, err := os.Create(part)
	if err != nil {
		return "", &TransferError{Filename: name, Op: "write", Err: err}
	}
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(part)
		}
	}()

	received, err := m.copyWithProgress(f, resp.Body, name, att, total)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = &TransferError{Filename: name, Op: "write", Err: cerr}
	}
	if err != nil {
		return "", err
	}
	if total > 0 && received != total {
		return "", &TransferError{Filename: name, Op: "verify", Err: fmt.Errorf("size mismatch: got %d want %d", received, total)}
	}
	if ctx.Err() != nil {
		return "", &TransferError{Filename: name, Op: "cancelled", Err: ctx.Err()}
	}
	if err := os.Rename(part, final); err != nil {
		return "", &TransferError{Filename: name, Op: "rename", Err: err}
	}
	keep = true
	return final, nil
}

// partPath is the scratch file of one attempt. Attempts of different
// generations never share it, so a dying transfer cannot clobber a fresh one.
func partPath(final string, gen uint64) string {
	return final + "." + strconv.FormatUint(gen, 10) + partSuffix
}

func (m *Manager) copyWithProgress(dst io.Writer, src io.Reader, name string, att *attempt, total int64) (int64, error) {
	buf := make([]byte, copyBufferSize)
	tick := rate.Sometimes{Interval: m.every}
	var received int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return received, &TransferError{Filename: name, Op: "write", Err: werr}
			}
			received += int64(n)
			downloadBytes.Add(float64(n))
			r := received
			tick.Do(func() { m.emit(name, att, inProgress(r, total)) })
		}
		if rerr == io.EOF {
			if total > 0 {
				m.emit(name, att, inProgress(received, total))
			}
			return received, nil
		}
		if rerr != nil {
			return received, &TransferError{Filename: name, Op: "request", Err: rerr}
		}
	}
}

// emit records st for name if att is still the live attempt.
func (m *Manager) emit(name string, att *attempt, st Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[name] != att {
		return false
	}
	m.setLocked(name, st)
	return true
}

// finish records the terminal status and retires the attempt.
func (m *Manager) finish(name string, att *attempt, st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[name] != att {
		return
	}
	delete(m.active, name)
	m.setLocked(name, st)
}

// abandon reverts name to its pre-attempt status unless the attempt was
// already retired by CancelDownload or DeleteModel.
func (m *Manager) abandon(name string, att *attempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[name] != att {
		return
	}
	delete(m.active, name)
	m.setLocked(name, att.revert)
}

func (m *Manager) setLocked(name string, st Status) {
	m.statuses[name] = st
	if m.hook != nil {
		m.hook(name, st)
	}
	m.hub.Publish(cloneStatuses(m.statuses))
}

// CancelDownload stops the in-flight transfer of bundleFilename and reverts its
// status to what it was before the attempt: Completed stays Completed,
// anything else becomes NotStarted. Nothing else is emitted for that attempt.
// It reports whether a transfer was cancelled.
func (m *Manager) CancelDownload(bundleFilename string) bool {
	name := filepath.Base(bundleFilename)
	m.mu.Lock()
	ok := m.retireLocked(name)
	m.mu.Unlock()
	if ok {
		m.log.Info().Str("file", name).Msg("download event=cancel_requested")
	}
	return ok
}

// DeleteModel cancels any transfer of bundleFilename, removes the bundle and
// drops its status entry. It reports whether a file was removed; a missing
// file is not an error.
func (m *Manager) DeleteModel(bundleFilename string) (bool, error) {
	name, err := fsutil.SafeBase(bundleFilename)
	if err != nil {
		return false, err
	}
	m.CancelDownload(name)
	path := m.GetModelPath(name)
	removed, err := fsutil.RemoveIfExists(path)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", name, err)
	}
	if entries, err := os.ReadDir(m.dir); err == nil {
		for _, e := range entries {
			if n := e.Name(); strings.HasPrefix(n, name+".") && strings.HasSuffix(n, partSuffix) {
				_, _ = fsutil.RemoveIfExists(filepath.Join(m.dir, n))
			}
		}
	}

	m.mu.Lock()
	if _, ok := m.statuses[name]; ok {
		delete(m.statuses, name)
		m.hub.Publish(cloneStatuses(m.statuses))
	}
	m.mu.Unlock()
	if removed {
		m.log.Info().Str("file", name).Msg("download event=deleted")
	}
	return removed, nil
}

// Dispose cancels every transfer, closes idle connections and all subscriber
// channels. It is idempotent.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	for name := range m.active {
		m.retireLocked(name)
	}
	m.mu.Unlock()
	m.stopAll()
	m.client.CloseIdleConnections()
	m.hub.Close()
}

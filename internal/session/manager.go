// Package session owns the radio connection lifecycle. All state lives on one
// goroutine started by Manager.Run; callers enqueue work and observe results
// through snapshots.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/radiolink/internal/auth"
	"github.com/charlesng35/radiolink/internal/catalog"
	"github.com/charlesng35/radiolink/internal/history"
	"github.com/charlesng35/radiolink/internal/preferences"
	"github.com/charlesng35/radiolink/internal/radio"
	"github.com/charlesng35/radiolink/pkg/logger"
)

const defaultQueueSize = 128

// Config tunes a Manager.
type Config struct {
	Mode        radio.Mode
	StationName string
	NewAPIMajor int
	// SettleDelay is how long an old-API take-over connection is held before
	// it is dropped and the picker shown again.
	SettleDelay time.Duration
	QueueSize   int
}

// Dependencies are the collaborators a Manager drives. Recorder is optional.
type Dependencies struct {
	Transport   Transport
	Relay       Relay
	Catalog     *catalog.Catalog
	Auth        Authorizer
	Preferences preferences.Store
	Recorder    Recorder
	Events      <-chan Event
}

// Manager is the session orchestrator.
type Manager struct {
	cfg         Config
	transport   Transport
	relay       Relay
	catalog     *catalog.Catalog
	auth        Authorizer
	prefsStore  preferences.Store
	recorder    Recorder
	events      <-chan Event
	log         *zap.Logger
	commands    chan func(context.Context)
	done        chan struct{}
	started     atomic.Bool
	snapshot    atomic.Pointer[Snapshot]
	subMu       sync.Mutex
	subscribers map[chan Snapshot]struct{}
	history     chan historyJob

	// fields below are owned by the Run goroutine
	runCtx        context.Context
	state         State
	connected     bool
	active        *radio.Endpoint
	connecting    *radio.Endpoint
	endpoints     []radio.Endpoint
	selection     catalog.Selection
	pickerVisible bool
	messages      []string
	issue         string
	prompt        *pendingPrompt
	notice        *Notice
	authState     auth.State
	prefs         preferences.Preferences
	pendingBind   *bindTarget
	pendingRelay  *relayTarget
	relayTest     *RelayTest
	settleTimer   *time.Timer
	settleGen     uint64
	loginGen      uint64
	version       uint64
}

type historyJob struct {
	entry   history.Entry
	flushed chan struct{}
}

// New validates the dependencies. Nothing runs until Run is called.
func New(deps Dependencies, cfg Config) (*Manager, error) {
	switch {
	case deps.Transport == nil:
		return nil, errors.New("session: transport is required")
	case deps.Relay == nil:
		return nil, errors.New("session: relay is required")
	case deps.Catalog == nil:
		return nil, errors.New("session: catalog is required")
	case deps.Auth == nil:
		return nil, errors.New("session: authorizer is required")
	case deps.Preferences == nil:
		return nil, errors.New("session: preferences store is required")
	}

	if cfg.Mode == "" {
		cfg.Mode = radio.ModeGui
	}
	if cfg.NewAPIMajor <= 0 {
		cfg.NewAPIMajor = radio.DefaultNewAPIMajor
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	m := &Manager{
		cfg:         cfg,
		transport:   deps.Transport,
		relay:       deps.Relay,
		catalog:     deps.Catalog,
		auth:        deps.Auth,
		prefsStore:  deps.Preferences,
		recorder:    deps.Recorder,
		events:      deps.Events,
		log:         logger.WithModule("session"),
		commands:    make(chan func(context.Context), cfg.QueueSize),
		done:        make(chan struct{}),
		subscribers: make(map[chan Snapshot]struct{}),
		runCtx:      context.Background(),
		state:       StateIdle,
		authState:   deps.Auth.State(),
	}
	if deps.Recorder != nil {
		m.history = make(chan historyJob, cfg.QueueSize)
	}
	m.publish()
	return m, nil
}

// Run loads preferences, logs in to the relay when it is enabled, then applies
// queued operations and events until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("session: manager already running")
	}
	defer close(m.done)

	if m.history != nil {
		stop := make(chan struct{})
		finished := make(chan struct{})
		go m.writeHistory(context.WithoutCancel(ctx), stop, finished)
		defer func() {
			close(stop)
			<-finished
		}()
	}

	m.runCtx = ctx
	m.start(ctx)
	m.publish()

	for {
		select {
		case <-ctx.Done():
			m.stopSettleTimer()
			m.closeSubscribers()
			return nil
		case fn := <-m.commands:
			fn(ctx)
			m.publish()
		case ev, ok := <-m.events:
			if !ok {
				m.events = nil
				continue
			}
			m.apply(ctx, ev)
			m.publish()
		}
	}
}

// Sync blocks until every operation submitted before it has been applied and
// the history it produced has been written.
func (m *Manager) Sync(ctx context.Context) error {
	applied := make(chan struct{})
	if !m.enqueue(ctx, func(context.Context) { close(applied) }) {
		return ctx.Err()
	}
	select {
	case <-applied:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return errManagerStopped
	}
	return m.flushHistory(ctx)
}

var errManagerStopped = errors.New("session: manager stopped")

func (m *Manager) flushHistory(ctx context.Context) error {
	if m.history == nil {
		return nil
	}
	job := historyJob{flushed: make(chan struct{})}
	select {
	case m.history <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return errManagerStopped
	}
	select {
	case <-job.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return errManagerStopped
	}
}

// Snapshot returns the most recently published state.
func (m *Manager) Snapshot() Snapshot {
	return *m.snapshot.Load()
}

// Subscribe returns a channel that always holds the newest snapshot; older
// unread snapshots are replaced. The cancel func releases the channel.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- m.Snapshot()

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			if _, ok := m.subscribers[ch]; ok {
				delete(m.subscribers, ch)
				close(ch)
			}
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) post(fn func(ctx context.Context)) {
	m.enqueue(context.Background(), fn)
}

func (m *Manager) enqueue(ctx context.Context, fn func(context.Context)) bool {
	select {
	case m.commands <- fn:
		return true
	case <-m.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// goAsync runs work off the actor and posts its continuation back onto it.
func (m *Manager) goAsync(work func(ctx context.Context) func(ctx context.Context)) {
	ctx := m.runCtx
	go func() {
		if next := work(ctx); next != nil {
			m.post(next)
		}
	}()
}

func (m *Manager) start(ctx context.Context) {
	prefs, err := m.prefsStore.Load(ctx)
	if err != nil {
		m.log.Warn("load preferences failed, using defaults", zap.Error(err))
	}
	m.prefs = prefs

	if !m.cfg.Mode.IsGui() && preferences.EnsureClientID(&m.prefs) {
		m.log.Info("assigned client identity", zap.String("client_id", m.prefs.ClientID))
		m.savePrefs(ctx)
	}

	m.rebuild()
	if m.prefs.RelayEnabled {
		m.login(false)
	}
}

func (m *Manager) publish() {
	m.version++

	snap := Snapshot{
		Version:       m.version,
		State:         m.state,
		Connected:     m.connected,
		Mode:          m.cfg.Mode,
		Rows:          append([]catalog.Row{}, m.selection.Rows...),
		Stations:      append([]catalog.Station{}, m.selection.Stations...),
		PickerVisible: m.pickerVisible,
		Messages:      append([]string(nil), m.messages...),
		Issue:         m.issue,
		Auth:          m.authState,
		RelayEnabled:  m.prefs.RelayEnabled,
		Defaults:      m.defaultOptions(),
		UpdatedAt:     time.Now().UTC(),
	}
	if m.pickerVisible {
		snap.Heading = m.heading()
	}
	if m.active != nil {
		ep := m.active.Clone()
		snap.ActiveEndpoint = &ep
	}
	if m.prompt != nil {
		p := m.prompt.view()
		snap.Prompt = &p
	}
	if m.notice != nil {
		n := *m.notice
		snap.Notice = &n
	}
	if m.relayTest != nil {
		rt := *m.relayTest
		snap.RelayTest = &rt
	}

	m.snapshot.Store(&snap)

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (m *Manager) closeSubscribers() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subscribers {
		delete(m.subscribers, ch)
		close(ch)
	}
}

func (m *Manager) heading() string {
	if m.cfg.Mode.IsGui() {
		return HeadingRadios
	}
	return HeadingStations
}

func (m *Manager) defaultOptions() []DefaultOption {
	options := make([]DefaultOption, 0, len(m.selection.Rows))
	for _, row := range m.selection.Rows {
		options = append(options, DefaultOption{
			RowID:    row.ID,
			Label:    row.Label(m.cfg.Mode),
			Value:    row.DefaultString(m.cfg.Mode),
			Selected: row.IsDefault,
		})
	}
	return options
}

// rebuild derives the selection from the live catalog, keeping the endpoint
// slice the rows index into.
func (m *Manager) rebuild() {
	m.endpoints = m.catalog.List()

	opts := catalog.Options{
		Mode:         m.cfg.Mode,
		DefaultLocal: m.prefs.DefaultConnection,
		DefaultGui:   m.prefs.DefaultGuiConnection,
	}
	if m.active != nil {
		opts.ActiveKind = m.active.Kind()
	}
	m.selection = catalog.Build(m.endpoints, opts)
}

func (m *Manager) savePrefs(ctx context.Context) {
	if err := m.prefsStore.Save(ctx, m.prefs); err != nil {
		m.log.Error("save preferences failed", zap.Error(err))
	}
}

// record queues entry for the history writer; the actor never waits on storage.
func (m *Manager) record(_ context.Context, entry history.Entry) {
	if m.history == nil {
		return
	}
	select {
	case m.history <- historyJob{entry: entry}:
	default:
		m.log.Warn("history queue full, dropping entry", zap.String("action", entry.Action))
	}
}

func (m *Manager) writeHistory(ctx context.Context, stop <-chan struct{}, finished chan<- struct{}) {
	defer close(finished)
	for {
		select {
		case job := <-m.history:
			m.writeJob(ctx, job)
		case <-stop:
			for {
				select {
				case job := <-m.history:
					m.writeJob(ctx, job)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) writeJob(ctx context.Context, job historyJob) {
	if job.flushed != nil {
		close(job.flushed)
		return
	}
	if err := m.recorder.Record(ctx, job.entry); err != nil {
		m.log.Warn("record history failed", zap.String("action", job.entry.Action), zap.Error(err))
	}
}

func (m *Manager) stationName() string {
	if m.prefs.StationName != "" {
		return m.prefs.StationName
	}
	if m.cfg.StationName != "" {
		return m.cfg.StationName
	}
	return DefaultStationName
}

func (m *Manager) stopSettleTimer() {
	m.settleGen++
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
}

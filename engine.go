package syncbox

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Engine orchestrates the drain loop: it owns the drain lock, batch
// selection, handler dispatch, retry bookkeeping, and state reporting.
//
// Only one drain cycle runs at a time. A trigger arriving while a cycle is
// in flight is rejected, not queued: pending items are durable and will be
// picked up by the next natural trigger (enqueue or reconnect).
type Engine struct {
	store   *Store
	monitor Monitor
	cfg     Config
	debug   *DebugLogger

	mu         sync.Mutex
	handlers   map[string]Handler
	observers  map[int]func(SyncState)
	nextObs    int
	online     bool
	syncing    bool
	lastSyncAt time.Time
	closed     bool

	trigger  chan struct{} // single-slot pending trigger
	stop     chan struct{}
	done     chan struct{}
	unsubNet func()
	ownStore bool
}

// New opens a store at cfg.Path and returns a started engine that owns it.
// Closing the engine closes the store.
func New(cfg Config, monitor Monitor) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := NewStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := NewEngine(store, monitor, cfg)
	e.ownStore = true
	return e, nil
}

// NewEngine wraps an existing store. The engine starts its background
// trigger loop immediately; the caller retains ownership of the store.
func NewEngine(store *Store, monitor Monitor, cfg Config) *Engine {
	cfg = cfg.WithDefaults()
	store.SetDefaultMaxRetries(cfg.MaxRetries)

	debug, err := NewDebugLogger(cfg.Debug, cfg.DebugLogPath)
	if err != nil {
		// Fall back to stderr rather than failing construction.
		debug, _ = NewDebugLogger(cfg.Debug, "")
	}

	e := &Engine{
		store:     store,
		monitor:   monitor,
		cfg:       cfg,
		debug:     debug,
		handlers:  make(map[string]Handler),
		observers: make(map[int]func(SyncState)),
		trigger:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if monitor != nil {
		e.online = monitor.Online()
		e.unsubNet = monitor.Subscribe(e.onConnectivityChange)
	}

	if lastSync, err := store.LastSyncAt(); err == nil {
		e.lastSyncAt = lastSync
	}

	go e.triggerLoop()

	return e
}

// Store returns the underlying store.
func (e *Engine) Store() *Store { return e.store }

// RegisterHandler registers the delivery handler for a tracked table.
// Registering again replaces the previous handler.
func (e *Engine) RegisterHandler(table string, handler Handler) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	if handler == nil {
		return fmt.Errorf("engine: nil handler for table %q", table)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[table] = handler
	return nil
}

// Enqueue appends a mutation to the outbox and, when online, schedules a
// drain.
func (e *Engine) Enqueue(params EnqueueParams) (string, error) {
	id, err := e.store.Enqueue(params)
	if err != nil {
		return "", err
	}

	e.afterLocalWrite()
	return id, nil
}

// InsertTimeEntry records a time entry through the store and, when online,
// schedules a drain. The engine-level write paths are the ones applications
// should use; writing through Store() directly skips the drain trigger.
func (e *Engine) InsertTimeEntry(entry *TimeEntry) error {
	if err := e.store.InsertTimeEntry(entry); err != nil {
		return err
	}
	e.afterLocalWrite()
	return nil
}

// UpdateTimeEntry updates a time entry and, when online, schedules a drain.
func (e *Engine) UpdateTimeEntry(entry *TimeEntry) error {
	if err := e.store.UpdateTimeEntry(entry); err != nil {
		return err
	}
	e.afterLocalWrite()
	return nil
}

// DeleteTimeEntry deletes a time entry and, when online, schedules a drain.
func (e *Engine) DeleteTimeEntry(id string) error {
	if err := e.store.DeleteTimeEntry(id); err != nil {
		return err
	}
	e.afterLocalWrite()
	return nil
}

// afterLocalWrite publishes the new counts and, when online, schedules a
// drain for the freshly appended outbox row.
func (e *Engine) afterLocalWrite() {
	e.notifyObservers()

	e.mu.Lock()
	online := e.online
	e.mu.Unlock()
	if online {
		e.TriggerSync()
	}
}

// TriggerSync schedules a drain cycle, fire-and-forget. Bursts of triggers
// within the debounce delay coalesce into one drain.
func (e *Engine) TriggerSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
		// A trigger is already pending; the coming drain covers this one.
	}
}

// Retry resets a failed outbox item and, when online, schedules a drain.
func (e *Engine) Retry(itemID string) error {
	if err := e.store.Retry(itemID); err != nil {
		return err
	}

	e.afterLocalWrite()
	return nil
}

// State returns the current engine state with counts refreshed from the
// store.
func (e *Engine) State() (*SyncState, error) {
	counts, err := e.store.Counts()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return &SyncState{
		Online:       e.online,
		Syncing:      e.syncing,
		LastSyncAt:   e.lastSyncAt,
		PendingCount: counts.Pending,
		ErrorCount:   counts.Failed,
	}, nil
}

// Subscribe registers a state observer. Observers are invoked synchronously
// with a state snapshot on every change; the returned function unsubscribes.
func (e *Engine) Subscribe(observer func(SyncState)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextObs
	e.nextObs++
	e.observers[id] = observer

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.observers, id)
	}
}

// ProcessQueue runs one drain cycle and waits for it to finish.
//
// It returns a non-nil result with Success=false and a Reason when the cycle
// could not start (offline, or another cycle in flight). Per-item delivery
// failures never surface as an error here; only the store itself failing
// does, and the drain lock is released on that path too.
func (e *Engine) ProcessQueue(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	if !e.online {
		e.mu.Unlock()
		return &SyncResult{Success: false, Reason: ReasonOffline}, nil
	}
	if e.syncing {
		e.mu.Unlock()
		return &SyncResult{Success: false, Reason: ReasonSyncInProgress}, nil
	}
	e.syncing = true
	e.mu.Unlock()

	e.notifyObservers()
	e.debug.LogDrain("start", fmt.Sprintf("batch_size=%d", e.cfg.MaxBatchSize))

	result, err := e.drain(ctx)

	e.mu.Lock()
	e.syncing = false
	if err == nil {
		e.lastSyncAt = time.Now().UTC()
	}
	e.mu.Unlock()

	e.notifyObservers()

	if err != nil {
		e.debug.LogError("drain", err)
		return nil, err
	}

	e.debug.LogDrain("done", fmt.Sprintf("processed=%d errors=%d", result.Processed, result.Errors))
	return result, nil
}

// drain selects one batch and dispatches it sequentially. Sequential
// dispatch preserves per-record sequence order: a later item's outcome can
// never be observed before an earlier item's.
func (e *Engine) drain(ctx context.Context) (*SyncResult, error) {
	items, err := e.store.PendingItems(e.cfg.MaxBatchSize)
	if err != nil {
		return nil, fmt.Errorf("engine: select batch: %w", err)
	}

	result := &SyncResult{Success: true}
	now := time.Now().UTC()

	for i := range items {
		item := &items[i]

		if ctx.Err() != nil {
			break
		}

		if err := e.store.markProcessing(item.ID); err != nil {
			return nil, fmt.Errorf("engine: mark processing: %w", err)
		}

		e.mu.Lock()
		handler, ok := e.handlers[item.TableName]
		e.mu.Unlock()

		if !ok {
			// Configuration error: fail immediately without consuming the
			// retry budget. Retry() re-arms the item once a handler exists.
			msg := fmt.Sprintf("%v for table %q", ErrNoHandler, item.TableName)
			if err := e.store.failItemQueueOnly(item, msg); err != nil {
				return nil, err
			}
			e.debug.LogItem(item, "failed: "+msg)
			result.Errors++
			continue
		}

		serverID, deliverErr := e.invoke(ctx, handler, item)
		if deliverErr == nil {
			if err := e.store.completeItem(item, serverID, now); err != nil {
				return nil, err
			}
			e.debug.LogItem(item, "completed server_id="+serverID)
			result.Processed++
			continue
		}

		result.Errors++

		switch {
		case IsConflict(deliverErr):
			if err := e.store.failItem(item, SyncConflict, deliverErr.Error(), now); err != nil {
				return nil, err
			}
			e.debug.LogItem(item, "conflict: "+deliverErr.Error())
		case item.RetryCount+1 >= item.MaxRetries:
			if err := e.store.failItem(item, SyncError, deliverErr.Error(), now); err != nil {
				return nil, err
			}
			e.debug.LogItem(item, "retries exhausted: "+deliverErr.Error())
		default:
			if err := e.store.requeueItem(item, deliverErr.Error()); err != nil {
				return nil, err
			}
			e.debug.LogItem(item, "transient: "+deliverErr.Error())
		}
	}

	if err := e.store.setLastSyncAt(now); err != nil {
		return nil, err
	}
	if err := e.store.sweepCompleted(e.cfg.RetentionWindow, now); err != nil {
		return nil, err
	}

	return result, nil
}

// invoke dispatches one item to its handler, converting a panic into a
// transient error so it cannot escape the drain cycle.
func (e *Engine) invoke(ctx context.Context, handler Handler, item *QueueItem) (serverID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, item)
}

// Close stops the background trigger loop, detaches from the network
// monitor, and closes the store if this engine owns it.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.stop)
	<-e.done

	if e.unsubNet != nil {
		e.unsubNet()
	}
	_ = e.debug.Close()

	if e.ownStore {
		return e.store.Close()
	}
	return nil
}

// onConnectivityChange updates the online flag; an offline-to-online
// transition immediately schedules a drain.
func (e *Engine) onConnectivityChange(online bool) {
	e.mu.Lock()
	wasOnline := e.online
	e.online = online
	e.mu.Unlock()

	e.notifyObservers()

	if online && !wasOnline {
		e.TriggerSync()
	}
}

// triggerLoop is the single consumer of the pending-trigger slot. Each
// consumed trigger waits out the debounce delay, then runs one drain.
func (e *Engine) triggerLoop() {
	defer close(e.done)

	for {
		select {
		case <-e.stop:
			return
		case <-e.trigger:
		}

		select {
		case <-e.stop:
			return
		case <-time.After(e.cfg.DebounceDelay):
		}

		if _, err := e.ProcessQueue(context.Background()); err != nil {
			e.debug.LogError("triggered drain", err)
		}
	}
}

// notifyObservers pushes a best-effort state snapshot to all observers.
func (e *Engine) notifyObservers() {
	counts, err := e.store.Counts()
	if err != nil {
		e.debug.LogError("refresh counts", err)
		counts = &QueueCounts{}
	}

	e.mu.Lock()
	state := SyncState{
		Online:       e.online,
		Syncing:      e.syncing,
		LastSyncAt:   e.lastSyncAt,
		PendingCount: counts.Pending,
		ErrorCount:   counts.Failed,
	}
	observers := make([]func(SyncState), 0, len(e.observers))
	for _, obs := range e.observers {
		observers = append(observers, obs)
	}
	e.mu.Unlock()

	for _, obs := range observers {
		obs(state)
	}
}

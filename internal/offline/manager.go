// Package offline tracks connectivity, buffers mutations while the remote
// system is unreachable, and replays them once it comes back.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/proclean/internal/events"
	"github.com/MarcoPoloResearchLab/proclean/internal/kvstore"
	"github.com/MarcoPoloResearchLab/proclean/internal/notify"
)

const (
	defaultMaxRetries       = 3
	defaultOperationTimeout = 30 * time.Second

	messageOffline       = "İnternet bağlantısı kesildi. Çevrimdışı modda çalışıyorsunuz."
	messageOnline        = "İnternet bağlantısı yeniden kuruldu."
	messageSyncing       = "Çevrimdışı işlemler senkronize ediliyor..."
	messageSyncedFormat  = "%d işlem senkronize edildi"
	messageDroppedFormat = "%d işlem senkronize edilemedi ve kuyruktan çıkarıldı"
)

// KeyValueStore persists the manager snapshot.
type KeyValueStore interface {
	Set(key string, value any) bool
	Get(key string, dest any) bool
}

// Remote is the set of mutating entry points a queued operation replays against.
type Remote interface {
	CreatePackage(ctx context.Context, data map[string]any) error
	UpdatePackage(ctx context.Context, data map[string]any) error
	DeletePackage(ctx context.Context, data map[string]any) error
	UpdateStock(ctx context.Context, data map[string]any) error
	CreateCustomer(ctx context.Context, data map[string]any) error
}

// ManagerConfig configures a Manager. Store and Remote are required.
type ManagerConfig struct {
	Store      KeyValueStore
	Remote     Remote
	Notifier   notify.Sink
	Indicator  notify.StatusIndicator
	Bus        *events.Bus
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger

	MaxRetries       int
	OperationTimeout time.Duration
	ReplayOrder      ReplayOrder
	InitiallyOnline  bool
}

// Manager owns the sync queue and the offline read-model cache.
type Manager struct {
	mu        sync.Mutex
	online    bool
	queue     []Operation
	cache     map[string]OfflineDataEntry
	cacheKeys []string
	draining  bool
	rerun     bool

	store            KeyValueStore
	remote           Remote
	notifier         notify.Sink
	indicator        notify.StatusIndicator
	bus              *events.Bus
	clock            func() time.Time
	idProvider       IDProvider
	logger           *zap.Logger
	maxRetries       int
	operationTimeout time.Duration
	replayOrder      ReplayOrder
}

// NewManager restores the persisted queue and cache. A missing or corrupt
// snapshot starts empty.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opManagerNew, "missing_store", errMissingStore)
	}
	if cfg.Remote == nil {
		return nil, newServiceError(opManagerNew, "missing_remote", errMissingRemote)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	replayOrder := cfg.ReplayOrder
	if replayOrder == "" {
		replayOrder = ReplayFIFO
	}
	if replayOrder != ReplayFIFO && replayOrder != ReplayLIFO {
		return nil, newServiceError(opManagerNew, "invalid_replay_order", fmt.Errorf("%w: %q", errInvalidReplay, replayOrder))
	}
	var notifier notify.Sink = notify.Nop{}
	if cfg.Notifier != nil {
		notifier = cfg.Notifier
	}
	var indicator notify.StatusIndicator = notify.Nop{}
	if cfg.Indicator != nil {
		indicator = cfg.Indicator
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	operationTimeout := cfg.OperationTimeout
	if operationTimeout <= 0 {
		operationTimeout = defaultOperationTimeout
	}

	manager := &Manager{
		online:           cfg.InitiallyOnline,
		cache:            make(map[string]OfflineDataEntry),
		store:            cfg.Store,
		remote:           cfg.Remote,
		notifier:         notifier,
		indicator:        indicator,
		bus:              cfg.Bus,
		clock:            clock,
		idProvider:       idProvider,
		logger:           logger,
		maxRetries:       maxRetries,
		operationTimeout: operationTimeout,
		replayOrder:      replayOrder,
	}
	manager.load()
	return manager, nil
}

// IsOnline reports the last connectivity state the manager observed.
func (m *Manager) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Pending returns a copy of the queued operations in enqueue order.
func (m *Manager) Pending() []Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := make([]Operation, len(m.queue))
	for index, operation := range m.queue {
		operation.Data = copyPayload(operation.Data)
		pending[index] = operation
	}
	return pending
}

// HandleOnline records the online state and always attempts a drain. The
// indicator, listeners and operator are only told when the state changed.
func (m *Manager) HandleOnline(ctx context.Context) DrainResult {
	if m.setOnline(true) {
		m.indicator.SetConnectivity(true)
		m.publish(events.TypeOnline, nil)
		m.notifier.ShowAlert(messageOnline, notify.SeveritySuccess)
		m.logger.Info("connectivity restored")
	}
	return m.SyncOfflineData(ctx)
}

// HandleOffline records the offline state.
func (m *Manager) HandleOffline() {
	if !m.setOnline(false) {
		return
	}
	m.indicator.SetConnectivity(false)
	m.publish(events.TypeOffline, nil)
	m.notifier.ShowAlert(messageOffline, notify.SeverityWarning)
	m.logger.Info("connectivity lost")
}

// Run applies host connectivity events from the bus until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if m.bus == nil {
		<-ctx.Done()
		return nil
	}
	stream, cleanup := m.bus.Subscribe(ctx, events.TopicHostConnectivity)
	defer cleanup()
	return m.Consume(ctx, stream)
}

// Consume applies connectivity events from stream until ctx is done. Callers
// that must not miss the first event subscribe before starting the publisher.
func (m *Manager) Consume(ctx context.Context, stream <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-stream:
			switch event.Type {
			case events.TypeOnline:
				m.HandleOnline(ctx)
			case events.TypeOffline:
				m.HandleOffline()
			default:
				m.logger.Debug("ignoring connectivity event", zap.String("type", event.Type))
			}
		}
	}
}

// QueueForSync appends a mutation that could not reach the remote system.
// Every call yields a distinct operation. When the manager is online the
// queue is drained before returning.
func (m *Manager) QueueForSync(ctx context.Context, opType OperationType, data map[string]any) (Operation, error) {
	if !opType.Valid() {
		m.logError(opQueue, "unknown_type", ErrUnknownOperationType, zap.String("type", opType.String()))
		return Operation{}, newServiceError(opQueue, "unknown_type", fmt.Errorf("%w: %q", ErrUnknownOperationType, opType))
	}
	payload, err := clonePayload(data)
	if err != nil {
		m.logError(opQueue, "invalid_payload", err, zap.String("type", opType.String()))
		return Operation{}, newServiceError(opQueue, "invalid_payload", err)
	}
	id, err := m.idProvider.NewID()
	if err != nil {
		m.logError(opQueue, "id_generation_failed", err)
		return Operation{}, newServiceError(opQueue, "id_generation_failed", err)
	}
	operation := Operation{
		ID:        id,
		Type:      opType,
		Data:      payload,
		Timestamp: m.clock().UnixMilli(),
	}

	m.mu.Lock()
	m.queue = append(m.queue, operation)
	m.persistLocked()
	online := m.online
	m.mu.Unlock()

	operationsQueued.WithLabelValues(opType.String()).Inc()
	m.logger.Info("operation queued for sync",
		zap.String("operation_id", operation.ID),
		zap.String("type", opType.String()))

	if online {
		m.SyncOfflineData(ctx)
	}
	operation.Data = copyPayload(operation.Data)
	return operation, nil
}

// SyncOfflineData replays the queue against the remote system. It does
// nothing while offline or with an empty queue. Concurrent calls never
// overlap: a call arriving during a drain returns at once with Skipped set
// and the running drain makes one more pass.
func (m *Manager) SyncOfflineData(ctx context.Context) DrainResult {
	m.mu.Lock()
	if m.draining {
		m.rerun = true
		m.mu.Unlock()
		return DrainResult{Skipped: true}
	}
	m.draining = true
	m.mu.Unlock()

	var total DrainResult
	for {
		pass := m.drainOnce(ctx)
		total.Attempted += pass.Attempted
		total.Succeeded += pass.Succeeded
		total.Dropped += pass.Dropped
		total.Remaining = pass.Remaining

		m.mu.Lock()
		if !m.rerun || ctx.Err() != nil {
			m.draining = false
			m.rerun = false
			m.mu.Unlock()
			return total
		}
		m.rerun = false
		m.mu.Unlock()
	}
}

func (m *Manager) drainOnce(ctx context.Context) DrainResult {
	m.mu.Lock()
	if !m.online || len(m.queue) == 0 {
		remaining := len(m.queue)
		m.mu.Unlock()
		return DrainResult{Remaining: remaining}
	}
	batch := make([]Operation, len(m.queue))
	copy(batch, m.queue)
	m.mu.Unlock()

	if m.replayOrder == ReplayLIFO {
		for left, right := 0, len(batch)-1; left < right; left, right = left+1, right-1 {
			batch[left], batch[right] = batch[right], batch[left]
		}
	}

	drainsStarted.Inc()
	total := len(batch)
	completed := 0
	result := DrainResult{}
	dropped := make([]Operation, 0)

	m.notifier.ShowProgress(messageSyncing, 0)
	m.publishProgress(0, completed, total)

	for _, operation := range batch {
		if ctx.Err() != nil || !m.IsOnline() {
			break
		}
		result.Attempted++
		err := m.replay(ctx, operation)

		m.mu.Lock()
		if err == nil {
			m.removeLocked(operation.ID)
			result.Succeeded++
			completed++
			operationsReplayed.WithLabelValues(operation.Type.String(), "success").Inc()
		} else {
			retries := m.recordFailureLocked(operation.ID)
			operationsReplayed.WithLabelValues(operation.Type.String(), "failure").Inc()
			m.logger.Warn("sync operation failed",
				zap.String("operation_id", operation.ID),
				zap.String("type", operation.Type.String()),
				zap.Int("retries", retries),
				zap.Error(err))
			if retries >= m.maxRetries {
				m.removeLocked(operation.ID)
				operation.Retries = retries
				dropped = append(dropped, operation)
				result.Dropped++
				completed++
				operationsReplayed.WithLabelValues(operation.Type.String(), "dropped").Inc()
			}
		}
		m.mu.Unlock()

		percent := completed * 100 / total
		m.notifier.UpdateProgress(percent)
		m.publishProgress(percent, completed, total)
	}

	m.mu.Lock()
	if len(m.queue) == 0 {
		m.markCacheSyncedLocked()
	}
	m.persistLocked()
	result.Remaining = len(m.queue)
	m.mu.Unlock()

	for _, operation := range dropped {
		m.logger.Warn("sync operation dropped after exhausting retries",
			zap.String("operation_id", operation.ID),
			zap.String("type", operation.Type.String()),
			zap.Int("retries", operation.Retries),
			zap.Any("payload", operation.Data))
	}
	if result.Succeeded > 0 {
		m.notifier.ShowAlert(fmt.Sprintf(messageSyncedFormat, result.Succeeded), notify.SeveritySuccess)
	}
	if result.Dropped > 0 {
		m.notifier.ShowAlert(fmt.Sprintf(messageDroppedFormat, result.Dropped), notify.SeverityWarning)
	}
	m.publish(events.TypeSyncComplete, result)
	return result
}

func (m *Manager) replay(ctx context.Context, operation Operation) error {
	opCtx, cancel := context.WithTimeout(ctx, m.operationTimeout)
	defer cancel()
	if err := Apply(opCtx, m.remote, operation.Type, operation.Data); err != nil {
		return newServiceError(opDrain, "replay_failed", err)
	}
	return nil
}

// Apply performs one mutation against remote, dispatching by type.
func Apply(ctx context.Context, remote Remote, opType OperationType, data map[string]any) error {
	switch opType {
	case OperationCreatePackage:
		return remote.CreatePackage(ctx, data)
	case OperationUpdatePackage:
		return remote.UpdatePackage(ctx, data)
	case OperationDeletePackage:
		return remote.DeletePackage(ctx, data)
	case OperationUpdateStock:
		return remote.UpdateStock(ctx, data)
	case OperationCreateCustomer:
		return remote.CreateCustomer(ctx, data)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperationType, opType)
	}
}

// StoreOfflineData caches data under key for offline viewing.
func (m *Manager) StoreOfflineData(key string, data any) bool {
	encoded, err := json.Marshal(data)
	if err != nil {
		m.logError(opCache, "encode_failed", err, zap.String("key", key))
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.cache[key]; !exists {
		m.cacheKeys = append(m.cacheKeys, key)
	}
	m.cache[key] = OfflineDataEntry{
		Data:      encoded,
		Timestamp: m.clock().UnixMilli(),
	}
	return m.persistLocked()
}

// GetOfflineData decodes the cached value for key into dest.
func (m *Manager) GetOfflineData(key string, dest any) (OfflineDataEntry, bool) {
	m.mu.Lock()
	entry, ok := m.cache[key]
	m.mu.Unlock()
	if !ok {
		return OfflineDataEntry{}, false
	}
	if dest != nil {
		if err := json.Unmarshal(entry.Data, dest); err != nil {
			m.logError(opCache, "decode_failed", err, zap.String("key", key))
			return entry, false
		}
	}
	return entry, true
}

func (m *Manager) setOnline(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.online != online
	m.online = online
	return changed
}

func (m *Manager) removeLocked(id string) {
	for index, operation := range m.queue {
		if operation.ID == id {
			m.queue = append(m.queue[:index], m.queue[index+1:]...)
			return
		}
	}
}

func (m *Manager) recordFailureLocked(id string) int {
	for index := range m.queue {
		if m.queue[index].ID == id {
			m.queue[index].Retries++
			return m.queue[index].Retries
		}
	}
	return m.maxRetries
}

func (m *Manager) markCacheSyncedLocked() {
	for key, entry := range m.cache {
		if !entry.Synced {
			entry.Synced = true
			m.cache[key] = entry
		}
	}
}

func (m *Manager) load() {
	var persisted snapshot
	if !m.store.Get(kvstore.KeyOfflineData, &persisted) {
		m.logger.Debug("no offline snapshot restored")
		queueDepth.Set(0)
		return
	}
	for _, operation := range persisted.SyncQueue {
		if operation.ID == "" {
			m.logger.Warn("discarding queued operation without id", zap.String("type", operation.Type.String()))
			continue
		}
		if operation.Data == nil {
			operation.Data = map[string]any{}
		}
		m.queue = append(m.queue, operation)
	}
	for _, pair := range persisted.OfflineData {
		if _, exists := m.cache[pair.Key]; !exists {
			m.cacheKeys = append(m.cacheKeys, pair.Key)
		}
		m.cache[pair.Key] = pair.Entry
	}
	queueDepth.Set(float64(len(m.queue)))
	m.logger.Info("offline snapshot restored",
		zap.Int("queued", len(m.queue)),
		zap.Int("cached", len(m.cache)))
}

func (m *Manager) persistLocked() bool {
	persisted := snapshot{
		OfflineData: make([]cachePair, 0, len(m.cacheKeys)),
		SyncQueue:   m.queue,
	}
	if persisted.SyncQueue == nil {
		persisted.SyncQueue = []Operation{}
	}
	for _, key := range m.cacheKeys {
		persisted.OfflineData = append(persisted.OfflineData, cachePair{Key: key, Entry: m.cache[key]})
	}
	queueDepth.Set(float64(len(m.queue)))
	if !m.store.Set(kvstore.KeyOfflineData, persisted) {
		m.logError(opPersist, "store_failed", nil, zap.Int("queued", len(m.queue)))
		return false
	}
	return true
}

func (m *Manager) publish(eventType string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Topic:     events.TopicSyncStatus,
		Type:      eventType,
		Payload:   payload,
		Timestamp: m.clock().UTC(),
	})
}

// Progress is the payload of sync-progress events.
type Progress struct {
	Percent   int
	Completed int
	Total     int
}

func (m *Manager) publishProgress(percent, completed, total int) {
	m.publish(events.TypeSyncProgress, Progress{Percent: percent, Completed: completed, Total: total})
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	m.logger.Error("offline manager error", attrs...)
}

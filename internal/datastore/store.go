// Package datastore is the workstation's local table store: the offline
// stand-in for the remote database and the cache behind spreadsheet mode.
package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/proclean/internal/kvstore"
)

// KeyValueStore persists tables between sessions.
type KeyValueStore interface {
	Set(key string, value any) bool
	Get(key string, dest any) bool
}

// Config configures a Store.
type Config struct {
	KeyValue KeyValueStore
	Clock    func() time.Time
	NewID    func() string
	Logger   *zap.Logger
	// Latency is the simulated round trip applied by Query. Zero disables it.
	Latency time.Duration
}

// Store holds the four local tables in memory and writes each table back to
// the key-value store after every mutation.
type Store struct {
	mu      sync.Mutex
	tables  map[string][]Row
	kv      KeyValueStore
	clock   func() time.Time
	newID   func() string
	logger  *zap.Logger
	latency time.Duration
}

// NewStore loads every table from the key-value store. A missing or corrupt
// table starts empty.
func NewStore(cfg Config) (*Store, error) {
	if cfg.KeyValue == nil {
		return nil, fmt.Errorf("datastore: key-value store is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newUUID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := &Store{
		tables:  make(map[string][]Row, len(Tables)),
		kv:      cfg.KeyValue,
		clock:   clock,
		newID:   newID,
		logger:  logger,
		latency: cfg.Latency,
	}
	for _, table := range Tables {
		var rows []Row
		if !cfg.KeyValue.Get(kvstore.TableKey(table), &rows) {
			rows = nil
		}
		store.tables[table] = rows
	}
	return store, nil
}

// Select returns copies of the rows in table matching opts.Filter.
func (s *Store) Select(table string, opts SelectOptions) ([]Row, error) {
	filter, err := normalizeFilter(opts.Filter)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	rows, ok := s.tables[table]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	selected := make([]Row, 0, len(rows))
	for _, row := range rows {
		if matches(row, filter) {
			selected = append(selected, copyRow(row))
		}
	}
	s.mu.Unlock()

	if opts.Order != nil && opts.Order.Column != "" {
		sortRows(selected, *opts.Order)
	}
	return selected, nil
}

// Insert appends opts.Data with a generated id and creation time. A caller
// supplied string id is kept so replays can refer to the same row.
func (s *Store) Insert(table string, opts InsertOptions) ([]Row, error) {
	row, err := normalizeRow(opts.Data)
	if err != nil {
		return nil, err
	}
	if row.ID() == "" {
		row[FieldID] = s.newID()
	}
	row[FieldCreatedAt] = s.timestamp()

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	for _, existing := range rows {
		if existing.ID() == row.ID() {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, row.ID())
		}
	}
	s.tables[table] = append(rows, row)
	s.persistLocked(table)
	return []Row{copyRow(row)}, nil
}

// Update merges opts.Data over every matching row and stamps updated_at.
func (s *Store) Update(table string, opts UpdateOptions) ([]Row, error) {
	data, err := normalizeRow(opts.Data)
	if err != nil {
		return nil, err
	}
	filter, err := normalizeFilter(opts.Filter)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	updatedAt := s.timestamp()
	updated := make([]Row, 0)
	for index, row := range rows {
		if !matches(row, filter) {
			continue
		}
		merged := copyRow(row)
		for key, value := range data {
			merged[key] = value
		}
		merged[FieldUpdatedAt] = updatedAt
		rows[index] = merged
		updated = append(updated, copyRow(merged))
	}
	s.persistLocked(table)
	return updated, nil
}

// Delete removes every matching row and returns how many were removed.
func (s *Store) Delete(table string, opts DeleteOptions) (int, error) {
	filter, err := normalizeFilter(opts.Filter)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	kept := make([]Row, 0, len(rows))
	for _, row := range rows {
		if !matches(row, filter) {
			kept = append(kept, row)
		}
	}
	removed := len(rows) - len(kept)
	s.tables[table] = kept
	s.persistLocked(table)
	return removed, nil
}

// Query waits the simulated latency and dispatches by operation name.
// Unknown operations and failures yield an empty result.
func (s *Store) Query(ctx context.Context, table, operation string, opts QueryOptions) Result {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Warn("datastore query cancelled",
				zap.String("table", table),
				zap.String("operation", operation),
				zap.Error(ctx.Err()))
			return Result{}
		case <-timer.C:
		}
	}

	result, err := s.dispatch(table, operation, opts)
	if err != nil {
		s.logger.Error("datastore query failed",
			zap.String("table", table),
			zap.String("operation", operation),
			zap.Error(err))
		return Result{}
	}
	return result
}

func (s *Store) dispatch(table, operation string, opts QueryOptions) (Result, error) {
	switch operation {
	case OperationSelect:
		rows, err := s.Select(table, SelectOptions{Filter: opts.Filter, Order: opts.Order})
		return Result{Rows: rows, Count: len(rows)}, err
	case OperationInsert:
		rows, err := s.Insert(table, InsertOptions{Data: opts.Data})
		return Result{Rows: rows, Count: len(rows)}, err
	case OperationUpdate:
		rows, err := s.Update(table, UpdateOptions{Data: opts.Data, Filter: opts.Filter})
		return Result{Rows: rows, Count: len(rows)}, err
	case OperationDelete:
		count, err := s.Delete(table, DeleteOptions{Filter: opts.Filter})
		return Result{Count: count}, err
	default:
		s.logger.Debug("datastore unknown operation", zap.String("operation", operation))
		return Result{}, nil
	}
}

func (s *Store) persistLocked(table string) {
	if !s.kv.Set(kvstore.TableKey(table), s.tables[table]) {
		s.logger.Error("datastore persist failed", zap.String("table", table))
	}
}

func (s *Store) timestamp() string {
	return s.clock().UTC().Format(time.RFC3339Nano)
}

func sortRows(rows []Row, order Order) {
	sort.SliceStable(rows, func(i, j int) bool {
		cmp := compareValues(rows[i][order.Column], rows[j][order.Column])
		if order.Ascending {
			return cmp < 0
		}
		return cmp > 0
	})
}

// compareValues orders missing values first, then numbers, then strings, and
// falls back to the printed form for anything else.
func compareValues(left, right any) int {
	if left == nil || right == nil {
		switch {
		case left == nil && right == nil:
			return 0
		case left == nil:
			return -1
		default:
			return 1
		}
	}
	leftNumber, leftIsNumber := left.(float64)
	rightNumber, rightIsNumber := right.(float64)
	if leftIsNumber && rightIsNumber {
		switch {
		case leftNumber < rightNumber:
			return -1
		case leftNumber > rightNumber:
			return 1
		default:
			return 0
		}
	}
	leftText, leftIsText := left.(string)
	rightText, rightIsText := right.(string)
	if !leftIsText {
		leftText = fmt.Sprint(left)
	}
	if !rightIsText {
		rightText = fmt.Sprint(right)
	}
	switch {
	case leftText < rightText:
		return -1
	case leftText > rightText:
		return 1
	default:
		return 0
	}
}

func newUUID() string {
	value, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return value.String()
}

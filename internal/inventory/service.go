// Package inventory is the reference implementation of the remote ProClean
// tables served over REST.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/proclean/internal/database"
)

// Table names.
const (
	TableCustomers  = "customers"
	TablePackages   = "packages"
	TableStock      = "stock"
	TableContainers = "containers"
)

var (
	// ErrUnknownTable indicates a table the service does not serve.
	ErrUnknownTable = errors.New("inventory: unknown table")
	// ErrInvalidPayload indicates a body that does not match the table.
	ErrInvalidPayload = errors.New("inventory: invalid payload")
	// ErrMissingFilter indicates an update or delete without a row filter.
	ErrMissingFilter = errors.New("inventory: filter is required")
	// ErrConflict indicates a unique column collision with another row.
	ErrConflict = errors.New("inventory: conflicting row")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "inventory.service.new"
	opInsert     = "inventory.insert"
	opUpdate     = "inventory.update"
	opDelete     = "inventory.delete"
	opSelect     = "inventory.select"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type tableSpec struct {
	newRecord func() record
	columns   map[string]struct{}
}

func columnSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

var tables = map[string]tableSpec{
	TableCustomers: {
		newRecord: func() record { return &Customer{} },
		columns:   columnSet("id", "name", "phone", "email", "address", "created_at", "updated_at"),
	},
	TablePackages: {
		newRecord: func() record { return &Package{} },
		columns:   columnSet("id", "code", "customer_id", "container_id", "status", "quantity", "note", "created_at", "updated_at"),
	},
	TableStock: {
		newRecord: func() record { return &StockItem{} },
		columns:   columnSet("id", "code", "name", "qty", "unit", "created_at", "updated_at"),
	},
	TableContainers: {
		newRecord: func() record { return &Container{} },
		columns:   columnSet("id", "label", "capacity", "created_at", "updated_at"),
	},
}

// immutableColumns are accepted in update bodies but never written.
var immutableColumns = columnSet("id", "created_at", "updated_at")

// Filter is one equality condition.
type Filter struct {
	Column string
	Value  string
}

// SelectQuery narrows, orders and bounds a read.
type SelectQuery struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Insert creates a row from a JSON object. A row whose id already exists is
// left untouched so replayed creates are idempotent.
func (s *Service) Insert(ctx context.Context, table string, payload []byte) (any, error) {
	definition, ok := tables[table]
	if !ok {
		return nil, newServiceError(opInsert, "unknown_table", fmt.Errorf("%w: %s", ErrUnknownTable, table))
	}
	row := definition.newRecord()
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(row); err != nil {
		return nil, newServiceError(opInsert, "invalid_payload", fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	if err := row.validate(); err != nil {
		return nil, newServiceError(opInsert, "invalid_payload", err)
	}

	id := strings.TrimSpace(row.identifier())
	if id == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opInsert, "id_generation_failed", err, zap.String("table", table))
			return nil, newServiceError(opInsert, "id_generation_failed", err)
		}
		id = generated
	}
	row.stamp(id, s.clock().UTC())

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(row).Error
	if err != nil {
		if isUniqueViolation(err) {
			return nil, newServiceError(opInsert, "conflict", fmt.Errorf("%w: %v", ErrConflict, err))
		}
		s.logError(opInsert, "create_failed", err, zap.String("table", table), zap.String("id", id))
		return nil, newServiceError(opInsert, "create_failed", err)
	}
	return row, nil
}

// Update applies a JSON object of column values to the rows matching filters.
func (s *Service) Update(ctx context.Context, table string, filters []Filter, payload []byte) (int64, error) {
	definition, ok := tables[table]
	if !ok {
		return 0, newServiceError(opUpdate, "unknown_table", fmt.Errorf("%w: %s", ErrUnknownTable, table))
	}
	if err := checkFilters(definition, filters); err != nil {
		return 0, newServiceError(opUpdate, "invalid_filter", err)
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return 0, newServiceError(opUpdate, "invalid_payload", fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	updates := make(map[string]any, len(body)+1)
	for column, value := range body {
		if _, known := definition.columns[column]; !known {
			return 0, newServiceError(opUpdate, "invalid_payload", fmt.Errorf("%w: unknown column %q", ErrInvalidPayload, column))
		}
		if _, immutable := immutableColumns[column]; immutable {
			continue
		}
		updates[column] = value
	}
	updates["updated_at"] = s.clock().UTC()

	query := applyFilters(s.db.WithContext(ctx).Model(definition.newRecord()), filters)
	result := query.Updates(updates)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return 0, newServiceError(opUpdate, "conflict", fmt.Errorf("%w: %v", ErrConflict, result.Error))
		}
		s.logError(opUpdate, "update_failed", result.Error, zap.String("table", table))
		return 0, newServiceError(opUpdate, "update_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete removes the rows matching filters.
func (s *Service) Delete(ctx context.Context, table string, filters []Filter) (int64, error) {
	definition, ok := tables[table]
	if !ok {
		return 0, newServiceError(opDelete, "unknown_table", fmt.Errorf("%w: %s", ErrUnknownTable, table))
	}
	if err := checkFilters(definition, filters); err != nil {
		return 0, newServiceError(opDelete, "invalid_filter", err)
	}
	result := applyFilters(s.db.WithContext(ctx), filters).Delete(definition.newRecord())
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.String("table", table))
		return 0, newServiceError(opDelete, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// Select returns matching rows as column maps.
func (s *Service) Select(ctx context.Context, table string, query SelectQuery) ([]map[string]any, error) {
	definition, ok := tables[table]
	if !ok {
		return nil, newServiceError(opSelect, "unknown_table", fmt.Errorf("%w: %s", ErrUnknownTable, table))
	}
	for _, filter := range query.Filters {
		if _, known := definition.columns[filter.Column]; !known {
			return nil, newServiceError(opSelect, "invalid_filter", fmt.Errorf("%w: unknown column %q", ErrInvalidPayload, filter.Column))
		}
	}
	tx := applyFilters(s.db.WithContext(ctx).Model(definition.newRecord()), query.Filters)
	if query.OrderBy != "" {
		if _, known := definition.columns[query.OrderBy]; !known {
			return nil, newServiceError(opSelect, "invalid_order", fmt.Errorf("%w: unknown column %q", ErrInvalidPayload, query.OrderBy))
		}
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: query.OrderBy}, Desc: query.Descending})
	}
	if query.Limit > 0 {
		tx = tx.Limit(query.Limit)
	}
	rows := make([]map[string]any, 0)
	if err := tx.Find(&rows).Error; err != nil {
		s.logError(opSelect, "select_failed", err, zap.String("table", table))
		return nil, newServiceError(opSelect, "select_failed", err)
	}
	return rows, nil
}

// Migrations returns the named data repairs for the inventory tables.
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Name: "2024_05_packages_status_backfill",
			Apply: func(tx *gorm.DB) error {
				return tx.Model(&Package{}).Where("status = ?", "").Update("status", StatusPending).Error
			},
		},
	}
}

func checkFilters(definition tableSpec, filters []Filter) error {
	if len(filters) == 0 {
		return ErrMissingFilter
	}
	for _, filter := range filters {
		if _, known := definition.columns[filter.Column]; !known {
			return fmt.Errorf("%w: unknown column %q", ErrInvalidPayload, filter.Column)
		}
	}
	return nil
}

func applyFilters(tx *gorm.DB, filters []Filter) *gorm.DB {
	for _, filter := range filters {
		tx = tx.Where(clause.Eq{Column: clause.Column{Name: filter.Column}, Value: filter.Value})
	}
	return tx
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("inventory service error", attrs...)
}

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/proclean/internal/datastore"
	"github.com/MarcoPoloResearchLab/proclean/internal/offline"
)

const defaultActionTimeout = 10 * time.Second

type ActionsConfig struct {
	Manager *offline.Manager
	Remote  offline.Remote
	Tables  *datastore.Store
	Timeout time.Duration
	NewID   func() string
	Logger  *zap.Logger
}

// Actions are the operator's mutating commands. Each one tries the remote
// system while online, falls back to the sync queue, and mirrors the change
// into the local tables.
type Actions struct {
	manager *offline.Manager
	remote  offline.Remote
	tables  *datastore.Store
	timeout time.Duration
	newID   func() string
	logger  *zap.Logger
}

// Outcome reports how an action was applied.
type Outcome struct {
	Type        offline.OperationType
	Data        map[string]any
	Queued      bool
	OperationID string
	LocalRows   int
}

func NewActions(cfg ActionsConfig) *Actions {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string {
			value, err := uuid.NewV7()
			if err != nil {
				return uuid.NewString()
			}
			return value.String()
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actions{
		manager: cfg.Manager,
		remote:  cfg.Remote,
		tables:  cfg.Tables,
		timeout: timeout,
		newID:   newID,
		logger:  logger,
	}
}

// CreatePackage registers a package. A client id is assigned when missing so
// a replayed create lands on the same remote row.
func (a *Actions) CreatePackage(ctx context.Context, data map[string]any) (Outcome, error) {
	return a.Perform(ctx, offline.OperationCreatePackage, data)
}

func (a *Actions) UpdatePackage(ctx context.Context, data map[string]any) (Outcome, error) {
	return a.Perform(ctx, offline.OperationUpdatePackage, data)
}

func (a *Actions) DeletePackage(ctx context.Context, data map[string]any) (Outcome, error) {
	return a.Perform(ctx, offline.OperationDeletePackage, data)
}

func (a *Actions) UpdateStock(ctx context.Context, data map[string]any) (Outcome, error) {
	return a.Perform(ctx, offline.OperationUpdateStock, data)
}

// CreateCustomer registers a customer with a client id, like CreatePackage.
func (a *Actions) CreateCustomer(ctx context.Context, data map[string]any) (Outcome, error) {
	return a.Perform(ctx, offline.OperationCreateCustomer, data)
}

// Perform applies one action of the given type.
func (a *Actions) Perform(ctx context.Context, opType offline.OperationType, data map[string]any) (Outcome, error) {
	if !opType.Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", offline.ErrUnknownOperationType, opType)
	}
	payload := make(map[string]any, len(data)+1)
	for key, value := range data {
		payload[key] = value
	}
	if isCreate(opType) {
		if id, _ := payload["id"].(string); strings.TrimSpace(id) == "" {
			payload["id"] = a.newID()
		}
	} else if _, ok := rowFilter(payload); !ok {
		return Outcome{}, fmt.Errorf("%s requires an id or code", opType)
	}

	outcome := Outcome{Type: opType, Data: payload}
	applied := false
	if a.manager.IsOnline() {
		remoteCtx, cancel := context.WithTimeout(ctx, a.timeout)
		err := offline.Apply(remoteCtx, a.remote, opType, payload)
		cancel()
		if err == nil {
			applied = true
		} else {
			a.logger.Warn("remote action failed, queueing for sync",
				zap.String("type", opType.String()),
				zap.Error(err))
		}
	}
	if !applied {
		operation, err := a.manager.QueueForSync(ctx, opType, payload)
		if err != nil {
			return Outcome{}, err
		}
		outcome.Queued = true
		outcome.OperationID = operation.ID
	}

	outcome.LocalRows = a.reflect(ctx, opType, payload)
	return outcome, nil
}

// reflect mirrors the action into the local tables.
func (a *Actions) reflect(ctx context.Context, opType offline.OperationType, payload map[string]any) int {
	switch opType {
	case offline.OperationCreatePackage:
		return a.tables.Query(ctx, datastore.TablePackages, datastore.OperationInsert, datastore.QueryOptions{Data: payload}).Count
	case offline.OperationCreateCustomer:
		return a.tables.Query(ctx, datastore.TableCustomers, datastore.OperationInsert, datastore.QueryOptions{Data: payload}).Count
	case offline.OperationUpdatePackage:
		filter, _ := rowFilter(payload)
		return a.tables.Query(ctx, datastore.TablePackages, datastore.OperationUpdate, datastore.QueryOptions{Data: payload, Filter: filter}).Count
	case offline.OperationDeletePackage:
		filter, _ := rowFilter(payload)
		return a.tables.Query(ctx, datastore.TablePackages, datastore.OperationDelete, datastore.QueryOptions{Filter: filter}).Count
	case offline.OperationUpdateStock:
		filter, _ := rowFilter(payload)
		result := a.tables.Query(ctx, datastore.TableStock, datastore.OperationUpdate, datastore.QueryOptions{Data: payload, Filter: filter})
		if result.Count > 0 {
			return result.Count
		}
		return a.tables.Query(ctx, datastore.TableStock, datastore.OperationInsert, datastore.QueryOptions{Data: payload}).Count
	default:
		return 0
	}
}

func isCreate(opType offline.OperationType) bool {
	return opType == offline.OperationCreatePackage || opType == offline.OperationCreateCustomer
}

// rowFilter keys a mutation by id, or by code when no id is present.
func rowFilter(payload map[string]any) (map[string]any, bool) {
	for _, column := range []string{"id", "code"} {
		if value, ok := payload[column]; ok && value != nil && strings.TrimSpace(fmt.Sprint(value)) != "" {
			return map[string]any{column: value}, true
		}
	}
	return nil, false
}

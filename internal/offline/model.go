package offline

import (
	"encoding/json"
	"errors"
	"fmt"
)

// OperationType enumerates the mutations that can be queued while offline.
type OperationType string

const (
	OperationCreatePackage  OperationType = "create_package"
	OperationUpdatePackage  OperationType = "update_package"
	OperationDeletePackage  OperationType = "delete_package"
	OperationUpdateStock    OperationType = "update_stock"
	OperationCreateCustomer OperationType = "create_customer"
)

// Valid reports whether t is one of the known operation types.
func (t OperationType) Valid() bool {
	switch t {
	case OperationCreatePackage, OperationUpdatePackage, OperationDeletePackage, OperationUpdateStock, OperationCreateCustomer:
		return true
	default:
		return false
	}
}

// String returns the wire name.
func (t OperationType) String() string {
	return string(t)
}

// Operation is one queued mutation awaiting replay against the remote system.
type Operation struct {
	ID        string         `json:"id"`
	Type      OperationType  `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
	Retries   int            `json:"retries"`
}

// OfflineDataEntry is a cached read-model value kept for offline viewing.
// Synced turns true once a drain leaves the queue empty after the entry was written.
type OfflineDataEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Synced    bool            `json:"synced"`
}

// ReplayOrder selects the order in which a drain visits the queue.
type ReplayOrder string

const (
	// ReplayFIFO replays the oldest operation first.
	ReplayFIFO ReplayOrder = "fifo"
	// ReplayLIFO replays the newest operation first.
	ReplayLIFO ReplayOrder = "lifo"
)

// DrainResult summarizes one SyncOfflineData call.
type DrainResult struct {
	// Attempted counts replay calls made against the remote system.
	Attempted int
	Succeeded int
	// Dropped counts operations removed after exhausting their retries.
	Dropped   int
	Remaining int
	// Skipped is set when another drain was already running; that drain
	// performs one more pass on this caller's behalf.
	Skipped bool
}

// snapshot is the persisted document under kvstore.KeyOfflineData.
type snapshot struct {
	OfflineData []cachePair `json:"offlineData"`
	SyncQueue   []Operation `json:"syncQueue"`
}

// cachePair encodes as a two element array: [key, entry].
type cachePair struct {
	Key   string
	Entry OfflineDataEntry
}

var errMalformedCachePair = errors.New("offline: malformed cache pair")

func (p cachePair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Key, p.Entry})
}

func (p *cachePair) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("%w: %d elements", errMalformedCachePair, len(parts))
	}
	if err := json.Unmarshal(parts[0], &p.Key); err != nil {
		return fmt.Errorf("%w: key: %v", errMalformedCachePair, err)
	}
	if err := json.Unmarshal(parts[1], &p.Entry); err != nil {
		return fmt.Errorf("%w: entry: %v", errMalformedCachePair, err)
	}
	return nil
}

// clonePayload returns a deep copy of data in its JSON form, so a queued
// operation holds exactly what the snapshot will replay.
func clonePayload(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var cloned map[string]any
	if err := json.Unmarshal(encoded, &cloned); err != nil {
		return nil, err
	}
	return cloned, nil
}

// copyPayload duplicates a payload that already went through clonePayload.
// Such payloads hold only JSON values, so nested maps and slices are copied
// recursively and everything else is immutable.
func copyPayload(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	copied := make(map[string]any, len(data))
	for key, value := range data {
		copied[key] = copyValue(value)
	}
	return copied
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return copyPayload(typed)
	case []any:
		copied := make([]any, len(typed))
		for index, item := range typed {
			copied[index] = copyValue(item)
		}
		return copied
	default:
		return value
	}
}

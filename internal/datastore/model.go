package datastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Local table names.
const (
	TableCustomers  = "customers"
	TablePackages   = "packages"
	TableStock      = "stock"
	TableContainers = "containers"
)

// Tables lists every table the store owns.
var Tables = []string{TableCustomers, TablePackages, TableStock, TableContainers}

// Operation names accepted by Query.
const (
	OperationSelect = "select"
	OperationInsert = "insert"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// Row field names managed by the store.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

var (
	// ErrUnknownTable indicates a table the store does not own.
	ErrUnknownTable = errors.New("datastore: unknown table")
	// ErrDuplicateID indicates an insert carrying an id that already exists.
	ErrDuplicateID = errors.New("datastore: duplicate id")
)

// Row is a schemaless table row.
type Row map[string]any

// ID returns the row identifier when it is a string.
func (r Row) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

// Order sorts a selection by one column.
type Order struct {
	Column    string
	Ascending bool
}

// SelectOptions filters and orders a selection. Filter keys must all match.
type SelectOptions struct {
	Filter map[string]any
	Order  *Order
}

// InsertOptions carries the row to insert.
type InsertOptions struct {
	Data Row
}

// UpdateOptions merges Data over every row matching Filter.
type UpdateOptions struct {
	Data   Row
	Filter map[string]any
}

// DeleteOptions removes every row matching Filter.
type DeleteOptions struct {
	Filter map[string]any
}

// QueryOptions is the union of the per-operation options.
type QueryOptions struct {
	Data   Row
	Filter map[string]any
	Order  *Order
}

// Result is the outcome of a Query. Count is the number of affected rows for
// deletes and the number of returned rows otherwise.
type Result struct {
	Rows  []Row
	Count int
}

// normalize gives values the shape they take after a JSON round trip so rows
// compare the same before and after a reload.
func normalize(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("datastore: encode value: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, fmt.Errorf("datastore: decode value: %w", err)
	}
	return decoded, nil
}

func normalizeRow(row Row) (Row, error) {
	normalized, err := normalize(map[string]any(row))
	if err != nil {
		return nil, err
	}
	object, ok := normalized.(map[string]any)
	if !ok {
		return Row{}, nil
	}
	return Row(object), nil
}

func normalizeFilter(filter map[string]any) (map[string]any, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	normalized := make(map[string]any, len(filter))
	for key, value := range filter {
		v, err := normalize(value)
		if err != nil {
			return nil, err
		}
		normalized[key] = v
	}
	return normalized, nil
}

func matches(row Row, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := row[key]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func copyRow(row Row) Row {
	clone := make(Row, len(row))
	for key, value := range row {
		clone[key] = value
	}
	return clone
}

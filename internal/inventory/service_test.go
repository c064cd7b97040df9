package inventory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/proclean/internal/database"
)

type sequenceProvider struct {
	next int
}

func (p *sequenceProvider) NewID() (string, error) {
	p.next++
	return "generated-" + string(rune('0'+p.next)), nil
}

func newTestService(testContext *testing.T) (*Service, *gorm.DB) {
	testContext.Helper()
	db, err := database.OpenSQLite(filepath.Join(testContext.TempDir(), "inventory.db"), zap.NewNop(), Models(), Migrations()...)
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	testContext.Cleanup(func() { _ = database.Close(db) })
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) },
		IDProvider: &sequenceProvider{},
	})
	if err != nil {
		testContext.Fatalf("failed to build service: %v", err)
	}
	return service, db
}

func TestInsertAssignsIdentifierAndDefaults(testContext *testing.T) {
	service, _ := newTestService(testContext)
	ctx := context.Background()

	created, err := service.Insert(ctx, TablePackages, []byte(`{"code":"P-1","customer_id":"c1"}`))
	if err != nil {
		testContext.Fatalf("unexpected insert error: %v", err)
	}
	pkg, ok := created.(*Package)
	if !ok {
		testContext.Fatalf("expected *Package, got %T", created)
	}
	if pkg.ID != "generated-1" || pkg.Status != StatusPending {
		testContext.Fatalf("unexpected package: %+v", pkg)
	}

	rows, err := service.Select(ctx, TablePackages, SelectQuery{Filters: []Filter{{Column: "code", Value: "P-1"}}})
	if err != nil {
		testContext.Fatalf("unexpected select error: %v", err)
	}
	if len(rows) != 1 || rows[0]["customer_id"] != "c1" {
		testContext.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestInsertWithClientIDIsIdempotent(testContext *testing.T) {
	service, _ := newTestService(testContext)
	ctx := context.Background()
	payload := []byte(`{"id":"client-7","name":"Ali"}`)

	if _, err := service.Insert(ctx, TableCustomers, payload); err != nil {
		testContext.Fatalf("first insert failed: %v", err)
	}
	if _, err := service.Insert(ctx, TableCustomers, payload); err != nil {
		testContext.Fatalf("replayed insert must be accepted: %v", err)
	}

	rows, err := service.Select(ctx, TableCustomers, SelectQuery{})
	if err != nil {
		testContext.Fatalf("unexpected select error: %v", err)
	}
	if len(rows) != 1 {
		testContext.Fatalf("expected a single customer, got %d", len(rows))
	}
}

func TestInsertRejectsDuplicateCodeUnderNewID(testContext *testing.T) {
	service, _ := newTestService(testContext)
	ctx := context.Background()

	if _, err := service.Insert(ctx, TableStock, []byte(`{"code":"A1","qty":5}`)); err != nil {
		testContext.Fatalf("unexpected insert error: %v", err)
	}
	_, err := service.Insert(ctx, TableStock, []byte(`{"code":"A1","qty":2}`))
	if !errors.Is(err, ErrConflict) {
		testContext.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestInsertRejectsInvalidPayloads(testContext *testing.T) {
	service, _ := newTestService(testContext)
	ctx := context.Background()

	tests := []struct {
		name    string
		table   string
		payload string
	}{
		{name: "unknown-column", table: TableCustomers, payload: `{"name":"Ali","vip":true}`},
		{name: "missing-name", table: TableCustomers, payload: `{"phone":"555"}`},
		{name: "negative-qty", table: TableStock, payload: `{"code":"A1","qty":-1}`},
		{name: "not-json", table: TablePackages, payload: `code=P-1`},
	}
	for _, tt := range tests {
		testContext.Run(tt.name, func(t *testing.T) {
			_, err := service.Insert(ctx, tt.table, []byte(tt.payload))
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}

	if _, err := service.Insert(ctx, "invoices", []byte(`{}`)); !errors.Is(err, ErrUnknownTable) {
		testContext.Fatalf("expected ErrUnknownTable, got %v", err)
	}
}

func TestUpdateAppliesColumnsAndIgnoresIdentity(testContext *testing.T) {
	service, _ := newTestService(testContext)
	ctx := context.Background()
	if _, err := service.Insert(ctx, TableStock, []byte(`{"id":"s1","code":"A1","qty":5}`)); err != nil {
		testContext.Fatalf("unexpected insert error: %v", err)
	}

	affected, err := service.Update(ctx, TableStock, []Filter{{Column: "id", Value: "s1"}}, []byte(`{"id":"s1","code":"A1","qty":3}`))
	if err != nil {
		testContext.Fatalf("unexpected update error: %v", err)
	}
	if affected != 1 {
		testContext.Fatalf("expected 1 affected row, got %d", affected)
	}

	var stored StockItem
	if err := service.db.Where("id = ?", "s1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload: %v", err)
	}
	if stored.Qty != 3 {
		testContext.Fatalf("expected qty 3, got %d", stored.Qty)
	}

	if _, err := service.Update(ctx, TableStock, nil, []byte(`{"qty":1}`)); !errors.Is(err, ErrMissingFilter) {
		testContext.Fatalf("expected ErrMissingFilter, got %v", err)
	}
	if _, err := service.Update(ctx, TableStock, []Filter{{Column: "id", Value: "s1"}}, []byte(`{"price":1}`)); !errors.Is(err, ErrInvalidPayload) {
		testContext.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDeleteRemovesMatchingRows(testContext *testing.T) {
	service, _ := newTestService(testContext)
	ctx := context.Background()
	for _, payload := range []string{`{"code":"P-1"}`, `{"code":"P-2"}`} {
		if _, err := service.Insert(ctx, TablePackages, []byte(payload)); err != nil {
			testContext.Fatalf("unexpected insert error: %v", err)
		}
	}

	removed, err := service.Delete(ctx, TablePackages, []Filter{{Column: "code", Value: "P-1"}})
	if err != nil {
		testContext.Fatalf("unexpected delete error: %v", err)
	}
	if removed != 1 {
		testContext.Fatalf("expected 1 removed row, got %d", removed)
	}
	rows, err := service.Select(ctx, TablePackages, SelectQuery{OrderBy: "code", Descending: true, Limit: 10})
	if err != nil {
		testContext.Fatalf("unexpected select error: %v", err)
	}
	if len(rows) != 1 || rows[0]["code"] != "P-2" {
		testContext.Fatalf("unexpected remaining rows: %+v", rows)
	}
}

func TestStatusBackfillMigration(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "backfill.db")
	db, err := database.OpenSQLite(databasePath, zap.NewNop(), Models())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	legacy := Package{ID: "p-legacy", Code: "P-OLD", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := db.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to seed legacy package: %v", err)
	}
	if err := database.Close(db); err != nil {
		testContext.Fatalf("failed to close: %v", err)
	}

	db, err = database.OpenSQLite(databasePath, zap.NewNop(), Models(), Migrations()...)
	if err != nil {
		testContext.Fatalf("failed to reopen sqlite: %v", err)
	}
	defer database.Close(db)
	var stored Package
	if err := db.Where("id = ?", "p-legacy").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload package: %v", err)
	}
	if stored.Status != StatusPending {
		testContext.Fatalf("expected backfilled status, got %q", stored.Status)
	}
}

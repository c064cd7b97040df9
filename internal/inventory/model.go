package inventory

import (
	"fmt"
	"strings"
	"time"
)

// Package statuses.
const (
	StatusPending   = "pending"
	StatusPacked    = "packed"
	StatusDelivered = "delivered"
)

type record interface {
	identifier() string
	stamp(id string, now time.Time)
	validate() error
}

// Customer is a row of the customers table.
type Customer struct {
	ID        string    `json:"id" gorm:"column:id;primaryKey;size:190;not null"`
	Name      string    `json:"name" gorm:"column:name;size:255;not null"`
	Phone     string    `json:"phone" gorm:"column:phone;size:64;not null;default:''"`
	Email     string    `json:"email" gorm:"column:email;size:255;not null;default:''"`
	Address   string    `json:"address" gorm:"column:address;type:text;not null;default:''"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;not null"`
}

func (Customer) TableName() string {
	return TableCustomers
}

// Package is a row of the packages table. Code is the scanned barcode.
type Package struct {
	ID          string    `json:"id" gorm:"column:id;primaryKey;size:190;not null"`
	Code        string    `json:"code" gorm:"column:code;size:190;not null;uniqueIndex"`
	CustomerID  string    `json:"customer_id" gorm:"column:customer_id;size:190;not null;default:'';index"`
	ContainerID string    `json:"container_id" gorm:"column:container_id;size:190;not null;default:''"`
	Status      string    `json:"status" gorm:"column:status;size:32;not null;default:''"`
	Quantity    int       `json:"quantity" gorm:"column:quantity;not null;default:0"`
	Note        string    `json:"note" gorm:"column:note;type:text;not null;default:''"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at;not null"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at;not null"`
}

func (Package) TableName() string {
	return TablePackages
}

// StockItem is a row of the stock table.
type StockItem struct {
	ID        string    `json:"id" gorm:"column:id;primaryKey;size:190;not null"`
	Code      string    `json:"code" gorm:"column:code;size:190;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"column:name;size:255;not null;default:''"`
	Qty       int       `json:"qty" gorm:"column:qty;not null;default:0"`
	Unit      string    `json:"unit" gorm:"column:unit;size:32;not null;default:''"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;not null"`
}

func (StockItem) TableName() string {
	return TableStock
}

// Container is a row of the containers table.
type Container struct {
	ID        string    `json:"id" gorm:"column:id;primaryKey;size:190;not null"`
	Label     string    `json:"label" gorm:"column:label;size:190;not null"`
	Capacity  int       `json:"capacity" gorm:"column:capacity;not null;default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;not null"`
}

func (Container) TableName() string {
	return TableContainers
}

func (c *Customer) identifier() string  { return c.ID }
func (p *Package) identifier() string   { return p.ID }
func (s *StockItem) identifier() string { return s.ID }
func (c *Container) identifier() string { return c.ID }

func (c *Customer) stamp(id string, now time.Time) {
	c.ID, c.CreatedAt, c.UpdatedAt = id, now, now
}

func (p *Package) stamp(id string, now time.Time) {
	p.ID, p.CreatedAt, p.UpdatedAt = id, now, now
	if p.Status == "" {
		p.Status = StatusPending
	}
}

func (s *StockItem) stamp(id string, now time.Time) {
	s.ID, s.CreatedAt, s.UpdatedAt = id, now, now
}

func (c *Container) stamp(id string, now time.Time) {
	c.ID, c.CreatedAt, c.UpdatedAt = id, now, now
}

// Models lists every table model for AutoMigrate.
func Models() []any {
	return []any{&Customer{}, &Package{}, &StockItem{}, &Container{}}
}

func (c *Customer) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPayload)
	}
	return nil
}

func (p *Package) validate() error {
	if strings.TrimSpace(p.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidPayload)
	}
	return nil
}

func (s *StockItem) validate() error {
	if strings.TrimSpace(s.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidPayload)
	}
	if s.Qty < 0 {
		return fmt.Errorf("%w: qty must not be negative", ErrInvalidPayload)
	}
	return nil
}

func (c *Container) validate() error {
	if strings.TrimSpace(c.Label) == "" {
		return fmt.Errorf("%w: label is required", ErrInvalidPayload)
	}
	return nil
}

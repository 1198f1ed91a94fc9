// Package audit records configuration changes.
package audit

import (
	"context"
	"errors"

	"github.com/cordum/edgeconf/core/infra/bus"
	"github.com/cordum/edgeconf/core/storage"
)

// Audit codes emitted by the configuration manager.
const (
	CodeCategoryAdded   = "CONAD"
	CodeCategoryChanged = "CONCH"
	CodeCategoryDeleted = "CONDL"
)

// Table holds audit rows written by StorageLogger.
const Table = "log"

const levelInformation = "information"

// Logger receives audit records.
type Logger interface {
	Information(ctx context.Context, code string, details map[string]any) error
}

// Noop discards audit records.
type Noop struct{}

func (Noop) Information(context.Context, string, map[string]any) error { return nil }

// StorageLogger appends audit rows to the log table.
type StorageLogger struct {
	store storage.Storage
}

// NewStorageLogger writes through store.
func NewStorageLogger(store storage.Storage) *StorageLogger {
	return &StorageLogger{store: store}
}

func (l *StorageLogger) Information(ctx context.Context, code string, details map[string]any) error {
	_, err := l.store.Insert(ctx, Table, storage.Row{
		"code":  code,
		"level": levelInformation,
		"log":   details,
	})
	return err
}

// BusLogger publishes audit records on audit.<code>.
type BusLogger struct {
	pub bus.Publisher
}

// NewBusLogger publishes through pub.
func NewBusLogger(pub bus.Publisher) *BusLogger {
	return &BusLogger{pub: pub}
}

func (l *BusLogger) Information(_ context.Context, code string, details map[string]any) error {
	return l.pub.Publish(bus.SubjectAuditPrefix+code, bus.NewEvent(code, details))
}

// Multi fans a record out to every logger and joins their errors.
type Multi []Logger

func (m Multi) Information(ctx context.Context, code string, details map[string]any) error {
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.Information(ctx, code, details); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

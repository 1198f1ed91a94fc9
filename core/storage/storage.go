// Package storage defines the generic table store the configuration manager
// and the scheduler persist through, and a Redis-backed implementation.
//
// The store speaks structured payloads rather than SQL: callers describe
// which rows to return, which columns to patch (including in-place JSON path
// mutation of a JSON column) and which rows to delete.
package storage

import (
	"context"
	"fmt"
)

// Condition operators understood by Where clauses.
const (
	OpEq      = "="
	OpNe      = "!="
	OpIn      = "in"
	OpNotIn   = "not in"
	OpLt      = "<"
	OpLe      = "<="
	OpGt      = ">"
	OpGe      = ">="
	OpIsNull  = "isnull"
	OpNotNull = "notnull"
)

// Row is a single table row keyed by column name.
type Row map[string]any

// Condition is one predicate of a Where clause; conditions are ANDed.
type Condition struct {
	Column string `json:"column"`
	Op     string `json:"condition"`
	Value  any    `json:"value,omitempty"`
}

// Where is a convenience constructor for an equality condition.
func Where(column string, value any) Condition {
	return Condition{Column: column, Op: OpEq, Value: value}
}

// Sort orders query results.
type Sort struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// Query selects rows from a table.
type Query struct {
	Return   []string    `json:"return,omitempty"`
	Where    []Condition `json:"where,omitempty"`
	Distinct bool        `json:"distinct,omitempty"`
	Sort     *Sort       `json:"sort,omitempty"`
	Limit    int         `json:"limit,omitempty"`
}

// JSONProperty sets Value at Path inside the JSON document held in Column.
type JSONProperty struct {
	Column string   `json:"column"`
	Path   []string `json:"path"`
	Value  any      `json:"value"`
}

// Patch updates every row matching Where.
type Patch struct {
	Values         map[string]any `json:"values,omitempty"`
	JSONProperties []JSONProperty `json:"json_properties,omitempty"`
	Where          []Condition    `json:"where"`
}

// UpdatePayload batches several patches into one call.
type UpdatePayload struct {
	Updates []Patch `json:"updates"`
}

// Filter selects rows to delete.
type Filter struct {
	Where []Condition `json:"where"`
}

// Result is the response of a query. Rows is nil only when the backend
// response carried no rows field, in which case Message explains why.
type Result struct {
	Count   int    `json:"count"`
	Rows    []Row  `json:"rows"`
	Message string `json:"message,omitempty"`
}

// Response is the acknowledgement of a write.
type Response struct {
	Response string `json:"response"`
	Rows     int    `json:"rows_affected"`
}

// Storage is the table store consumed by the configuration manager.
type Storage interface {
	QueryWithPayload(ctx context.Context, table string, q Query) (*Result, error)
	Insert(ctx context.Context, table string, row Row) (*Response, error)
	Update(ctx context.Context, table string, payload UpdatePayload) (*Response, error)
	Delete(ctx context.Context, table string, filter Filter) (*Response, error)
}

// Payload is the structured failure carried by Error.
type Payload struct {
	EntryPoint string `json:"entryPoint"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

// Error is the storage-specific failure type.
type Error struct {
	Payload Payload
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage %s: %s: %v", e.Payload.EntryPoint, e.Payload.Message, e.Err)
	}
	return fmt.Sprintf("storage %s: %s", e.Payload.EntryPoint, e.Payload.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Map returns the payload as a generic map, the shape surfaced to callers.
func (e *Error) Map() map[string]any {
	return map[string]any{
		"entryPoint": e.Payload.EntryPoint,
		"message":    e.Payload.Message,
		"retryable":  e.Payload.Retryable,
	}
}

func newError(entryPoint, message string, retryable bool, err error) *Error {
	return &Error{Payload: Payload{EntryPoint: entryPoint, Message: message, Retryable: retryable}, Err: err}
}

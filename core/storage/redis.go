package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cordum/edgeconf/core/infra/redisutil"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	defaultKeyPrefix   = "edgeconf"
	defaultOpTimeout   = 2 * time.Second
	maxTxRetries       = 5
	timestampLayout    = time.RFC3339Nano
	entryPointQuery    = "query"
	entryPointInsert   = "insert"
	entryPointUpdate   = "update"
	entryPointDelete   = "delete"
	responseInserted   = "inserted"
	responseUpdated    = "updated"
	responseDeleted    = "deleted"
	tableKeySeparator  = ":"
	defaultKeyColumn   = "id"
	pathEscapableChars = `\.*?|#@!=<>%`
)

// TableSpec describes how rows of a table are keyed.
type TableSpec struct {
	// Key is the primary key column.
	Key string
	// AutoID assigns Key from a per-table sequence when a row omits it.
	AutoID bool
	// Timestamp, when set, is stamped with the write time on insert and update.
	Timestamp string
}

// DefaultTables covers every table used in this module.
var DefaultTables = map[string]TableSpec{
	"configuration":     {Key: "key", Timestamp: "ts"},
	"category_children": {Key: "id", AutoID: true},
	"log":               {Key: "id", AutoID: true, Timestamp: "ts"},
	"acl_usage":         {Key: "id", AutoID: true},
	"schedules":         {Key: "id"},
	"tasks":             {Key: "id"},
}

// JSONReturn extracts Path from the JSON document in Column as Alias.
type JSONReturn struct {
	Column string
	Path   []string
	Alias  string
}

// Option configures a RedisStorage.
type Option func(*RedisStorage)

// WithPrefix namespaces every Redis key.
func WithPrefix(prefix string) Option {
	return func(s *RedisStorage) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.prefix = p
		}
	}
}

// WithTables overrides the table key specs.
func WithTables(tables map[string]TableSpec) Option {
	return func(s *RedisStorage) {
		for name, spec := range tables {
			s.tables[name] = spec
		}
	}
}

// RedisStorage stores each table as a Redis hash of row key -> JSON row.
type RedisStorage struct {
	client    redis.UniversalClient
	prefix    string
	tables    map[string]TableSpec
	opTimeout time.Duration
	now       func() time.Time
}

// NewRedisStorage wraps an existing client.
func NewRedisStorage(client redis.UniversalClient, opts ...Option) *RedisStorage {
	s := &RedisStorage{
		client:    client,
		prefix:    defaultKeyPrefix,
		tables:    make(map[string]TableSpec, len(DefaultTables)),
		opTimeout: defaultOpTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for name, spec := range DefaultTables {
		s.tables[name] = spec
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to Redis at url.
func Open(ctx context.Context, url string, opts ...Option) (*RedisStorage, error) {
	client, err := redisutil.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewRedisStorage(client, opts...), nil
}

// Close closes the underlying Redis client.
func (s *RedisStorage) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Client exposes the Redis client for collaborators that share the connection.
func (s *RedisStorage) Client() redis.UniversalClient {
	return s.client
}

// QueryWithPayload returns rows of table matching q.
func (s *RedisStorage) QueryWithPayload(ctx context.Context, table string, q Query) (*Result, error) {
	return s.query(ctx, table, q, nil)
}

// QueryJSON is QueryWithPayload plus extraction of JSON sub-documents.
func (s *RedisStorage) QueryJSON(ctx context.Context, table string, q Query, extract ...JSONReturn) (*Result, error) {
	return s.query(ctx, table, q, extract)
}

func (s *RedisStorage) query(ctx context.Context, table string, q Query, extract []JSONReturn) (*Result, error) {
	if err := checkTable(entryPointQuery, table); err != nil {
		return nil, err
	}
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.client.HGetAll(cctx, s.tableKey(table)).Result()
	if err != nil {
		return nil, newError(entryPointQuery, "read table "+table, true, err)
	}
	spec := s.spec(table)
	rows := make([]Row, 0, len(raw))
	for _, data := range raw {
		row, err := decodeRow([]byte(data))
		if err != nil {
			return nil, newError(entryPointQuery, "decode row of "+table, false, err)
		}
		ok, err := matchAll(row, q.Where)
		if err != nil {
			return nil, newError(entryPointQuery, err.Error(), false, nil)
		}
		if !ok {
			continue
		}
		for _, ex := range extract {
			res := gjson.GetBytes([]byte(data), JSONPath(append([]string{ex.Column}, ex.Path...)...))
			if res.Exists() {
				row[ex.Alias] = res.Value()
			}
		}
		rows = append(rows, row)
	}

	order := q.Sort
	if order == nil {
		order = &Sort{Column: spec.Key}
	}
	sortRows(rows, order)
	if len(extract) > 0 && len(q.Return) > 0 {
		cols := append([]string(nil), q.Return...)
		for _, ex := range extract {
			cols = append(cols, ex.Alias)
		}
		q.Return = cols
	}
	rows = project(rows, q)
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return &Result{Count: len(rows), Rows: rows}, nil
}

// Insert adds row to table. Inserting an existing key fails.
func (s *RedisStorage) Insert(ctx context.Context, table string, row Row) (*Response, error) {
	if err := checkTable(entryPointInsert, table); err != nil {
		return nil, err
	}
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	spec := s.spec(table)
	rec := make(Row, len(row)+2)
	for k, v := range row {
		rec[k] = v
	}
	if spec.Timestamp != "" {
		if _, ok := rec[spec.Timestamp]; !ok {
			rec[spec.Timestamp] = s.now().Format(timestampLayout)
		}
	}
	if id, ok := rec[spec.Key]; !ok || id == nil || text(id) == "" {
		if !spec.AutoID {
			return nil, newError(entryPointInsert, fmt.Sprintf("missing key column %q for table %s", spec.Key, table), false, nil)
		}
		seq, err := s.client.Incr(cctx, s.seqKey(table)).Result()
		if err != nil {
			return nil, newError(entryPointInsert, "allocate id for "+table, true, err)
		}
		rec[spec.Key] = seq
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, newError(entryPointInsert, "encode row", false, err)
	}
	field := text(rec[spec.Key])
	added, err := s.client.HSetNX(cctx, s.tableKey(table), field, data).Result()
	if err != nil {
		return nil, newError(entryPointInsert, "write row to "+table, true, err)
	}
	if !added {
		return nil, newError(entryPointInsert, fmt.Sprintf("duplicate key value %q in table %s", field, table), false, nil)
	}
	return &Response{Response: responseInserted, Rows: 1}, nil
}

// Update applies each patch of payload inside an optimistic transaction.
func (s *RedisStorage) Update(ctx context.Context, table string, payload UpdatePayload) (*Response, error) {
	if err := checkTable(entryPointUpdate, table); err != nil {
		return nil, err
	}
	if len(payload.Updates) == 0 {
		return nil, newError(entryPointUpdate, "no updates supplied", false, nil)
	}
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	total := 0
	for _, patch := range payload.Updates {
		n, err := s.applyPatch(cctx, table, patch)
		if err != nil {
			return nil, err
		}
		total += n
	}
	return &Response{Response: responseUpdated, Rows: total}, nil
}

func (s *RedisStorage) applyPatch(ctx context.Context, table string, patch Patch) (int, error) {
	key := s.tableKey(table)
	spec := s.spec(table)
	affected := 0
	txf := func(tx *redis.Tx) error {
		affected = 0
		raw, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		writes := make(map[string]any)
		for field, data := range raw {
			row, err := decodeRow([]byte(data))
			if err != nil {
				return err
			}
			ok, err := matchAll(row, patch.Where)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			patched, err := s.patchRow([]byte(data), patch, spec)
			if err != nil {
				return err
			}
			writes[field] = string(patched)
			affected++
		}
		if len(writes) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, writes)
			return nil
		})
		return err
	}
	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return 0, newError(entryPointUpdate, "update "+table, errors.Is(err, redis.TxFailedErr), err)
	}
	return affected, nil
}

func (s *RedisStorage) patchRow(data []byte, patch Patch, spec TableSpec) ([]byte, error) {
	var err error
	for col, val := range patch.Values {
		if col == spec.Key {
			continue
		}
		if data, err = sjson.SetBytes(data, JSONPath(col), val); err != nil {
			return nil, fmt.Errorf("set column %s: %w", col, err)
		}
	}
	for _, prop := range patch.JSONProperties {
		path := JSONPath(append([]string{prop.Column}, prop.Path...)...)
		if data, err = sjson.SetBytes(data, path, prop.Value); err != nil {
			return nil, fmt.Errorf("set json property %s: %w", path, err)
		}
	}
	if spec.Timestamp != "" {
		if data, err = sjson.SetBytes(data, JSONPath(spec.Timestamp), s.now().Format(timestampLayout)); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Delete removes every row of table matching filter. An empty filter
// removes all rows.
func (s *RedisStorage) Delete(ctx context.Context, table string, filter Filter) (*Response, error) {
	if err := checkTable(entryPointDelete, table); err != nil {
		return nil, err
	}
	cctx, cancel := s.opCtx(ctx)
	defer cancel()

	key := s.tableKey(table)
	raw, err := s.client.HGetAll(cctx, key).Result()
	if err != nil {
		return nil, newError(entryPointDelete, "read table "+table, true, err)
	}
	fields := make([]string, 0)
	for field, data := range raw {
		row, err := decodeRow([]byte(data))
		if err != nil {
			return nil, newError(entryPointDelete, "decode row of "+table, false, err)
		}
		ok, err := matchAll(row, filter.Where)
		if err != nil {
			return nil, newError(entryPointDelete, err.Error(), false, nil)
		}
		if ok {
			fields = append(fields, field)
		}
	}
	if len(fields) == 0 {
		return &Response{Response: responseDeleted}, nil
	}
	n, err := s.client.HDel(cctx, key, fields...).Result()
	if err != nil {
		return nil, newError(entryPointDelete, "delete rows of "+table, true, err)
	}
	return &Response{Response: responseDeleted, Rows: int(n)}, nil
}

func (s *RedisStorage) spec(table string) TableSpec {
	if spec, ok := s.tables[table]; ok {
		return spec
	}
	return TableSpec{Key: defaultKeyColumn, AutoID: true}
}

func (s *RedisStorage) tableKey(table string) string {
	return s.prefix + tableKeySeparator + "tbl" + tableKeySeparator + table
}

func (s *RedisStorage) seqKey(table string) string {
	return s.tableKey(table) + tableKeySeparator + "seq"
}

func (s *RedisStorage) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func checkTable(entryPoint, table string) error {
	if strings.TrimSpace(table) == "" {
		return newError(entryPoint, "table name required", false, nil)
	}
	return nil
}

func decodeRow(data []byte) (Row, error) {
	row := Row{}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// JSONPath joins path components into a gjson/sjson path, escaping the
// characters those libraries treat specially.
func JSONPath(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, part := range parts {
		var b strings.Builder
		for _, r := range part {
			if strings.ContainsRune(pathEscapableChars, r) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		escaped[i] = b.String()
	}
	return strings.Join(escaped, ".")
}

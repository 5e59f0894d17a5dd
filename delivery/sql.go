package delivery

import (
	"context"
	"database/sql"
	"encoding/json"

	sq "github.com/Masterminds/squirrel"
	"github.com/memsql/errors"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

// Dialect selects placeholder style for SQLTarget
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// SQLTarget inserts one row per message into a table with the columns
// topic, partitionID, offsetID, messageKey, data, headers, and ts. Headers are
// stored as a JSON object of header name to value.
//
// Redelivered messages fail on the (topic, partitionID, offsetID) unique key,
// if the table has one. Use WithIgnoreDuplicates to make that a success.
type SQLTarget struct {
	db               *sql.DB
	table            string
	placeholder      sq.PlaceholderFormat
	dialect          Dialect
	ignoreDuplicates bool
}

var _ dispatchmodels.DeliveryTarget = &SQLTarget{}

type SQLOpt func(*SQLTarget)

// WithIgnoreDuplicates makes inserting an already inserted message succeed
func WithIgnoreDuplicates(ignore bool) SQLOpt {
	return func(t *SQLTarget) {
		t.ignoreDuplicates = ignore
	}
}

func NewSQLTarget(db *sql.DB, dialect Dialect, table string, opts ...SQLOpt) (*SQLTarget, error) {
	t := &SQLTarget{
		db:      db,
		table:   table,
		dialect: dialect,
	}
	switch dialect {
	case DialectMySQL:
		t.placeholder = sq.Question
	case DialectPostgres:
		t.placeholder = sq.Dollar
	default:
		return nil, errors.Errorf("sql delivery target: unsupported dialect (%s)", string(dialect))
	}
	if table == "" {
		return nil, errors.Errorf("sql delivery target requires a table name")
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *SQLTarget) insert(msg *dispatchmodels.Message) (string, []any, error) {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	headersEnc, err := json.Marshal(headers)
	if err != nil {
		return "", nil, errors.Errorf("encode headers of message (%s): %w", msg.Coordinates(), err)
	}
	ib := sq.Insert(t.table).
		Columns("topic", "partitionID", "offsetID", "messageKey", "data", "headers", "ts").
		Values(msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Value, headersEnc, msg.Time.UTC())
	if t.ignoreDuplicates {
		switch t.dialect {
		case DialectMySQL:
			ib = ib.Options("IGNORE")
		case DialectPostgres:
			ib = ib.Suffix("ON CONFLICT DO NOTHING")
		}
	}
	q, args, err := ib.PlaceholderFormat(t.placeholder).ToSql()
	if err != nil {
		return "", nil, errors.WithStack(err)
	}
	return q, args, nil
}

func (t *SQLTarget) Deliver(ctx context.Context, msg *dispatchmodels.Message) error {
	q, args, err := t.insert(msg)
	if err != nil {
		return err
	}
	_, err = t.db.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Errorf("insert message (%s) into (%s): %w", msg.Coordinates(), t.table, err)
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"autograde/internal/common/db"
)

// step scripts the answer to the next statement containing match.
type step struct {
	match    string
	rows     [][]interface{}
	err      error
	insertID int64
	noRows   bool
}

type call struct {
	query string
	args  []interface{}
}

type fakeDB struct {
	mu        sync.Mutex
	steps     []step
	used      []bool
	calls     []call
	commits   int
	rollbacks int
}

var _ db.Database = (*fakeDB)(nil)

func newFakeDB(steps ...step) *fakeDB {
	return &fakeDB{steps: steps, used: make([]bool, len(steps))}
}

func (f *fakeDB) next(query string, args []interface{}) (step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{query: query, args: args})
	for i, s := range f.steps {
		if !f.used[i] && strings.Contains(query, s.match) {
			f.used[i] = true
			return s, nil
		}
	}
	return step{}, fmt.Errorf("unexpected statement: %s", query)
}

func (f *fakeDB) pending() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for i, s := range f.steps {
		if !f.used[i] {
			out = append(out, s.match)
		}
	}
	return out
}

func (f *fakeDB) execs(match string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if strings.Contains(c.query, match) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	s, err := f.next(query, args)
	if err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return &fakeRows{data: s.rows, i: -1}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	s, err := f.next(query, args)
	if err != nil {
		return &fakeRow{err: err}
	}
	if s.err != nil {
		return &fakeRow{err: s.err}
	}
	if len(s.rows) == 0 {
		return &fakeRow{err: sql.ErrNoRows}
	}
	return &fakeRow{values: s.rows[0]}
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	s, err := f.next(query, args)
	if err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	affected := int64(1)
	if s.noRows {
		affected = 0
	}
	return fakeResult{insertID: s.insertID, affected: affected}, nil
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	if err := fn(&fakeTx{db: f}); err != nil {
		f.rollbacks++
		return err
	}
	f.commits++
	return nil
}

func (f *fakeDB) BeginTx(ctx context.Context, opts *db.TxOptions) (db.Transaction, error) {
	return &fakeTx{db: f}, nil
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }

func (f *fakeDB) Close() error { return nil }

type fakeTx struct {
	db *fakeDB
}

func (t *fakeTx) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return t.db.Query(ctx, query, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return t.db.QueryRow(ctx, query, args...)
}

func (t *fakeTx) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return t.db.Exec(ctx, query, args...)
}

func (t *fakeTx) Commit() error { return nil }

func (t *fakeTx) Rollback() error { return nil }

type fakeResult struct {
	insertID int64
	affected int64
}

func (r fakeResult) LastInsertId() (int64, error) { return r.insertID, nil }

func (r fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

type fakeRow struct {
	values []interface{}
	err    error
}

func (r *fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return scanValues(r.values, dest)
}

type fakeRows struct {
	data [][]interface{}
	i    int
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i < len(r.data)
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	return scanValues(r.data[r.i], dest)
}

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Err() error { return nil }

func scanValues(values, dest []interface{}) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values into %d destinations", len(values), len(dest))
	}
	for i := range dest {
		if s, ok := dest[i].(sql.Scanner); ok {
			if err := s.Scan(values[i]); err != nil {
				return err
			}
			continue
		}
		dv := reflect.ValueOf(dest[i]).Elem()
		if values[i] == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		sv := reflect.ValueOf(values[i])
		if !sv.Type().ConvertibleTo(dv.Type()) {
			return fmt.Errorf("scan column %d: cannot convert %T to %s", i, values[i], dv.Type())
		}
		dv.Set(sv.Convert(dv.Type()))
	}
	return nil
}

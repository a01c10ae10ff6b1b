package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow satisfies pgx.Row with a scripted Scan.
type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type execResult struct {
	tag pgconn.CommandTag
	err error
}

// fakeDBTX replays scripted results for Exec and QueryRow in call order and
// records every statement it sees. Query is unused by the repos under test.
type fakeDBTX struct {
	t    *testing.T
	exec []execResult
	rows []fakeRow
	sqls []string
}

func (f *fakeDBTX) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.sqls = append(f.sqls, sql)
	if len(f.exec) == 0 {
		f.t.Fatalf("unexpected Exec: %s", sql)
	}
	res := f.exec[0]
	f.exec = f.exec[1:]
	return res.tag, res.err
}

func (f *fakeDBTX) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.sqls = append(f.sqls, sql)
	if len(f.rows) == 0 {
		f.t.Fatalf("unexpected QueryRow: %s", sql)
	}
	row := f.rows[0]
	f.rows = f.rows[1:]
	return row
}

func (f *fakeDBTX) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.t.Fatalf("unexpected Query: %s", sql)
	return nil, nil
}

// Package dbtest provides a no-op database/sql driver for service tests.
// Repositories under test are in-memory fakes, so no statement ever reaches
// the driver; only the Begin/Commit/Rollback plumbing is exercised.
package dbtest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
)

// Open returns a *sql.DB whose connections hand out no-op transactions.
func Open() *sql.DB {
	return sql.OpenDB(connector{})
}

type connector struct{}

func (connector) Connect(context.Context) (driver.Conn, error) { return conn{}, nil }
func (connector) Driver() driver.Driver                        { return drv{} }

type drv struct{}

func (drv) Open(string) (driver.Conn, error) { return conn{}, nil }

type conn struct{}

func (conn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("dbtest: statements are not supported")
}
func (conn) Close() error              { return nil }
func (conn) Begin() (driver.Tx, error) { return tx{}, nil }

type tx struct{}

func (tx) Commit() error   { return nil }
func (tx) Rollback() error { return nil }

//go:build !cgo_sqlite

package main

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

const sqlDriverName = "sqlite"

func initDB(dataSource string) (*sql.DB, error) {
	return openDB(sqlDriverName, dataSource)
}

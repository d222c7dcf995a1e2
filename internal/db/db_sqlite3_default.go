//go:build !sqlite3_cgo

package db

// Pure Go driver (wasm build of SQLite), no cgo toolchain required.
import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)

//go:build cgo

package archive

import (
	_ "github.com/tursodatabase/go-libsql"
)

const (
	driverName      = "libsql"
	remoteSupported = true
)

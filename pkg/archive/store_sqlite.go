//go:build !cgo

package archive

import (
	"database/sql"

	sqlite "modernc.org/sqlite"
)

// Without cgo the pure-Go SQLite driver serves local files under the
// libsql driver name. Remote URLs are refused.
const (
	driverName      = "libsql"
	remoteSupported = false
)

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}

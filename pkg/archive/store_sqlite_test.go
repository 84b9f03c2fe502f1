//go:build !cgo

package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpen_RemoteNeedsCgo(t *testing.T) {
	_, err := Open(context.Background(), Config{URL: "libsql://db.example.io"})
	assert.ErrorContains(t, err, "requires cgo")
}

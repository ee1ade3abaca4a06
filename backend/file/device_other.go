//go:build !linux

package file

import (
	"os"

	"github.com/kotazzz/protoext4/backend"
)

func deviceSize(_ *os.File) (int64, error) {
	return 0, backend.ErrNotSuitable
}

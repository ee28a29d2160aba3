//go:build !unix

package health

import "errors"

func Statfs(string) (DiskStats, error) {
	return DiskStats{}, errors.ErrUnsupported
}

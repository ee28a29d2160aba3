//go:build unix

package health

import "golang.org/x/sys/unix"

// Statfs reports space available to unprivileged users on path's volume.
func Statfs(path string) (DiskStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskStats{}, err
	}
	bsize := uint64(st.Bsize)
	return DiskStats{
		Free:  uint64(st.Bavail) * bsize,
		Total: uint64(st.Blocks) * bsize,
	}, nil
}

package health

// DiskStats describes the volume holding a path.
type DiskStats struct {
	Free  uint64
	Total uint64
}

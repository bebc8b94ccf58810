package filesystem

import "github.com/rfratto/vfsbridge/internal/vfs"

// Storage is a storage volume. Storage values are snapshots and don't
// change after they're created.
type Storage struct {
	Label string
	Type  vfs.StorageType
	State vfs.StorageState
}

func storageFromInfo(info vfs.StorageInfo) Storage {
	return Storage{Label: info.Label, Type: info.Type, State: info.State}
}

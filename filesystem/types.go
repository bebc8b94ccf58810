package filesystem

import "github.com/rfratto/vfsbridge/internal/vfs"

// Aliases for protocol types that appear in the public API.
type (
	Mode         = vfs.Mode
	FileStat     = vfs.FileStat
	FileFilter   = vfs.FileFilter
	StorageType  = vfs.StorageType
	StorageState = vfs.StorageState
	Error        = vfs.Error
)

// File and stream modes.
const (
	ModeRead      = vfs.ModeRead
	ModeWrite     = vfs.ModeWrite
	ModeAppend    = vfs.ModeAppend
	ModeReadWrite = vfs.ModeReadWrite
)

// Error codes reported to error handlers or returned from synchronous
// operations.
const (
	ErrorNotFound      = vfs.ErrorNotFound
	ErrorInvalidState  = vfs.ErrorInvalidState
	ErrorTypeMismatch  = vfs.ErrorTypeMismatch
	ErrorSecurity      = vfs.ErrorSecurity
	ErrorAborted       = vfs.ErrorAborted
	ErrorTimeout       = vfs.ErrorTimeout
	ErrorInvalidValues = vfs.ErrorInvalidValues
	ErrorIO            = vfs.ErrorIO
)

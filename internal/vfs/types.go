package vfs

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultMaxPathLength is reported when the collaborator can't answer a
// GetMaxPathLength request.
const DefaultMaxPathLength = 4096

// Command names a collaborator operation. The names are a stable contract
// with the collaborator and must not change.
type Command string

// Command catalog.
const (
	CmdGetMaxPathLength Command = "FileSystemManagerGetMaxPathLength"
	CmdManagerResolve   Command = "FileSystemManagerResolve"
	CmdGetStorage       Command = "FileSystemManagerGetStorage"
	CmdListStorages     Command = "FileSystemManagerListStorages"

	CmdStat            Command = "FileStat"
	CmdGetURI          Command = "FileGetURI"
	CmdListFiles       Command = "FileListFiles"
	CmdOpenStream      Command = "FileOpenStream"
	CmdCreateDirectory Command = "FileCreateDirectory"
	CmdCreateFile      Command = "FileCreateFile"
	CmdResolve         Command = "FileResolve"
	CmdCopyTo          Command = "FileCopyTo"
	CmdMoveTo          Command = "FileMoveTo"
	CmdDeleteDirectory Command = "FileDeleteDirectory"
	CmdDeleteFile      Command = "FileDeleteFile"

	CmdStreamClose Command = "FileStreamClose"
	CmdStreamRead  Command = "FileStreamRead"
	CmdStreamWrite Command = "FileStreamWrite"
)

var syncCommands = map[Command]bool{
	CmdGetMaxPathLength: true,
	CmdStat:             true,
	CmdGetURI:           true,
	CmdCreateDirectory:  true,
	CmdCreateFile:       true,
	CmdResolve:          true,
	CmdStreamClose:      true,
	CmdStreamRead:       true,
	CmdStreamWrite:      true,
}

// Sync reports whether c is sent over the synchronous call path.
func (c Command) Sync() bool { return syncCommands[c] }

// String implements fmt.Stringer.
func (c Command) String() string { return string(c) }

// Common data types. Headers are present in every message and are decoded
// before the command-specific body.
type (
	// RequestHeader is present in every request.
	RequestHeader struct {
		Command Command `json:"cmd" msgpack:"cmd"`
		// ReplyID is the correlation ID for asynchronous requests. It is 0 for
		// synchronous requests, which are never correlated.
		ReplyID uint64 `json:"reply_id,omitempty" msgpack:"reply_id,omitempty"`
	}

	// ReplyHeader is present in every reply.
	ReplyHeader struct {
		ReplyID   uint64 `json:"reply_id,omitempty" msgpack:"reply_id,omitempty"` // Request for which this reply applies to.
		IsError   bool   `json:"isError" msgpack:"isError"`
		ErrorCode Error  `json:"errorCode,omitempty" msgpack:"errorCode,omitempty"`
	}
)

// Err returns the error carried by h, if any.
func (h ReplyHeader) Err() error {
	if !h.IsError {
		return nil
	}
	return h.ErrorCode
}

// Mode is the mode a file is resolved or opened with.
type Mode string

// Supported modes.
const (
	ModeRead      Mode = "r"
	ModeWrite     Mode = "w"
	ModeAppend    Mode = "a"
	ModeReadWrite Mode = "rw"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeRead, ModeWrite, ModeAppend, ModeReadWrite:
		return true
	}
	return false
}

// ReadType selects how stream data is encoded in read and write messages.
type ReadType string

// Stream data encodings.
const (
	ReadDefault ReadType = "Default"
	ReadBytes   ReadType = "Bytes"
	ReadBase64  ReadType = "Base64"
)

// Enum types for storages.
type (
	// StorageType is the kind of a storage volume.
	StorageType string

	// StorageState is the mount state of a storage volume.
	StorageState string
)

// Enum values.
const (
	StorageInternal StorageType = "INTERNAL"
	StorageExternal StorageType = "EXTERNAL"

	StateMounted     StorageState = "MOUNTED"
	StateRemoved     StorageState = "REMOVED"
	StateUnmountable StorageState = "UNMOUNTABLE"
)

// StorageInfo describes a storage volume as reported by the collaborator.
type StorageInfo struct {
	Label string       `json:"label" msgpack:"label"`
	Type  StorageType  `json:"type" msgpack:"type"`
	State StorageState `json:"state" msgpack:"state"`
}

// FileStat is the metadata of a file. Times are unix seconds.
type FileStat struct {
	IsFile      bool   `json:"isFile" msgpack:"isFile"`
	IsDirectory bool   `json:"isDirectory" msgpack:"isDirectory"`
	ReadOnly    bool   `json:"readOnly" msgpack:"readOnly"`
	Size        uint64 `json:"size" msgpack:"size"`
	Created     int64  `json:"created" msgpack:"created"`
	Modified    int64  `json:"modified" msgpack:"modified"`
}

// CreatedTime returns Created as a time.Time.
func (s FileStat) CreatedTime() time.Time { return time.Unix(s.Created, 0) }

// ModifiedTime returns Modified as a time.Time.
func (s FileStat) ModifiedTime() time.Time { return time.Unix(s.Modified, 0) }

// FileFilter restricts the results of a directory listing. Zero fields are
// not applied. Name may contain '%' wildcards.
type FileFilter struct {
	Name          string     `json:"name,omitempty"`
	StartModified *time.Time `json:"startModified,omitempty"`
	EndModified   *time.Time `json:"endModified,omitempty"`
	StartCreated  *time.Time `json:"startCreated,omitempty"`
	EndCreated    *time.Time `json:"endCreated,omitempty"`
}

// String returns the JSON text of f, which is how filters travel over the
// wire. A nil filter is the empty string.
func (f *FileFilter) String() string {
	if f == nil {
		return ""
	}
	bb, err := json.Marshal(f)
	if err != nil {
		// Only plain strings and times; can't fail.
		panic(fmt.Sprintf("encoding file filter: %s", err))
	}
	return string(bb)
}

// ParseFileFilter parses the wire representation of a filter. The empty
// string is a nil filter.
func ParseFileFilter(text string) (*FileFilter, error) {
	if text == "" {
		return nil, nil
	}
	var f FileFilter
	if err := json.Unmarshal([]byte(text), &f); err != nil {
		return nil, fmt.Errorf("invalid file filter: %w", err)
	}
	return &f, nil
}

package vfs

import (
	"encoding/json"
	"fmt"
)

// Handle identifies an open stream on the collaborator. InvalidHandle is
// never a valid reference and marks closed streams.
type Handle int64

// InvalidHandle is the handle of a closed stream.
const InvalidHandle Handle = -1

// Protocol types. Each type here is used as the body of the request or reply
// for a specific command. Field names are the collaborator's.
type (
	ManagerResolveRequest struct {
		Location string `json:"location" msgpack:"location"`
		Mode     Mode   `json:"mode,omitempty" msgpack:"mode,omitempty"`
	}
	PathPayload struct {
		FullPath string `json:"fullPath" msgpack:"fullPath"`
	}

	GetStorageRequest struct {
		Label string `json:"label" msgpack:"label"`
	}
	StoragePayload struct {
		Label string       `json:"label" msgpack:"label"`
		Type  StorageType  `json:"type" msgpack:"type"`
		State StorageState `json:"state" msgpack:"state"`
	}

	ListStoragesPayload struct {
		Storages []StorageInfo `json:"storages" msgpack:"storages"`
	}

	MaxPathLengthPayload struct {
		Value int `json:"value" msgpack:"value"`
	}

	StatRequest struct {
		FullPath string `json:"fullPath" msgpack:"fullPath"`
	}
	StatPayload struct {
		Value FileStat `json:"value" msgpack:"value"`
	}

	GetURIRequest struct {
		FullPath string `json:"fullPath" msgpack:"fullPath"`
	}

	// StringPayload is shared by every command answering with a single string
	// value (URIs and created or resolved full paths).
	StringPayload struct {
		Value string `json:"value" msgpack:"value"`
	}

	ListFilesRequest struct {
		FullPath string `json:"fullPath" msgpack:"fullPath"`
		Filter   string `json:"filter" msgpack:"filter"` // JSON text of a FileFilter, or empty.
	}
	ListFilesPayload struct {
		Value []string `json:"value" msgpack:"value"` // Full paths, in listing order.
	}

	OpenStreamRequest struct {
		FullPath string `json:"fullPath" msgpack:"fullPath"`
		Mode     Mode   `json:"mode" msgpack:"mode"`
		Encoding string `json:"encoding,omitempty" msgpack:"encoding,omitempty"`
	}
	OpenStreamPayload struct {
		FileDescriptor Handle `json:"fileDescriptor" msgpack:"fileDescriptor"`
	}

	CreateDirectoryRequest struct {
		FullPath        string `json:"fullPath" msgpack:"fullPath"`
		RelativeDirPath string `json:"relativeDirPath" msgpack:"relativeDirPath"`
	}

	CreateFileRequest struct {
		FullPath         string `json:"fullPath" msgpack:"fullPath"`
		RelativeFilePath string `json:"relativeFilePath" msgpack:"relativeFilePath"`
	}

	ResolveRequest struct {
		FullPath         string `json:"fullPath" msgpack:"fullPath"`
		RelativeFilePath string `json:"relativeFilePath" msgpack:"relativeFilePath"`
	}

	// TransferRequest is the body of both CopyTo and MoveTo.
	TransferRequest struct {
		OriginFilePath      string `json:"originFilePath" msgpack:"originFilePath"`
		DestinationFilePath string `json:"destinationFilePath" msgpack:"destinationFilePath"`
		Overwrite           bool   `json:"overwrite" msgpack:"overwrite"`
	}

	DeleteDirectoryRequest struct {
		DirectoryPath string `json:"directoryPath" msgpack:"directoryPath"`
		Recursive     bool   `json:"recursive" msgpack:"recursive"`
	}

	DeleteFileRequest struct {
		FilePath string `json:"filePath" msgpack:"filePath"`
	}

	StreamCloseRequest struct {
		FileDescriptor Handle `json:"fileDescriptor" msgpack:"fileDescriptor"`
	}

	StreamReadRequest struct {
		FileDescriptor Handle   `json:"fileDescriptor" msgpack:"fileDescriptor"`
		Type           ReadType `json:"type" msgpack:"type"`
		Count          int      `json:"count" msgpack:"count"`
	}
	// StreamReadPayload answers Default and Base64 reads.
	StreamReadPayload struct {
		Value    string `json:"value" msgpack:"value"`
		EOF      bool   `json:"eof,omitempty" msgpack:"eof,omitempty"`
		Position uint64 `json:"position,omitempty" msgpack:"position,omitempty"`
	}
	// StreamReadBytesPayload answers Bytes reads.
	StreamReadBytesPayload struct {
		Value    Octets `json:"value" msgpack:"value"`
		EOF      bool   `json:"eof,omitempty" msgpack:"eof,omitempty"`
		Position uint64 `json:"position,omitempty" msgpack:"position,omitempty"`
	}

	// StreamWriteRequest carries Default and Base64 writes.
	StreamWriteRequest struct {
		FileDescriptor Handle   `json:"fileDescriptor" msgpack:"fileDescriptor"`
		Type           ReadType `json:"type" msgpack:"type"`
		Data           string   `json:"data" msgpack:"data"`
	}
	// StreamWriteBytesRequest carries Bytes writes.
	StreamWriteBytesRequest struct {
		FileDescriptor Handle   `json:"fileDescriptor" msgpack:"fileDescriptor"`
		Type           ReadType `json:"type" msgpack:"type"`
		Data           Octets   `json:"data" msgpack:"data"`
	}
	StreamWritePayload struct {
		Position uint64 `json:"position,omitempty" msgpack:"position,omitempty"`
	}
)

// Octets is binary stream data. It travels as an array of numbers in JSON
// rather than encoding/json's default base64 text.
type Octets []byte

// MarshalJSON implements json.Marshaler.
func (o Octets) MarshalJSON() ([]byte, error) {
	nums := make([]int, len(o))
	for i, b := range o {
		nums[i] = int(b)
	}
	return json.Marshal(nums)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Octets) UnmarshalJSON(bb []byte) error {
	var nums []int
	if err := json.Unmarshal(bb, &nums); err != nil {
		return err
	}
	out := make(Octets, len(nums))
	for i, n := range nums {
		if n < 0 || n > 0xff {
			return fmt.Errorf("octet %d out of range at index %d", n, i)
		}
		out[i] = byte(n)
	}
	*o = out
	return nil
}

//
// Request / Payload type implementations
//

func (*ManagerResolveRequest) vfsRequest()   {}
func (*PathPayload) vfsPayload()             {}
func (*GetStorageRequest) vfsRequest()       {}
func (*StoragePayload) vfsPayload()          {}
func (*ListStoragesPayload) vfsPayload()     {}
func (*MaxPathLengthPayload) vfsPayload()    {}
func (*StatRequest) vfsRequest()             {}
func (*StatPayload) vfsPayload()             {}
func (*GetURIRequest) vfsRequest()           {}
func (*StringPayload) vfsPayload()           {}
func (*ListFilesRequest) vfsRequest()        {}
func (*ListFilesPayload) vfsPayload()        {}
func (*OpenStreamRequest) vfsRequest()       {}
func (*OpenStreamPayload) vfsPayload()       {}
func (*CreateDirectoryRequest) vfsRequest()  {}
func (*CreateFileRequest) vfsRequest()       {}
func (*ResolveRequest) vfsRequest()          {}
func (*TransferRequest) vfsRequest()         {}
func (*DeleteDirectoryRequest) vfsRequest()  {}
func (*DeleteFileRequest) vfsRequest()       {}
func (*StreamCloseRequest) vfsRequest()      {}
func (*StreamReadRequest) vfsRequest()       {}
func (*StreamReadPayload) vfsPayload()       {}
func (*StreamReadBytesPayload) vfsPayload()  {}
func (*StreamWriteRequest) vfsRequest()      {}
func (*StreamWriteBytesRequest) vfsRequest() {}
func (*StreamWritePayload) vfsPayload()      {}

var requestTypes = map[Command]func() Request{
	CmdGetMaxPathLength: nil,
	CmdListStorages:     nil,
	CmdManagerResolve:   func() Request { return &ManagerResolveRequest{} },
	CmdGetStorage:       func() Request { return &GetStorageRequest{} },
	CmdStat:             func() Request { return &StatRequest{} },
	CmdGetURI:           func() Request { return &GetURIRequest{} },
	CmdListFiles:        func() Request { return &ListFilesRequest{} },
	CmdOpenStream:       func() Request { return &OpenStreamRequest{} },
	CmdCreateDirectory:  func() Request { return &CreateDirectoryRequest{} },
	CmdCreateFile:       func() Request { return &CreateFileRequest{} },
	CmdResolve:          func() Request { return &ResolveRequest{} },
	CmdCopyTo:           func() Request { return &TransferRequest{} },
	CmdMoveTo:           func() Request { return &TransferRequest{} },
	CmdDeleteDirectory:  func() Request { return &DeleteDirectoryRequest{} },
	CmdDeleteFile:       func() Request { return &DeleteFileRequest{} },
	CmdStreamClose:      func() Request { return &StreamCloseRequest{} },
	CmdStreamRead:       func() Request { return &StreamReadRequest{} },
	CmdStreamWrite:      func() Request { return &StreamWriteRequest{} },
}

// NewEmptyRequest returns an empty request body for c, ready to be decoded
// into. Commands without a body return a nil Request. Unknown commands return
// ErrorNotSupported.
//
// StreamWrite always returns the text form; callers decoding Bytes writes
// must switch to StreamWriteBytesRequest after inspecting the type field.
func NewEmptyRequest(c Command) (Request, error) {
	ctor, ok := requestTypes[c]
	if !ok {
		return nil, fmt.Errorf("unknown command %q: %w", c, ErrorNotSupported)
	}
	if ctor == nil {
		return nil, nil
	}
	return ctor(), nil
}

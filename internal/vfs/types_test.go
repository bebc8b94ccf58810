package vfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	require.Equal(t, "not found", ErrorNotFound.Error())
	require.Equal(t, "vfs error code 42", Error(42).Error())
	require.Equal(t, 101, ErrorIO.Code())

	wrapped := fmt.Errorf("stat documents: %w", ErrorNotFound)
	require.True(t, errors.Is(wrapped, ErrorNotFound))
	require.False(t, errors.Is(wrapped, ErrorIO))
}

func TestReplyHeader_Err(t *testing.T) {
	require.NoError(t, ReplyHeader{ReplyID: 1}.Err())
	require.Equal(t, ErrorSecurity, ReplyHeader{IsError: true, ErrorCode: ErrorSecurity}.Err())

	// Codes we don't know about still make it through.
	require.Equal(t, Error(7), ReplyHeader{IsError: true, ErrorCode: 7}.Err())
}

func TestCommand_Sync(t *testing.T) {
	for _, c := range []Command{CmdGetMaxPathLength, CmdStat, CmdGetURI, CmdCreateDirectory, CmdCreateFile, CmdResolve, CmdStreamRead, CmdStreamWrite, CmdStreamClose} {
		require.True(t, c.Sync(), c)
	}
	for _, c := range []Command{CmdManagerResolve, CmdGetStorage, CmdListStorages, CmdListFiles, CmdOpenStream, CmdCopyTo, CmdMoveTo, CmdDeleteDirectory, CmdDeleteFile} {
		require.False(t, c.Sync(), c)
	}
}

func TestMode_Valid(t *testing.T) {
	for _, m := range []Mode{ModeRead, ModeWrite, ModeAppend, ModeReadWrite} {
		require.True(t, m.Valid(), m)
	}
	require.False(t, Mode("").Valid())
	require.False(t, Mode("rwx").Valid())
}

func TestFileFilter(t *testing.T) {
	var nilFilter *FileFilter
	require.Equal(t, "", nilFilter.String())

	f, err := ParseFileFilter("")
	require.NoError(t, err)
	require.Nil(t, f)

	start := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	in := &FileFilter{Name: "%.jpg", StartModified: &start}
	require.JSONEq(t, `{"name":"%.jpg","startModified":"2021-03-04T05:06:07Z"}`, in.String())

	out, err := ParseFileFilter(in.String())
	require.NoError(t, err)
	require.Equal(t, "%.jpg", out.Name)
	require.True(t, start.Equal(*out.StartModified))
	require.Nil(t, out.EndCreated)

	_, err = ParseFileFilter("{nope")
	require.Error(t, err)
}

func TestFileStat_Times(t *testing.T) {
	st := FileStat{Created: 1600000000, Modified: 1600000060}
	require.Equal(t, int64(1600000000), st.CreatedTime().Unix())
	require.Equal(t, time.Minute, st.ModifiedTime().Sub(st.CreatedTime()))
}

func TestOctets_JSON(t *testing.T) {
	bb, err := json.Marshal(Octets{0, 127, 255})
	require.NoError(t, err)
	require.Equal(t, `[0,127,255]`, string(bb))

	var o Octets
	require.NoError(t, json.Unmarshal([]byte(`[1,2,3]`), &o))
	require.Equal(t, Octets{1, 2, 3}, o)

	require.Error(t, json.Unmarshal([]byte(`[256]`), &o))
	require.Error(t, json.Unmarshal([]byte(`[-1]`), &o))
	require.Error(t, json.Unmarshal([]byte(`"AQID"`), &o))
}

func TestNewEmptyRequest(t *testing.T) {
	r, err := NewEmptyRequest(CmdListStorages)
	require.NoError(t, err)
	require.Nil(t, r)

	r, err = NewEmptyRequest(CmdCopyTo)
	require.NoError(t, err)
	require.IsType(t, &TransferRequest{}, r)

	r, err = NewEmptyRequest(CmdStreamWrite)
	require.NoError(t, err)
	require.IsType(t, &StreamWriteRequest{}, r)

	_, err = NewEmptyRequest("FileTeleport")
	require.ErrorIs(t, err, ErrorNotSupported)
}

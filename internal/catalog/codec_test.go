package catalog

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinylib/msgp/msgp"
)

func TestBeatmapSetCodecKeepsOptionalFields(t *testing.T) {
	in := sampleSet(12, "Codec")
	in.LastUpdate = nil

	var buf bytes.Buffer
	en := msgp.NewWriter(&buf)
	require.NoError(t, in.EncodeMsg(en))
	require.NoError(t, en.Flush())

	var out BeatmapSet
	require.NoError(t, out.DecodeMsg(msgp.NewReader(&buf)))
	assert.Equal(t, *in, out)
	assert.Nil(t, out.LastUpdate)
}

func TestBeatmapSetDecodeAcceptsNilMembers(t *testing.T) {
	var buf bytes.Buffer
	en := msgp.NewWriter(&buf)
	require.NoError(t, en.WriteArrayHeader(beatmapSetFields))
	require.NoError(t, en.WriteInt(77))
	require.NoError(t, en.WriteNil()) // children
	require.NoError(t, en.WriteInt32(int32(StatusLoved)))
	for i := 0; i < 3; i++ {
		require.NoError(t, en.WriteNil())
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, en.WriteNil())
	}
	require.NoError(t, en.WriteBool(true))
	require.NoError(t, en.WriteInt32(0))
	require.NoError(t, en.WriteInt32(0))
	require.NoError(t, en.WriteInt64(42))
	require.NoError(t, en.Flush())

	var out BeatmapSet
	require.NoError(t, out.DecodeMsg(msgp.NewReader(&buf)))
	assert.Equal(t, 77, out.SetID)
	assert.Nil(t, out.ChildrenBeatmaps)
	assert.Equal(t, StatusLoved, out.RankedStatus)
	assert.Empty(t, out.Title)
	assert.True(t, out.HasVideo)
	assert.Equal(t, int64(42), out.Favourites)
}

func TestDecodeRejectsWrongArity(t *testing.T) {
	var buf bytes.Buffer
	en := msgp.NewWriter(&buf)
	require.NoError(t, en.WriteArrayHeader(3))
	require.NoError(t, en.Flush())

	var set BeatmapSet
	assert.Error(t, set.DecodeMsg(msgp.NewReader(bytes.NewReader(buf.Bytes()))))

	var child ChildrenBeatmap
	assert.Error(t, child.DecodeMsg(msgp.NewReader(bytes.NewReader(buf.Bytes()))))
}

func TestOptionalTimeUsesStandardTimestamp(t *testing.T) {
	var buf bytes.Buffer
	en := msgp.NewWriter(&buf)
	at := time.Date(2019, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, writeOptionalTime(en, &at))
	require.NoError(t, en.Flush())

	// fixext4，类型 -1，随后是 4 字节秒数。
	raw := buf.Bytes()
	require.Len(t, raw, 6)
	assert.Equal(t, byte(0xd6), raw[0])
	assert.Equal(t, byte(0xff), raw[1])

	got, err := readOptionalTime(msgp.NewReader(bytes.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, at, *got)
}

func TestBeatmapSetDecodeLimitsChildren(t *testing.T) {
	var buf bytes.Buffer
	en := msgp.NewWriter(&buf)
	require.NoError(t, en.WriteArrayHeader(beatmapSetFields))
	require.NoError(t, en.WriteInt(1))
	require.NoError(t, en.WriteArrayHeader(maxChildrenPerSet+1))
	require.NoError(t, en.Flush())

	var out BeatmapSet
	err := out.DecodeMsg(msgp.NewReader(&buf))
	assert.ErrorIs(t, err, msgp.ErrLimitExceeded)
	assert.Nil(t, out.ChildrenBeatmaps)
}

package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddReportsNewChannelOnce(t *testing.T) {
	s := NewStore(10)
	_, created := s.Add("video", []byte("frame0"), 1, 0, "")
	assert.True(t, created)
	_, created = s.Add("video", []byte("frame1"), 2, 0, "")
	assert.False(t, created)
	assert.True(t, s.HasChannel("video"))
	assert.False(t, s.HasChannel("audio"))
}

func TestRetentionKeepsNewestN(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 7; i++ {
		s.Add("c", []byte(fmt.Sprintf("p%d", i)), int64(i), 0, "")
	}
	entries := s.Entries("c")
	require.Len(t, entries, 3)
	assert.Equal(t, "p4", string(entries[0].Data))
	assert.Equal(t, "p6", string(entries[2].Data))
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].ID, entries[i-1].ID)
	}
}

func TestStreamIDsAreMonotonicAcrossChannels(t *testing.T) {
	s := NewStore(5)
	a, _ := s.Add("a", nil, 1, 0, "")
	b, _ := s.Add("b", nil, 2, 0, "")
	assert.Greater(t, b.ID, a.ID)
}

func TestClearRemovesAllChannels(t *testing.T) {
	s := NewStore(5)
	s.Add("a", []byte("x"), 1, 0, "")
	s.Add("b", []byte("y"), 2, 0, "")
	s.Clear()
	assert.Empty(t, s.Channels())
	assert.False(t, s.HasChannel("a"))
	assert.Zero(t, s.TotalBytes())
}

func TestResizeTrimsToNewest(t *testing.T) {
	s := NewStore(5)
	for i := 0; i < 5; i++ {
		s.Add("c", []byte(fmt.Sprintf("p%d", i)), int64(i), 0, "")
	}
	s.Resize(2)
	entries := s.Entries("c")
	require.Len(t, entries, 2)
	assert.Equal(t, "p3", string(entries[0].Data))
	assert.Equal(t, "p4", string(entries[1].Data))
}

func TestTotalBytesTracksEviction(t *testing.T) {
	s := NewStore(2)
	s.Add("c", []byte("aaaa"), 1, 0, "")
	s.Add("c", []byte("bb"), 2, 0, "")
	assert.Equal(t, uint64(6), s.TotalBytes())
	s.Add("c", []byte("c"), 3, 0, "") // evicts "aaaa"
	assert.Equal(t, uint64(3), s.TotalBytes())
}

package entity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortUserPairIsCanonical(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("ffffffff-0000-0000-0000-000000000001")

	lo1, hi1 := SortUserPair(a, b)
	lo2, hi2 := SortUserPair(b, a)

	assert.Equal(t, lo1, lo2)
	assert.Equal(t, hi1, hi2)
	assert.Equal(t, a, lo1)
	assert.Equal(t, b, hi1)
}

func TestRoomIdRoundTripsPeers(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	roomId := NewRoomId(a, b, ModeVoice, time.Now())

	gotA, gotB, err := ParseRoomPeers(roomId)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, []uuid.UUID{gotA, gotB})
}

func TestRoomIdOrderIndependent(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	now := time.Now()

	id1 := NewRoomId(a, b, ModeChat, now)
	id2 := NewRoomId(b, a, ModeChat, now)

	// Same sorted prefix regardless of argument order; the nonce differs.
	p1a, p1b, err := ParseRoomPeers(id1)
	require.NoError(t, err)
	p2a, p2b, err := ParseRoomPeers(id2)
	require.NoError(t, err)
	assert.Equal(t, p1a, p2a)
	assert.Equal(t, p1b, p2b)
	assert.NotEqual(t, id1, id2)
}

func TestParseRoomPeersRejectsMalformed(t *testing.T) {
	for _, roomId := range []string{"", "one", "one_two", "not-a-uuid_also-not_voice_1_x"} {
		_, _, err := ParseRoomPeers(roomId)
		assert.Error(t, err, roomId)
	}
}

func TestBlockListCombinedDeduplicates(t *testing.T) {
	shared := uuid.New()
	list := BlockList{
		BlockedUserIds:   []uuid.UUID{shared, uuid.New()},
		BlockedByUserIds: []uuid.UUID{shared, uuid.New()},
	}

	assert.Len(t, list.Combined(), 3)
}

package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-view/spyglass/backend/config"
	"github.com/spyglass-view/spyglass/backend/logbuf"
)

func newTestManager() *Manager {
	return NewManager(config.MinMaxEntries, 100, time.Minute, nil)
}

func TestDefaultRoomExistsUpFront(t *testing.T) {
	m := newTestManager()
	assert.Equal(t, []string{config.DefaultRoom}, m.Rooms())
}

func TestGetOrCreateIsLazyAndIdempotent(t *testing.T) {
	m := newTestManager()
	created := make([]string, 0)
	m.OnRoomCreated(func(id string) { created = append(created, id) })

	a := m.GetOrCreate("staging")
	b := m.GetOrCreate("staging")
	assert.Same(t, a, b)
	assert.Equal(t, []string{"staging"}, created)
	assert.Equal(t, []string{config.DefaultRoom, "staging"}, m.Rooms())
}

func TestEmptyIDMapsToDefaultRoom(t *testing.T) {
	m := newTestManager()
	r := m.GetOrCreate("")
	assert.Equal(t, config.DefaultRoom, r.ID)
}

func TestDeleteDefaultRoomRefused(t *testing.T) {
	m := newTestManager()
	r := m.GetOrCreate(config.DefaultRoom)
	r.Log.Push(&logbuf.Entry{SessionName: "s", Title: "x"})

	err := m.Delete(config.DefaultRoom)
	require.ErrorIs(t, err, ErrDefaultRoom)

	// Still present, but its state was cleared.
	assert.Contains(t, m.Rooms(), config.DefaultRoom)
	assert.Equal(t, 0, r.Log.Size())
}

func TestDeleteClearsThenRemoves(t *testing.T) {
	m := newTestManager()
	r := m.GetOrCreate("scratch")
	r.Log.Push(&logbuf.Entry{SessionName: "s"})
	r.Watches.Set("cpu", "1", 1, "app", 0, "")

	require.NoError(t, m.Delete("scratch"))
	assert.NotContains(t, m.Rooms(), "scratch")
	assert.Equal(t, 0, r.Log.Size())
	assert.Equal(t, 0, r.Watches.Count())
}

func TestDeleteUnknownRoomReportsNotFound(t *testing.T) {
	m := newTestManager()
	assert.ErrorIs(t, m.Delete("ghost"), ErrRoomNotFound)
}

func TestResizeEntriesValidatesRange(t *testing.T) {
	m := newTestManager()
	assert.Error(t, m.ResizeEntries(config.DefaultRoom, config.MinMaxEntries-1))
	assert.Error(t, m.ResizeEntries(config.DefaultRoom, config.MaxMaxEntries+1))
	assert.ErrorIs(t, m.ResizeEntries("ghost", config.MinMaxEntries), ErrRoomNotFound)

	require.NoError(t, m.ResizeEntries(config.DefaultRoom, 2000))
	r, _ := m.Get(config.DefaultRoom)
	assert.Equal(t, 2000, r.Log.Capacity())
}

func TestRoomClearKeepsIdentityAndMembership(t *testing.T) {
	m := newTestManager()
	r := m.GetOrCreate("r1")
	r.AddProducer("p1")
	r.AddSubscriber("s1")
	r.Log.Push(&logbuf.Entry{SessionName: "s"})

	r.Clear()
	assert.Equal(t, 0, r.Log.Size())
	assert.Equal(t, 1, r.ProducerCount())
	assert.Equal(t, 1, r.SubscriberCount())
	assert.Equal(t, "r1", r.ID)
}

func TestStatsAggregateAcrossRooms(t *testing.T) {
	m := newTestManager()
	m.GetOrCreate("a").Log.Push(&logbuf.Entry{SessionName: "s"})
	m.GetOrCreate("b").Log.Push(&logbuf.Entry{SessionName: "s"})
	m.GetOrCreate("b").Watches.Set("cpu", "1", 1, "app", 0, "")

	s := m.Stats()
	assert.Equal(t, 3, s.Rooms) // default + a + b
	assert.Equal(t, 2, s.Entries)
	assert.Equal(t, 1, s.Watches)
}

func TestRoomsInfoSorted(t *testing.T) {
	m := newTestManager()
	m.GetOrCreate("zeta")
	m.GetOrCreate("alpha")
	infos := m.RoomsInfo()
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha", infos[0].ID)
	assert.Equal(t, config.DefaultRoom, infos[1].ID)
	assert.Equal(t, "zeta", infos[2].ID)
}

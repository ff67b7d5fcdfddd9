package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/ormassoc/model"
	"github.com/mickamy/ormassoc/remote"
)

func TestCollectionIndexesMembers(t *testing.T) {
	t.Parallel()

	c, err := model.NewCollection([]model.Attributes{{"id": 1}, {"id": 2}, {"id": 1}})
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.Same(t, c.At(0), c.Get(int64(1)))
	assert.Same(t, c.At(1), c.Get(2.0))
	assert.Same(t, c.At(1), c.GetByCID(c.At(1).CID()))
	assert.Nil(t, c.Get(nil))
	assert.Nil(t, c.At(5))
	assert.Same(t, c, c.At(0).Collection())
}

func TestCollectionReindexesOnIDChange(t *testing.T) {
	t.Parallel()

	c, err := model.NewCollection(nil)
	require.NoError(t, err)
	m, err := model.New(nil)
	require.NoError(t, err)
	c.Add(m)

	m.Set(model.Attributes{"id": 7})
	assert.Same(t, m, c.Get(7))

	m.Set(model.Attributes{"id": 8})
	assert.Nil(t, c.Get(7))
	assert.Same(t, m, c.Get(8))
}

func TestCollectionEvents(t *testing.T) {
	t.Parallel()

	c, err := model.NewCollection([]model.Attributes{{"id": 1}})
	require.NoError(t, err)

	var got []model.Event
	for _, ev := range []model.Event{model.EventAdd, model.EventRemove, model.EventReset, model.EventChange} {
		c.On(ev, func(*model.Collection, *model.Model) { got = append(got, ev) })
	}

	require.NoError(t, c.AddAttributes(model.Attributes{"id": 2}))
	c.At(0).Set(model.Attributes{"name": "x"})
	c.Remove(c.At(1))
	require.NoError(t, c.Reset([]model.Attributes{{"id": 3}, {"id": 4}}))

	assert.Equal(t, []model.Event{model.EventAdd, model.EventChange, model.EventRemove, model.EventReset}, got)
	assert.Equal(t, 2, c.Len())
	assert.Nil(t, c.Get(1))
}

func TestCollectionResetDetachesOldMembers(t *testing.T) {
	t.Parallel()

	c, err := model.NewCollection([]model.Attributes{{"id": 1}})
	require.NoError(t, err)
	old := c.At(0)
	require.NoError(t, c.Reset(nil))

	changes := 0
	c.On(model.EventChange, func(*model.Collection, *model.Model) { changes++ })
	old.Set(model.Attributes{"name": "gone"})

	assert.Equal(t, 0, changes)
	assert.Nil(t, old.Collection())
}

func TestCollectionDropsDestroyedMembers(t *testing.T) {
	t.Parallel()

	c, err := model.NewCollection([]model.Attributes{{"name": "a"}, {"name": "b"}})
	require.NoError(t, err)

	require.NoError(t, c.At(0).Destroy(t.Context(), model.Callbacks{}))
	require.Equal(t, 1, c.Len())
	assert.Equal(t, "b", c.At(0).Get("name"))
}

func TestCollectionMemberFactory(t *testing.T) {
	t.Parallel()

	member := model.NewFactory(model.WithIDAttribute("key"))
	c, err := model.NewCollection([]model.Attributes{{"key": "a"}},
		model.WithMember(member), model.WithMemberIDAttribute("key"))
	require.NoError(t, err)

	require.NotNil(t, c.Get("a"))
	assert.Equal(t, "key", c.Get("a").IDAttribute())
}

func TestCollectionCreate(t *testing.T) {
	t.Parallel()

	srv := remote.NewMemory()
	c, err := model.NewCollection(nil,
		model.WithCollectionURL("users"),
		model.WithCollectionTransport(srv))
	require.NoError(t, err)

	m, err := c.Create(t.Context(), model.Attributes{"name": "Mark"}, model.Callbacks{})
	require.NoError(t, err)

	assert.EqualValues(t, 1, m.ID())
	assert.Same(t, m, c.Get(1))
	assert.Equal(t, 1, srv.Count(remote.Create))
}

func TestCollectionCreateRejectsInvalid(t *testing.T) {
	t.Parallel()

	srv := remote.NewMemory()
	member := model.NewFactory(model.WithValidator(func(model.Attributes) error {
		return errors.New("never valid")
	}))
	c, err := model.NewCollection(nil,
		model.WithCollectionURL("users"),
		model.WithCollectionTransport(srv),
		model.WithMember(member))
	require.NoError(t, err)

	m, err := c.Create(t.Context(), model.Attributes{"name": "Mark"}, model.Callbacks{})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Nil(t, m)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, srv.Requests())
}

func TestCollectionFetch(t *testing.T) {
	t.Parallel()

	srv := remote.NewMemory()
	srv.Seed("comments",
		map[string]any{"id": 1, "post_id": 3},
		map[string]any{"id": 2, "post_id": 4},
		map[string]any{"id": 3, "post_id": 3},
	)
	c, err := model.NewCollection([]model.Attributes{{"id": 9}},
		model.WithCollectionURL("comments"),
		model.WithCollectionTransport(srv))
	require.NoError(t, err)

	resets := 0
	c.On(model.EventReset, func(*model.Collection, *model.Model) { resets++ })
	synced := false
	require.NoError(t, c.Fetch(t.Context(), model.FetchOptions{
		Query:   map[string]any{"post_id": 3},
		Success: func(*model.Collection) { synced = true },
	}))

	assert.True(t, synced)
	assert.Equal(t, 1, resets)
	require.Equal(t, 2, c.Len())
	assert.EqualValues(t, 1, c.At(0).ID())
	assert.EqualValues(t, 3, c.At(1).ID())
	assert.Equal(t, map[string]any{"post_id": 3}, srv.Requests()[0].Query)
}

func TestCollectionFetchAdd(t *testing.T) {
	t.Parallel()

	srv := remote.NewMemory()
	srv.Seed("comments", map[string]any{"id": 1}, map[string]any{"id": 2})
	c, err := model.NewCollection([]model.Attributes{{"id": 1}},
		model.WithCollectionURL("comments"),
		model.WithCollectionTransport(srv))
	require.NoError(t, err)
	first := c.At(0)

	adds := 0
	c.On(model.EventAdd, func(*model.Collection, *model.Model) { adds++ })
	require.NoError(t, c.Fetch(t.Context(), model.FetchOptions{Add: true}))

	assert.Equal(t, 1, adds)
	assert.Equal(t, 2, c.Len())
	assert.Same(t, first, c.Get(1))
}

func TestCollectionFetchGuard(t *testing.T) {
	t.Parallel()

	srv := remote.NewMemory()
	c, err := model.NewCollection(nil,
		model.WithCollectionURL("comments"),
		model.WithCollectionTransport(srv))
	require.NoError(t, err)

	veto := errors.New("owner is new")
	c.SetFetchGuard(func(*model.FetchOptions) error { return veto })
	assert.ErrorIs(t, c.Fetch(t.Context(), model.FetchOptions{}), veto)

	c.SetFetchGuard(func(o *model.FetchOptions) error {
		o.Query = map[string]any{"post_id": 1}
		return nil
	})
	require.NoError(t, c.Fetch(t.Context(), model.FetchOptions{}))

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]any{"post_id": 1}, reqs[0].Query)
}

func TestCollectionFetchFailure(t *testing.T) {
	t.Parallel()

	srv := remote.NewMemory()
	boom := errors.New("boom")
	srv.Fail(remote.Read, "comments", boom)
	c, err := model.NewCollection(nil,
		model.WithCollectionURL("comments"),
		model.WithCollectionTransport(srv))
	require.NoError(t, err)

	var got error
	require.NoError(t, c.Fetch(t.Context(), model.FetchOptions{
		Error: func(_ *model.Collection, err error) { got = err },
	}))
	assert.ErrorIs(t, got, boom)
}

func TestCollectionFetchWithoutURL(t *testing.T) {
	t.Parallel()

	c, err := model.NewCollection(nil, model.WithCollectionTransport(remote.NewMemory()))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Fetch(t.Context(), model.FetchOptions{}), model.ErrNoURL)
}

func TestCollectionJSON(t *testing.T) {
	t.Parallel()

	c, err := model.NewCollection([]model.Attributes{{"id": 1}, {"id": 2}})
	require.NoError(t, err)
	assert.Equal(t, []model.Attributes{{"id": 1}, {"id": 2}}, c.JSON())
}

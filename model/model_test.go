package model_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/ormassoc/model"
	"github.com/mickamy/ormassoc/remote"
)

func TestNewAppliesDefaultsUnderAttributes(t *testing.T) {
	t.Parallel()

	m, err := model.New(model.Attributes{"title": "Post"},
		model.WithDefaults(model.Attributes{"title": "Untitled", "draft": true}))
	require.NoError(t, err)

	assert.Equal(t, "Post", m.Get("title"))
	assert.Equal(t, true, m.Get("draft"))
	assert.True(t, m.IsNew())
	assert.Regexp(t, `^c\d+$`, m.CID())
}

func TestNewRunsHooksInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	hooks := model.Hooks{
		Parse: func(_ *model.Model, a model.Attributes) (model.Attributes, error) {
			order = append(order, "parse")
			return a, nil
		},
		Prepare: func(_ *model.Model, a model.Attributes) (model.Attributes, error) {
			order = append(order, "prepare")
			delete(a, "secret")
			return a, nil
		},
		Initialize: func(m *model.Model) error {
			order = append(order, "initialize")
			assert.Equal(t, 1, m.Get("id"))
			return nil
		},
	}
	m, err := model.New(model.Attributes{"id": 1, "secret": "x"},
		model.WithParse(),
		model.WithHooks(hooks),
		model.WithInitializer(func(*model.Model) error {
			order = append(order, "user")
			return nil
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"parse", "prepare", "initialize", "user"}, order)
	assert.False(t, m.Has("secret"))
}

func TestNewReturnsHookError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := model.New(nil, model.WithHooks(model.Hooks{
		Initialize: func(*model.Model) error { return boom },
	}))
	assert.ErrorIs(t, err, boom)
}

func TestSetNotifiesChangedAttributesOnly(t *testing.T) {
	t.Parallel()

	m, err := model.New(model.Attributes{"id": 3, "name": "a"})
	require.NoError(t, err)

	var names []any
	var changes int
	m.OnChange("name", func(_ *model.Model, v any) { names = append(names, v) })
	m.OnChange("id", func(*model.Model, any) { t.Error("id did not change") })
	m.OnEvent(model.EventChange, func(*model.Model) { changes++ })

	m.Set(model.Attributes{"id": int64(3), "name": "b"})
	m.Set(model.Attributes{"name": "b"})

	assert.Equal(t, []any{"b"}, names)
	assert.Equal(t, 1, changes)
}

func TestSetSilentSkipsListeners(t *testing.T) {
	t.Parallel()

	m, err := model.New(nil)
	require.NoError(t, err)
	m.OnChange("name", func(*model.Model, any) { t.Error("unexpected notification") })

	m.SetSilent(model.Attributes{"name": "quiet"})
	assert.Equal(t, "quiet", m.Get("name"))
}

func TestOnceAvailableFiresOnce(t *testing.T) {
	t.Parallel()

	m, err := model.New(nil)
	require.NoError(t, err)

	calls := 0
	sub := m.OnceAvailable("id", func(*model.Model) { calls++ })
	assert.Equal(t, 1, m.Pending("id"))

	m.Set(model.Attributes{"id": nil})
	assert.Equal(t, 0, calls)

	m.Set(model.Attributes{"id": 4})
	m.Set(model.Attributes{"id": 5})
	assert.Equal(t, 1, calls)
	assert.False(t, sub.Active())
	assert.Equal(t, 0, m.Pending("id"))
}

func TestOnceAvailableCancel(t *testing.T) {
	t.Parallel()

	m, err := model.New(nil)
	require.NoError(t, err)

	sub := m.OnceAvailable("id", func(*model.Model) { t.Error("cancelled callback ran") })
	sub.Cancel()
	sub.Cancel()
	m.Set(model.Attributes{"id": 1})
	assert.Equal(t, 0, m.Pending("id"))
}

func TestUnsetNotifies(t *testing.T) {
	t.Parallel()

	m, err := model.New(model.Attributes{"user_id": 3})
	require.NoError(t, err)

	var got []any
	m.OnChange("user_id", func(_ *model.Model, v any) { got = append(got, v) })
	m.Unset("user_id")
	m.Unset("user_id")

	assert.Equal(t, []any{nil}, got)
	assert.False(t, m.Has("user_id"))
}

func TestURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []model.Option
		id   any
		want string
		err  error
	}{
		{name: "root without id", opts: []model.Option{model.WithURLRoot("users")}, want: "users"},
		{name: "root with id", opts: []model.Option{model.WithURLRoot("users/")}, id: 3, want: "users/3"},
		{name: "pinned", opts: []model.Option{model.WithURL("profile/3")}, id: 9, want: "profile/3"},
		{name: "none", err: model.ErrNoURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := model.New(model.Attributes{"id": tt.id}, tt.opts...)
			require.NoError(t, err)
			got, err := m.URL()
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSaveCreatesThenUpdates(t *testing.T) {
	t.Parallel()

	srv := remote.NewMemory()
	m, err := model.New(model.Attributes{"name": "BB King"},
		model.WithURLRoot("users"), model.WithTransport(srv))
	require.NoError(t, err)

	synced := 0
	require.NoError(t, m.Save(t.Context(), nil, model.Callbacks{
		Success: func(*model.Model) { synced++ },
	}))
	assert.EqualValues(t, 1, m.ID())

	require.NoError(t, m.Save(t.Context(), model.Attributes{"name": "B.B. King"}, model.Callbacks{
		Success: func(*model.Model) { synced++ },
	}))

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, remote.Create, reqs[0].Method)
	assert.Equal(t, "users", reqs[0].URL)
	assert.Equal(t, remote.Update, reqs[1].Method)
	assert.Equal(t, "users/1", reqs[1].URL)
	assert.Equal(t, 2, synced)
	assert.Equal(t, "B.B. King", srv.Rows("users")[0]["name"])
}

func TestSaveRejectsInvalid(t *testing.T) {
	t.Parallel()

	srv := remote.NewMemory()
	m, err := model.New(nil,
		model.WithURLRoot("users"),
		model.WithTransport(srv),
		model.WithValidator(func(a model.Attributes) error {
			if a["name"] == nil {
				return errors.New("name is required")
			}
			return nil
		}),
	)
	require.NoError(t, err)

	err = m.Save(t.Context(), nil, model.Callbacks{})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.False(t, m.IsValid())
	assert.Empty(t, srv.Requests())
}

func TestSaveWithoutTransport(t *testing.T) {
	t.Parallel()

	m, err := model.New(nil, model.WithURLRoot("users"))
	require.NoError(t, err)
	assert.ErrorIs(t, m.Save(t.Context(), nil, model.Callbacks{}), model.ErrNoTransport)
}

func TestFetchAppliesParsedResponse(t *testing.T) {
	t.Parallel()

	srv := remote.NewMemory()
	srv.Seed("users", map[string]any{"id": 3, "name": "BB King", "score": 1.5})

	m, err := model.New(model.Attributes{"id": 3},
		model.WithURLRoot("users"),
		model.WithTransport(srv),
		model.WithHooks(model.Hooks{
			Parse: func(_ *model.Model, a model.Attributes) (model.Attributes, error) {
				a["parsed"] = true
				return a, nil
			},
		}),
	)
	require.NoError(t, err)

	require.NoError(t, m.Fetch(t.Context(), model.Callbacks{}))
	assert.Equal(t, "BB King", m.Get("name"))
	assert.Equal(t, int64(3), m.Get("id"))
	assert.Equal(t, 1.5, m.Get("score"))
	assert.Equal(t, true, m.Get("parsed"))
}

func TestFetchFailureReachesErrorCallback(t *testing.T) {
	t.Parallel()

	srv := remote.NewMemory()
	m, err := model.New(model.Attributes{"id": 3},
		model.WithURLRoot("users"), model.WithTransport(srv))
	require.NoError(t, err)

	var got error
	events := 0
	m.OnEvent(model.EventError, func(*model.Model) { events++ })
	require.NoError(t, m.Fetch(t.Context(), model.Callbacks{
		Error: func(_ *model.Model, err error) { got = err },
	}))

	assert.ErrorIs(t, got, remote.ErrNotFound)
	assert.Equal(t, 1, events)
}

func TestLoopDefersCompletion(t *testing.T) {
	t.Parallel()

	srv := remote.NewMemory()
	loop := model.NewLoop()
	m, err := model.New(nil,
		model.WithURLRoot("users"),
		model.WithTransport(srv),
		model.WithScheduler(loop))
	require.NoError(t, err)

	require.NoError(t, m.Save(t.Context(), nil, model.Callbacks{}))
	assert.True(t, m.IsNew())
	assert.Equal(t, 1, loop.Pending())
	assert.Empty(t, srv.Requests())

	require.NoError(t, loop.Drain(t.Context()))
	assert.False(t, m.IsNew())
	assert.Equal(t, 0, loop.Pending())
}

func TestDestroy(t *testing.T) {
	t.Parallel()

	srv := remote.NewMemory()
	srv.Seed("users", map[string]any{"id": 1})

	saved, err := model.New(model.Attributes{"id": 1},
		model.WithURLRoot("users"), model.WithTransport(srv))
	require.NoError(t, err)
	fresh, err := model.New(nil, model.WithURLRoot("users"), model.WithTransport(srv))
	require.NoError(t, err)

	var before []string
	hooked, err := model.New(nil, model.WithHooks(model.Hooks{
		BeforeDestroy: func(_ context.Context, m *model.Model) { before = append(before, m.CID()) },
	}))
	require.NoError(t, err)

	require.NoError(t, saved.Destroy(t.Context(), model.Callbacks{}))
	require.NoError(t, fresh.Destroy(t.Context(), model.Callbacks{}))
	require.NoError(t, hooked.Destroy(t.Context(), model.Callbacks{}))

	assert.Equal(t, 1, srv.Count(remote.Delete))
	assert.Empty(t, srv.Rows("users"))
	assert.True(t, saved.Destroyed())
	assert.True(t, fresh.Destroyed())
	assert.Equal(t, []string{hooked.CID()}, before)
}

func TestJSONHook(t *testing.T) {
	t.Parallel()

	m, err := model.New(model.Attributes{"id": 1}, model.WithHooks(model.Hooks{
		JSON: func(_ *model.Model, a model.Attributes) model.Attributes {
			a["extra"] = "x"
			return a
		},
	}))
	require.NoError(t, err)

	b, err := m.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"extra":"x"}`, string(b))
	assert.False(t, m.Has("extra"))
}

func TestSameValue(t *testing.T) {
	t.Parallel()

	assert.True(t, model.SameValue(3, int64(3)))
	assert.True(t, model.SameValue(3.0, 3))
	assert.True(t, model.SameValue(nil, nil))
	assert.False(t, model.SameValue(nil, 0))
	assert.False(t, model.SameValue("3", 3))
	assert.True(t, model.SameValue(map[string]any{"a": 1}, map[string]any{"a": 1}))
}

func TestIsBlank(t *testing.T) {
	t.Parallel()

	for _, v := range []any{nil, "", 0, int64(0), 0.0} {
		assert.True(t, model.IsBlank(v), "%#v", v)
	}
	for _, v := range []any{"c1", 1, -1, 0.5, false} {
		assert.False(t, model.IsBlank(v), "%#v", v)
	}
}

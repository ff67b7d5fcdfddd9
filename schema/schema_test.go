package schema_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/ormassoc/assoc"
	"github.com/mickamy/ormassoc/model"
	"github.com/mickamy/ormassoc/remote"
	"github.com/mickamy/ormassoc/schema"
)

const blog = `
types:
  - name: Post
    urlRoot: posts
    defaults: {title: Untitled}
    associations:
      - {name: Post, type: hasMany, foreignName: Comments, model: Comment, cascadeDestroy: false}
      - {name: Post, type: belongsTo, foreignName: User, model: User, pool: users}
  - name: Comment
    required: [body]
  - name: User
    associations:
      - {name: User, type: hasOne, foreignName: Profile, reverse: true}
`

func TestLoad(t *testing.T) {
	t.Parallel()

	s, err := schema.Load(strings.NewReader(blog))
	require.NoError(t, err)
	require.Len(t, s.Types, 3)

	post, ok := s.Type("Post")
	require.True(t, ok)
	assert.Equal(t, "posts", post.URLRoot)
	assert.Equal(t, map[string]any{"title": "Untitled"}, post.Defaults)
	require.Len(t, post.Associations, 2)

	comments := post.Associations[0]
	assert.Equal(t, "hasMany", comments.Type)
	assert.Equal(t, "Comment", comments.Model)
	require.NotNil(t, comments.CascadeDestroy)
	assert.False(t, *comments.CascadeDestroy)
	assert.Nil(t, comments.InitializeEagerly)

	assert.Equal(t, "users", post.Associations[1].Pool)

	comment, ok := s.Type("Comment")
	require.True(t, ok)
	assert.Equal(t, []string{"body"}, comment.Required)

	_, ok = s.Type("Tag")
	assert.False(t, ok)
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown field", yaml: "types:\n  - name: Post\n    colour: red\n", want: "colour"},
		{name: "nameless type", yaml: "types:\n  - urlRoot: posts\n", want: "type 0 has no name"},
		{name: "duplicate type", yaml: "types:\n  - name: Post\n  - name: Post\n", want: "declared twice"},
		{name: "malformed", yaml: "types: [", want: "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := schema.Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadEmpty(t *testing.T) {
	t.Parallel()

	s, err := schema.Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, s.Types)
}

func TestBuild(t *testing.T) {
	t.Parallel()

	s, err := schema.Parse([]byte(blog))
	require.NoError(t, err)

	mem := remote.NewMemory()
	mem.Seed("users", map[string]any{"id": 3, "name": "Ann"})
	mem.Seed("comments",
		map[string]any{"id": 1, "post_id": 6, "body": "first"},
		map[string]any{"id": 2, "post_id": 6, "body": "second"},
		map[string]any{"id": 3, "post_id": 7, "body": "other"},
	)
	pools := make(map[string]*model.Collection)
	types, err := s.Build(schema.Registry{Transport: mem, Pools: pools})
	require.NoError(t, err)
	require.Len(t, types, 3)
	assert.Equal(t, "comments", types["Comment"].URLRoot)

	p, err := types["Post"].New(t.Context(), model.Attributes{"id": 6, "user_id": 3})
	require.NoError(t, err)
	assert.Equal(t, "Untitled", p.Get("title"))

	comments := p.Many("Comments")
	require.NotNil(t, comments)
	require.Equal(t, 2, comments.Len())
	c, ok := assoc.From(comments.At(0))
	require.True(t, ok)
	assert.Same(t, types["Comment"], c.Type())

	require.Contains(t, pools, "users")
	user := p.One("User")
	require.NotNil(t, user)
	assert.Same(t, pools["users"].Get(3), user)
	assert.Equal(t, "Ann", user.Get("name"))

	u, ok := assoc.From(user)
	require.True(t, ok)
	assert.Equal(t, []string{"Profile"}, foreignNames(u.Associations()))
}

func TestBuildReusesRegisteredPool(t *testing.T) {
	t.Parallel()

	s, err := schema.Parse([]byte(blog))
	require.NoError(t, err)

	users, err := model.NewCollection([]model.Attributes{{"id": 3, "name": "Bob"}}, model.WithCollectionURL("users"))
	require.NoError(t, err)
	mem := remote.NewMemory()
	types, err := s.Build(schema.Registry{Transport: mem, Pools: map[string]*model.Collection{"users": users}})
	require.NoError(t, err)

	p, err := types["Post"].New(t.Context(), model.Attributes{"id": 6, "user_id": 3, "Comments": []any{}})
	require.NoError(t, err)
	assert.Same(t, users.Get(3), p.One("User"))
	assert.Empty(t, mem.Requests())
}

func TestBuildRegistryModels(t *testing.T) {
	t.Parallel()

	s, err := schema.Parse([]byte(`
types:
  - name: Post
    associations:
      - {name: Post, type: hasOne, foreignName: Cover, model: Image}
`))
	require.NoError(t, err)

	built := 0
	image := func(attrs model.Attributes, opts ...model.Option) (*model.Model, error) {
		built++
		return model.New(attrs, opts...)
	}
	types, err := s.Build(schema.Registry{Models: map[string]model.Factory{"Image": image}})
	require.NoError(t, err)

	p, err := types["Post"].New(t.Context(), model.Attributes{"Cover": map[string]any{"id": 1, "url": "x.png"}})
	require.NoError(t, err)
	assert.Equal(t, 1, built)
	assert.Equal(t, "x.png", p.One("Cover").Get("url"))
}

func TestBuildUnknownModel(t *testing.T) {
	t.Parallel()

	s, err := schema.Parse([]byte(`
types:
  - name: Post
    associations:
      - {name: Post, type: hasMany, foreignName: Tags, model: Tag}
`))
	require.NoError(t, err)

	_, err = s.Build(schema.Registry{})
	assert.ErrorContains(t, err, `schema: Post.Tags: unknown model "Tag"`)
}

func TestBuildKeepsMalformedForCheck(t *testing.T) {
	t.Parallel()

	s, err := schema.Parse([]byte(`
types:
  - name: Post
    associations:
      - {name: Post, type: hasSome, foreignName: Tags}
      - {type: hasMany, foreignName: Comments}
      - {name: Post, type: hasMany, foreignName: Comments}
  - name: Draft
    strict: true
    associations:
      - {name: Draft, type: hasMany}
`))
	require.NoError(t, err)

	types, err := s.Build(schema.Registry{})
	require.NoError(t, err)

	valid, errs := types["Post"].Check()
	assert.Equal(t, []string{"Comments"}, foreignNames(valid))
	require.Len(t, errs, 2)
	var cerr *assoc.ConfigError
	require.ErrorAs(t, errs[0], &cerr)
	assert.Equal(t, 0, cerr.Index)

	_, err = types["Draft"].New(t.Context(), nil)
	assert.Error(t, err)
}

func TestRequired(t *testing.T) {
	t.Parallel()

	s, err := schema.Parse([]byte(blog))
	require.NoError(t, err)
	types, err := s.Build(schema.Registry{})
	require.NoError(t, err)

	tests := []struct {
		name  string
		attrs model.Attributes
		valid bool
	}{
		{name: "present", attrs: model.Attributes{"body": "hi"}, valid: true},
		{name: "blank", attrs: model.Attributes{"body": ""}},
		{name: "missing", attrs: model.Attributes{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := types["Comment"].New(t.Context(), tt.attrs)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, c.IsValid())
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := schema.Parse([]byte(blog))
	require.NoError(t, err)
	out, err := s.Marshal()
	require.NoError(t, err)

	again, err := schema.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

func foreignNames(ds []assoc.Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ForeignName
	}
	return out
}

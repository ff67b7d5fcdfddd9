package model

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mickamy/ormassoc/remote"
)

// CollectionFunc observes a collection event; m is nil for EventReset,
// EventSync and EventError.
type CollectionFunc func(c *Collection, m *Model)

// FetchOptions configures Collection.Fetch.
type FetchOptions struct {
	// Query holds equality constraints sent with the read.
	Query map[string]any
	// Add appends the response instead of resetting the collection.
	Add     bool
	Success func(c *Collection)
	Error   func(c *Collection, err error)
}

// FetchGuard inspects, and may amend or veto, a fetch before it is sent.
type FetchGuard func(opts *FetchOptions) error

type collectionConfig struct {
	url       string
	idAttr    string
	member    Factory
	transport remote.Transport
	scheduler Scheduler
	logger    *slog.Logger
}

// CollectionOption configures a Collection.
type CollectionOption func(*collectionConfig)

// WithCollectionURL sets the collection resource locator.
func WithCollectionURL(u string) CollectionOption {
	return func(c *collectionConfig) { c.url = u }
}

// WithMember sets the factory for members built from attributes.
func WithMember(f Factory) CollectionOption {
	return func(c *collectionConfig) { c.member = f }
}

// WithMemberIDAttribute sets the identity attribute of members built without
// a member factory, and the attribute used to index members.
func WithMemberIDAttribute(name string) CollectionOption {
	return func(c *collectionConfig) { c.idAttr = name }
}

// WithCollectionTransport sets the transport of the collection and of members
// that have none.
func WithCollectionTransport(t remote.Transport) CollectionOption {
	return func(c *collectionConfig) { c.transport = t }
}

// WithCollectionScheduler sets the scheduler of the collection and of members
// that have none.
func WithCollectionScheduler(s Scheduler) CollectionOption {
	return func(c *collectionConfig) { c.scheduler = s }
}

// WithCollectionLogger sets the collection logger.
func WithCollectionLogger(l *slog.Logger) CollectionOption {
	return func(c *collectionConfig) { c.logger = l }
}

// CollectionFactory constructs a collection from initial member attributes.
type CollectionFactory func(items []Attributes) (*Collection, error)

// NewCollectionFactory returns a CollectionFactory applying opts.
func NewCollectionFactory(opts ...CollectionOption) CollectionFactory {
	return func(items []Attributes) (*Collection, error) {
		return NewCollection(items, opts...)
	}
}

// Collection is an ordered, identity-indexed set of models.
type Collection struct {
	models    []*Model
	byID      map[string]*Model
	byCID     map[string]*Model
	url       string
	idAttr    string
	member    Factory
	transport remote.Transport
	scheduler Scheduler
	logger    *slog.Logger
	guard     FetchGuard

	events  map[Event]*listeners[CollectionFunc]
	members map[*Model][]*Subscription
}

// NewCollection builds a collection holding models built from items.
func NewCollection(items []Attributes, opts ...CollectionOption) (*Collection, error) {
	cfg := collectionConfig{idAttr: DefaultIDAttribute}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	c := &Collection{
		byID:      make(map[string]*Model),
		byCID:     make(map[string]*Model),
		url:       cfg.url,
		idAttr:    cfg.idAttr,
		member:    cfg.member,
		transport: cfg.transport,
		scheduler: cfg.scheduler,
		logger:    cfg.logger,
		events:    make(map[Event]*listeners[CollectionFunc]),
		members:   make(map[*Model][]*Subscription),
	}
	if err := c.AddAttributes(items...); err != nil {
		return nil, err
	}
	return c, nil
}

// URL returns the collection resource locator.
func (c *Collection) URL() string { return c.url }

// IDAttribute returns the identity attribute of members.
func (c *Collection) IDAttribute() string { return c.idAttr }

// Len returns the number of members.
func (c *Collection) Len() int { return len(c.models) }

// At returns the member at index i, or nil when out of range.
func (c *Collection) At(i int) *Model {
	if i < 0 || i >= len(c.models) {
		return nil
	}
	return c.models[i]
}

// Models returns the members in order.
func (c *Collection) Models() []*Model { return append([]*Model(nil), c.models...) }

// Get returns the member with the given identity.
func (c *Collection) Get(id any) *Model {
	key, ok := Key(id)
	if !ok {
		return nil
	}
	return c.byID[key]
}

// GetByCID returns the member with the given local reference token.
func (c *Collection) GetByCID(cid string) *Model { return c.byCID[cid] }

// Contains reports whether m is a member.
func (c *Collection) Contains(m *Model) bool { return c.byCID[m.CID()] == m }

// SetFetchGuard installs a guard consulted by every Fetch.
func (c *Collection) SetFetchGuard(g FetchGuard) { c.guard = g }

// On registers fn for a collection event.
func (c *Collection) On(ev Event, fn CollectionFunc) *Subscription {
	l, ok := c.events[ev]
	if !ok {
		l = &listeners[CollectionFunc]{}
		c.events[ev] = l
	}
	return l.add(fn)
}

func (c *Collection) emit(ev Event, m *Model) {
	for _, l := range c.events[ev].snapshot() {
		if l.sub.Active() {
			l.fn(c, m)
		}
	}
}

// Build constructs a model the way this collection constructs its members,
// without adding it.
func (c *Collection) Build(attrs Attributes, opts ...Option) (*Model, error) {
	opts = append([]Option{WithCollection(c)}, opts...)
	if c.member != nil {
		return c.member(attrs, opts...)
	}
	return New(attrs, append([]Option{WithIDAttribute(c.idAttr), WithLogger(c.logger)}, opts...)...)
}

// Add appends models that are not members yet and emits EventAdd for each.
func (c *Collection) Add(ms ...*Model) {
	for _, m := range ms {
		if m == nil || c.Contains(m) {
			continue
		}
		if key, ok := Key(m.ID()); ok && c.byID[key] != nil {
			continue
		}
		c.insert(m)
		c.emit(EventAdd, m)
	}
}

// AddAttributes builds members from items and adds them.
func (c *Collection) AddAttributes(items ...Attributes) error {
	return c.addAttributes(items)
}

func (c *Collection) addAttributes(items []Attributes, opts ...Option) error {
	for _, attrs := range items {
		m, err := c.Build(attrs, opts...)
		if err != nil {
			return err
		}
		c.Add(m)
	}
	return nil
}

// Remove drops members and emits EventRemove for each.
func (c *Collection) Remove(ms ...*Model) {
	for _, m := range ms {
		if m == nil || !c.Contains(m) {
			continue
		}
		c.detach(m)
		c.emit(EventRemove, m)
	}
}

// Reset replaces every member with models built from items and emits a
// single EventReset.
func (c *Collection) Reset(items []Attributes) error {
	return c.reset(items)
}

func (c *Collection) reset(items []Attributes, opts ...Option) error {
	built := make([]*Model, 0, len(items))
	for _, attrs := range items {
		m, err := c.Build(attrs, opts...)
		if err != nil {
			return err
		}
		built = append(built, m)
	}
	for _, m := range c.Models() {
		c.detach(m)
	}
	for _, m := range built {
		if key, ok := Key(m.ID()); ok && c.byID[key] != nil {
			continue
		}
		c.insert(m)
	}
	c.emit(EventReset, nil)
	return nil
}

func (c *Collection) insert(m *Model) {
	if m.collection == nil {
		m.collection = c
	}
	c.models = append(c.models, m)
	c.byCID[m.CID()] = m
	if key, ok := Key(m.Get(c.idAttr)); ok {
		c.byID[key] = m
	}
	c.members[m] = []*Subscription{
		m.OnEvent(EventChange, func(m *Model) { c.emit(EventChange, m) }),
		m.OnEvent(EventDestroy, func(m *Model) { c.Remove(m) }),
		m.OnChange(c.idAttr, func(m *Model, _ any) { c.reindex(m) }),
	}
}

func (c *Collection) detach(m *Model) {
	for i, e := range c.models {
		if e == m {
			c.models = append(c.models[:i], c.models[i+1:]...)
			break
		}
	}
	delete(c.byCID, m.CID())
	for k, e := range c.byID {
		if e == m {
			delete(c.byID, k)
		}
	}
	for _, sub := range c.members[m] {
		sub.Cancel()
	}
	delete(c.members, m)
	if m.collection == c {
		m.collection = nil
	}
}

func (c *Collection) reindex(m *Model) {
	for k, e := range c.byID {
		if e == m {
			delete(c.byID, k)
		}
	}
	if key, ok := Key(m.Get(c.idAttr)); ok {
		c.byID[key] = m
	}
}

// Create builds a member from attrs, adds it and saves it. The model is
// returned even while the save is pending; a validation failure returns
// nil and adds nothing.
func (c *Collection) Create(ctx context.Context, attrs Attributes, cb Callbacks) (*Model, error) {
	m, err := c.Build(attrs, WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	c.Add(m)
	if err := m.Save(ctx, nil, cb); err != nil {
		return m, err
	}
	return m, nil
}

// Fetch reads the collection resource and resets (or, with Add, extends)
// the collection with the response.
func (c *Collection) Fetch(ctx context.Context, opts FetchOptions) error {
	if c.guard != nil {
		if err := c.guard(&opts); err != nil {
			return err
		}
	}
	if c.transport == nil {
		return ErrNoTransport
	}
	if c.url == "" {
		return ErrNoURL
	}

	req := remote.Request{Method: remote.Read, URL: c.url, Query: opts.Query}
	c.currentScheduler().Schedule(func() {
		err := c.applyFetch(ctx, req, opts.Add)
		if err != nil {
			c.logger.Debug("collection fetch failed",
				slog.String("url", req.URL),
				slog.String("error", err.Error()),
			)
			c.emit(EventError, nil)
			if opts.Error != nil {
				opts.Error(c, err)
			}
			return
		}
		c.emit(EventSync, nil)
		if opts.Success != nil {
			opts.Success(c)
		}
	})
	return nil
}

func (c *Collection) applyFetch(ctx context.Context, req remote.Request, add bool) error {
	raw, err := c.transport.Do(ctx, req)
	if err != nil {
		return err //nolint:wrapcheck // pass through
	}
	doc, err := Decode(raw)
	if err != nil {
		return err
	}
	items, ok := AsList(doc)
	if !ok {
		return fmt.Errorf("model: collection response is %T, want a list", doc)
	}
	if add {
		return c.addAttributes(items, WithParse(), WithContext(ctx))
	}
	return c.reset(items, WithParse(), WithContext(ctx))
}

func (c *Collection) currentScheduler() Scheduler {
	if c.scheduler != nil {
		return c.scheduler
	}
	return Immediate
}

// JSON returns the JSON projection of every member.
func (c *Collection) JSON() []Attributes {
	out := make([]Attributes, len(c.models))
	for i, m := range c.models {
		out[i] = m.JSON()
	}
	return out
}

// Package model provides the observable, remotely persisted attribute bag
// (Model) and its ordered, identity-indexed set (Collection).
//
// Models and collections are not safe for concurrent use. Remote operations
// never run their completion inline with the network call unless the
// configured Scheduler does so: with a Loop the caller decides when responses
// are applied, which is how the association layer keeps a single-threaded,
// callback-driven flow.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/mickamy/ormassoc/remote"
)

// DefaultIDAttribute is the identity attribute used unless overridden.
const DefaultIDAttribute = "id"

var (
	// ErrNoTransport is returned by remote operations on an entity that has no
	// transport and no owning collection with one.
	ErrNoTransport = errors.New("model: no transport")
	// ErrNoURL is returned when neither a URL, a URL root nor an owning
	// collection locates the entity.
	ErrNoURL = errors.New("model: no url")
)

// ValidationError wraps the error returned by a validator.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "model: validation failed: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Factory constructs an entity. Association descriptors use factories to
// build related entities.
type Factory func(attrs Attributes, opts ...Option) (*Model, error)

// NewFactory returns a Factory that applies base before per-call options.
func NewFactory(base ...Option) Factory {
	return func(attrs Attributes, opts ...Option) (*Model, error) {
		return New(attrs, append(append([]Option(nil), base...), opts...)...)
	}
}

// Hooks let an extension layer take part in the entity life cycle.
type Hooks struct {
	// Parse transforms server data before it is installed. It also runs at
	// construction when WithParse is given.
	Parse func(m *Model, attrs Attributes) (Attributes, error)
	// Prepare runs on constructor attributes after Parse and before defaults.
	Prepare func(m *Model, attrs Attributes) (Attributes, error)
	// Initialize runs once attributes are installed.
	Initialize func(m *Model) error
	// JSON decorates the JSON projection.
	JSON func(m *Model, attrs Attributes) Attributes
	// BeforeDestroy runs before the entity is destroyed locally and remotely.
	BeforeDestroy func(ctx context.Context, m *Model)
}

// Callbacks receive the asynchronous outcome of a remote operation.
type Callbacks struct {
	Success func(m *Model)
	Error   func(m *Model, err error)
}

type config struct {
	idAttr     string
	urlRoot    string
	url        string
	transport  remote.Transport
	scheduler  Scheduler
	validator  func(Attributes) error
	defaults   Attributes
	collection *Collection
	parse      bool
	hooks      Hooks
	init       func(*Model) error
	logger     *slog.Logger
	ctx        context.Context
}

// Option configures a Model.
type Option func(*config)

// WithIDAttribute sets the identity attribute name.
func WithIDAttribute(name string) Option { return func(c *config) { c.idAttr = name } }

// WithURLRoot sets the resource root; the entity URL is root/identity.
func WithURLRoot(root string) Option { return func(c *config) { c.urlRoot = root } }

// WithURL pins the entity URL.
func WithURL(u string) Option { return func(c *config) { c.url = u } }

// WithTransport sets the remote transport.
func WithTransport(t remote.Transport) Option { return func(c *config) { c.transport = t } }

// WithScheduler sets where remote completions run.
func WithScheduler(s Scheduler) Option { return func(c *config) { c.scheduler = s } }

// WithValidator installs the pass/fail validation hook.
func WithValidator(fn func(Attributes) error) Option { return func(c *config) { c.validator = fn } }

// WithDefaults sets attributes applied underneath constructor attributes.
func WithDefaults(d Attributes) Option { return func(c *config) { c.defaults = d } }

// WithCollection records the owning collection.
func WithCollection(col *Collection) Option { return func(c *config) { c.collection = col } }

// WithParse routes constructor attributes through the parse hook.
func WithParse() Option { return func(c *config) { c.parse = true } }

// WithHooks installs life cycle hooks.
func WithHooks(h Hooks) Option { return func(c *config) { c.hooks = h } }

// WithInitializer runs fn at the end of construction.
func WithInitializer(fn func(*Model) error) Option { return func(c *config) { c.init = fn } }

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithContext sets the context of remote operations started by hooks, which
// have no caller context of their own.
func WithContext(ctx context.Context) Option { return func(c *config) { c.ctx = ctx } }

var cidSeq atomic.Int64

// Model is an observable attribute bag with identity and remote persistence.
type Model struct {
	attrs      Attributes
	cid        string
	idAttr     string
	urlRoot    string
	url        string
	transport  remote.Transport
	scheduler  Scheduler
	validator  func(Attributes) error
	collection *Collection
	hooks      Hooks
	logger     *slog.Logger
	ctx        context.Context //nolint:containedctx // used by construction and parse hooks
	refs       map[string]any
	destroyed  bool

	changes map[string]*listeners[ChangeFunc]
	events  map[Event]*listeners[func(*Model)]
	pending map[string]*listeners[func(*Model)]
}

// New constructs a Model. Attributes pass through the parse hook (with
// WithParse), then the prepare hook, then defaults, and are installed without
// change notifications before the initialize hooks run.
func New(attrs Attributes, opts ...Option) (*Model, error) {
	cfg := config{idAttr: DefaultIDAttribute}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ctx == nil {
		cfg.ctx = context.Background()
	}

	m := &Model{
		cid:        "c" + strconv.FormatInt(cidSeq.Add(1), 10),
		idAttr:     cfg.idAttr,
		urlRoot:    cfg.urlRoot,
		url:        cfg.url,
		transport:  cfg.transport,
		scheduler:  cfg.scheduler,
		validator:  cfg.validator,
		collection: cfg.collection,
		hooks:      cfg.hooks,
		logger:     cfg.logger,
		ctx:        cfg.ctx,
		changes:    make(map[string]*listeners[ChangeFunc]),
		events:     make(map[Event]*listeners[func(*Model)]),
		pending:    make(map[string]*listeners[func(*Model)]),
	}

	attrs = attrs.Clone()
	var err error
	if cfg.parse {
		if attrs, err = m.parse(attrs); err != nil {
			return nil, err
		}
	}
	if m.hooks.Prepare != nil {
		if attrs, err = m.hooks.Prepare(m, attrs); err != nil {
			return nil, err
		}
	}
	if len(cfg.defaults) > 0 {
		merged := cfg.defaults.Clone()
		maps.Copy(merged, attrs)
		attrs = merged
	}
	m.attrs = attrs

	if m.hooks.Initialize != nil {
		if err := m.hooks.Initialize(m); err != nil {
			return nil, err
		}
	}
	if cfg.init != nil {
		if err := cfg.init(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// CID returns the local reference token, unique per process ("c1", "c2", …).
func (m *Model) CID() string { return m.cid }

// IDAttribute returns the identity attribute name.
func (m *Model) IDAttribute() string { return m.idAttr }

// ID returns the identity value, or nil.
func (m *Model) ID() any { return m.attrs[m.idAttr] }

// IsNew reports whether the entity has no identity yet.
func (m *Model) IsNew() bool { return IsBlank(m.ID()) }

// Get returns the value of attr, or nil.
func (m *Model) Get(attr string) any { return m.attrs[attr] }

// Has reports whether attr holds a non-nil value.
func (m *Model) Has(attr string) bool { return m.attrs[attr] != nil }

// Attributes returns a copy of the attribute bag.
func (m *Model) Attributes() Attributes { return m.attrs.Clone() }

// Collection returns the owning collection, if any.
func (m *Model) Collection() *Collection { return m.collection }

// Logger returns the entity logger.
func (m *Model) Logger() *slog.Logger { return m.logger }

// Context returns the context given with WithContext, or context.Background.
func (m *Model) Context() context.Context { return m.ctx }

// Destroyed reports whether Destroy has been called.
func (m *Model) Destroyed() bool { return m.destroyed }

// Ref returns a named reference installed with SetRef.
func (m *Model) Ref(name string) any { return m.refs[name] }

// SetRef installs a named reference to another object, such as the owner of
// a relationship.
func (m *Model) SetRef(name string, v any) {
	if m.refs == nil {
		m.refs = make(map[string]any)
	}
	m.refs[name] = v
}

// Set applies attrs and notifies listeners about every attribute whose value
// changed, then emits EventChange, then flushes one-shot listeners of
// attributes that became present.
func (m *Model) Set(attrs Attributes) { m.set(attrs, false) }

// SetSilent applies attrs without notifications.
func (m *Model) SetSilent(attrs Attributes) { m.set(attrs, true) }

// Unset removes attr.
func (m *Model) Unset(attr string) {
	if _, ok := m.attrs[attr]; !ok {
		return
	}
	delete(m.attrs, attr)
	for _, l := range m.changes[attr].snapshot() {
		if l.sub.Active() {
			l.fn(m, nil)
		}
	}
	m.emit(EventChange)
}

func (m *Model) set(attrs Attributes, silent bool) {
	var changed, appeared []string
	for _, k := range attrs.Keys() {
		v := attrs[k]
		old, had := m.attrs[k]
		if had && SameValue(old, v) {
			continue
		}
		m.attrs[k] = v
		changed = append(changed, k)
		if IsBlank(old) && !IsBlank(v) {
			appeared = append(appeared, k)
		}
	}
	if silent || len(changed) == 0 {
		return
	}

	for _, k := range changed {
		for _, l := range m.changes[k].snapshot() {
			if l.sub.Active() {
				l.fn(m, m.attrs[k])
			}
		}
	}
	m.emit(EventChange)
	for _, k := range appeared {
		if IsBlank(m.attrs[k]) {
			continue
		}
		for _, l := range m.pending[k].drain() {
			l.fn(m)
		}
	}
}

// OnChange registers fn for changes of attr.
func (m *Model) OnChange(attr string, fn ChangeFunc) *Subscription {
	l, ok := m.changes[attr]
	if !ok {
		l = &listeners[ChangeFunc]{}
		m.changes[attr] = l
	}
	return l.add(fn)
}

// OnEvent registers fn for a life cycle event.
func (m *Model) OnEvent(ev Event, fn func(*Model)) *Subscription {
	l, ok := m.events[ev]
	if !ok {
		l = &listeners[func(*Model)]{}
		m.events[ev] = l
	}
	return l.add(fn)
}

// OnceAvailable queues fn until attr transitions from blank to present. The
// callback runs exactly once and is then removed.
func (m *Model) OnceAvailable(attr string, fn func(*Model)) *Subscription {
	l, ok := m.pending[attr]
	if !ok {
		l = &listeners[func(*Model)]{}
		m.pending[attr] = l
	}
	return l.add(fn)
}

// Pending returns the number of one-shot callbacks waiting on attr.
func (m *Model) Pending(attr string) int { return m.pending[attr].len() }

func (m *Model) emit(ev Event) {
	for _, l := range m.events[ev].snapshot() {
		if l.sub.Active() {
			l.fn(m)
		}
	}
}

// Validate runs the validation hook against the current attributes.
func (m *Model) Validate() error { return m.validate(m.attrs) }

// IsValid reports whether Validate passes.
func (m *Model) IsValid() bool { return m.Validate() == nil }

func (m *Model) validate(attrs Attributes) error {
	if m.validator == nil {
		return nil
	}
	if err := m.validator(attrs); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// URL locates the entity: the pinned URL, or the URL root (falling back to
// the owning collection URL) joined with the identity when there is one.
func (m *Model) URL() (string, error) {
	if m.url != "" {
		return m.url, nil
	}
	base := m.urlRoot
	if base == "" && m.collection != nil {
		base = m.collection.URL()
	}
	if base == "" {
		return "", ErrNoURL
	}
	key, ok := Key(m.ID())
	if !ok {
		return base, nil
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(key), nil
}

// JSON returns the JSON projection of the entity.
func (m *Model) JSON() Attributes {
	attrs := m.attrs.Clone()
	if m.hooks.JSON != nil {
		attrs = m.hooks.JSON(m, attrs)
	}
	return attrs
}

func (m *Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.JSON()) //nolint:wrapcheck // pass through
}

// Save applies attrs, validates, and persists the entity: create when new,
// update otherwise. The returned error covers only failures detected before
// the request is scheduled.
func (m *Model) Save(ctx context.Context, attrs Attributes, cb Callbacks) error {
	candidate := m.attrs
	if len(attrs) > 0 {
		candidate = m.attrs.Clone()
		maps.Copy(candidate, attrs)
	}
	if err := m.validate(candidate); err != nil {
		return err
	}
	m.Set(attrs)

	method := remote.Update
	if m.IsNew() {
		method = remote.Create
	}
	return m.sync(ctx, method, m.JSON(), cb)
}

// Fetch reads the entity from its resource and applies the response.
func (m *Model) Fetch(ctx context.Context, cb Callbacks) error {
	return m.sync(ctx, remote.Read, nil, cb)
}

// Destroy removes the entity locally (EventDestroy fires immediately, so an
// owning collection drops it) and remotely unless it is new.
func (m *Model) Destroy(ctx context.Context, cb Callbacks) error {
	if m.hooks.BeforeDestroy != nil {
		m.hooks.BeforeDestroy(ctx, m)
	}
	if m.IsNew() {
		m.destroyed = true
		m.emit(EventDestroy)
		if cb.Success != nil {
			cb.Success(m)
		}
		return nil
	}

	t := m.currentTransport()
	if t == nil {
		return ErrNoTransport
	}
	u, err := m.URL()
	if err != nil {
		return err
	}
	m.destroyed = true
	m.emit(EventDestroy)

	req := remote.Request{Method: remote.Delete, URL: u}
	m.currentScheduler().Schedule(func() {
		if _, err := t.Do(ctx, req); err != nil {
			m.fail(req, err, cb)
			return
		}
		m.emit(EventSync)
		if cb.Success != nil {
			cb.Success(m)
		}
	})
	return nil
}

func (m *Model) sync(ctx context.Context, method remote.Method, body Attributes, cb Callbacks) error {
	t := m.currentTransport()
	if t == nil {
		return ErrNoTransport
	}
	u, err := m.URL()
	if err != nil {
		return err
	}

	req := remote.Request{Method: method, URL: u}
	if body != nil {
		req.Body = map[string]any(body)
	}
	m.currentScheduler().Schedule(func() {
		raw, err := t.Do(ctx, req)
		if err == nil {
			err = m.apply(raw)
		}
		if err != nil {
			m.fail(req, err, cb)
			return
		}
		m.emit(EventSync)
		if cb.Success != nil {
			cb.Success(m)
		}
	})
	return nil
}

func (m *Model) apply(raw json.RawMessage) error {
	doc, err := Decode(raw)
	if err != nil || doc == nil {
		return err
	}
	attrs, ok := AsAttributes(doc)
	if !ok {
		return fmt.Errorf("model: response is %T, want an object", doc)
	}
	attrs, err = m.parse(attrs)
	if err != nil {
		return err
	}
	m.Set(attrs)
	return nil
}

func (m *Model) parse(attrs Attributes) (Attributes, error) {
	if m.hooks.Parse == nil {
		return attrs, nil
	}
	return m.hooks.Parse(m, attrs)
}

func (m *Model) fail(req remote.Request, err error, cb Callbacks) {
	m.logger.Debug("remote operation failed",
		slog.String("method", string(req.Method)),
		slog.String("url", req.URL),
		slog.String("cid", m.cid),
		slog.String("error", err.Error()),
	)
	m.emit(EventError)
	if cb.Error != nil {
		cb.Error(m, err)
	}
}

func (m *Model) currentTransport() remote.Transport {
	if m.transport != nil {
		return m.transport
	}
	if m.collection != nil {
		return m.collection.transport
	}
	return nil
}

func (m *Model) currentScheduler() Scheduler {
	if m.scheduler != nil {
		return m.scheduler
	}
	if m.collection != nil && m.collection.scheduler != nil {
		return m.collection.scheduler
	}
	return Immediate
}

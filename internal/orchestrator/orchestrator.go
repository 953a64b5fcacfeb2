// Package orchestrator drives the two-stage pipeline: read the sign with the
// active vision provider, build the parking context, then ask the active
// decision provider.
//
// Each capability has one guarded provider slot. Stages snapshot the slot
// when they start, so a provider switch never affects a stage already in
// flight. Switches are triggered by UpdateProviders or by preference change
// notifications; a switch that fails to build the new provider keeps the
// previous one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/park-patrol/internal/history"
	"github.com/timvw/park-patrol/internal/model"
	ppotel "github.com/timvw/park-patrol/internal/otel"
	"github.com/timvw/park-patrol/internal/parkcontext"
	"github.com/timvw/park-patrol/internal/prefs"
	"github.com/timvw/park-patrol/internal/provider"
)

var tracer = otel.Tracer("park-patrol/orchestrator")

// Factory builds providers. *provider.Registry implements it.
type Factory interface {
	Vision(sel model.Selector, credential string) (provider.VisionProvider, error)
	Decision(sel model.Selector, credential string) (provider.DecisionProvider, error)
}

// ContextBuilder creates the parking context for a request.
// *parkcontext.Builder implements it.
type ContextBuilder interface {
	Build(o parkcontext.Overrides) model.ParkingContext
}

// Request is one check.
type Request struct {
	Image     []byte
	Overrides parkcontext.Overrides
}

// Result is everything a completed check produced.
type Result struct {
	ID               string               `json:"id"`
	Extraction       model.SignExtraction `json:"extraction"`
	Context          model.ParkingContext `json:"context"`
	Decision         model.Decision       `json:"decision"`
	VisionProvider   string               `json:"vision_provider,omitempty"`
	DecisionProvider string               `json:"decision_provider,omitempty"`
	// Cached is true when the extraction came from the cache.
	Cached bool `json:"cached"`
}

// Orchestrator runs checks against the currently bound providers.
// It is safe for concurrent use.
type Orchestrator struct {
	factory  Factory
	prefs    prefs.Store
	builder  ContextBuilder
	recorder history.Recorder
	cache    *ExtractionCache
	observer Observer
	metrics  *ppotel.Metrics
	log      *slog.Logger
	newID    func() string
	now      func() time.Time

	// rebindMu serializes provider construction and guards applied, the last
	// preference snapshot the slots were bound from. mu guards the slots and
	// is never held while a provider is built or called.
	rebindMu  sync.Mutex
	applied   prefs.Snapshot
	mu        sync.RWMutex
	bound     bool
	vision    slot[provider.VisionProvider]
	decision  slot[provider.DecisionProvider]
	rebindErr error

	stateMu sync.Mutex
	state   State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithContextBuilder replaces the default builder, which reads vehicle and
// location from the preference store.
func WithContextBuilder(b ContextBuilder) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.builder = b
		}
	}
}

// WithRecorder hands every completed check to r.
func WithRecorder(r history.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithCache enables extraction caching.
func WithCache(c *ExtractionCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

func WithMetrics(m *ppotel.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithIDGenerator replaces the UUID request id source.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New returns an orchestrator that builds providers with factory and follows
// the selectors and credential in store. Providers are bound lazily on first
// use. A nil store behaves like one holding prefs.Defaults().
func New(factory Factory, store prefs.Store, opts ...Option) *Orchestrator {
	if store == nil {
		store = prefs.NewMemoryStore(prefs.Defaults())
	}
	o := &Orchestrator{
		factory: factory,
		prefs:   store,
		log:     slog.Default(),
		newID:   uuid.NewString,
		now:     time.Now,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.builder == nil {
		o.builder = parkcontext.NewBuilder(store, parkcontext.WithClock(o.now))
	}
	store.Subscribe(o.onPreferences)
	return o
}

// Process reads the sign in image and decides whether the vehicle may park.
func (o *Orchestrator) Process(ctx context.Context, image []byte) (model.Decision, error) {
	res, err := o.Run(ctx, Request{Image: image})
	if err != nil {
		return model.Decision{}, err
	}
	return res.Decision, nil
}

// Run executes the full pipeline for req.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	return o.run(ctx, req, "", true, true)
}

// Extract runs only the vision stage.
func (o *Orchestrator) Extract(ctx context.Context, image []byte) (*Result, error) {
	return o.run(ctx, Request{Image: image}, "", true, false)
}

// Decide runs only the decision stage on already-extracted sign text.
func (o *Orchestrator) Decide(ctx context.Context, signText string, ov parkcontext.Overrides) (*Result, error) {
	return o.run(ctx, Request{Overrides: ov}, signText, false, true)
}

func (o *Orchestrator) run(ctx context.Context, req Request, signText string, doExtract, doDecide bool) (*Result, error) {
	res := &Result{ID: o.newID(), Extraction: model.SignExtraction{Text: signText}}
	ctx, span := tracer.Start(ctx, "process", trace.WithAttributes(
		attribute.String("park_patrol.request.id", res.ID),
		attribute.Bool("park_patrol.stage.vision", doExtract),
		attribute.Bool("park_patrol.stage.decision", doDecide),
	))
	defer span.End()
	log := o.log.With("request_id", res.ID)

	cur := StateIdle
	o.transition(res.ID, cur, cur, nil)
	step := func(to State) {
		o.transition(res.ID, cur, to, nil)
		cur = to
	}
	fail := func(err error) (*Result, error) {
		o.transition(res.ID, cur, StateFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("check failed", "state", cur.String(), "kind", string(model.KindOf(err)), "error", err)
		return nil, err
	}

	o.ensureBound(ctx)
	if err := o.preflight(doExtract, doDecide); err != nil {
		return fail(err)
	}
	if !doExtract && strings.TrimSpace(signText) == "" {
		return fail(&model.Error{Op: "decide", Err: model.ErrNoTextFound, Detail: "sign text is empty"})
	}

	if doExtract {
		step(StateExtracting)
		ext, name, cached, err := o.extract(ctx, req.Image)
		if err != nil {
			return fail(err)
		}
		res.Extraction, res.VisionProvider, res.Cached = ext, name, cached
		log.Debug("sign extracted", "provider", name, "confidence", ext.Confidence, "cached", cached)
		span.SetAttributes(
			attribute.String("park_patrol.vision.provider", name),
			attribute.Bool("park_patrol.vision.cached", cached),
		)
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
	}

	if doDecide {
		step(StateBuildingContext)
		res.Context = o.builder.Build(req.Overrides)

		step(StateDeciding)
		dec, name, err := o.decide(ctx, res.Extraction.Text, res.Context)
		if err != nil {
			return fail(err)
		}
		res.Decision, res.DecisionProvider = dec, name
		span.SetAttributes(
			attribute.String("park_patrol.decision.provider", name),
			attribute.Bool("park_patrol.decision.can_park", dec.CanPark),
		)
		o.record(log, res)
	}

	step(StateCompleted)
	return res, nil
}

// preflight fails fast when a stage about to run needs a remote provider but
// no credential is configured.
func (o *Orchestrator) preflight(vision, decision bool) error {
	o.mu.RLock()
	v, d := o.vision.requested, o.decision.requested
	o.mu.RUnlock()

	remote := (vision && v == model.SelectorRemote) || (decision && d == model.SelectorRemote)
	if remote && !o.prefs.Snapshot().HasCredential() {
		return &model.Error{Op: "preflight", Err: model.ErrMissingCredential, Detail: "a remote provider is selected but no API key is configured"}
	}
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, image []byte) (model.SignExtraction, string, bool, error) {
	o.mu.RLock()
	s := o.vision
	o.mu.RUnlock()
	if !s.live {
		return model.SignExtraction{}, "", false, unbound("vision", s.err)
	}
	p := s.active

	if ext, ok := o.cache.Lookup(image, p.Name()); ok {
		o.metrics.RecordCacheHit(ctx)
		return ext, p.Name(), true, nil
	}
	if o.cache.Enabled() {
		o.metrics.RecordCacheMiss(ctx)
	}

	start := time.Now()
	ext, err := p.Extract(ctx, image)
	o.metrics.RecordStage(ctx, "vision", string(p.Kind()), outcome(err), time.Since(start).Seconds())
	if err != nil {
		return model.SignExtraction{}, p.Name(), false, err
	}
	o.cache.Store(image, p.Name(), ext)
	return ext, p.Name(), false, nil
}

// decide refuses to run a decision provider of a different kind than the one
// requested: a fallback decision provider would silently apply different
// reasoning, so the recorded construction error is returned instead.
func (o *Orchestrator) decide(ctx context.Context, signText string, pc model.ParkingContext) (model.Decision, string, error) {
	o.mu.RLock()
	s := o.decision
	o.mu.RUnlock()
	if !s.live || s.active.Kind() != s.requested {
		return model.Decision{}, "", unbound("decision", s.err)
	}
	p := s.active

	start := time.Now()
	dec, err := p.Decide(ctx, signText, pc)
	o.metrics.RecordStage(ctx, "decision", string(p.Kind()), outcome(err), time.Since(start).Seconds())
	if err != nil {
		return model.Decision{}, p.Name(), err
	}
	return dec, p.Name(), nil
}

func (o *Orchestrator) record(log *slog.Logger, res *Result) {
	if o.recorder == nil {
		return
	}
	err := o.recorder.Record(history.Entry{
		ID:               res.ID,
		TS:               o.now(),
		SignText:         res.Extraction.Text,
		Confidence:       res.Extraction.Confidence,
		Context:          res.Context,
		Decision:         res.Decision,
		VisionProvider:   res.VisionProvider,
		DecisionProvider: res.DecisionProvider,
	})
	if err != nil {
		log.Warn("recording history failed", "error", err)
	}
}

func (o *Orchestrator) transition(id string, from, to State, err error) {
	o.stateMu.Lock()
	o.state = to
	o.stateMu.Unlock()
	if o.observer != nil && from != to {
		o.observer.Observe(Transition{RequestID: id, From: from, To: to, Err: err})
	}
}

// State returns the state of the most recent request.
func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func unbound(capability string, cause error) error {
	if cause != nil {
		return cause
	}
	return &model.Error{Op: capability, Err: model.ErrProviderUnavailable, Detail: "no provider is bound"}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return string(model.KindOf(err))
	}
}

// --- provider binding ---

type providerKind interface {
	Kind() model.Selector
	Name() string
}

// slot is one capability's binding. active may be a local fallback for a
// remote request, in which case err holds why the requested provider could
// not be built.
type slot[P providerKind] struct {
	requested  model.Selector
	credential string
	active     P
	live       bool
	err        error
}

// stale reports whether the slot must be rebuilt for sel and credential.
func (s slot[P]) stale(sel model.Selector, credential string) bool {
	if s.requested != sel || !s.live {
		return true
	}
	return s.credential != credential && (sel == model.SelectorRemote || s.err != nil)
}

func (s slot[P]) status() CapabilityStatus {
	st := CapabilityStatus{Requested: s.requested}
	if s.live {
		st.Active = s.active.Kind()
		st.Provider = s.active.Name()
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}

// bindSlot builds the provider for sel, falling back to the local provider
// when sel cannot be built.
func bindSlot[P providerKind](log *slog.Logger, capability string, sel model.Selector, credential string, build func(model.Selector) (P, error), onFallback func()) slot[P] {
	s := slot[P]{requested: sel, credential: credential}
	p, err := build(sel)
	if err == nil {
		s.active, s.live = p, true
		return s
	}
	s.err = err
	if sel == model.SelectorLocal {
		log.Error("no provider available", "capability", capability, "requested", sel, "error", err)
		return s
	}
	fb, ferr := build(model.SelectorLocal)
	if ferr != nil {
		log.Error("no provider available", "capability", capability, "requested", sel, "error", err, "fallback_error", ferr)
		return s
	}
	log.Warn("falling back to local provider", "capability", capability, "requested", sel, "active", fb.Name(), "error", err)
	onFallback()
	s.active, s.live = fb, true
	return s
}

func (o *Orchestrator) ensureBound(ctx context.Context) {
	o.mu.RLock()
	bound := o.bound
	o.mu.RUnlock()
	if bound {
		return
	}

	o.rebindMu.Lock()
	defer o.rebindMu.Unlock()
	o.bindLocked(ctx, o.prefs.Snapshot())
}

// bindLocked performs the initial binding. Caller holds rebindMu.
func (o *Orchestrator) bindLocked(ctx context.Context, snap prefs.Snapshot) {
	o.mu.RLock()
	bound := o.bound
	o.mu.RUnlock()
	if bound {
		return
	}

	v := bindSlot(o.log, "vision", snap.Vision, snap.Credential,
		func(sel model.Selector) (provider.VisionProvider, error) { return o.factory.Vision(sel, snap.Credential) },
		func() { o.metrics.RecordFallback(ctx, "vision") })
	d := bindSlot(o.log, "decision", snap.Decision, snap.Credential,
		func(sel model.Selector) (provider.DecisionProvider, error) { return o.factory.Decision(sel, snap.Credential) },
		func() { o.metrics.RecordFallback(ctx, "decision") })

	o.applied = snap
	o.mu.Lock()
	o.vision, o.decision, o.bound = v, d, true
	o.mu.Unlock()
}

// UpdateProviders switches the providers serving each capability, using the
// credential currently in the preference store. Capabilities whose new
// provider cannot be built keep their previous provider; the returned error
// describes every rejected switch. The switch holds until a later preference
// change names different providers or a different credential.
func (o *Orchestrator) UpdateProviders(vision, decision model.Selector) error {
	o.rebindMu.Lock()
	defer o.rebindMu.Unlock()

	snap := o.prefs.Snapshot()
	o.bindLocked(context.Background(), snap)
	return o.rebindLocked(context.Background(), vision, decision, snap.Credential)
}

// onPreferences treats a notification as a signal only: the store is read
// again under rebindMu, so notifications delivered late or out of order
// never bind a superseded snapshot. Edits that leave selectors and credential
// unchanged do not rebind.
func (o *Orchestrator) onPreferences(prefs.Snapshot) {
	o.rebindMu.Lock()
	defer o.rebindMu.Unlock()

	o.mu.RLock()
	bound := o.bound
	o.mu.RUnlock()
	if !bound {
		return
	}

	cur := o.prefs.Snapshot()
	if !o.applied.ProvidersChanged(cur) {
		return
	}
	o.applied = cur
	if err := o.rebindLocked(context.Background(), cur.Vision, cur.Decision, cur.Credential); err != nil {
		o.log.Warn("preference change rejected, keeping previous providers", "error", err)
	}
}

// rebindLocked swaps in providers for vision and decision. Caller holds
// rebindMu.
func (o *Orchestrator) rebindLocked(ctx context.Context, vision, decision model.Selector, credential string) error {
	o.mu.RLock()
	nextV, nextD := o.vision, o.decision
	o.mu.RUnlock()

	var errs []error
	attempted, visionSwitched := false, false

	if nextV.stale(vision, credential) {
		attempted = true
		if p, err := o.factory.Vision(vision, credential); err != nil {
			errs = append(errs, fmt.Errorf("switching vision provider to %q: %w", vision, err))
			o.metrics.RecordRebindFailure(ctx, "vision")
		} else {
			nextV = slot[provider.VisionProvider]{requested: vision, credential: credential, active: p, live: true}
			visionSwitched = true
			o.log.Info("vision provider switched", "provider", p.Name())
		}
	}
	if nextD.stale(decision, credential) {
		attempted = true
		if p, err := o.factory.Decision(decision, credential); err != nil {
			errs = append(errs, fmt.Errorf("switching decision provider to %q: %w", decision, err))
			o.metrics.RecordRebindFailure(ctx, "decision")
		} else {
			nextD = slot[provider.DecisionProvider]{requested: decision, credential: credential, active: p, live: true}
			o.log.Info("decision provider switched", "provider", p.Name())
		}
	}
	if !attempted {
		return nil
	}

	err := errors.Join(errs...)
	o.mu.Lock()
	o.vision, o.decision, o.rebindErr = nextV, nextD, err
	o.mu.Unlock()

	if visionSwitched && o.cache.Enabled() {
		o.cache.Purge()
		o.metrics.RecordCachePurge(ctx)
	}
	return err
}

// CapabilityStatus describes one provider slot.
type CapabilityStatus struct {
	// Requested is the selector the user asked for.
	Requested model.Selector `json:"requested"`
	// Active is the kind of the provider actually bound; it differs from
	// Requested after a construction fallback.
	Active   model.Selector `json:"active,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Fallback reports whether the bound provider differs from the requested one.
func (c CapabilityStatus) Fallback() bool {
	return c.Active != "" && c.Active != c.Requested
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Vision            CapabilityStatus `json:"vision"`
	Decision          CapabilityStatus `json:"decision"`
	CredentialSet     bool             `json:"credential_set"`
	LastSwitchError   string           `json:"last_switch_error,omitempty"`
	CachedExtractions int              `json:"cached_extractions"`
	State             string           `json:"state"`
}

// Status binds providers if needed and reports requested vs. active
// providers per capability.
func (o *Orchestrator) Status() Status {
	o.ensureBound(context.Background())

	o.mu.RLock()
	st := Status{
		Vision:   o.vision.status(),
		Decision: o.decision.status(),
	}
	if o.rebindErr != nil {
		st.LastSwitchError = o.rebindErr.Error()
	}
	o.mu.RUnlock()

	st.CredentialSet = o.prefs.Snapshot().HasCredential()
	st.CachedExtractions = o.cache.Len()
	st.State = o.State().String()
	return st
}

package verdict

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/verdict/logger"
)

// CombineStrategy resolves disagreement between evaluators that reached
// opposite verdicts for the same request.
type CombineStrategy uint8

const (
	// DenyOverrides makes any explicit deny win over any allow. This is
	// the conservative default.
	DenyOverrides CombineStrategy = iota
	// AllowOverrides lets an affirmative grant win over a non-mandatory
	// deny. The MAC ceiling and context-rule vetoes still apply first and
	// cannot be overridden.
	AllowOverrides
)

const (
	defaultCacheTTL      = time.Second
	defaultAttrTimeout   = 250 * time.Millisecond
	defaultAuditQueueLen = 1024
)

var defaultActive = []string{"rbac", "dac", "abac"}

// Engine is the decision combinator. It runs the mandatory evaluators
// first (MAC, then context rules), then the evaluators active for the
// resource type, combines their verdicts under the configured strategy,
// memoizes the decision and hands an explanation to the audit recorder.
// The evaluation path is read-only; many requests may run concurrently.
type Engine struct {
	model       *Model
	cache       DecisionCache
	audit       AuditRecorder
	attrs       AttributeSource
	attrTimeout time.Duration
	cacheTTL    time.Duration
	combine     CombineStrategy
	active      map[string][]string // resource type -> evaluator names
	evaluators  map[string]Evaluator
	mac         *MACEvaluator
	rubac       *RuBACEvaluator
	log         logger.Logger
	traceID     logger.TraceIDFunc
	now         func() time.Time

	auditCh     chan *AuditEntry
	auditSeq    atomic.Int64
	auditMu     sync.RWMutex
	auditClosed bool
	closeOnce   sync.Once
	done        chan struct{}
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine) error

// WithDecisionCache replaces the default in-memory decision cache.
func WithDecisionCache(c DecisionCache) EngineOption {
	return func(e *Engine) error {
		e.cache = c
		return nil
	}
}

// WithAuditRecorder replaces the default in-memory audit recorder.
func WithAuditRecorder(r AuditRecorder) EngineOption {
	return func(e *Engine) error {
		e.audit = r
		return nil
	}
}

// WithAttributeSource installs the adapter used to enrich subjects and
// resources whose attributes the caller did not resolve.
func WithAttributeSource(s AttributeSource) EngineOption {
	return func(e *Engine) error {
		e.attrs = s
		return nil
	}
}

// WithAttributeTimeout bounds each attribute fetch. On expiry the fetch
// degrades to NotApplicable for the evaluators that needed it; it never
// hangs the decision.
func WithAttributeTimeout(d time.Duration) EngineOption {
	return func(e *Engine) error {
		if d <= 0 {
			return fmt.Errorf("attribute timeout must be positive")
		}
		e.attrTimeout = d
		return nil
	}
}

// WithDecisionCacheTTL bounds how long a memoized decision may be reused.
func WithDecisionCacheTTL(d time.Duration) EngineOption {
	return func(e *Engine) error {
		if d <= 0 {
			return fmt.Errorf("cache ttl must be positive")
		}
		e.cacheTTL = d
		return nil
	}
}

// WithCombineStrategy selects how conflicting allow/deny verdicts combine.
func WithCombineStrategy(s CombineStrategy) EngineOption {
	return func(e *Engine) error {
		e.combine = s
		return nil
	}
}

// WithActiveEvaluators restricts which of rbac, dac and abac run for a
// resource type. The mandatory evaluators always run.
func WithActiveEvaluators(resourceType string, names ...string) EngineOption {
	return func(e *Engine) error {
		for _, n := range names {
			if n != "rbac" && n != "dac" && n != "abac" {
				return fmt.Errorf("unknown evaluator %q", n)
			}
		}
		e.active[resourceType] = names
		return nil
	}
}

// WithLogger installs a structured logger.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.log = l
		return nil
	}
}

// WithTraceIDFunc installs a correlation ID generator used in audit
// entries and log lines.
func WithTraceIDFunc(f logger.TraceIDFunc) EngineOption {
	return func(e *Engine) error {
		e.traceID = f
		return nil
	}
}

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

func NewEngine(model *Model, opts ...EngineOption) (*Engine, error) {
	if model == nil {
		return nil, fmt.Errorf("engine needs a policy model")
	}
	e := &Engine{
		model:       model,
		attrTimeout: defaultAttrTimeout,
		cacheTTL:    defaultCacheTTL,
		active:      make(map[string][]string),
		mac:         NewMACEvaluator(model),
		rubac:       NewRuBACEvaluator(model),
		evaluators: map[string]Evaluator{
			"rbac": NewRBACEvaluator(model),
			"dac":  NewDACEvaluator(model),
			"abac": NewABACEvaluator(model),
		},
		now:  time.Now,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.cache == nil {
		e.cache = NewMemoryDecisionCache(0)
	}
	if e.audit == nil {
		e.audit = NewMemoryAuditRecorder()
	}
	if e.log == nil {
		e.log = logger.NewPhusluLogger()
	}
	if e.traceID == nil {
		e.traceID = defaultTraceID
	}

	e.auditCh = make(chan *AuditEntry, defaultAuditQueueLen)
	go e.auditWorker()
	return e, nil
}

// Close stops the audit worker after draining queued entries. Decisions
// made after Close are still returned but no longer reach the trail.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.auditMu.Lock()
		e.auditClosed = true
		close(e.auditCh)
		e.auditMu.Unlock()
		<-e.done
	})
}

// Authorize answers one authorization question. It always returns a
// definite decision: any evaluator's inability to reach a verdict results
// in denial, never in an error reaching the caller.
func (e *Engine) Authorize(ctx context.Context, sub *Subject, action Action, res *Resource, env *Environment) *Decision {
	return e.evaluate(ctx, sub, action, res, env, false, false)
}

// Explain is Authorize with a full per-evaluator trace attached. Explain
// bypasses the decision cache so the trace reflects a real evaluation.
func (e *Engine) Explain(ctx context.Context, sub *Subject, action Action, res *Resource, env *Environment) *Decision {
	return e.evaluate(ctx, sub, action, res, env, true, false)
}

// AuthorizeByID resolves subject and resource through the attribute source
// and then decides. Unknown identifiers deny with reason "unknown
// principal or resource".
func (e *Engine) AuthorizeByID(ctx context.Context, subjectID, resourceID string, action Action, env *Environment) *Decision {
	if e.attrs == nil {
		return e.refuse(ctx, subjectID, resourceID, action, "no attribute source configured")
	}
	partial := false
	sattrs, err := fetchWithTimeout(ctx, e.attrTimeout, func(fctx context.Context) (map[string]any, error) {
		return e.attrs.SubjectAttributes(fctx, subjectID)
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return e.refuse(ctx, subjectID, resourceID, action, "unknown principal or resource")
	case errors.Is(err, ErrTimeout):
		partial = true
	case err != nil:
		e.log.Error("subject attribute fetch failed", "subject", subjectID, "error", err.Error())
		partial = true
	}
	rattrs, err := fetchWithTimeout(ctx, e.attrTimeout, func(fctx context.Context) (map[string]any, error) {
		return e.attrs.ResourceAttributes(fctx, resourceID)
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return e.refuse(ctx, subjectID, resourceID, action, "unknown principal or resource")
	case errors.Is(err, ErrTimeout):
		partial = true
	case err != nil:
		e.log.Error("resource attribute fetch failed", "resource", resourceID, "error", err.Error())
		partial = true
	}
	sub := subjectFromAttrs(subjectID, sattrs)
	res := resourceFromAttrs(resourceID, rattrs)
	return e.evaluate(ctx, sub, action, res, env, false, partial)
}

// BatchAuthorize evaluates a slice of independent requests.
func (e *Engine) BatchAuthorize(ctx context.Context, reqs []Request) []*Decision {
	out := make([]*Decision, len(reqs))
	for i, r := range reqs {
		out[i] = e.Authorize(ctx, r.Subject, r.Action, r.Resource, r.Environment)
	}
	return out
}

// EffectiveActions probes which of the given actions the subject may
// perform on the resource right now.
func (e *Engine) EffectiveActions(ctx context.Context, sub *Subject, res *Resource, env *Environment, actions ...Action) []Action {
	allowed := make([]Action, 0, len(actions))
	for _, a := range actions {
		if e.Authorize(ctx, sub, a, res, env).Allowed {
			allowed = append(allowed, a)
		}
	}
	return allowed
}

func (e *Engine) evaluate(ctx context.Context, sub *Subject, action Action, res *Resource, env *Environment, explain, partial bool) *Decision {
	version := e.model.Version()
	now := e.now()
	if sub == nil || res == nil || sub.ID == "" || res.ID == "" {
		d := &Decision{Reason: "unknown principal or resource", Timestamp: now, Version: version}
		e.record(ctx, sub, res, action, d)
		return d
	}
	if env == nil {
		env = &Environment{Time: now}
	}

	// Enrich unresolved attributes through the adapter, bounded by the
	// fetch timeout. Timeouts degrade the depending evaluators instead of
	// hanging the decision. Enrichment works on shallow copies: the
	// caller's structs are never written, so one Subject may be shared
	// across concurrent calls.
	if e.attrs != nil {
		if sub.Attrs == nil {
			attrs, err := fetchWithTimeout(ctx, e.attrTimeout, func(fctx context.Context) (map[string]any, error) {
				return e.attrs.SubjectAttributes(fctx, sub.ID)
			})
			if errors.Is(err, ErrTimeout) {
				partial = true
			} else if err == nil {
				enriched := *sub
				enriched.Attrs = attrs
				sub = &enriched
			}
		}
		if res.Attrs == nil {
			attrs, err := fetchWithTimeout(ctx, e.attrTimeout, func(fctx context.Context) (map[string]any, error) {
				return e.attrs.ResourceAttributes(fctx, res.ID)
			})
			if errors.Is(err, ErrTimeout) {
				partial = true
			} else if err == nil {
				enriched := *res
				enriched.Attrs = attrs
				res = &enriched
			}
		}
	}

	key := CacheKey{
		SubjectID:  sub.ID,
		ResourceID: res.ID,
		Action:     action,
		Version:    version,
		AttrSum:    fingerprint(sub, res, env),
	}
	if !explain {
		if cached, ok := e.cache.Get(key); ok && cached.Version == version {
			return cached
		}
	}

	evalCtx := &EvalContext{
		Subject:      sub,
		Resource:     res,
		Action:       action,
		Environment:  env,
		AttrsPartial: partial,
	}
	d := &Decision{Timestamp: now, Version: version}
	var trace []string
	note := func(format string, args ...any) {
		if explain {
			trace = append(trace, fmt.Sprintf(format, args...))
		}
	}

	// The label ceiling comes first and is final on deny.
	macV := e.mac.Evaluate(evalCtx)
	note("mac: %s (%s)", macV.Effect, macV.Reason)
	if macV.Effect == Deny {
		e.finish(d, false, macV.Reason, macV.Rule, []string{e.mac.Name()}, trace)
		e.seal(ctx, key, sub, res, action, d, explain)
		return d
	}

	// Context-level veto comes second, also final on deny.
	rubacV := e.rubac.Evaluate(evalCtx)
	note("rubac: %s (%s)", rubacV.Effect, rubacV.Reason)
	if rubacV.Effect == Deny {
		e.finish(d, false, rubacV.Reason, rubacV.Rule, []string{e.rubac.Name()}, trace)
		e.seal(ctx, key, sub, res, action, d, explain)
		return d
	}

	verdicts := make([]Verdict, 0, 4)
	if macV.Effect == Allow {
		verdicts = append(verdicts, macV)
	}
	for _, name := range e.activeFor(res.Type) {
		ev, ok := e.evaluators[name]
		if !ok {
			continue
		}
		v := ev.Evaluate(evalCtx)
		note("%s: %s (%s)", name, v.Effect, v.Reason)
		verdicts = append(verdicts, v)
	}

	var firstDeny, firstAllow *Verdict
	var allowedBy []string
	for i := range verdicts {
		switch verdicts[i].Effect {
		case Deny:
			if firstDeny == nil {
				firstDeny = &verdicts[i]
			}
		case Allow:
			if firstAllow == nil {
				firstAllow = &verdicts[i]
			}
			allowedBy = append(allowedBy, verdicts[i].Evaluator)
		}
	}

	switch {
	case firstDeny != nil && (e.combine == DenyOverrides || firstAllow == nil):
		e.finish(d, false, firstDeny.Reason, firstDeny.Rule, []string{firstDeny.Evaluator}, trace)
	case firstAllow != nil:
		e.finish(d, true, firstAllow.Reason, firstAllow.Rule, allowedBy, trace)
	default:
		e.finish(d, false, "no evaluator granted access", "", nil, trace)
	}
	e.seal(ctx, key, sub, res, action, d, explain)
	return d
}

func (e *Engine) finish(d *Decision, allowed bool, reason, matchedBy string, evaluators []string, trace []string) {
	d.Allowed = allowed
	d.Reason = reason
	d.MatchedBy = matchedBy
	d.Evaluators = evaluators
	d.Trace = trace
}

// seal caches the decision and hands it to the audit trail. Explain results
// are not cached so their traces never leak into the hot path.
func (e *Engine) seal(ctx context.Context, key CacheKey, sub *Subject, res *Resource, action Action, d *Decision, explain bool) {
	if !explain {
		e.cache.Put(key, d, e.cacheTTL)
	}
	e.record(ctx, sub, res, action, d)
}

func (e *Engine) refuse(ctx context.Context, subjectID, resourceID string, action Action, reason string) *Decision {
	d := &Decision{Reason: reason, Timestamp: e.now(), Version: e.model.Version()}
	e.record(ctx, &Subject{ID: subjectID}, &Resource{ID: resourceID}, action, d)
	return d
}

func (e *Engine) activeFor(resourceType string) []string {
	if names, ok := e.active[resourceType]; ok {
		return names
	}
	if names, ok := e.active[""]; ok {
		return names
	}
	return defaultActive
}

// record logs the decision and queues the audit entry without blocking the
// request path. A full queue drops the entry; audit unavailability never
// blocks authorization.
func (e *Engine) record(_ context.Context, sub *Subject, res *Resource, action Action, d *Decision) {
	subjectID, resourceID := "", ""
	if sub != nil {
		subjectID = sub.ID
	}
	if res != nil {
		resourceID = res.ID
	}
	tid := e.traceID()
	e.log.Info("authorization decision",
		"trace_id", tid,
		"subject", subjectID,
		"resource", resourceID,
		"action", string(action),
		"allowed", d.Allowed,
		"reason", d.Reason,
		"matched_by", d.MatchedBy,
	)
	// the sequence suffix keeps IDs unique when decisions land in the same
	// nanosecond or the clock is pinned
	entry := &AuditEntry{
		ID:         strconv.FormatInt(e.now().UnixNano(), 10) + "-" + strconv.FormatInt(e.auditSeq.Add(1), 10),
		TraceID:    tid,
		Timestamp:  d.Timestamp,
		SubjectID:  subjectID,
		ResourceID: resourceID,
		Action:     action,
		Decision:   d,
		Evaluators: d.Evaluators,
	}
	e.auditMu.RLock()
	defer e.auditMu.RUnlock()
	if e.auditClosed {
		e.log.Error("engine closed, dropping audit entry", "trace_id", tid)
		return
	}
	select {
	case e.auditCh <- entry:
	default:
		e.log.Error("audit queue full, dropping entry", "trace_id", tid)
	}
}

func (e *Engine) auditWorker() {
	defer close(e.done)
	bg := context.Background()
	for entry := range e.auditCh {
		if err := e.audit.Record(bg, entry); err != nil {
			e.log.Error("audit write failed", "trace_id", entry.TraceID, "error", err.Error())
		}
	}
}

// AuditTrail exposes the recorder's query side.
func (e *Engine) AuditTrail(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	return e.audit.Entries(ctx, filter)
}

func defaultTraceID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

func subjectFromAttrs(id string, attrs map[string]any) *Subject {
	sub := &Subject{ID: id, Attrs: map[string]any{}}
	if attrs == nil {
		return sub
	}
	for k, v := range attrs {
		switch k {
		case "roles":
			sub.Roles = toStringSlice(v)
		case "groups":
			sub.Groups = toStringSlice(v)
		case "clearance":
			if s, ok := v.(string); ok {
				if l, err := ParseLabel(s); err == nil {
					sub.Clearance = l
				}
			}
		default:
			sub.Attrs[k] = v
		}
	}
	return sub
}

func resourceFromAttrs(id string, attrs map[string]any) *Resource {
	res := &Resource{ID: id, Attrs: map[string]any{}}
	if attrs == nil {
		return res
	}
	for k, v := range attrs {
		switch k {
		case "type":
			res.Type, _ = v.(string)
		case "owner_id":
			res.OwnerID, _ = v.(string)
		case "label":
			if s, ok := v.(string); ok {
				if l, err := ParseLabel(s); err == nil {
					res.Label = l
				}
			}
		default:
			res.Attrs[k] = v
		}
	}
	return res
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, s := range splitCSV(vv) {
			out = append(out, s)
		}
		return out
	}
	return nil
}

package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/entitle/pkg/cache"
	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/profiles"
	"github.com/platinummonkey/entitle/pkg/roles"
	"github.com/platinummonkey/entitle/pkg/specialaccess"
	"github.com/platinummonkey/entitle/pkg/storage"
	"github.com/platinummonkey/entitle/pkg/subscriptions"
	"github.com/platinummonkey/entitle/pkg/usage"
)

const tracerName = "entitle/entitlements"

// RoleReader looks up administrative roles for authorization. Reads must
// observe every committed role change for the organization.
type RoleReader interface {
	RoleOf(ctx context.Context, orgID, subjectID string) (roles.Role, error)
}

// Option configures a Resolver or Engine
type Option func(*options)

type options struct {
	metrics        *observability.Metrics
	tracerProvider trace.TracerProvider
	logger         *observability.Logger
	clock          func() time.Time
	cache          *cache.Config
}

// WithMetrics records decisions and store failures
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider overrides the global tracer provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithLogger sets the fallback logger. A logger in the request context wins.
func WithLogger(l *observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the time used when a request carries none
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithCache serves override and subscription reads from a short-lived
// cache. Only the Engine honors it.
func WithCache(cfg cache.Config) Option {
	return func(o *options) { o.cache = &cfg }
}

func buildOptions(opts []Option) options {
	o := options{
		tracerProvider: otel.GetTracerProvider(),
		logger:         observability.Discard(),
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DefaultSources builds the precedence chain: override, profile,
// subscription, then the free tier. Nil stores are skipped.
func DefaultSources(catalog *plans.Catalog, overrides specialaccess.Store, profileStore profiles.Store, subs subscriptions.Store) []LimitSource {
	var sources []LimitSource
	if overrides != nil {
		sources = append(sources, OverrideSource{Store: overrides})
	}
	if profileStore != nil {
		sources = append(sources, ProfileSource{Store: profileStore})
	}
	if subs != nil {
		sources = append(sources, SubscriptionSource{Store: subs, Catalog: catalog})
	}
	return append(sources, FreeTierSource{Catalog: catalog})
}

// Resolver decides capability requests and consumes quota
type Resolver struct {
	sources []LimitSource
	roles   RoleReader
	ledger  usage.Ledger
	metrics *observability.Metrics
	tracer  trace.Tracer
	logger  *observability.Logger
	now     func() time.Time
}

// NewResolver creates a Resolver. The first source that resolves a limit
// wins, so the last source should always resolve.
func NewResolver(roleReader RoleReader, ledger usage.Ledger, sources []LimitSource, opts ...Option) (*Resolver, error) {
	if roleReader == nil {
		return nil, fmt.Errorf("role reader is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("usage ledger is required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one limit source is required")
	}
	o := buildOptions(opts)
	return &Resolver{
		sources: sources,
		roles:   roleReader,
		ledger:  ledger,
		metrics: o.metrics,
		tracer:  o.tracerProvider.Tracer(tracerName),
		logger:  o.logger,
		now:     o.clock,
	}, nil
}

// CheckAndConsume decides req and, when granted, records one use of the
// capability in the period containing req.Now. Denials are decisions, not
// errors; errors mean a store failed and nothing was consumed.
func (r *Resolver) CheckAndConsume(ctx context.Context, req Request) (Decision, error) {
	req = req.normalize(r.now)
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "CheckAndConsume", trace.WithAttributes(requestAttributes(req)...))
	defer span.End()

	d, err := r.checkAndConsume(ctx, req)
	r.observe(ctx, span, "check_and_consume", req, d, err, start)
	return d, err
}

func (r *Resolver) checkAndConsume(ctx context.Context, req Request) (Decision, error) {
	if d, ok, err := r.authorize(ctx, req); err != nil || !ok {
		return d, err
	}

	limit, source, err := r.resolveLimit(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{
		Capability: req.Capability,
		Limit:      limit,
		Source:     source,
		PeriodKey:  usage.PeriodKey(req.Now),
	}

	count, err := r.ledger.TryIncrement(ctx, req.SubjectID, req.Capability, req.Now, limit)
	var exceeded *usage.QuotaExceededError
	if errors.As(err, &exceeded) {
		d.Reason = ReasonQuotaExceeded
		d.Used = exceeded.Current
		return d, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("failed to consume quota: %w", err)
	}

	d.Allowed = true
	d.Used = count
	d.Remaining = limit.Remaining(count)
	return d, nil
}

// Peek reports what CheckAndConsume would decide without consuming
// anything. A concurrent consumer may change the answer immediately.
func (r *Resolver) Peek(ctx context.Context, req Request) (Decision, error) {
	req = req.normalize(r.now)
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "Peek", trace.WithAttributes(requestAttributes(req)...))
	defer span.End()

	d, err := r.peek(ctx, req)
	r.observe(ctx, span, "peek", req, d, err, start)
	return d, err
}

func (r *Resolver) peek(ctx context.Context, req Request) (Decision, error) {
	if d, ok, err := r.authorize(ctx, req); err != nil || !ok {
		return d, err
	}

	limit, source, err := r.resolveLimit(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	count, err := r.ledger.CurrentCount(ctx, req.SubjectID, req.Capability, req.Now)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read usage: %w", err)
	}

	d := Decision{
		Allowed:    limit.IsUnbounded() || count < int64(limit),
		Remaining:  limit.Remaining(count),
		Capability: req.Capability,
		Limit:      limit,
		Used:       count,
		Source:     source,
		PeriodKey:  usage.PeriodKey(req.Now),
	}
	if !d.Allowed {
		d.Reason = ReasonQuotaExceeded
	}
	return d, nil
}

// ResolveLimit returns the effective limit for req and the name of the
// source that supplied it. Unknown capabilities resolve to zero.
func (r *Resolver) ResolveLimit(ctx context.Context, req Request) (plans.Limit, string, error) {
	return r.resolveLimit(ctx, req.normalize(r.now))
}

func (r *Resolver) resolveLimit(ctx context.Context, req Request) (plans.Limit, string, error) {
	if !req.Capability.IsKnown() {
		return 0, "", nil
	}
	for _, src := range r.sources {
		l, ok, err := src.TryResolve(ctx, req)
		if err != nil {
			return 0, "", err
		}
		if ok {
			return l, src.Name(), nil
		}
	}
	return 0, "", nil
}

// authorize checks the acting subject's role for administrative
// capabilities. ok=false with a nil error is a not_authorized denial.
func (r *Resolver) authorize(ctx context.Context, req Request) (Decision, bool, error) {
	if !req.Capability.IsAdministrative() {
		return Decision{}, true, nil
	}
	role, err := r.roles.RoleOf(ctx, req.OrganizationID, req.ActingSubjectID)
	if err != nil {
		return Decision{}, false, fmt.Errorf("failed to read role: %w", err)
	}
	if !role.CanAdminister() {
		return Decision{Capability: req.Capability, Reason: ReasonNotAuthorized}, false, nil
	}
	return Decision{}, true, nil
}

func requestAttributes(req Request) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("subject_id", req.SubjectID),
		attribute.String("organization_id", req.OrganizationID),
		attribute.String("capability", string(req.Capability)),
		attribute.String("period_key", usage.PeriodKey(req.Now)),
	}
}

func (r *Resolver) observe(ctx context.Context, span trace.Span, operation string, req Request, d Decision, err error, start time.Time) {
	logger := observability.WithTraceContext(ctx, observability.FromContext(ctx, r.logger)).WithFields(map[string]any{
		"subject_id":      req.SubjectID,
		"organization_id": req.OrganizationID,
		"capability":      string(req.Capability),
		"operation":       operation,
	})

	if r.metrics != nil {
		r.metrics.DecisionDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision failed")
		kind := "error"
		if errors.Is(err, storage.ErrUnavailable) {
			kind = "unavailable"
		}
		if r.metrics != nil {
			r.metrics.StoreErrorsTotal.WithLabelValues(operation, kind).Inc()
		}
		logger.WithError(err).Error("entitlement decision failed")
		return
	}

	source := d.Source
	if source == "" {
		source = "none"
	}
	span.SetAttributes(
		attribute.Bool("allowed", d.Allowed),
		attribute.String("source", source),
		attribute.String("remaining", d.Remaining.String()),
	)
	if d.Reason != "" {
		span.SetAttributes(attribute.String("reason", string(d.Reason)))
	}
	span.SetStatus(codes.Ok, "")

	if operation == "check_and_consume" && r.metrics != nil {
		r.metrics.DecisionsTotal.WithLabelValues(string(req.Capability), d.Outcome(), source).Inc()
	}

	if d.Allowed {
		logger.Debug("capability granted", "source", source, "limit", d.Limit.String(), "used", d.Used)
		return
	}
	if operation != "check_and_consume" {
		logger.Debug("capability would be denied", "reason", string(d.Reason), "source", source)
		return
	}
	logger.Info("capability denied", "reason", string(d.Reason), "source", source, "limit", d.Limit.String(), "used", d.Used)
}

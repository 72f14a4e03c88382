package entitlements

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/profiles"
	"github.com/platinummonkey/entitle/pkg/roles"
	"github.com/platinummonkey/entitle/pkg/specialaccess"
	"github.com/platinummonkey/entitle/pkg/storage"
	"github.com/platinummonkey/entitle/pkg/storage/storagetest"
	"github.com/platinummonkey/entitle/pkg/usage"
)

type fakeRoles struct {
	role  roles.Role
	err   error
	calls atomic.Int32
}

func (f *fakeRoles) RoleOf(context.Context, string, string) (roles.Role, error) {
	f.calls.Add(1)
	return f.role, f.err
}

// fakeLedger keeps counters in memory. It is not safe for concurrent use.
type fakeLedger struct {
	counts map[string]int64
	err    error
	calls  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{counts: map[string]int64{}}
}

func (l *fakeLedger) key(subject string, c plans.Capability, now time.Time) string {
	return subject + "/" + string(c) + "/" + usage.PeriodKey(now)
}

func (l *fakeLedger) CurrentCount(_ context.Context, subject string, c plans.Capability, now time.Time) (int64, error) {
	l.calls++
	if l.err != nil {
		return 0, l.err
	}
	return l.counts[l.key(subject, c, now)], nil
}

func (l *fakeLedger) TryIncrement(_ context.Context, subject string, c plans.Capability, now time.Time, limit plans.Limit) (int64, error) {
	l.calls++
	if l.err != nil {
		return 0, l.err
	}
	k := l.key(subject, c, now)
	if !limit.IsUnbounded() && l.counts[k] >= int64(limit) {
		return 0, &usage.QuotaExceededError{SubjectID: subject, Capability: c, PeriodKey: usage.PeriodKey(now), Current: l.counts[k], Limit: limit}
	}
	l.counts[k]++
	return l.counts[k], nil
}

func (l *fakeLedger) History(context.Context, string) ([]usage.PeriodUsage, error) {
	return nil, l.err
}

type fakeOverrides struct {
	override *specialaccess.Override
	err      error
}

func (f fakeOverrides) Get(context.Context, string, string) (*specialaccess.Override, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.override == nil {
		return nil, storage.ErrNotFound
	}
	return f.override, nil
}

type fixedSource struct {
	name  string
	limit plans.Limit
	ok    bool
}

func (s fixedSource) Name() string { return s.name }

func (s fixedSource) TryResolve(context.Context, Request) (plans.Limit, bool, error) {
	return s.limit, s.ok, nil
}

func newTestResolver(t *testing.T, ledger usage.Ledger, sources []LimitSource, opts ...Option) *Resolver {
	t.Helper()
	if sources == nil {
		sources = DefaultSources(plans.DefaultCatalog(), nil, nil, nil)
	}
	r, err := NewResolver(&fakeRoles{role: roles.RoleAdmin}, ledger, sources, opts...)
	require.NoError(t, err)
	return r
}

func TestNewResolver_Validation(t *testing.T) {
	sources := DefaultSources(plans.DefaultCatalog(), nil, nil, nil)

	_, err := NewResolver(nil, newFakeLedger(), sources)
	assert.Error(t, err)
	_, err = NewResolver(&fakeRoles{}, nil, sources)
	assert.Error(t, err)
	_, err = NewResolver(&fakeRoles{}, newFakeLedger(), nil)
	assert.Error(t, err)
}

func TestDefaultSources_Order(t *testing.T) {
	catalog := plans.DefaultCatalog()
	var names []string
	for _, s := range DefaultSources(catalog, fakeOverrides{}, profiles.Store(nil), nil) {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{SourceOverride, SourceFreeTier}, names)
}

func TestResolver_FirstMatchingSourceWins(t *testing.T) {
	r := newTestResolver(t, newFakeLedger(), []LimitSource{
		fixedSource{name: "a", ok: false, limit: 1},
		fixedSource{name: "b", ok: true, limit: 2},
		fixedSource{name: "c", ok: true, limit: 3},
	})

	l, src, err := r.ResolveLimit(context.Background(), Request{SubjectID: "u1", Capability: plans.CapabilityAlerts})
	require.NoError(t, err)
	assert.Equal(t, plans.Limit(2), l)
	assert.Equal(t, "b", src)
}

func TestResolver_ExactlyLimitGrants(t *testing.T) {
	for _, limit := range []plans.Limit{0, 1, 7} {
		t.Run(limit.String(), func(t *testing.T) {
			r := newTestResolver(t, newFakeLedger(), []LimitSource{fixedSource{name: "fixed", ok: true, limit: limit}})
			req := Request{SubjectID: "u1", Capability: plans.CapabilityGroups, Now: march}

			var grants int
			for i := 0; i < int(limit)+3; i++ {
				d, err := r.CheckAndConsume(context.Background(), req)
				require.NoError(t, err)
				if d.Allowed {
					grants++
					continue
				}
				assert.Equal(t, ReasonQuotaExceeded, d.Reason)
				assert.Equal(t, plans.Limit(0), d.Remaining)
			}
			assert.Equal(t, int(limit), grants)
		})
	}
}

func TestResolver_ConcurrentCallersNeverOvershoot(t *testing.T) {
	const limit = 10
	const callers = 30

	ledgers := map[string]func(t *testing.T) usage.Ledger{
		"sql": func(t *testing.T) usage.Ledger {
			return usage.NewSQLLedger(storagetest.NewManager(t))
		},
		"redis": func(t *testing.T) usage.Ledger {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return usage.NewRedisLedger(client, "")
		},
	}

	for name, newLedger := range ledgers {
		t.Run(name, func(t *testing.T) {
			ledger := newLedger(t)
			r := newTestResolver(t, ledger, []LimitSource{fixedSource{name: "fixed", ok: true, limit: limit}})
			req := Request{SubjectID: "u1", Capability: plans.CapabilityAlerts, Now: march}

			var granted atomic.Int32
			var g errgroup.Group
			for i := 0; i < callers; i++ {
				g.Go(func() error {
					d, err := r.CheckAndConsume(context.Background(), req)
					if err != nil {
						return err
					}
					if d.Allowed {
						granted.Add(1)
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			assert.Equal(t, int32(limit), granted.Load())
			count, err := ledger.CurrentCount(context.Background(), "u1", plans.CapabilityAlerts, march)
			require.NoError(t, err)
			assert.Equal(t, int64(limit), count)
		})
	}
}

func TestResolver_AuthorizationBeforeQuota(t *testing.T) {
	ledger := newFakeLedger()
	rr := &fakeRoles{role: roles.RoleNone}
	r, err := NewResolver(rr, ledger, DefaultSources(plans.DefaultCatalog(), nil, nil, nil))
	require.NoError(t, err)

	d, err := r.CheckAndConsume(context.Background(), Request{
		SubjectID:       "u1",
		OrganizationID:  "org-1",
		ActingSubjectID: "u2",
		Capability:      plans.CapabilityAdmins,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotAuthorized, d.Reason)
	assert.Zero(t, ledger.calls, "quota must not be touched")

	_, err = r.CheckAndConsume(context.Background(), Request{SubjectID: "u1", Capability: plans.CapabilityAlerts})
	require.NoError(t, err)
	assert.Equal(t, int32(1), rr.calls.Load(), "non-administrative capabilities skip the role check")
}

func TestResolver_StoreFailuresPropagate(t *testing.T) {
	unavailable := fmt.Errorf("%w: timeout", storage.ErrUnavailable)

	t.Run("ledger", func(t *testing.T) {
		ledger := newFakeLedger()
		ledger.err = unavailable
		r := newTestResolver(t, ledger, nil)

		_, err := r.CheckAndConsume(context.Background(), Request{SubjectID: "u1", Capability: plans.CapabilityAlerts})
		assert.ErrorIs(t, err, storage.ErrUnavailable)
	})

	t.Run("override store", func(t *testing.T) {
		ledger := newFakeLedger()
		sources := DefaultSources(plans.DefaultCatalog(), fakeOverrides{err: unavailable}, nil, nil)
		r := newTestResolver(t, ledger, sources)

		_, err := r.CheckAndConsume(context.Background(), Request{SubjectID: "u1", Capability: plans.CapabilityAlerts})
		assert.ErrorIs(t, err, storage.ErrUnavailable)
		assert.Zero(t, ledger.calls)
	})

	t.Run("role store", func(t *testing.T) {
		r, err := NewResolver(&fakeRoles{err: unavailable}, newFakeLedger(), DefaultSources(plans.DefaultCatalog(), nil, nil, nil))
		require.NoError(t, err)

		_, err = r.CheckAndConsume(context.Background(), Request{SubjectID: "u1", Capability: plans.CapabilityAdmins})
		assert.ErrorIs(t, err, storage.ErrUnavailable)
	})
}

func TestResolver_IneffectiveOverrideIgnored(t *testing.T) {
	expired := march.Add(-time.Second)
	sources := DefaultSources(plans.DefaultCatalog(), fakeOverrides{override: &specialaccess.Override{
		AccessType: specialaccess.AccessUnlimited,
		IsActive:   true,
		ExpiresAt:  &expired,
	}}, nil, nil)
	r := newTestResolver(t, newFakeLedger(), sources)

	l, src, err := r.ResolveLimit(context.Background(), Request{SubjectID: "u1", Capability: plans.CapabilityAlerts, Now: march})
	require.NoError(t, err)
	assert.Equal(t, plans.Limit(25), l)
	assert.Equal(t, SourceFreeTier, src)

	l, src, err = r.ResolveLimit(context.Background(), Request{SubjectID: "u1", Capability: plans.CapabilityAlerts, Now: expired.Add(-time.Hour)})
	require.NoError(t, err)
	assert.True(t, l.IsUnbounded())
	assert.Equal(t, SourceOverride, src)
}

func TestResolver_UsesClockWhenRequestHasNoTime(t *testing.T) {
	ledger := newFakeLedger()
	r := newTestResolver(t, ledger, nil, WithClock(func() time.Time { return march }))

	d, err := r.CheckAndConsume(context.Background(), Request{SubjectID: "u1", Capability: plans.CapabilityAlerts})
	require.NoError(t, err)
	assert.Equal(t, "2024-03", d.PeriodKey)
	assert.Equal(t, int64(1), ledger.counts["u1/alerts/2024-03"])
}

func TestResolver_Metrics(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	ledger := newFakeLedger()
	r := newTestResolver(t, ledger, []LimitSource{fixedSource{name: "fixed", ok: true, limit: 1}}, WithMetrics(m))
	req := Request{SubjectID: "u1", Capability: plans.CapabilityAlerts, Now: march}

	for i := 0; i < 3; i++ {
		_, err := r.CheckAndConsume(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("alerts", "granted", "fixed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("alerts", "quota_exceeded", "fixed")))

	ledger.err = fmt.Errorf("%w: reset", storage.ErrUnavailable)
	_, err := r.CheckAndConsume(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("check_and_consume", "unavailable")))

	ledger.err = errors.New("constraint violated")
	_, err = r.Peek(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("peek", "error")))
}

func TestResolver_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	r := newTestResolver(t, newFakeLedger(), nil, WithTracerProvider(tp))

	_, err := r.CheckAndConsume(context.Background(), Request{SubjectID: "u1", OrganizationID: "org-1", Capability: plans.CapabilityAlerts, Now: march})
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "CheckAndConsume", spans[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "u1", attrs["subject_id"].AsString())
	assert.Equal(t, "2024-03", attrs["period_key"].AsString())
	assert.True(t, attrs["allowed"].AsBool())
	assert.Equal(t, SourceFreeTier, attrs["source"].AsString())
	assert.Equal(t, "24", attrs["remaining"].AsString())
}

func TestResolver_PeekDoesNotConsume(t *testing.T) {
	ledger := newFakeLedger()
	r := newTestResolver(t, ledger, []LimitSource{fixedSource{name: "fixed", ok: true, limit: 2}})
	req := Request{SubjectID: "u1", Capability: plans.CapabilityAlerts, Now: march}

	for i := 0; i < 3; i++ {
		d, err := r.Peek(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, plans.Limit(2), d.Remaining)
	}
	assert.Empty(t, ledger.counts)
}

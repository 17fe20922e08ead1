package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/GabrielHori/horizon-worker/internal/guard"
	"github.com/GabrielHori/horizon-worker/internal/horizon"
	"github.com/GabrielHori/horizon-worker/internal/ratelimit"
	"github.com/GabrielHori/horizon-worker/internal/telemetry"
)

func newTestRegistry(handlers map[string]Handler) *Registry {
	return New(guard.New(), ratelimit.NewSlidingLimiter(), handlers)
}

func TestDispatch_UnknownCommandDeniedByGuard(t *testing.T) {
	r := newTestRegistry(nil)
	_, err := r.Dispatch(context.Background(), horizon.Request{ID: "1", Cmd: "nope"}, "client")
	de, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, horizon.CodePermissionDenied, de.Code)
}

func TestDispatch_PermissionRequiredDeniesWithoutGrant(t *testing.T) {
	r := newTestRegistry(map[string]Handler{
		horizon.CmdAnalyzeRepository: func(ctx context.Context, req horizon.Request) (Result, error) {
			return Result{Value: "ok"}, nil
		},
	})
	_, err := r.Dispatch(context.Background(), horizon.Request{ID: "1", Cmd: horizon.CmdAnalyzeRepository}, "client")
	de, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, horizon.CodePermissionDenied, de.Code)
}

func TestDispatch_PayloadTooLarge(t *testing.T) {
	g := guard.New()
	r := New(g, ratelimit.NewSlidingLimiter(), map[string]Handler{
		horizon.CmdHealthCheck: func(ctx context.Context, req horizon.Request) (Result, error) {
			return Result{Value: "ok"}, nil
		},
	})
	huge := make(json.RawMessage, 2*1024*1024)
	for i := range huge {
		huge[i] = 'x'
	}
	_, err := r.Dispatch(context.Background(), horizon.Request{ID: "1", Cmd: horizon.CmdHealthCheck, Payload: huge}, "client")
	de, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, horizon.CodePayloadTooLarge, de.Code)
}

func TestDispatch_RateLimitExceededCarriesRetryAfter(t *testing.T) {
	rl := ratelimit.NewSlidingLimiter()
	rl.SetLimit(horizon.CmdHealthCheck, 1)
	r := New(guard.New(), rl, map[string]Handler{
		horizon.CmdHealthCheck: func(ctx context.Context, req horizon.Request) (Result, error) {
			return Result{Value: "ok"}, nil
		},
	})

	_, err := r.Dispatch(context.Background(), horizon.Request{ID: "1", Cmd: horizon.CmdHealthCheck}, "client")
	require.NoError(t, err)

	_, err = r.Dispatch(context.Background(), horizon.Request{ID: "2", Cmd: horizon.CmdHealthCheck}, "client")
	de, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, horizon.CodeRateLimitExceeded, de.Code)
	require.Greater(t, de.RetryAfter, int64(0))
}

func TestDispatch_SuccessfulHandlerRuns(t *testing.T) {
	r := newTestRegistry(map[string]Handler{
		horizon.CmdHealthCheck: func(ctx context.Context, req horizon.Request) (Result, error) {
			return Result{Value: map[string]bool{"ok": true}}, nil
		},
	})
	res, err := r.Dispatch(context.Background(), horizon.Request{ID: "1", Cmd: horizon.CmdHealthCheck}, "client")
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"ok": true}, res.Value)
}

func TestDispatch_RecordsMetricsWhenAttached(t *testing.T) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())
	r := newTestRegistry(map[string]Handler{
		horizon.CmdHealthCheck: func(ctx context.Context, req horizon.Request) (Result, error) {
			return Result{Value: map[string]bool{"ok": true}}, nil
		},
	}).SetMetrics(m)

	_, err := r.Dispatch(context.Background(), horizon.Request{ID: "1", Cmd: horizon.CmdHealthCheck}, "client")
	require.NoError(t, err)

	require.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues(horizon.CmdHealthCheck, horizon.StatusOK)))
	require.Equal(t, float64(0), testutil.ToFloat64(m.ActiveRequests))
}

func TestDispatch_GrantedPermissionAllowsThrough(t *testing.T) {
	g := guard.New()
	g.Grant(horizon.PermRepoAnalyze)
	r := New(g, ratelimit.NewSlidingLimiter(), map[string]Handler{
		horizon.CmdAnalyzeRepository: func(ctx context.Context, req horizon.Request) (Result, error) {
			return Result{Value: "ok"}, nil
		},
	})
	res, err := r.Dispatch(context.Background(), horizon.Request{ID: "1", Cmd: horizon.CmdAnalyzeRepository}, "client")
	require.NoError(t, err)
	require.Equal(t, "ok", res.Value)
}

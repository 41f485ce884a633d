package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
	"github.com/Nyukimin/storefront_agent/internal/domain/routing"
	inframcp "github.com/Nyukimin/storefront_agent/internal/infrastructure/mcp"
)

type stubOracle struct {
	decision routing.Decision
	err      error
	calls    int32
}

func (o *stubOracle) DecideRoute(ctx context.Context, utterance string, backends []domainmcp.Descriptor) (routing.Decision, error) {
	atomic.AddInt32(&o.calls, 1)
	return o.decision, o.err
}

type fakeConnector struct {
	connectOK    bool
	connectDelay time.Duration
	result       any
	callErr      error
	pingErr      error

	mu         sync.Mutex
	connected  bool
	connects   int
	calls      int
	lastOp     string
	lastParams map[string]any
}

func (c *fakeConnector) Connect(ctx context.Context) bool {
	if c.connectDelay > 0 {
		select {
		case <-time.After(c.connectDelay):
		case <-ctx.Done():
			return false
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	c.connected = c.connectOK
	return c.connectOK
}

func (c *fakeConnector) ListOperations(ctx context.Context) ([]domainmcp.Operation, error) {
	return []domainmcp.Operation{{Name: "get_categories"}}, nil
}

func (c *fakeConnector) Call(ctx context.Context, name string, params map[string]any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastOp = name
	c.lastParams = params
	return c.result, c.callErr
}

func (c *fakeConnector) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConnector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeConnector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

type countingFactory struct {
	conn  *fakeConnector
	calls int32
}

func (f *countingFactory) New(d domainmcp.Descriptor) (domainmcp.Connector, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.conn, nil
}

func newRegistry(t *testing.T) *inframcp.Registry {
	t.Helper()
	reg := inframcp.NewRegistry()
	require.NoError(t, reg.Register(domainmcp.Descriptor{
		Name:    "storefront",
		Address: "http://localhost:8000",
	}))
	return reg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func routeTo(backend, op string, params map[string]any) routing.Decision {
	return routing.NewDecision(backend, op, params, 0.9, "matched")
}

func TestExecuteRequest_Completed(t *testing.T) {
	conn := &fakeConnector{connectOK: true, result: []any{"Electronics", "Books"}}
	factory := &countingFactory{conn: conn}
	oracle := &stubOracle{decision: routeTo("storefront", "get_categories", nil)}
	r := New(newRegistry(t), oracle, factory, WithLogger(quietLogger()))

	outcome := r.ExecuteRequest(context.Background(), "Show me all categories")

	assert.True(t, outcome.Success)
	assert.Equal(t, routing.StateCompleted, outcome.State)
	assert.Equal(t, "storefront", outcome.Backend)
	assert.Equal(t, "get_categories", outcome.Operation)
	assert.Equal(t, []any{"Electronics", "Books"}, outcome.Result)
	require.NotNil(t, outcome.Decision)
	assert.Equal(t, "matched", outcome.Decision.Reasoning)
	assert.Equal(t, "get_categories", conn.lastOp)
	assert.NotNil(t, conn.lastParams)
}

func TestExecuteRequest_NilResultBecomesEmptyObject(t *testing.T) {
	conn := &fakeConnector{connectOK: true}
	oracle := &stubOracle{decision: routeTo("storefront", "get_categories", nil)}
	r := New(newRegistry(t), oracle, &countingFactory{conn: conn}, WithLogger(quietLogger()))

	outcome := r.ExecuteRequest(context.Background(), "categories")

	assert.True(t, outcome.Success)
	assert.Equal(t, map[string]any{}, outcome.Result)
}

func TestExecuteRequest_OracleFailed(t *testing.T) {
	factory := &countingFactory{conn: &fakeConnector{connectOK: true}}
	oracle := &stubOracle{err: errors.New("quota exceeded")}
	r := New(newRegistry(t), oracle, factory, WithLogger(quietLogger()))

	outcome := r.ExecuteRequest(context.Background(), "anything")

	assert.False(t, outcome.Success)
	assert.Equal(t, routing.StateOracleFailed, outcome.State)
	assert.Contains(t, outcome.Error, "quota exceeded")
	assert.Nil(t, outcome.Decision)
	assert.Equal(t, int32(0), atomic.LoadInt32(&factory.calls))
}

func TestExecuteRequest_NullRouteNeverTouchesBackend(t *testing.T) {
	tests := []struct {
		name     string
		decision routing.Decision
	}{
		{"null backend", routing.NullDecision("weather is out of scope")},
		{"backend without operation", routeTo("storefront", "", nil)},
		{"parse failure", routing.ParseFailure("invalid character")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConnector{connectOK: true}
			factory := &countingFactory{conn: conn}
			r := New(newRegistry(t), &stubOracle{decision: tt.decision}, factory, WithLogger(quietLogger()))

			outcome := r.ExecuteRequest(context.Background(), "What's the weather?")

			assert.False(t, outcome.Success)
			assert.Equal(t, routing.StateUnroutable, outcome.State)
			assert.Equal(t, routing.ErrNoToolSelected, outcome.Error)
			require.NotNil(t, outcome.Decision)
			assert.Equal(t, tt.decision.Reasoning, outcome.Reasoning())
			assert.Equal(t, int32(0), atomic.LoadInt32(&factory.calls))
			assert.Equal(t, 0, conn.calls)
		})
	}
}

func TestExecuteRequest_UnknownBackend(t *testing.T) {
	factory := &countingFactory{conn: &fakeConnector{connectOK: true}}
	oracle := &stubOracle{decision: routeTo("ghost", "get_product", map[string]any{"product_id": "1"})}
	r := New(newRegistry(t), oracle, factory, WithLogger(quietLogger()))

	outcome := r.ExecuteRequest(context.Background(), "find product 1")

	assert.False(t, outcome.Success)
	assert.Equal(t, routing.StateConnectFailed, outcome.State)
	assert.Contains(t, outcome.Error, "failed to connect to server")
	assert.Contains(t, outcome.Error, "ghost")
	assert.Equal(t, "ghost", outcome.Backend)
	assert.Equal(t, int32(0), atomic.LoadInt32(&factory.calls))
}

func TestExecuteRequest_ConnectFailedIsNotCached(t *testing.T) {
	conn := &fakeConnector{connectOK: false}
	factory := &countingFactory{conn: conn}
	oracle := &stubOracle{decision: routeTo("storefront", "get_categories", nil)}
	r := New(newRegistry(t), oracle, factory, WithLogger(quietLogger()))

	first := r.ExecuteRequest(context.Background(), "categories")
	second := r.ExecuteRequest(context.Background(), "categories")

	assert.Equal(t, routing.StateConnectFailed, first.State)
	assert.Equal(t, routing.StateConnectFailed, second.State)
	assert.Contains(t, first.Error, "storefront")
	assert.Equal(t, 2, conn.connects)
	assert.Equal(t, 0, conn.calls)
	_, ok := r.Connection("storefront")
	assert.False(t, ok)
}

func TestExecuteRequest_CallFailed(t *testing.T) {
	conn := &fakeConnector{
		connectOK: true,
		callErr:   domainmcp.NewHTTPStatusError("get_product", 404, "Product not found"),
	}
	params := map[string]any{"product_id": "999"}
	oracle := &stubOracle{decision: routeTo("storefront", "get_product", params)}
	r := New(newRegistry(t), oracle, &countingFactory{conn: conn}, WithLogger(quietLogger()))

	outcome := r.ExecuteRequest(context.Background(), "product 999")

	assert.False(t, outcome.Success)
	assert.Equal(t, routing.StateCallFailed, outcome.State)
	assert.Equal(t, "HTTP error 404: Product not found", outcome.Error)
	assert.Equal(t, params, outcome.Parameters)
	assert.Equal(t, "matched", outcome.Reasoning())
}

func TestExecuteRequest_ReusesConnection(t *testing.T) {
	conn := &fakeConnector{connectOK: true, result: map[string]any{"ok": true}}
	factory := &countingFactory{conn: conn}
	oracle := &stubOracle{decision: routeTo("storefront", "get_categories", nil)}
	r := New(newRegistry(t), oracle, factory, WithLogger(quietLogger()))

	r.ExecuteRequest(context.Background(), "categories")
	r.ExecuteRequest(context.Background(), "categories again")

	assert.Equal(t, 1, conn.connects)
	assert.Equal(t, 2, conn.calls)
	assert.Equal(t, int32(1), atomic.LoadInt32(&factory.calls))
}

func TestExecuteRequest_ReconnectsDeadConnection(t *testing.T) {
	conn := &fakeConnector{connectOK: true, result: "ok"}
	oracle := &stubOracle{decision: routeTo("storefront", "get_categories", nil)}
	r := New(newRegistry(t), oracle, &countingFactory{conn: conn}, WithLogger(quietLogger()))

	r.ExecuteRequest(context.Background(), "categories")
	conn.Disconnect()
	outcome := r.ExecuteRequest(context.Background(), "categories")

	assert.True(t, outcome.Success)
	assert.Equal(t, 2, conn.connects)
}

func TestEnsureConnection_ConcurrentCallersShareOneConnect(t *testing.T) {
	conn := &fakeConnector{connectOK: true, connectDelay: 50 * time.Millisecond}
	factory := &countingFactory{conn: conn}
	r := New(newRegistry(t), &stubOracle{}, factory, WithLogger(quietLogger()))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.EnsureConnection(context.Background(), "storefront")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, conn.connects)
	assert.Equal(t, int32(1), atomic.LoadInt32(&factory.calls))
}

func TestEnsureConnection_CanceledCallerDoesNotFailOthers(t *testing.T) {
	conn := &fakeConnector{connectOK: true, connectDelay: 100 * time.Millisecond}
	factory := &countingFactory{conn: conn}
	r := New(newRegistry(t), &stubOracle{}, factory, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.EnsureConnection(ctx, "storefront")
		firstErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	secondErr := make(chan error, 1)
	go func() {
		_, err := r.EnsureConnection(context.Background(), "storefront")
		secondErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-firstErr
	assert.ErrorIs(t, err, domainmcp.ErrConnectFailed)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, <-secondErr)
	assert.Equal(t, 1, conn.connects)
	assert.True(t, conn.Connected())
}

func TestVerify_ConnectsLazily(t *testing.T) {
	conn := &fakeConnector{connectOK: true}
	r := New(newRegistry(t), &stubOracle{}, &countingFactory{conn: conn}, WithLogger(quietLogger()))

	got, err := r.Verify(context.Background(), "storefront")
	require.NoError(t, err)
	assert.Same(t, conn, got)
	assert.Equal(t, []string{"storefront"}, r.ConnectedNames())
}

func TestVerify_DropsConnectionWhenPingFails(t *testing.T) {
	conn := &fakeConnector{connectOK: true, pingErr: errors.New("broken pipe")}
	r := New(newRegistry(t), &stubOracle{}, &countingFactory{conn: conn}, WithLogger(quietLogger()))

	_, err := r.Verify(context.Background(), "storefront")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.False(t, conn.Connected())
	assert.Empty(t, r.ConnectedNames())

	conn.mu.Lock()
	conn.pingErr = nil
	conn.mu.Unlock()

	_, err = r.Verify(context.Background(), "storefront")
	require.NoError(t, err)
	assert.Equal(t, 2, conn.connects)
}

func TestRouter_DisconnectAllIsIdempotent(t *testing.T) {
	conn := &fakeConnector{connectOK: true}
	r := New(newRegistry(t), &stubOracle{}, &countingFactory{conn: conn}, WithLogger(quietLogger()))

	require.True(t, r.Connect(context.Background(), "storefront"))
	assert.Equal(t, []string{"storefront"}, r.ConnectedNames())

	r.DisconnectAll()
	r.DisconnectAll()

	assert.False(t, conn.Connected())
	assert.Empty(t, r.ConnectedNames())
}

func TestRouter_Servers(t *testing.T) {
	reg := newRegistry(t)
	require.NoError(t, reg.Register(domainmcp.Descriptor{Name: "inventory", Address: "ws://localhost:9000"}))
	conn := &fakeConnector{connectOK: true}
	r := New(reg, &stubOracle{}, &countingFactory{conn: conn}, WithLogger(quietLogger()))

	require.True(t, r.Connect(context.Background(), "storefront"))
	servers := r.Servers(context.Background())

	require.Len(t, servers, 2)
	byName := map[string]ServerStatus{}
	for _, s := range servers {
		byName[s.Descriptor.Name] = s
	}
	assert.True(t, byName["storefront"].Connected)
	assert.Len(t, byName["storefront"].Operations, 1)
	assert.False(t, byName["inventory"].Connected)
	assert.Empty(t, byName["inventory"].Operations)
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	conn := &fakeConnector{connectOK: true, result: "ok"}
	oracle := &stubOracle{decision: routeTo("storefront", "get_categories", nil)}
	r := New(newRegistry(t), oracle, &countingFactory{conn: conn}, WithLogger(quietLogger()), WithMetrics(m))

	r.ExecuteRequest(context.Background(), "categories")
	oracle.decision = routing.NullDecision("no match")
	r.ExecuteRequest(context.Background(), "weather")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unroutable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backendCalls.WithLabelValues("storefront", "get_categories", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connects.WithLabelValues("storefront", "ok")))
}

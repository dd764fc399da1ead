package backend_test

import (
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydralb/internal/backend"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (f *fakeTransport) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, append([]byte(nil), b...))
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func newBackend(slots int) *backend.Backend {
	return backend.New(backend.Config{
		Name:  "b1",
		Addr:  netip.MustParseAddrPort("192.0.2.53:53"),
		Slots: slots,
	}, &fakeTransport{})
}

func TestBackend_Defaults(t *testing.T) {
	b := backend.New(backend.Config{Addr: netip.MustParseAddrPort("192.0.2.1:53")}, nil)
	assert.Equal(t, "192.0.2.1:53", b.Name)
	assert.Equal(t, 1, b.Weight)
	assert.Equal(t, backend.MaxSlots, b.Slots.Cap())
	assert.True(t, b.Available())
	assert.Equal(t, backend.ModeAuto, b.Mode())
}

func TestBackend_ClaimCounters(t *testing.T) {
	b := newBackend(1)

	b.CountQuery()
	_, reused := b.Claim(slotFor(1))
	require.False(t, reused)
	b.CountQuery()
	_, reused = b.Claim(slotFor(2))
	require.True(t, reused)

	st := b.Snapshot()
	assert.Equal(t, uint64(2), st.Queries)
	assert.Equal(t, int64(1), st.Outstanding)
	assert.Equal(t, uint64(1), st.Reuseds)
}

func TestBackend_ReuseScenarioCapacityTwo(t *testing.T) {
	b := newBackend(2)
	for i := range 3 {
		b.CountQuery()
		b.Claim(slotFor(uint16(i)))
	}
	st := b.Snapshot()
	assert.Equal(t, int64(2), st.Outstanding)
	assert.Equal(t, uint64(1), st.Reuseds)
}

func TestBackend_MatchAndTick(t *testing.T) {
	b := newBackend(8)
	idx, _ := b.Claim(slotFor(5))
	b.Claim(slotFor(6))

	s, state := b.Match(idx)
	require.Equal(t, backend.MatchLive, state)
	assert.Equal(t, uint16(5), s.OrigID)
	assert.Equal(t, int64(1), b.Outstanding())

	for range 3 {
		b.Tick()
	}
	st := b.Snapshot()
	assert.Equal(t, int64(0), st.Outstanding)
	assert.Equal(t, uint64(1), st.Timeouts)

	_, state = b.Match(idx + 1)
	assert.Equal(t, backend.MatchExpired, state)
	st = b.Snapshot()
	assert.Equal(t, int64(0), st.Outstanding, "a late answer does not move outstanding twice")
	assert.Equal(t, uint64(1), st.Timeouts)
}

func TestBackend_Send(t *testing.T) {
	tr := &fakeTransport{}
	b := backend.New(backend.Config{Addr: netip.MustParseAddrPort("192.0.2.1:53")}, tr)

	require.NoError(t, b.Send([]byte{1, 2, 3}))
	assert.Len(t, tr.sent, 1)

	tr.err = errors.New("boom")
	require.Error(t, b.Send([]byte{1}))
	assert.Equal(t, uint64(1), b.Snapshot().SendErrors)

	b.SetTransport(nil)
	require.ErrorIs(t, b.Send([]byte{1}), backend.ErrNoTransport)
	assert.Equal(t, uint64(2), b.Snapshot().SendErrors)
}

func TestBackend_SetTransportWhileSending(t *testing.T) {
	first, second := &fakeTransport{}, &fakeTransport{}
	b := backend.New(backend.Config{Addr: netip.MustParseAddrPort("192.0.2.1:53")}, first)

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			for range 200 {
				assert.NoError(t, b.Send([]byte{1}))
			}
		})
	}
	wg.Go(func() {
		for i := range 200 {
			if i%2 == 0 {
				b.SetTransport(second)
			} else {
				b.SetTransport(first)
			}
		}
	})
	wg.Wait()

	first.mu.Lock()
	second.mu.Lock()
	defer first.mu.Unlock()
	defer second.mu.Unlock()
	assert.Len(t, first.sent, 800-len(second.sent))
	assert.Zero(t, b.Snapshot().SendErrors)
}

func TestBackend_Modes(t *testing.T) {
	b := newBackend(1)
	b.ReportCheck(false)
	assert.False(t, b.Available())

	b.SetMode(backend.ModeUp)
	assert.True(t, b.Available())
	b.SetMode(backend.ModeDown)
	assert.False(t, b.Available())

	for _, s := range []string{"", "auto", "up", "down"} {
		m, err := backend.ParseMode(s)
		require.NoError(t, err)
		if s != "" {
			assert.Equal(t, s, m.String())
		}
	}
	_, err := backend.ParseMode("sideways")
	require.Error(t, err)
}

func TestBackend_ReportCheckThresholds(t *testing.T) {
	b := backend.New(backend.Config{
		Addr:        netip.MustParseAddrPort("192.0.2.1:53"),
		MaxFailures: 2,
		Rise:        2,
	}, nil)

	assert.False(t, b.ReportCheck(false))
	assert.True(t, b.Healthy())
	assert.True(t, b.ReportCheck(false))
	assert.False(t, b.Healthy())

	assert.False(t, b.ReportCheck(true))
	assert.False(t, b.Healthy())
	assert.True(t, b.ReportCheck(true))
	assert.True(t, b.Healthy())
}

func TestBackend_QPSLimit(t *testing.T) {
	b := backend.New(backend.Config{Addr: netip.MustParseAddrPort("192.0.2.1:53"), QPS: 2}, nil)
	assert.True(t, b.AllowQuery())
	assert.True(t, b.AllowQuery())
	assert.False(t, b.AllowQuery())

	unlimited := newBackend(1)
	for range 100 {
		require.True(t, unlimited.AllowQuery())
	}
}

func TestBackend_RecordResponse(t *testing.T) {
	b := newBackend(1)
	b.RecordResponse(10 * time.Millisecond)
	st := b.Snapshot()
	assert.Equal(t, uint64(1), st.Responses)
	assert.InDelta(t, 10.0, st.LatencyMs, 0.001)
}

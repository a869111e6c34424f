package dnscache

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	calls int32
	ttl   time.Duration
	rr    []dns.RR
	err   error
}

func (f *fakeResolver) Query(ctx context.Context, server NamedServer, qtype uint16, domain string) ([]dns.RR, time.Duration, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.rr, f.ttl, nil
}

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func TestCacheQueryMissThenHit(t *testing.T) {
	resolver := &fakeResolver{ttl: time.Minute, rr: []dns.RR{mustRR(t, "example.com. 60 IN A 10.0.0.1")}}
	c := New(DefaultNamedServerID, resolver)
	c.AddNamedServer(NamedServer{Address: "127.0.0.1", Port: 53})

	_, hit, err := c.Query(context.Background(), dns.TypeA, "example.com", false)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.EqualValues(t, 1, atomic.LoadInt32(&resolver.calls))

	_, hit, err = c.Query(context.Background(), dns.TypeA, "example.com", false)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.EqualValues(t, 1, atomic.LoadInt32(&resolver.calls))
}

func TestCacheIgnoreCacheForcesRequery(t *testing.T) {
	resolver := &fakeResolver{ttl: time.Minute, rr: []dns.RR{mustRR(t, "example.com. 60 IN A 10.0.0.1")}}
	c := New(DefaultNamedServerID, resolver)
	c.AddNamedServer(NamedServer{Address: "127.0.0.1", Port: 53})

	_, _, err := c.Query(context.Background(), dns.TypeA, "example.com", false)
	require.NoError(t, err)
	_, _, err = c.Query(context.Background(), dns.TypeA, "example.com", true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&resolver.calls))
}

func TestCacheNoNamedServersErrors(t *testing.T) {
	c := New(DefaultNamedServerID, &fakeResolver{})
	_, _, err := c.Query(context.Background(), dns.TypeA, "example.com", false)
	assert.Error(t, err)
}

func TestIdentifyNearingExpiry(t *testing.T) {
	resolver := &fakeResolver{ttl: 10 * time.Millisecond, rr: []dns.RR{mustRR(t, "example.com. 1 IN A 10.0.0.1")}}
	c := New(DefaultNamedServerID, resolver)
	c.AddNamedServer(NamedServer{Address: "127.0.0.1", Port: 53})

	_, _, err := c.Query(context.Background(), dns.TypeA, "example.com", false)
	require.NoError(t, err)

	time.Sleep(8 * time.Millisecond)
	keys := c.IdentifyNearingExpiry(50)
	assert.Len(t, keys, 1)
}

func TestSaveAndLoadQueries(t *testing.T) {
	resolver := &fakeResolver{ttl: time.Minute, rr: []dns.RR{mustRR(t, "example.com. 60 IN A 10.0.0.1")}}
	c := New(DefaultNamedServerID, resolver)
	c.AddNamedServer(NamedServer{Address: "127.0.0.1", Port: 53})
	_, _, err := c.Query(context.Background(), dns.TypeA, "example.com", false)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "queries.json")
	require.NoError(t, c.SaveQueries(path))

	c2 := New(DefaultNamedServerID, resolver)
	c2.AddNamedServer(NamedServer{Address: "127.0.0.1", Port: 53})
	require.NoError(t, c2.LoadQueries(context.Background(), path))
	assert.Equal(t, 1, c2.Size())
}

func TestMinTTLFlooring(t *testing.T) {
	resolver := NewClientResolver()
	_ = resolver // ClientResolver.Query requires a live server; the flooring rule is restated below against MinTTLSeconds.

	rr := mustRR(t, "example.com. 0 IN A 10.0.0.1")
	minTTL := uint32(rr.Header().Ttl)
	if minTTL < MinTTLSeconds {
		minTTL = MinTTLSeconds
	}
	assert.Equal(t, uint32(MinTTLSeconds), minTTL)
}

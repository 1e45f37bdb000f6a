package memcache

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/animcache/ref"
)

type value struct {
	id       int
	released atomic.Int32
}

func newValue(id int) (*value, *ref.Handle[*value]) {
	v := &value{id: id}
	return v, ref.Of(v, func(v *value) { v.released.Add(1) })
}

// put caches a fresh value and drops the caller's own handle, leaving the
// cache as the only owner besides the returned client handle.
func put(t *testing.T, c *Cache[int, *value], key int, size int64) (*value, *ref.Handle[*value]) {
	t.Helper()
	v, h := newValue(key)
	client := c.Put(key, h, size)
	h.Close()
	return v, client
}

func newCache(t *testing.T, p Params) *Cache[int, *value] {
	t.Helper()
	c, err := New[int, *value](p)
	require.NoError(t, err)
	return c
}

type evictions struct {
	mu   sync.Mutex
	keys []int
}

func (e *evictions) record(k int) {
	e.mu.Lock()
	e.keys = append(e.keys, k)
	e.mu.Unlock()
}

func (e *evictions) get() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.keys...)
}

func TestNewRejectsNegativeParams(t *testing.T) {
	t.Parallel()

	_, err := New[int, int](Params{MaxCacheSize: -1})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = New[int, int](Params{MaxEvictionQueueEntries: -5})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestPutAndGet(t *testing.T) {
	t.Parallel()

	c := newCache(t, Params{})
	v, client := put(t, c, 1, 10)
	require.NotNil(t, client)
	assert.Same(t, v, client.Get())
	assert.Equal(t, 1, c.InUseCount())
	assert.Equal(t, int64(10), c.InUseSizeInBytes())

	got := c.Get(1)
	require.NotNil(t, got)
	assert.Same(t, v, got.Get())
	assert.Nil(t, c.Get(2))

	client.Close()
	assert.Equal(t, 1, c.InUseCount(), "second client still open")
	got.Close()
	assert.Equal(t, 0, c.InUseCount())
	assert.Equal(t, 1, c.EvictionQueueCount())
	assert.Equal(t, int64(10), c.EvictionQueueSizeInBytes())
	assert.Equal(t, int32(0), v.released.Load(), "cache still owns the value")
}

func TestPutPanicsOnInvalidArguments(t *testing.T) {
	t.Parallel()

	c := newCache(t, Params{})
	_, h := newValue(1)
	defer h.Close()
	assert.Panics(t, func() { c.Put(1, h, -1) })

	closed := h.Clone()
	closed.Close()
	assert.Panics(t, func() { c.Put(1, closed, 1) })
}

func TestPutReplacesEntry(t *testing.T) {
	t.Parallel()

	c := newCache(t, Params{})
	first, client := put(t, c, 1, 10)
	client.Close()

	second, client := put(t, c, 1, 20)
	defer client.Close()

	assert.Equal(t, int32(1), first.released.Load(), "replaced unreferenced entry is closed")
	assert.Equal(t, 1, c.Count())
	assert.Equal(t, int64(20), c.SizeInBytes())
	assert.Same(t, second, client.Get())
}

func TestReplacedEntryInUseIsClosedOnRelease(t *testing.T) {
	t.Parallel()

	c := newCache(t, Params{})
	first, held := put(t, c, 1, 10)
	_, client := put(t, c, 1, 10)
	defer client.Close()

	assert.Equal(t, int32(0), first.released.Load())
	assert.Same(t, first, held.Get())
	held.Close()
	assert.Equal(t, int32(1), first.released.Load())
	assert.Equal(t, 1, c.Count())
}

func TestEvictsLeastRecentlyUsedWithinBudget(t *testing.T) {
	t.Parallel()

	var ev evictions
	c := newCache(t, Params{MaxCacheSize: 150})
	c.SetEvictionListener(ev.record)

	frame1, client := put(t, c, 1, 100)
	require.NotNil(t, client)
	client.Close()
	assert.True(t, c.Contains(1))

	_, client = put(t, c, 2, 100)
	require.NotNil(t, client)

	assert.False(t, c.Contains(1))
	assert.True(t, c.Contains(2))
	assert.Equal(t, []int{1}, ev.get())
	assert.Equal(t, int32(1), frame1.released.Load())
	client.Close()
	assert.LessOrEqual(t, c.SizeInBytes(), int64(150))
}

func TestEvictionQueueLimits(t *testing.T) {
	t.Parallel()

	c := newCache(t, Params{MaxEvictionQueueEntries: 2})
	for i := range 4 {
		_, client := put(t, c, i, 1)
		client.Close()
	}
	assert.Equal(t, 2, c.Count())
	assert.False(t, c.Contains(0))
	assert.False(t, c.Contains(1))
	assert.True(t, c.Contains(2))
	assert.True(t, c.Contains(3))
}

func TestGetRefreshesRecency(t *testing.T) {
	t.Parallel()

	c := newCache(t, Params{MaxEvictionQueueEntries: 2})
	for i := range 2 {
		_, client := put(t, c, i, 1)
		client.Close()
	}
	c.Get(0).Close()

	_, client := put(t, c, 2, 1)
	client.Close()
	assert.True(t, c.Contains(0))
	assert.False(t, c.Contains(1))
}

func TestProbeRefreshesRecency(t *testing.T) {
	t.Parallel()

	c := newCache(t, Params{MaxEvictionQueueEntries: 2})
	for i := range 2 {
		_, client := put(t, c, i, 1)
		client.Close()
	}
	c.Probe(0)

	_, client := put(t, c, 2, 1)
	client.Close()
	assert.True(t, c.Contains(0))
	assert.False(t, c.Contains(1))
}

func TestInUseEntriesAreNotEvicted(t *testing.T) {
	t.Parallel()

	c := newCache(t, Params{MaxCacheSize: 100})
	v, held := put(t, c, 1, 60)
	defer held.Close()

	c.TrimToMinimum()
	assert.True(t, c.Contains(1))
	assert.Equal(t, int32(0), v.released.Load())
}

func TestRefusesEntriesOverBudget(t *testing.T) {
	t.Parallel()

	c := newCache(t, Params{MaxCacheSize: 100, MaxCacheEntrySize: 50})

	v, h := newValue(1)
	client := c.Put(1, h, 60)
	assert.Nil(t, client, "entry above max entry size")
	assert.True(t, h.IsValid(), "caller keeps its handle")
	h.Close()
	assert.Equal(t, int32(1), v.released.Load())
	assert.Zero(t, c.Count())

	_, a := put(t, c, 2, 50)
	_, b := put(t, c, 3, 50)
	require.NotNil(t, a)
	require.NotNil(t, b)
	defer a.Close()
	defer b.Close()

	_, refused := put(t, c, 4, 10)
	assert.Nil(t, refused, "in-use entries fill the budget")
}

func TestReuseSkipsReferencedEntries(t *testing.T) {
	t.Parallel()

	c := newCache(t, Params{})
	v, client := put(t, c, 1, 10)
	assert.Nil(t, c.Reuse(1), "entry has a client")

	client.Close()
	extra := c.Get(1)
	assert.Nil(t, c.Reuse(1))
	extra.Close()

	got := c.Reuse(1)
	require.NotNil(t, got)
	assert.Same(t, v, got.Get())
	assert.False(t, c.Contains(1))
	assert.Equal(t, int32(0), v.released.Load(), "ownership moved to caller")

	got.Close()
	assert.Equal(t, int32(1), v.released.Load())
	assert.Nil(t, c.Reuse(1))
}

func TestReuseSkipsEntriesWithOutstandingClones(t *testing.T) {
	t.Parallel()

	c := newCache(t, Params{})
	_, h := newValue(1)
	client := c.Put(1, h, 10)
	client.Close()

	assert.Nil(t, c.Reuse(1), "caller still shares the value")
	h.Close()
	got := c.Reuse(1)
	require.NotNil(t, got)
	got.Close()
}

func TestReclaimOneUnused(t *testing.T) {
	t.Parallel()

	var ev evictions
	c := newCache(t, Params{})
	c.SetEvictionListener(ev.record)

	_, held := put(t, c, 1, 10)
	defer held.Close()
	v2, client := put(t, c, 2, 10)
	client.Close()
	v3, client := put(t, c, 3, 10)
	client.Close()

	got := c.ReclaimOneUnused()
	require.NotNil(t, got)
	assert.Same(t, v2, got.Get(), "oldest unreferenced entry first")
	got.Close()

	key, got := c.ReclaimOneUnusedFunc(func(k int) bool { return k == 3 })
	require.NotNil(t, got)
	assert.Equal(t, 3, key)
	assert.Same(t, v3, got.Get())
	got.Close()

	assert.Nil(t, c.ReclaimOneUnused(), "remaining entry is in use")
	assert.Empty(t, ev.get(), "reclaim is not eviction")
}

func TestClearAndRemoveAll(t *testing.T) {
	t.Parallel()

	var ev evictions
	c := newCache(t, Params{})
	c.SetEvictionListener(ev.record)

	var values []*value
	for i := range 4 {
		v, client := put(t, c, i, 5)
		client.Close()
		values = append(values, v)
	}
	held := c.Get(3)

	n := c.RemoveAll(func(k int) bool { return k%2 == 0 })
	assert.Equal(t, 2, n)
	assert.False(t, c.Contains(0))
	assert.True(t, c.Contains(1))
	assert.True(t, c.ContainsFunc(func(k int) bool { return k > 2 }))
	assert.Equal(t, int64(10), c.SizeInBytesFunc(func(k int) bool { return k%2 == 1 }))

	c.Clear()
	assert.Zero(t, c.Count())
	assert.Zero(t, c.SizeInBytes())
	assert.ElementsMatch(t, []int{0, 2, 1, 3}, ev.get())

	for i, v := range values {
		if i == 3 {
			assert.Equal(t, int32(0), v.released.Load(), "still held by a client")
			continue
		}
		assert.Equal(t, int32(1), v.released.Load())
	}
	held.Close()
	assert.Equal(t, int32(1), values[3].released.Load())

	_, client := put(t, c, 3, 5)
	defer client.Close()
	assert.True(t, c.Contains(3))
}

func TestBudgetHoldsUnderRandomOperations(t *testing.T) {
	t.Parallel()

	const budget = 500
	c := newCache(t, Params{MaxCacheSize: budget, MaxCacheEntrySize: 120})
	rng := rand.New(rand.NewPCG(1, 2))

	var held []*ref.Handle[*value]
	for range 2000 {
		key := rng.IntN(30)
		switch rng.IntN(4) {
		case 0, 1:
			if _, client := put(t, c, key, int64(rng.IntN(120)+1)); client != nil {
				held = append(held, client)
			}
		case 2:
			if h := c.Get(key); h != nil {
				held = append(held, h)
			}
		case 3:
			if len(held) > 0 {
				i := rng.IntN(len(held))
				held[i].Close()
				held = append(held[:i], held[i+1:]...)
			}
		}
		if len(held) > 3 {
			held[0].Close()
			held = held[1:]
		}
		assert.LessOrEqual(t, c.EvictionQueueSizeInBytes(), int64(budget))
		assert.LessOrEqual(t, c.SizeInBytes(), int64(budget))
	}
	ref.CloseAll(held...)
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := newCache(t, Params{MaxCacheSize: 1000})
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := (g*7 + i) % 20
				if _, client := put(t, c, key, 50); client != nil {
					client.Close()
				}
				if h := c.Get(key); h != nil {
					h.Close()
				}
				if h := c.Reuse(key); h != nil {
					h.Close()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, c.InUseCount())
	assert.LessOrEqual(t, c.SizeInBytes(), int64(1000))
}

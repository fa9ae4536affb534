package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleCacheExpiry(t *testing.T) {
	c := New()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.SetEX(ctx, "k", "v", time.Minute))
	v, _ := c.Get(ctx, "k")
	assert.Equal(t, "v", v)
	d, ok := c.RemainingTTL(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, time.Minute, d)

	now = now.Add(2 * time.Minute)
	v, _ = c.Get(ctx, "k")
	assert.Empty(t, v)
	assert.Equal(t, 0, c.Len())
}

func TestLayeredBackfillsL1(t *testing.T) {
	ctx := context.Background()
	l1, l2 := New(), New()
	lc := NewLayered(l1, l2)
	require.NoError(t, l2.SetEX(ctx, "k", "v", time.Minute))

	v, _ := lc.Get(ctx, "k")
	assert.Equal(t, "v", v)
	v, _ = l1.Get(ctx, "k")
	assert.Equal(t, "v", v, "L2 hit should backfill L1")

	v, _ = lc.Get(ctx, "missing")
	assert.Empty(t, v)

	m := lc.SnapshotMetrics()
	assert.EqualValues(t, 1, m.HitsL2)
	assert.EqualValues(t, 1, m.BackfillL1)
	assert.EqualValues(t, 1, m.Miss)
	assert.InDelta(t, 0.5, m.HitRate, 0.0001)
}

func TestKeyspaceInvalidateIdentity(t *testing.T) {
	ctx := context.Background()
	l1, l2 := New(), New()
	ks := NewKeyspace(NewLayered(l1, l2), l1)

	menus := Key{Identity: "u1", Kind: KindAccessibleMenus}
	ident := Key{Identity: "u1", Kind: KindIdentity}
	other := Key{Identity: "u2", Kind: KindAccessibleMenus}
	require.NoError(t, ks.SetJSON(ctx, menus, []string{"a"}, time.Minute))
	require.NoError(t, ks.SetJSON(ctx, ident, []string{"b"}, time.Minute))
	require.NoError(t, ks.SetJSON(ctx, other, []string{"c"}, time.Minute))

	require.NoError(t, ks.InvalidateIdentity(ctx, "u1"))

	var out []string
	hit, err := ks.GetJSON(ctx, menus, &out)
	require.NoError(t, err)
	assert.False(t, hit)
	hit, _ = ks.GetJSON(ctx, ident, &out)
	assert.False(t, hit)
	hit, _ = ks.GetJSON(ctx, other, &out)
	assert.True(t, hit)
	assert.Equal(t, []string{"c"}, out)
}

func TestKeyspaceInvalidateLocalKeepsL2(t *testing.T) {
	ctx := context.Background()
	l1, l2 := New(), New()
	ks := NewKeyspace(NewLayered(l1, l2), l1)
	key := Key{Identity: "u1", Kind: KindAccessibleMenus}
	require.NoError(t, ks.SetJSON(ctx, key, []string{"a"}, time.Minute))

	require.NoError(t, ks.InvalidateLocal(ctx, "u1"))
	v, _ := l1.Get(ctx, key.String())
	assert.Empty(t, v)
	v, _ = l2.Get(ctx, key.String())
	assert.NotEmpty(t, v)
}

func TestKeyspaceNilSentinel(t *testing.T) {
	ctx := context.Background()
	ks := NewKeyspace(New(), nil)
	key := Key{Identity: "u1", Kind: KindAccessibleMenus}
	require.NoError(t, ks.SetNil(ctx, key, time.Minute))
	var out []string
	hit, err := ks.GetJSON(ctx, key, &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Nil(t, out)
}

func TestKeyspaceCorruptEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	c := New()
	ks := NewKeyspace(c, nil)
	key := Key{Identity: "u1", Kind: KindIdentity}
	require.NoError(t, ks.Set(ctx, key, "{not json", time.Minute))
	var out map[string]any
	hit, err := ks.GetJSON(ctx, key, &out)
	assert.Error(t, err)
	assert.False(t, hit)
	v, _ := c.Get(ctx, key.String())
	assert.Empty(t, v)
}

func TestJitterTTLBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := JitterTTL(5 * time.Minute)
		assert.LessOrEqual(t, d, 5*time.Minute)
		assert.GreaterOrEqual(t, d, 4*time.Minute+30*time.Second)
	}
	assert.Equal(t, time.Second, JitterTTL(time.Second))
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "gacha:accessible_menus:u1", Key{Identity: "u1", Kind: KindAccessibleMenus}.String())
}

func TestSimpleCacheExpiredDeleteKeepsRewrite(t *testing.T) {
	c := New()
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.SetEX(ctx, "k", "old", time.Second))

	now = now.Add(2 * time.Second)
	rewritten := false
	c.now = func() time.Time {
		// 第一次取时钟发生在读锁释放之后，此时并发写入新值
		if !rewritten {
			rewritten = true
			require.NoError(t, c.SetEX(ctx, "k", "new", time.Minute))
		}
		return now
	}

	v, _ := c.Get(ctx, "k")
	assert.Equal(t, "", v)
	v, _ = c.Get(ctx, "k")
	assert.Equal(t, "new", v)
}

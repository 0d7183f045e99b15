// Package rate 提供按调度端点分组的提交限流闸门（令牌桶，按分钟补充）。
package rate

import (
	"context"
	"sync"
	"time"

	"labelsplit/pkg/contract"
)

// LimitKey: 限流分组键（调度端点，见 KeyFor）。
type LimitKey string

// Limits: 每分组的限额。0 表示该维度不启用。
type Limits struct {
	SubmitsPerMinute int // 每分钟作业提交数
	CPUsPerMinute    int // 每分钟申请的 CPU 核数总量
	MaxCPUsPerJob    int // 单作业 CPU 上限，0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key     LimitKey
	Submits int // 必须 >=1
	CPUs    int // >=0
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait 阻塞直到额度可用或 ctx 取消；超过单作业上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (submitsAvail, cpusAvail int)
}

// NewGate 从静态配置构造闸门；clk 为空则使用 time.Now。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	now := clk()
	for k, lim := range m {
		g.m[k] = newEntry(lim, now)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	mu   sync.Mutex
	lim  Limits
	subs bucket
	cpus bucket
}

type bucket struct {
	cap   int
	level float64
	rate  float64 // 每秒补充量
	last  time.Time
}

func newEntry(lim Limits, now time.Time) *entry {
	return &entry{lim: lim, subs: newBucket(lim.SubmitsPerMinute, now), cpus: newBucket(lim.CPUsPerMinute, now)}
}

func newBucket(perMinute int, now time.Time) bucket {
	if perMinute <= 0 {
		return bucket{}
	}
	return bucket{cap: perMinute, level: float64(perMinute), rate: float64(perMinute) / 60.0, last: now}
}

func (b *bucket) enabled() bool { return b.cap > 0 }

func (b *bucket) refill(now time.Time) {
	if !b.enabled() || !now.After(b.last) {
		// 时钟回拨视为无时间流逝
		return
	}
	b.level += now.Sub(b.last).Seconds() * b.rate
	if b.level > float64(b.cap) {
		b.level = float64(b.cap)
	}
	b.last = now
}

// canTake: 申请量超过桶容量时按满桶放行，避免永远等待。
func (b *bucket) canTake(n int) bool {
	if !b.enabled() || n <= 0 {
		return true
	}
	if n > b.cap {
		return b.level >= float64(b.cap)
	}
	return b.level >= float64(n)
}

func (b *bucket) take(n int) {
	if !b.enabled() || n <= 0 {
		return
	}
	b.level -= float64(n)
	if b.level < 0 {
		b.level = 0
	}
}

func (b *bucket) waitFor(n int) time.Duration {
	if !b.enabled() || n <= 0 {
		return 0
	}
	if n > b.cap {
		n = b.cap
	}
	deficit := float64(n) - b.level
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / b.rate * float64(time.Second))
}

func (b *bucket) avail() int {
	if !b.enabled() {
		return 0
	}
	switch {
	case b.level < 0:
		return 0
	case b.level > float64(b.cap):
		return b.cap
	default:
		return int(b.level)
	}
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的端点不限额
		e = newEntry(Limits{}, g.clk())
		g.m[key] = e
	}
	return e
}

func (g *gate) check(a Ask) (*entry, bool) {
	if a.Submits <= 0 || a.CPUs < 0 {
		return nil, false
	}
	e := g.get(a.Key)
	if e.lim.MaxCPUsPerJob > 0 && a.CPUs > e.lim.MaxCPUsPerJob*a.Submits {
		return nil, false
	}
	return e, true
}

func (g *gate) Try(a Ask) bool {
	e, ok := g.check(a)
	if !ok {
		return false
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs.refill(now)
	e.cpus.refill(now)
	if e.subs.canTake(a.Submits) && e.cpus.canTake(a.CPUs) {
		e.subs.take(a.Submits)
		e.cpus.take(a.CPUs)
		return true
	}
	return false
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e, ok := g.check(a)
	if !ok {
		return contract.ErrInvalidInput
	}
	const minSleep = 10 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := g.clk()
		e.mu.Lock()
		e.subs.refill(now)
		e.cpus.refill(now)
		if e.subs.canTake(a.Submits) && e.cpus.canTake(a.CPUs) {
			e.subs.take(a.Submits)
			e.cpus.take(a.CPUs)
			e.mu.Unlock()
			return nil
		}
		d := max(e.subs.waitFor(a.Submits), e.cpus.waitFor(a.CPUs)) + minSleep
		e.mu.Unlock()
		if err := sleepCtx(ctx, d); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	// 分片为最多 200ms 的步长，及时响应取消
	const step = 200 * time.Millisecond
	for d > 0 {
		s := min(d, step)
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return nil
}

// Snapshot 返回当前可用额度的向下取整估值（仅诊断）；未启用的维度为 0。
func (g *gate) Snapshot(key LimitKey) (submitsAvail, cpusAvail int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs.refill(now)
	e.cpus.refill(now)
	return e.subs.avail(), e.cpus.avail()
}

var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)

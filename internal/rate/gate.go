package rate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

// LimitKey: 限流分组键（provider + API key 指纹）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	Capacity        int     // 请求桶容量（突发上限）
	RefillPerMinute float64 // 请求桶每分钟补充的令牌数
	TPM             int     // tokens per minute
	MaxTokensPerReq int     // 单次请求 token 上限，0 表示不限制
}

// DefaultLimits: 容量 5，每分钟补充 50。
func DefaultLimits() Limits { return Limits{Capacity: 5, RefillPerMinute: 50} }

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token（>=0）
}

// Gate: 限流闸门（并发安全，所有 worker 共享同一实例）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (reqAvail, tokAvail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
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

// Acquire 在 timeout 内等待放行；超时返回 ErrRateLimited，父 ctx 取消原样返回。
// timeout<=0 表示只受父 ctx 约束。
func Acquire(ctx context.Context, g Gate, a Ask, timeout time.Duration) error {
	if g == nil {
		return nil
	}
	if timeout <= 0 {
		return g.Wait(ctx, a)
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := g.Wait(wctx, a)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("rate: no token within %s: %w", timeout, contract.ErrRateLimited)
	}
	return err
}

type gate struct {
	mu  sync.Mutex
	clk func() time.Time
	m   map[LimitKey]*entry
}

type entry struct {
	mu  sync.Mutex
	lim Limits
	req bucket // 请求维度
	tok bucket // TPM 维度
}

type bucket struct {
	cap   int
	level float64
	rate  float64 // tokens/sec
	last  time.Time
}

func newEntry(lim Limits, now time.Time) *entry {
	e := &entry{lim: lim}
	if lim.Capacity > 0 {
		perMin := lim.RefillPerMinute
		if perMin <= 0 {
			perMin = float64(lim.Capacity)
		}
		e.req = newBucket(lim.Capacity, perMin, now)
	}
	if lim.TPM > 0 {
		e.tok = newBucket(lim.TPM, float64(lim.TPM), now)
	}
	return e
}

func newBucket(capacity int, perMinute float64, now time.Time) bucket {
	if capacity <= 0 {
		return bucket{}
	}
	return bucket{cap: capacity, level: float64(capacity), rate: perMinute / 60.0, last: now}
}

func (b *bucket) enabled() bool { return b.cap > 0 }

func (b *bucket) refill(now time.Time) {
	if !b.enabled() {
		return
	}
	if now.Before(b.last) {
		// 时钟回拨视为无时间流逝
		return
	}
	dt := now.Sub(b.last).Seconds()
	if dt <= 0 {
		return
	}
	b.level += dt * b.rate
	if b.level > float64(b.cap) {
		b.level = float64(b.cap)
	}
	b.last = now
}

func (b *bucket) canTake(n int) bool {
	if !b.enabled() || n <= 0 {
		return true
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

// waitSecFor 返回达到可消费 n 还需等待的秒数；上层取两维度最大值。
func (b *bucket) waitSecFor(n int) float64 {
	if !b.enabled() || n <= 0 {
		return 0
	}
	deficit := float64(n) - b.level
	if deficit <= 0 {
		return 0
	}
	return deficit / b.rate
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
		// 未配置的 key 视为不限额
		e = newEntry(Limits{}, g.clk())
		g.m[key] = e
	}
	return e
}

func (g *gate) Try(a Ask) bool {
	if a.Requests <= 0 || a.Tokens < 0 {
		return false
	}
	e := g.get(a.Key)
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return false
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.req.refill(now)
	e.tok.refill(now)
	if e.req.canTake(a.Requests) && e.tok.canTake(a.Tokens) {
		e.req.take(a.Requests)
		e.tok.take(a.Tokens)
		return true
	}
	return false
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	if a.Requests <= 0 || a.Tokens < 0 {
		return contract.ErrInvalidInput
	}
	e := g.get(a.Key)
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return contract.ErrInvalidInput
	}
	if e.req.enabled() && a.Requests > e.req.cap {
		return fmt.Errorf("rate: ask %d exceeds capacity %d: %w", a.Requests, e.req.cap, contract.ErrInvalidInput)
	}
	// 最小睡眠粒度，避免忙等
	const minSleep = 10 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := g.clk()
		e.mu.Lock()
		e.req.refill(now)
		e.tok.refill(now)
		if e.req.canTake(a.Requests) && e.tok.canTake(a.Tokens) {
			e.req.take(a.Requests)
			e.tok.take(a.Tokens)
			e.mu.Unlock()
			return nil
		}
		waitSec := e.req.waitSecFor(a.Requests)
		if wt := e.tok.waitSecFor(a.Tokens); wt > waitSec {
			waitSec = wt
		}
		e.mu.Unlock()

		d := time.Duration(waitSec*float64(time.Second) + float64(minSleep))
		if d < minSleep {
			d = minSleep
		}
		if err := sleepCtx(ctx, d); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	// 分片为最多 200ms 的步长，及时响应取消
	const step = 200 * time.Millisecond
	for d > 0 {
		s := d
		if s > step {
			s = step
		}
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

// Snapshot: 当前可用请求/令牌的向下取整估值（仅诊断）。
func (g *gate) Snapshot(key LimitKey) (reqAvail, tokAvail int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.req.refill(now)
	e.tok.refill(now)
	return e.req.avail(), e.tok.avail()
}

var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)

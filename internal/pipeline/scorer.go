package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Act1nv3r/HUA/internal/diag"
	"github.com/Act1nv3r/HUA/internal/rate"
	"github.com/Act1nv3r/HUA/pkg/contract"
)

// Policy: 重试退避策略。MaxAttempts 含首次调用。
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultPolicy: 3 次，1s 起，×2，封顶 30s。
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}
}

// Delay 返回第 attempt 次失败后（attempt>=1）的等待时长：base·mult^(attempt-1)，不超过 MaxDelay。
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	m := p.Multiplier
	if m < 1 {
		m = 1
	}
	d := float64(p.BaseDelay) * math.Pow(m, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// State: 单条记录的评分状态。
type State int

const (
	StatePending State = iota
	StateInFlight
	StateRetryScheduled
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateRetryScheduled:
		return "retry_scheduled"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Scorer: 有界并发评分器。所有 worker 共享同一 Gate。
type Scorer struct {
	Client         contract.ScoreClient
	Concurrency    int
	Policy         Policy
	Gate           rate.Gate
	GateKey        rate.LimitKey
	AcquireTimeout time.Duration
	// Tokens: 可选，估算单条请求 token 用于 TPM 预扣。
	Tokens func(rec contract.Record) int
	Logger *diag.Logger
	// Progress: 每得到一个结局回调一次（收集协程内串行调用）。
	Progress func(done, total, errs int)
	// Observe: 可选，状态迁移钩子（worker 协程内调用，需并发安全）。
	Observe func(key contract.RecordKey, st State)

	sleep func(ctx context.Context, d time.Duration) error
}

// Batch: 一次 Score 的结果。Outcomes 与输入按下标一一对应。
type Batch struct {
	Outcomes []contract.Outcome
	// Dispatched: 实际进入评分（至少一次调用）的记录数。
	Dispatched       int
	CreditsExhausted bool
}

// Failed 返回失败结局数。
func (b Batch) Failed() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

// Score 对 recs 逐条评分，保证每条记录恰有一个结局。
// 额度耗尽后停止派发，未派发记录以 ErrCreditsExhausted 失败；ctx 取消时未派发记录以 ctx 错误失败。
// 返回的 error 仅用于 ctx 取消。
func (s *Scorer) Score(ctx context.Context, recs []contract.Record) (Batch, error) {
	if s.Client == nil {
		return Batch{}, fmt.Errorf("pipeline: nil score client: %w", contract.ErrConfigInvalid)
	}
	n := s.Concurrency
	if n < 1 {
		n = 1
	}
	pol := s.Policy
	if pol.MaxAttempts < 1 {
		pol = DefaultPolicy()
	}
	sleep := s.sleep
	if sleep == nil {
		sleep = sleepWithCtx
	}
	run := &scoreRun{s: s, pol: pol, sleep: sleep}

	type res struct {
		idx int
		o   contract.Outcome
	}
	// 有界通道：默认 2×并发度，形成自然背压
	inCh := make(chan int, n*2)
	outCh := make(chan res, n*2)

	var wg sync.WaitGroup
	var dispatched atomic.Int64
	worker := func() {
		defer wg.Done()
		for i := range inCh {
			rec := recs[i]
			if run.stop.Load() {
				outCh <- res{idx: i, o: stopped(rec, contract.ErrCreditsExhausted)}
				continue
			}
			if err := ctx.Err(); err != nil {
				outCh <- res{idx: i, o: stopped(rec, err)}
				continue
			}
			dispatched.Add(1)
			outCh <- res{idx: i, o: run.one(ctx, rec)}
		}
	}
	wg.Add(n)
	for i := 0; i < n; i++ {
		go worker()
	}

	// 生产者
	go func() {
		defer close(inCh)
		for i := range recs {
			if run.stop.Load() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case inCh <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outCh)
	}()

	out := make([]contract.Outcome, len(recs))
	filled := make([]bool, len(recs))
	done, errs := 0, 0
	for r := range outCh {
		out[r.idx] = r.o
		filled[r.idx] = true
		done++
		if r.o.Failed() {
			errs++
		}
		if s.Progress != nil {
			s.Progress(done, len(recs), errs)
		}
	}

	// 未进入通道的记录补齐失败结局
	cause := ctx.Err()
	if run.stop.Load() {
		cause = contract.ErrCreditsExhausted
	}
	for i := range recs {
		if filled[i] {
			continue
		}
		if cause == nil {
			cause = context.Canceled
		}
		out[i] = stopped(recs[i], cause)
		errs++
		done++
		if s.Progress != nil {
			s.Progress(done, len(recs), errs)
		}
	}
	b := Batch{Outcomes: out, Dispatched: int(dispatched.Load()), CreditsExhausted: run.stop.Load()}
	if err := ctx.Err(); err != nil {
		return b, err
	}
	return b, nil
}

// stopped 构造未派发记录的失败结局（零次尝试）。
func stopped(rec contract.Record, cause error) contract.Outcome {
	return contract.Outcome{Record: rec, Err: fmt.Errorf("not dispatched: %w", cause)}
}

// scoreRun: 单次 Score 调用的共享状态。
type scoreRun struct {
	s     *Scorer
	pol   Policy
	sleep func(ctx context.Context, d time.Duration) error
	stop  atomic.Bool
}

// one 驱动单条记录的状态机：
// Pending → InFlight → {Succeeded | RetryScheduled → InFlight | Failed}。
func (r *scoreRun) one(ctx context.Context, rec contract.Record) contract.Outcome {
	t0 := time.Now()
	st := StatePending
	attempt := 0
	var as contract.Assessment
	var lastErr error
	for {
		r.observe(rec, st)
		switch st {
		case StatePending:
			attempt++
			st = StateInFlight
		case StateRetryScheduled:
			if err := r.sleep(ctx, r.pol.Delay(attempt)); err != nil {
				lastErr = err
				st = StateFailed
				continue
			}
			attempt++
			st = StateInFlight
		case StateInFlight:
			var err error
			as, err = r.attempt(ctx, rec, attempt)
			if err == nil {
				st = StateSucceeded
				continue
			}
			lastErr = err
			st = r.next(ctx, err, attempt)
		case StateSucceeded:
			return contract.Outcome{Record: rec, Assessment: as, Attempts: attempt, Duration: time.Since(t0)}
		case StateFailed:
			if r.s.Logger != nil {
				r.s.Logger.ErrorWithKV("scorer", string(diag.Classify(lastErr)), "record failed", &t0, string(rec.Source), rec.ID, map[string]string{
					"initiative": rec.Initiative,
					"attempts":   fmt.Sprintf("%d", attempt),
				})
			}
			diag.IncOp("scorer", "finish", "error")
			return contract.Outcome{Record: rec, Attempts: attempt, Err: lastErr, Duration: time.Since(t0)}
		}
	}
}

// next 决定失败后的迁移：额度耗尽置停止位；可重试且未达上限则排期重试。
func (r *scoreRun) next(ctx context.Context, err error, attempt int) State {
	if errors.Is(err, contract.ErrCreditsExhausted) {
		r.stop.Store(true)
		return StateFailed
	}
	if ctx.Err() != nil {
		return StateFailed
	}
	if contract.Retryable(err) && attempt < r.pol.MaxAttempts && !r.stop.Load() {
		diag.IncOp("scorer", "retry", "scheduled")
		return StateRetryScheduled
	}
	return StateFailed
}

// attempt: 一次完整调用（先过 Gate，再评分）。
func (r *scoreRun) attempt(ctx context.Context, rec contract.Record, attempt int) (contract.Assessment, error) {
	s := r.s
	tokens := 0
	if s.Tokens != nil {
		tokens = s.Tokens(rec)
	}
	if s.Gate != nil {
		if s.Logger != nil {
			s.Logger.DebugStart("gate", "ask", string(rec.Source), rec.ID, map[string]string{
				"requests": "1",
				"tokens":   fmt.Sprintf("%d", tokens),
				"attempt":  fmt.Sprintf("%d", attempt),
			})
		}
		if err := rate.Acquire(ctx, s.Gate, rate.Ask{Key: s.GateKey, Requests: 1, Tokens: tokens}, s.AcquireTimeout); err != nil {
			code := diag.Classify(err)
			if s.Logger != nil {
				s.Logger.ErrorWith("gate", string(code), "acquire failed", nil, string(rec.Source), rec.ID)
			}
			diag.IncOp("gate", "error", "error")
			if code != diag.CodeUnknown {
				diag.IncError("gate", string(code))
			}
			return contract.Assessment{}, err
		}
	}

	var timer *diag.Timer
	if s.Logger != nil {
		timer = s.Logger.StartWithKV("scorer", "score", string(rec.Source), rec.ID, map[string]string{
			"initiative": rec.Initiative,
			"attempt":    fmt.Sprintf("%d", attempt),
		})
	}
	t0 := time.Now()
	as, err := s.Client.Score(ctx, rec)
	if err != nil {
		code := diag.Classify(err)
		if s.Logger != nil {
			kv := map[string]string{"attempt": fmt.Sprintf("%d", attempt)}
			// 若为上游 HTTP 错误，附带状态码/消息
			var ue contract.UpstreamError
			if errors.As(err, &ue) {
				kv["http_status"] = fmt.Sprintf("%d", ue.UpstreamStatus())
				if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
					if len(m) > 200 {
						m = m[:200]
					}
					kv["upstream_msg"] = m
				}
			}
			s.Logger.ErrorWithKV("scorer", string(code), "score failed", &t0, string(rec.Source), rec.ID, kv)
		}
		diag.IncOp("scorer", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("scorer", string(code))
		}
		return contract.Assessment{}, err
	}
	if timer != nil {
		timer.Finish("score", 1)
	}
	diag.IncOp("scorer", "finish", "success")
	diag.ObserveDuration("scorer", "score", time.Since(t0).Milliseconds())
	return as, nil
}

func (r *scoreRun) observe(rec contract.Record, st State) {
	if r.s.Observe != nil {
		r.s.Observe(rec.Key(), st)
	}
}

func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

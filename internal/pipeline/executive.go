package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Act1nv3r/HUA/internal/diag"
	"github.com/Act1nv3r/HUA/internal/rate"
	"github.com/Act1nv3r/HUA/pkg/contract"
)

// Executive 为每个 Initiative 生成一段执行摘要。失败只记日志并省略该段，不影响整体运行。
type Executive struct {
	LLM    contract.LLMClient
	Build  func(ctx context.Context, ir contract.InitiativeReport) (contract.Prompt, error)
	Decode func(raw contract.Raw) (string, error)

	Concurrency    int
	Policy         Policy
	Gate           rate.Gate
	GateKey        rate.LimitKey
	AcquireTimeout time.Duration
	Logger         *diag.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// Annotate 并发填充 rep.Initiatives[i].Executive，返回成功生成的段落数。
// 没有成功评分记录的 Initiative 跳过。
func (e *Executive) Annotate(ctx context.Context, rep *contract.Report) int {
	if e == nil || e.LLM == nil || e.Build == nil || e.Decode == nil {
		return 0
	}
	n := e.Concurrency
	if n < 1 {
		n = 1
	}
	pol := e.Policy
	if pol.MaxAttempts < 1 {
		pol = DefaultPolicy()
	}
	sleep := e.sleep
	if sleep == nil {
		sleep = sleepWithCtx
	}

	var g errgroup.Group
	g.SetLimit(n)
	results := make([]string, len(rep.Initiatives))
	for i := range rep.Initiatives {
		ir := rep.Initiatives[i]
		if ir.Stats.Count == 0 {
			continue
		}
		g.Go(func() error {
			p, err := e.one(ctx, ir, pol, sleep)
			if err != nil {
				code := diag.Classify(err)
				if e.Logger != nil {
					e.Logger.ErrorWithKV("executive", string(code), "paragraph omitted", nil, string(ir.Initiative.Source), ir.Initiative.Name, nil)
				}
				diag.IncOp("executive", "error", "error")
				if code != diag.CodeUnknown {
					diag.IncError("executive", string(code))
				}
				return nil
			}
			results[i] = p
			diag.IncOp("executive", "finish", "success")
			return nil
		})
	}
	_ = g.Wait()

	done := 0
	for i, p := range results {
		if p != "" {
			rep.Initiatives[i].Executive = p
			done++
		}
	}
	return done
}

// one 生成单个段落，可重试错误按策略退避。
func (e *Executive) one(ctx context.Context, ir contract.InitiativeReport, pol Policy, sleep func(context.Context, time.Duration) error) (string, error) {
	p, err := e.Build(ctx, ir)
	if err != nil {
		return "", err
	}
	var timer *diag.Timer
	if e.Logger != nil {
		timer = e.Logger.StartWith("executive", "generate", string(ir.Initiative.Source), ir.Initiative.Name)
	}
	var lastErr error
	for attempt := 1; attempt <= pol.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, pol.Delay(attempt-1)); err != nil {
				return "", err
			}
		}
		if err := rate.Acquire(ctx, e.Gate, rate.Ask{Key: e.GateKey, Requests: 1}, e.AcquireTimeout); err != nil {
			lastErr = err
			if contract.Retryable(err) {
				continue
			}
			return "", err
		}
		raw, err := e.LLM.Invoke(ctx, p)
		if err == nil {
			var text string
			text, err = e.Decode(raw)
			if err == nil {
				if timer != nil {
					timer.Finish("generate", 1)
				}
				return text, nil
			}
		}
		lastErr = err
		if !contract.Retryable(err) || ctx.Err() != nil {
			return "", err
		}
	}
	return "", lastErr
}

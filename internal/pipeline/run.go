package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Act1nv3r/HUA/internal/aggregate"
	"github.com/Act1nv3r/HUA/internal/diag"
	"github.com/Act1nv3r/HUA/internal/ingest"
	"github.com/Act1nv3r/HUA/internal/prompt"
	"github.com/Act1nv3r/HUA/internal/rate"
	"github.com/Act1nv3r/HUA/pkg/contract"
)

// Components: 运行所需组件（由 config.Assemble 装配）。
type Components struct {
	Reader        contract.Reader
	PromptBuilder contract.PromptBuilder
	LLM           contract.LLMClient
	Decoder       contract.Decoder
	Assembler     contract.Assembler
	Writer        contract.Writer

	// ScoreClient 非空时替代 PromptBuilder+LLM+Decoder 的组合。
	ScoreClient contract.ScoreClient
	// Previous: 可选，上一版分析索引。
	Previous PreviousLookup
	// ExecutivePrompt/ExecutiveDecode 同时非空时生成执行摘要段落。
	ExecutivePrompt func(ctx context.Context, ir contract.InitiativeReport) (contract.Prompt, error)
	ExecutiveDecode func(raw contract.Raw) (string, error)
	// History: 可选，运行结束后记录历史与速度。
	History History
}

// History: 运行历史记录器。
type History interface {
	Record(ctx context.Context, rep contract.Report, output string) error
}

// Settings: 运行参数（来自配置）。
type Settings struct {
	Inputs         []string
	OutputBase     string // 为空时取首个输入的文件名
	Concurrency    int
	MaxPerRun      int
	Limit          int // 0 表示全部（仍受 MaxPerRun 约束）
	Weights        contract.Weights
	Policy         Policy
	Gate           rate.Gate
	GateKey        rate.LimitKey
	AcquireTimeout time.Duration
	BytesPerToken  int
	LLMName        string
	Now            func() time.Time
}

// Summary: 一次运行的结果。
type Summary struct {
	Output           string
	Report           contract.Report
	Scored           int
	Failed           int
	Skipped          int
	CreditsExhausted bool
}

// Run 执行完整流程：读取 → 识别/摄取 → 截断 → 并发评分 → 聚合 → 执行摘要 → 装配 → 版本化写出 → 历史。
// 单条记录失败不使整体失败；只有读取/装配/写出错误与 ctx 取消返回 error。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger, term *diag.Terminal) (Summary, error) {
	if logger == nil {
		logger = diag.NewNop()
	}
	if err := sanity(comp, set); err != nil {
		logger.Error("pipeline", string(diag.CodeConfig), err.Error(), nil)
		return Summary{}, err
	}
	runStart := time.Now()
	term.RunStart(set.Concurrency, set.LLMName)

	// 1) 读取并识别
	inits, base, err := readInitiatives(ctx, comp.Reader, set.Inputs, logger)
	if err != nil {
		term.RunFinish(false, 0, 0, time.Since(runStart))
		return Summary{}, err
	}
	if set.OutputBase != "" {
		base = set.OutputBase
	}

	// 2) 截断
	recs, skipped := Plan(inits, EffectiveLimit(set.Limit, set.MaxPerRun))
	nSkipped := 0
	for _, n := range skipped {
		nSkipped += n
	}
	logger.StartWithKV("pipeline", "plan", base, "", map[string]string{
		"initiatives": fmt.Sprintf("%d", len(inits)),
		"records":     fmt.Sprintf("%d", len(recs)),
		"skipped":     fmt.Sprintf("%d", nSkipped),
	}).Finish("plan", int64(len(recs)))
	term.WorkbookStart(base, len(inits), len(recs))

	// 3) 评分
	sc := comp.ScoreClient
	if sc == nil {
		sc = &LLMScorer{Builder: comp.PromptBuilder, LLM: comp.LLM, Decoder: comp.Decoder, Previous: comp.Previous}
	}
	scorer := &Scorer{
		Client:         sc,
		Concurrency:    set.Concurrency,
		Policy:         set.Policy,
		Gate:           set.Gate,
		GateKey:        set.GateKey,
		AcquireTimeout: set.AcquireTimeout,
		Logger:         logger,
		Progress:       term.Progress,
	}
	if comp.PromptBuilder != nil && set.Gate != nil {
		est := prompt.MakeEstimator(set.BytesPerToken)
		overhead := comp.PromptBuilder.EstimateOverheadTokens(est)
		scorer.Tokens = func(rec contract.Record) int { return prompt.RecordTokens(est, overhead, rec) }
	}
	batch, err := scorer.Score(ctx, recs)
	if err != nil {
		term.WorkbookFinish(false, "", time.Since(runStart))
		return Summary{}, err
	}

	// 4) 聚合
	now := time.Now
	if set.Now != nil {
		now = set.Now
	}
	rep := aggregate.New(set.Weights).Build(inits, batch.Outcomes, skipped, now())
	rep.Source = base
	if batch.CreditsExhausted {
		rep.Notes = append(rep.Notes, creditsNote(batch))
	}
	if nSkipped > 0 {
		rep.Notes = append(rep.Notes, fmt.Sprintf("%d HUs no se analizaron por el límite de %d HUs por ejecución.", nSkipped, len(recs)))
	}

	// 5) 执行摘要（额度耗尽时不再调用模型）
	if comp.ExecutivePrompt != nil && comp.ExecutiveDecode != nil && !batch.CreditsExhausted {
		ex := &Executive{
			LLM:            comp.LLM,
			Build:          comp.ExecutivePrompt,
			Decode:         comp.ExecutiveDecode,
			Concurrency:    set.Concurrency,
			Policy:         set.Policy,
			Gate:           set.Gate,
			GateKey:        set.GateKey,
			AcquireTimeout: set.AcquireTimeout,
			Logger:         logger,
		}
		ex.Annotate(ctx, &rep)
	}

	// 6) 装配 + 写出
	out, err := emit(ctx, comp, rep, base, logger)
	if err != nil {
		term.WorkbookFinish(false, "", time.Since(runStart))
		term.RunFinish(false, rep.Global.Count, rep.Global.Failed, time.Since(runStart))
		return Summary{Report: rep}, err
	}
	term.WorkbookFinish(true, out, time.Since(runStart))

	// 7) 历史（失败不影响结果）
	if comp.History != nil {
		if err := comp.History.Record(ctx, rep, out); err != nil {
			logger.Warn("history", string(diag.Classify(err)), "record run failed: "+err.Error(), nil)
		}
	}

	sum := Summary{
		Output:           out,
		Report:           rep,
		Scored:           rep.Global.Count,
		Failed:           rep.Global.Failed,
		Skipped:          rep.Global.Skipped,
		CreditsExhausted: batch.CreditsExhausted,
	}
	term.RunFinish(sum.Failed == 0, sum.Scored, sum.Failed, time.Since(runStart))
	logger.InfoFinish("pipeline", "run", runStart, int64(sum.Scored))
	return sum, nil
}

// readInitiatives 读取全部工作表并逐表识别布局；base 取首张表的来源文件。
// 计划名跨来源唯一：不同工作簿中的同名表改名为 "<文件>_<表>"。
func readInitiatives(ctx context.Context, r contract.Reader, inputs []string, logger *diag.Logger) ([]contract.Initiative, string, error) {
	timer := logger.Start("reader", "iterate")
	var (
		inits []contract.Initiative
		names ingest.Names
	)
	base := ""
	err := r.Iterate(ctx, inputs, func(sh contract.Sheet) error {
		if strings.TrimSpace(sh.Name) == contract.SummarySheet {
			return nil
		}
		if name := names.Assign(sh); name != sh.Name {
			logger.DebugStart("ingest", "rename", string(sh.Source), "", map[string]string{
				"sheet":      sh.Name,
				"initiative": name,
			})
			sh.Name = name
		}
		in := ingest.NewInitiative(sh)
		if !in.Schema.Detected {
			logger.Warn("ingest", string(diag.CodeProtocol), "header not found, using fallback layout", map[string]string{
				"sheet": sh.Name,
			})
		}
		if base == "" {
			base = string(sh.Source)
		}
		inits = append(inits, in)
		return nil
	})
	if err != nil {
		code := diag.Classify(err)
		logger.Error("reader", string(code), "iterate failed: "+err.Error(), nil)
		diag.IncOp("reader", "error", "error")
		return nil, "", err
	}
	if len(inits) == 0 {
		return nil, "", fmt.Errorf("pipeline: no sheets found: %w", contract.ErrInvalidInput)
	}
	timer.Finish("iterate", int64(len(inits)))
	return inits, base, nil
}

func emit(ctx context.Context, comp Components, rep contract.Report, base string, logger *diag.Logger) (string, error) {
	atimer := logger.Start("assembler", "assemble")
	body, err := comp.Assembler.Assemble(ctx, rep)
	if err != nil {
		logger.Error("assembler", string(diag.Classify(err)), "assemble failed: "+err.Error(), nil)
		diag.IncOp("assembler", "error", "error")
		return "", err
	}
	atimer.Finish("assemble", int64(len(rep.Initiatives)))

	wtimer := logger.StartWith("writer", "write", base, "")
	out, err := comp.Writer.Write(ctx, base, body)
	if err != nil {
		logger.ErrorWith("writer", string(diag.Classify(err)), "write failed", nil, base, "")
		diag.IncOp("writer", "error", "error")
		return "", err
	}
	wtimer.Finish("write", 1)
	diag.IncOp("writer", "finish", "success")
	return out, nil
}

// EffectiveLimit: limit<=0 或超过上限时取上限；上限<=0 表示不设上限。
func EffectiveLimit(limit, maxPerRun int) int {
	if maxPerRun <= 0 {
		return limit
	}
	if limit <= 0 || limit > maxPerRun {
		return maxPerRun
	}
	return limit
}

// Plan 按 Initiative 顺序收集合格记录，截断到 limit（<=0 不截断）。
// 返回待派发记录与每个 Initiative 未派发的合格记录数。
func Plan(inits []contract.Initiative, limit int) ([]contract.Record, map[string]int) {
	var recs []contract.Record
	skipped := make(map[string]int)
	for _, in := range inits {
		for rec := range ingest.Records(in) {
			if limit > 0 && len(recs) >= limit {
				skipped[in.Name]++
				continue
			}
			recs = append(recs, rec)
		}
	}
	return recs, skipped
}

func creditsNote(b Batch) string {
	pending := 0
	for _, o := range b.Outcomes {
		if o.Failed() && o.Attempts == 0 {
			pending++
		}
	}
	return fmt.Sprintf("Créditos del proveedor agotados: %d HUs quedaron sin analizar. Recarga créditos y vuelve a ejecutar.", pending)
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Assembler == nil || c.Writer == nil {
		return fmt.Errorf("pipeline: missing reader/assembler/writer: %w", contract.ErrConfigInvalid)
	}
	if c.ScoreClient == nil && (c.PromptBuilder == nil || c.LLM == nil || c.Decoder == nil) {
		return fmt.Errorf("pipeline: missing score client: %w", contract.ErrConfigInvalid)
	}
	if s.Concurrency < 1 {
		return fmt.Errorf("pipeline: concurrency must be >= 1: %w", contract.ErrConfigInvalid)
	}
	if s.Limit < 0 {
		return fmt.Errorf("pipeline: limit must be >= 0: %w", contract.ErrConfigInvalid)
	}
	if err := s.Weights.Validate(); err != nil {
		return err
	}
	return nil
}

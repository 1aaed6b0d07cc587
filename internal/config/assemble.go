package config

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/Act1nv3r/HUA/internal/pipeline"
	"github.com/Act1nv3r/HUA/internal/prompt"
	"github.com/Act1nv3r/HUA/internal/rate"
	"github.com/Act1nv3r/HUA/pkg/contract"
	"github.com/Act1nv3r/HUA/pkg/registry"
	"github.com/Act1nv3r/HUA/plugins/decoder/scorejson"
	"github.com/Act1nv3r/HUA/plugins/prompt/analysis"
	"github.com/Act1nv3r/HUA/plugins/reader/xlsx"
	"github.com/Act1nv3r/HUA/plugins/writer/filesystem"
)

// 内置组件名（注册表键）。
const (
	readerName    = "xlsx"
	builderName   = "analysis"
	decoderName   = "scorejson"
	assemblerName = "workbook"
	writerName    = "fs"
)

func invalid(format string, a ...any) error {
	return fmt.Errorf("config: "+format+": %w", append(a, contract.ErrConfigInvalid)...)
}

// Validate 在任何评分调用之前做静态校验，失败一律包装 ErrConfigInvalid。
// 输入路径不在此校验（MCP 按调用提供）；见 Assemble。
func Validate(cfg Config) error {
	if _, err := cfg.DimensionWeights(); err != nil {
		return err
	}
	if cfg.MaxConcurrent < 1 {
		return invalid("max_concurrent_analysis must be >= 1")
	}
	if cfg.MaxPerRun < 1 {
		return invalid("max_hus_per_run must be >= 1")
	}
	if cfg.Limit < 0 {
		return invalid("limit must be >= 0")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return invalid("retry.max_attempts must be >= 1")
	}
	if cfg.Retry.BaseDelay <= 0 || cfg.Retry.MaxDelay <= 0 {
		return invalid("retry delays must be > 0")
	}
	if cfg.Retry.Multiplier < 1 || math.IsNaN(cfg.Retry.Multiplier) {
		return invalid("retry.multiplier must be >= 1")
	}
	if cfg.Rate.Capacity < 1 {
		return invalid("rate.capacity must be >= 1")
	}
	if cfg.Rate.RefillPerMinute <= 0 {
		return invalid("rate.refill_per_minute must be > 0")
	}
	if cfg.Rate.AcquireTimeout < 0 {
		return invalid("rate.acquire_timeout must be >= 0")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return invalid("output_dir empty")
	}
	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) == "" {
		return invalid("history.path empty")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return invalid("logging.level %q unknown", cfg.Logging.Level)
	}
	if cfg.LLM == "" {
		return invalid("llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return invalid("provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return invalid("provider %q missing client", cfg.LLM)
	}
	if registry.LLMClient[prov.Client] == nil {
		return invalid("llm client %q not registered", prov.Client)
	}
	if prov.Limits.Capacity < 0 || prov.Limits.RefillPerMinute < 0 || prov.Limits.TPM < 0 || prov.Limits.MaxTokensPerReq < 0 {
		return invalid("provider %q limits must be >= 0", cfg.LLM)
	}
	return nil
}

// DimensionWeights 把配置中的权重转换为领域类型并校验。
func (c Config) DimensionWeights() (contract.Weights, error) {
	w := make(contract.Weights, len(c.Weights))
	for k, v := range c.Weights {
		d, ok := contract.ParseDimension(strings.TrimSpace(k))
		if !ok {
			return nil, invalid("unknown dimension %q", k)
		}
		w[d] = v
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// validateInputs: 至少一个根；"-" 不能与其他根混用。
func validateInputs(inputs []string) error {
	if len(inputs) == 0 {
		return invalid("inputs empty")
	}
	dash := false
	for _, r := range inputs {
		switch strings.TrimSpace(r) {
		case "":
			return invalid("input path cannot be empty")
		case "-":
			dash = true
		}
	}
	if dash && len(inputs) > 1 {
		return invalid("'-' cannot be mixed with other roots")
	}
	return nil
}

// Assemble 校验配置并构造运行组件与参数（含共享限流 Gate）。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 JSON。
// History/Previous 需要打开外部资源，由调用方在返回的 Components 上补充。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	var comp pipeline.Components
	var set pipeline.Settings
	if err := Validate(cfg); err != nil {
		return comp, set, err
	}
	if err := validateInputs(cfg.Inputs); err != nil {
		return comp, set, err
	}
	weights, _ := cfg.DimensionWeights()

	readerOpts, _ := json.Marshal(xlsx.Options{
		MaxFileBytes:    cfg.MaxFileBytes,
		Sheet:           cfg.Sheet,
		ExcludeDirNames: []string{".git", "node_modules", filepath.Base(cfg.OutputDir)},
	})
	r, err := registry.Reader[readerName](readerOpts)
	if err != nil {
		return comp, set, invalid("reader options: %v", err)
	}
	pbRaw, err := rawJSON(cfg.Options.PromptBuilder)
	if err != nil {
		return comp, set, err
	}
	pb, err := registry.PromptBuilder[builderName](pbRaw, weights)
	if err != nil {
		return comp, set, invalid("prompt_builder options: %v", err)
	}
	decRaw, err := rawJSON(cfg.Options.Decoder)
	if err != nil {
		return comp, set, err
	}
	dec, err := registry.Decoder[decoderName](decRaw)
	if err != nil {
		return comp, set, invalid("decoder options: %v", err)
	}
	asmRaw, err := rawJSON(cfg.Options.Assembler)
	if err != nil {
		return comp, set, err
	}
	asm, err := registry.Assembler[assemblerName](asmRaw)
	if err != nil {
		return comp, set, invalid("assembler options: %v", err)
	}
	writerOpts, _ := json.Marshal(filesystem.Options{OutputDir: cfg.OutputDir, Suffix: cfg.OutputSuffix})
	w, err := registry.Writer[writerName](writerOpts)
	if err != nil {
		return comp, set, err
	}

	// LLM 客户端
	prov := cfg.Provider[cfg.LLM]
	provRaw, err := rawJSON(prov.Options)
	if err != nil {
		return comp, set, err
	}
	llm, err := registry.LLMClient[prov.Client](provRaw)
	if err != nil {
		return comp, set, invalid("provider %q: %v", cfg.LLM, err)
	}
	// 单次请求上限必须容得下固定提示开销，否则每条 HU 都会被 Gate 拒绝。
	if perReq := prov.Limits.MaxTokensPerReq; perReq > 0 {
		if eff, overhead := prompt.EffectiveMaxTokens(pb, 0, perReq); eff <= 0 {
			return comp, set, invalid("provider %q max_tokens_per_req %d leaves no room after the fixed prompt (%d tokens)", cfg.LLM, perReq, overhead)
		}
	}

	comp = pipeline.Components{
		Reader:        r,
		PromptBuilder: pb,
		LLM:           llm,
		Decoder:       dec,
		Assembler:     asm,
		Writer:        w,
	}
	if cfg.Executive.Enabled {
		comp.ExecutivePrompt = analysis.BuildExecutive
		comp.ExecutiveDecode = scorejson.DecodeExecutive
	}

	// 限流 Gate（同一 API Key 的所有请求共享一个桶）；派生失败退化为 provider 名称。
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, provRaw)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{key: cfg.limits(prov.Limits)}, nil)

	set = pipeline.Settings{
		Inputs:      cloneStrings(cfg.Inputs),
		Concurrency: cfg.MaxConcurrent,
		MaxPerRun:   cfg.MaxPerRun,
		Limit:       cfg.Limit,
		Weights:     weights,
		Policy: pipeline.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			Multiplier:  cfg.Retry.Multiplier,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Gate:           gate,
		GateKey:        key,
		AcquireTimeout: cfg.Rate.AcquireTimeout,
		LLMName:        cfg.LLM,
	}
	return comp, set, nil
}

// limits: provider 级限额优先，零值回退到全局 rate。
func (c Config) limits(p Limits) rate.Limits {
	lim := rate.Limits{
		Capacity:        c.Rate.Capacity,
		RefillPerMinute: c.Rate.RefillPerMinute,
		TPM:             p.TPM,
		MaxTokensPerReq: p.MaxTokensPerReq,
	}
	if p.Capacity > 0 {
		lim.Capacity = p.Capacity
	}
	if p.RefillPerMinute > 0 {
		lim.RefillPerMinute = p.RefillPerMinute
	}
	return lim
}

package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config: 运行期只读配置（一次解析，运行期不变，显式传递）。
// YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs       []string `yaml:"inputs"`
	OutputDir    string   `yaml:"output_dir"`
	OutputSuffix string   `yaml:"output_suffix"`
	// Sheet: 非空时只分析同名工作表。
	Sheet string `yaml:"sheet"`
	// Limit: 本次最多分析的 HU 数，0 表示全部（仍受 MaxPerRun 约束）。
	Limit         int                `yaml:"limit"`
	MaxConcurrent int                `yaml:"max_concurrent_analysis"`
	MaxPerRun     int                `yaml:"max_hus_per_run"`
	Weights       map[string]float64 `yaml:"dimension_weights"`
	Retry         Retry              `yaml:"retry"`
	Rate          Rate               `yaml:"rate"`
	MaxFileBytes  int64              `yaml:"max_file_bytes"`

	// LLM Provider 选择与定义。
	LLM      string              `yaml:"llm"`
	Provider map[string]Provider `yaml:"provider"`

	// Previous: 上一版分析工作簿路径（可选）。
	Previous  string    `yaml:"previous"`
	History   History   `yaml:"history"`
	Executive Executive `yaml:"executive"`
	Logging   Logging   `yaml:"logging"`

	// 各组件 Options 子树，转为 JSON 传入工厂。
	Options Options `yaml:"options"`
}

// Retry: 单条 HU 的重试退避。
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Rate: 全局令牌桶（provider.limits 未设置时使用）。
type Rate struct {
	Capacity        int           `yaml:"capacity"`
	RefillPerMinute float64       `yaml:"refill_per_minute"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `yaml:"level"`
}

// History: SQLite 运行历史。
type History struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Executive: 每个 Initiative 的执行摘要段落。
type Executive struct {
	Enabled bool `yaml:"enabled"`
}

// Options: 可配置组件的原样 Options（YAML 映射）。
type Options struct {
	PromptBuilder map[string]any `yaml:"prompt_builder"`
	Decoder       map[string]any `yaml:"decoder"`
	Assembler     map[string]any `yaml:"assembler"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string         `yaml:"client"`
	Options map[string]any `yaml:"options"`
	Limits  Limits         `yaml:"limits"`
}

// Limits: provider 级限额；零值字段回退到 Config.Rate。
type Limits struct {
	Capacity        int     `yaml:"capacity"`
	RefillPerMinute float64 `yaml:"refill_per_minute"`
	TPM             int     `yaml:"tpm"`
	MaxTokensPerReq int     `yaml:"max_tokens_per_req"`
}

// rawJSON 把 YAML 映射转换为工厂所需的 JSON；nil 映射得到 nil。
func rawJSON(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("config: options not representable as JSON: %w", err)
	}
	return b, nil
}

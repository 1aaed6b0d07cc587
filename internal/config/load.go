package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Act1nv3r/HUA/internal/rate"
	"github.com/Act1nv3r/HUA/pkg/contract"
	"github.com/Act1nv3r/HUA/plugins/reader/xlsx"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "HUA_"

// DefaultFile: 工作目录下自动读取的配置文件名。
const DefaultFile = "hua.yaml"

// Defaults 返回带有安全默认值的 Config。
func Defaults() Config {
	w := contract.DefaultWeights()
	weights := make(map[string]float64, len(w))
	for d, v := range w {
		weights[string(d)] = v
	}
	lim := rate.DefaultLimits()
	return Config{
		OutputDir:     "Output",
		OutputSuffix:  "_analizado",
		MaxConcurrent: 5,
		MaxPerRun:     200,
		Weights:       weights,
		Retry: Retry{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Multiplier:  2,
			MaxDelay:    30 * time.Second,
		},
		Rate: Rate{
			Capacity:        lim.Capacity,
			RefillPerMinute: lim.RefillPerMinute,
			AcquireTimeout:  2 * time.Minute,
		},
		MaxFileBytes: xlsx.DefaultMaxFileBytes,
		LLM:          "gemini",
		Provider: map[string]Provider{
			"gemini": {
				Client:  "gemini",
				Options: map[string]any{"api_key_env": "GOOGLE_API_KEY"},
			},
			"anthropic": {
				Client:  "anthropic",
				Options: map[string]any{"api_key_env": "ANTHROPIC_API_KEY"},
			},
			"mock": {Client: "mock"},
		},
		History:   History{Enabled: true, Path: ".hua/history.db"},
		Executive: Executive{Enabled: true},
		Logging:   Logging{Level: "info"},
	}
}

// FindFile 决定配置文件：显式路径 > HUA_CONFIG_FILE > ./hua.yaml（存在时）。都没有返回 ""。
func FindFile(explicit string, environ []string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	if s := lookup(environ, EnvPrefix+"CONFIG_FILE"); s != "" {
		return s
	}
	if st, err := os.Stat(DefaultFile); err == nil && !st.IsDir() {
		return DefaultFile
	}
	return ""
}

// Load 按优先级构造配置：Defaults < 文件 < 环境变量。CLI 覆盖由调用方在其后应用。
// 返回实际使用的配置文件路径（可能为空）。
func Load(path string, environ []string) (Config, string, error) {
	cfg := Defaults()
	file := FindFile(path, environ)
	if file != "" {
		var err error
		cfg, err = LoadFile(file, cfg)
		if err != nil {
			return cfg, file, err
		}
	}
	cfg, err := ApplyEnv(cfg, environ)
	return cfg, file, err
}

// LoadFile 读取 YAML（JSON 作为其子集同样接受）并叠加到 base 上。
func LoadFile(path string, base Config) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return base, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, base)
}

// Parse 严格解析（拒绝未知键）。出现的键覆盖 base；dimension_weights 整体替换，
// provider 按名称替换。
func Parse(r io.Reader, base Config) (Config, error) {
	cfg := base
	cfg.Inputs = cloneStrings(base.Inputs)
	cfg.Weights = nil
	cfg.Provider = nil
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("config: parse: %v: %w", err, contract.ErrConfigInvalid)
	}
	if cfg.Weights == nil {
		cfg.Weights = maps.Clone(base.Weights)
	}
	if len(base.Provider) > 0 {
		merged := maps.Clone(base.Provider)
		maps.Copy(merged, cfg.Provider)
		cfg.Provider = merged
	}
	return cfg, nil
}

// ApplyEnv 应用 HUA_* 覆盖。数值非法时返回 ErrConfigInvalid，而不是静默忽略。
// 支持：INPUTS, OUTPUT_DIR, LLM, MAX_CONCURRENT_ANALYSIS, MAX_HUS_PER_RUN, DIMENSION_WEIGHTS,
// RATE_CAPACITY, RATE_REFILL_PER_MINUTE, RETRY_MAX_ATTEMPTS, LOG_LEVEL
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__OPTIONS_JSON。
func ApplyEnv(cfg Config, environ []string) (Config, error) {
	out := cfg
	out.Provider = maps.Clone(cfg.Provider)
	bad := func(key, val string) error {
		return fmt.Errorf("config: env %s%s=%q invalid: %w", EnvPrefix, key, val, contract.ErrConfigInvalid)
	}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			// 空值视为未设置
			continue
		}
		switch nk {
		case "INPUTS":
			out.Inputs = splitComma(val)
		case "OUTPUT_DIR":
			out.OutputDir = val
		case "LLM":
			out.LLM = val
		case "LOG_LEVEL":
			out.Logging.Level = val
		case "MAX_CONCURRENT_ANALYSIS":
			n, err := strconv.Atoi(val)
			if err != nil {
				return cfg, bad(nk, val)
			}
			out.MaxConcurrent = n
		case "MAX_HUS_PER_RUN":
			n, err := strconv.Atoi(val)
			if err != nil {
				return cfg, bad(nk, val)
			}
			out.MaxPerRun = n
		case "RETRY_MAX_ATTEMPTS":
			n, err := strconv.Atoi(val)
			if err != nil {
				return cfg, bad(nk, val)
			}
			out.Retry.MaxAttempts = n
		case "RATE_CAPACITY":
			n, err := strconv.Atoi(val)
			if err != nil {
				return cfg, bad(nk, val)
			}
			out.Rate.Capacity = n
		case "RATE_REFILL_PER_MINUTE":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return cfg, bad(nk, val)
			}
			out.Rate.RefillPerMinute = f
		case "DIMENSION_WEIGHTS":
			w, err := ParseWeights(val)
			if err != nil {
				return cfg, err
			}
			out.Weights = w
		default:
			// provider.* 路径：PROVIDER__name__FIELD
			if !strings.HasPrefix(nk, "PROVIDER__") {
				continue
			}
			parts := strings.Split(nk, "__")
			if len(parts) != 3 || strings.TrimSpace(parts[1]) == "" {
				continue
			}
			name := strings.TrimSpace(parts[1])
			if out.Provider == nil {
				out.Provider = map[string]Provider{}
			}
			p := out.Provider[name]
			switch parts[2] {
			case "CLIENT":
				p.Client = val
			case "OPTIONS_JSON":
				var m map[string]any
				if err := yaml.Unmarshal([]byte(val), &m); err != nil || m == nil {
					return cfg, bad(nk, val)
				}
				p.Options = m
			default:
				continue
			}
			out.Provider[name] = p
		}
	}
	return out, nil
}

// ParseWeights 解析 "funcional=0.35,capas_tec=0.25,..."。
func ParseWeights(s string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, part := range splitComma(s) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("config: weight %q must be key=value: %w", part, contract.ErrConfigInvalid)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("config: weight %q: %w", part, contract.ErrConfigInvalid)
		}
		out[strings.TrimSpace(k)] = f
	}
	return out, nil
}

// LoadDotEnv 读取简单的 .env 并注入进程环境，不覆盖已存在的变量。
// 文件不存在时返回 nil。支持 "export " 前缀与成对引号。
func LoadDotEnv(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		val = unquote(strings.TrimSpace(val))
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	q := val[0]
	if (q != '\'' && q != '"') || val[len(val)-1] != q {
		return val
	}
	val = val[1 : len(val)-1]
	if q == '"' {
		r := strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`, `\\`, `\`)
		val = r.Replace(val)
	}
	return val
}

func lookup(environ []string, key string) string {
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

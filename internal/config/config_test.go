package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	d := Defaults()
	require.NoError(t, Validate(d))
	assert.Equal(t, 5, d.MaxConcurrent)
	assert.Equal(t, 200, d.MaxPerRun)
	assert.Equal(t, "_analizado", d.OutputSuffix)
	assert.Equal(t, 3, d.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Minute, d.Rate.AcquireTimeout)
	assert.InDelta(t, 0.35, d.Weights["funcional"], 1e-9)
}

func TestParseYAMLOverridesOnlyPresentKeys(t *testing.T) {
	src := `
inputs: [backlog.xlsx]
max_concurrent_analysis: 3
retry:
  max_attempts: 4
  base_delay: 500ms
llm: mock
provider:
  mock:
    client: mock
    options:
      scores: {HU-001: 9}
`
	cfg, err := Parse(strings.NewReader(src), Defaults())
	require.NoError(t, err)
	assert.Equal(t, []string{"backlog.xlsx"}, cfg.Inputs)
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	// 未出现的键保持默认
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 200, cfg.MaxPerRun)
	assert.Len(t, cfg.Weights, 6)
	// provider 按名合并
	assert.Contains(t, cfg.Provider, "gemini")
	assert.Equal(t, "mock", cfg.Provider["mock"].Client)
	require.NoError(t, Validate(cfg))
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("unknown: 1\n"), Defaults())
	require.ErrorIs(t, err, contract.ErrConfigInvalid)
}

func TestParseAcceptsJSON(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`{"limit": 7, "sheet": "Pagos"}`), Defaults())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Limit)
	assert.Equal(t, "Pagos", cfg.Sheet)
}

func TestParseDoesNotMutateBase(t *testing.T) {
	base := Defaults()
	_, err := Parse(strings.NewReader("dimension_weights: {funcional: 1}\n"), base)
	require.NoError(t, err)
	assert.Len(t, base.Weights, 6)
}

func TestApplyEnv(t *testing.T) {
	env := []string{
		"HUA_INPUTS=a.xlsx, b.xlsx",
		"HUA_MAX_CONCURRENT_ANALYSIS=2",
		"HUA_MAX_HUS_PER_RUN=10",
		"HUA_LLM=mock",
		"HUA_RATE_REFILL_PER_MINUTE=12.5",
		"HUA_DIMENSION_WEIGHTS=funcional=0.5,capas_tec=0.1,ux_ui=0.1,integraciones=0.1,regulatorio=0.1,criterios=0.1",
		"HUA_PROVIDER__mock__OPTIONS_JSON={\"delay_ms\": 5}",
		"HUA_LOG_LEVEL=",
		"OTHER=1",
	}
	cfg, err := ApplyEnv(Defaults(), env)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.xlsx", "b.xlsx"}, cfg.Inputs)
	assert.Equal(t, 2, cfg.MaxConcurrent)
	assert.Equal(t, 10, cfg.MaxPerRun)
	assert.Equal(t, "mock", cfg.LLM)
	assert.InDelta(t, 12.5, cfg.Rate.RefillPerMinute, 1e-9)
	assert.InDelta(t, 0.5, cfg.Weights["funcional"], 1e-9)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "mock", cfg.Provider["mock"].Client)
	assert.EqualValues(t, 5, cfg.Provider["mock"].Options["delay_ms"])
	require.NoError(t, Validate(cfg))
}

func TestApplyEnvInvalidNumber(t *testing.T) {
	_, err := ApplyEnv(Defaults(), []string{"HUA_MAX_HUS_PER_RUN=muchas"})
	require.ErrorIs(t, err, contract.ErrConfigInvalid)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cfg.yaml", "max_concurrent_analysis: 3\nlimit: 4\n")
	cfg, file, err := Load(p, []string{"HUA_MAX_CONCURRENT_ANALYSIS=7"})
	require.NoError(t, err)
	assert.Equal(t, p, file)
	assert.Equal(t, 7, cfg.MaxConcurrent)
	assert.Equal(t, 4, cfg.Limit)

	// HUA_CONFIG_FILE 在没有显式路径时生效
	_, file, err = Load("", []string{"HUA_CONFIG_FILE=" + p})
	require.NoError(t, err)
	assert.Equal(t, p, file)
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]func(c *Config){
		"weights sum":     func(c *Config) { c.Weights["funcional"] = 0.5 },
		"unknown dim":     func(c *Config) { c.Weights["extra"] = 0 },
		"negative weight": func(c *Config) { c.Weights["funcional"] = -0.1; c.Weights["capas_tec"] = 0.7 },
		"concurrency":     func(c *Config) { c.MaxConcurrent = 0 },
		"cap":             func(c *Config) { c.MaxPerRun = 0 },
		"limit":           func(c *Config) { c.Limit = -1 },
		"attempts":        func(c *Config) { c.Retry.MaxAttempts = 0 },
		"base delay":      func(c *Config) { c.Retry.BaseDelay = 0 },
		"multiplier":      func(c *Config) { c.Retry.Multiplier = 0.5 },
		"capacity":        func(c *Config) { c.Rate.Capacity = 0 },
		"refill":          func(c *Config) { c.Rate.RefillPerMinute = 0 },
		"llm":             func(c *Config) { c.LLM = "nadie" },
		"client":          func(c *Config) { c.Provider["x"] = Provider{Client: "openai"}; c.LLM = "x" },
		"log level":       func(c *Config) { c.Logging.Level = "loud" },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			c := Defaults()
			mut(&c)
			assert.ErrorIs(t, Validate(c), contract.ErrConfigInvalid)
		})
	}
}

func TestAssembleMock(t *testing.T) {
	cfg := Defaults()
	cfg.Inputs = []string{"backlog.xlsx"}
	cfg.LLM = "mock"
	cfg.Limit = 3
	cfg.Provider["mock"] = Provider{Client: "mock", Limits: Limits{Capacity: 2}}
	comp, set, err := Assemble(cfg)
	require.NoError(t, err)
	assert.NotNil(t, comp.Reader)
	assert.NotNil(t, comp.PromptBuilder)
	assert.NotNil(t, comp.LLM)
	assert.NotNil(t, comp.Decoder)
	assert.NotNil(t, comp.Assembler)
	assert.NotNil(t, comp.Writer)
	assert.NotNil(t, comp.ExecutivePrompt)
	assert.NotNil(t, comp.ExecutiveDecode)
	assert.NotNil(t, set.Gate)
	assert.True(t, strings.HasPrefix(string(set.GateKey), "mock:"))
	assert.Equal(t, 5, set.Concurrency)
	assert.Equal(t, 3, set.Limit)
	assert.Equal(t, 3, set.Policy.MaxAttempts)
	assert.Equal(t, "mock", set.LLMName)

	lim := cfg.limits(cfg.Provider["mock"].Limits)
	assert.Equal(t, 2, lim.Capacity)
	assert.InDelta(t, 50, lim.RefillPerMinute, 1e-9)
}

func TestAssembleMaxTokensPerReqCoversPrompt(t *testing.T) {
	cfg := Defaults()
	cfg.Inputs = []string{"a.xlsx"}
	cfg.LLM = "mock"
	p := cfg.Provider["mock"]
	p.Limits.MaxTokensPerReq = 10
	cfg.Provider["mock"] = p
	_, _, err := Assemble(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "max_tokens_per_req")

	p.Limits.MaxTokensPerReq = 1 << 20
	cfg.Provider["mock"] = p
	_, _, err = Assemble(cfg)
	require.NoError(t, err)
}

func TestAssembleExecutiveDisabled(t *testing.T) {
	cfg := Defaults()
	cfg.Inputs = []string{"a.xlsx"}
	cfg.LLM = "mock"
	cfg.Executive.Enabled = false
	comp, _, err := Assemble(cfg)
	require.NoError(t, err)
	assert.Nil(t, comp.ExecutivePrompt)
}

func TestAssembleInputs(t *testing.T) {
	cfg := Defaults()
	cfg.LLM = "mock"
	_, _, err := Assemble(cfg)
	require.ErrorIs(t, err, contract.ErrConfigInvalid)

	cfg.Inputs = []string{"-", "a.xlsx"}
	_, _, err = Assemble(cfg)
	require.ErrorIs(t, err, contract.ErrConfigInvalid)
}

func TestWriteTemplateRoundTripAndNoClobber(t *testing.T) {
	dir := t.TempDir()
	written, err := WriteTemplate(dir)
	require.NoError(t, err)
	assert.Len(t, written, 2)

	cfg, err := LoadFile(filepath.Join(dir, DefaultFile), Defaults())
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "gemini-2.5-flash", cfg.Provider["gemini"].Options["model"])
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)

	env, err := os.ReadFile(filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "HUA_MAX_HUS_PER_RUN=")

	// 第二次不覆盖
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("limit: 1\n"), 0o644))
	written, err = WriteTemplate(dir)
	require.NoError(t, err)
	assert.Empty(t, written)
	b, _ := os.ReadFile(filepath.Join(dir, DefaultFile))
	assert.Equal(t, "limit: 1\n", string(b))
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", "# c\nexport HUA_TEST_A=\"uno\\tdos\"\nHUA_TEST_B='x'\nbroken\n")
	t.Setenv("HUA_TEST_B", "keep")
	require.NoError(t, LoadDotEnv(p))
	t.Cleanup(func() { _ = os.Unsetenv("HUA_TEST_A") })
	assert.Equal(t, "uno\tdos", os.Getenv("HUA_TEST_A"))
	assert.Equal(t, "keep", os.Getenv("HUA_TEST_B"))
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing")))
}

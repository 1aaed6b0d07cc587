package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TemplateConfig 返回一个可直接编辑的模板：默认值 + 各 provider 的常用选项键。
func TemplateConfig() Config {
	cfg := Defaults()
	cfg.Inputs = []string{"Input"}
	cfg.Provider["gemini"] = Provider{
		Client: "gemini",
		Options: map[string]any{
			"model":           "gemini-2.5-flash",
			"api_key_env":     "GOOGLE_API_KEY",
			"timeout_seconds": 60,
		},
		Limits: Limits{Capacity: cfg.Rate.Capacity, RefillPerMinute: cfg.Rate.RefillPerMinute},
	}
	cfg.Provider["anthropic"] = Provider{
		Client: "anthropic",
		Options: map[string]any{
			"model":           "claude-sonnet-4-5",
			"api_key_env":     "ANTHROPIC_API_KEY",
			"timeout_seconds": 60,
		},
	}
	cfg.Provider["mock"] = Provider{
		Client:  "mock",
		Options: map[string]any{"delay_ms": 50},
	}
	cfg.Options.PromptBuilder = map[string]any{"context": ""}
	return cfg
}

const templateHeader = `# HUA: configuración del analizador de Historias de Usuario.
# Prioridad: flags CLI > variables HUA_* (.env) > este archivo > valores por defecto.
`

// WriteTemplate 在 dir 下生成 hua.yaml 与 .env（已存在则跳过，不覆盖）。
// 返回实际写入的文件路径。
func WriteTemplate(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(templateHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(TemplateConfig()); err != nil {
		return nil, fmt.Errorf("config: template encode: %w", err)
	}
	_ = enc.Close()

	var written []string
	cfgPath := filepath.Join(dir, DefaultFile)
	ok, err := writeNew(cfgPath, buf.Bytes())
	if err != nil {
		return written, err
	}
	if ok {
		written = append(written, cfgPath)
	}
	envPath := filepath.Join(dir, ".env")
	ok, err = writeNew(envPath, []byte(dotEnvTemplate()))
	if err != nil {
		return written, err
	}
	if ok {
		written = append(written, envPath)
	}
	return written, nil
}

// writeNew 仅在文件不存在时创建；已存在返回 (false, nil)。
func writeNew(path string, b []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return false, err
	}
	return true, f.Close()
}

func dotEnvTemplate() string {
	var b strings.Builder
	b.WriteString("# HUA .env (generado por init-config)\n")
	b.WriteString("# Nunca sobrescribe variables ya definidas en el entorno.\n\n")
	b.WriteString("# Claves de proveedores\n")
	b.WriteString("GOOGLE_API_KEY=\n")
	b.WriteString("ANTHROPIC_API_KEY=\n\n")
	b.WriteString("# Overrides de ejecución\n")
	for _, k := range []string{
		"CONFIG_FILE", "INPUTS", "OUTPUT_DIR", "LLM",
		"MAX_CONCURRENT_ANALYSIS", "MAX_HUS_PER_RUN", "DIMENSION_WEIGHTS",
		"RATE_CAPACITY", "RATE_REFILL_PER_MINUTE", "RETRY_MAX_ATTEMPTS", "LOG_LEVEL",
	} {
		b.WriteString(EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# Provider (ejemplo: gemini)\n")
	b.WriteString(EnvPrefix + "PROVIDER__gemini__CLIENT=\n")
	b.WriteString(EnvPrefix + "PROVIDER__gemini__OPTIONS_JSON=\n")
	return b.String()
}

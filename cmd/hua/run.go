package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "github.com/Act1nv3r/HUA/internal/config"
	"github.com/Act1nv3r/HUA/internal/diag"
	"github.com/Act1nv3r/HUA/internal/history"
	"github.com/Act1nv3r/HUA/internal/pipeline"
)

// runFlags: run 子命令的 CLI 覆盖（仅显式给出的旗标生效）。
type runFlags struct {
	config      string
	output      string
	sheet       string
	limit       int
	previous    string
	llm         string
	concurrency int
	verbose     bool
	status      bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [archivo.xlsx|archivo.docx|directorio|-]...",
		Short: "Analiza uno o más libros de HUs y escribe el informe versionado",
		Long: `Lee las hojas (iniciativas) de los libros indicados (un .docx cuenta como una
hoja con el nombre del archivo), detecta el encabezado de
cada hoja, puntúa cada HU con el LLM configurado y escribe
<output_dir>/<base>_analizado_vN.0.xlsx sin sobrescribir versiones previas.

Sin argumentos usa 'inputs' de la configuración. "-" lee un libro desde STDIN.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f, args)
			if err != nil {
				return withCode(exitConfig, err)
			}
			return runAnalysis(cmd.Context(), cfg, f, cmd.ErrOrStderr())
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "archivo de configuración YAML/JSON (por defecto ./hua.yaml si existe)")
	fl.StringVarP(&f.output, "output", "o", "", "directorio de salida (sobrescribe output_dir)")
	fl.StringVar(&f.sheet, "sheet", "", "analizar solo esta hoja (iniciativa)")
	fl.IntVarP(&f.limit, "limit", "n", 0, "máximo de HUs a analizar (0 = todas, sujeto a max_hus_per_run)")
	fl.StringVar(&f.previous, "previous", "", "libro de un análisis anterior para comparar")
	fl.StringVar(&f.llm, "llm", "", "provider a usar (sobrescribe llm)")
	fl.IntVar(&f.concurrency, "concurrency", 0, "análisis simultáneos (sobrescribe max_concurrent_analysis)")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "duplica los logs en stderr a nivel debug")
	fl.BoolVar(&f.status, "status", true, "progreso en la terminal (stderr)")
	return cmd
}

// loadConfig: .env → Defaults < 文件 < HUA_* < CLI，最后校验。
func loadConfig(cmd *cobra.Command, f runFlags, args []string) (cfgpkg.Config, error) {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）
	if err := cfgpkg.LoadDotEnv(".env"); err != nil {
		return cfgpkg.Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, _, err := cfgpkg.Load(f.config, os.Environ())
	if err != nil {
		return cfg, err
	}
	fl := cmd.Flags()
	if len(args) > 0 {
		cfg.Inputs = args
	}
	if fl.Changed("output") {
		cfg.OutputDir = f.output
	}
	if fl.Changed("sheet") {
		cfg.Sheet = strings.TrimSpace(f.sheet)
	}
	if fl.Changed("limit") {
		cfg.Limit = f.limit
	}
	if fl.Changed("previous") {
		cfg.Previous = f.previous
	}
	if fl.Changed("llm") {
		cfg.LLM = strings.TrimSpace(f.llm)
	}
	if fl.Changed("concurrency") {
		cfg.MaxConcurrent = f.concurrency
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// runAnalysis 执行一次运行并把结果映射为退出码。
func runAnalysis(ctx context.Context, cfg cfgpkg.Config, f runFlags, stderr io.Writer) error {
	logger := newLogger(uuid.NewString(), cfg.Logging.Level, f.verbose)
	defer func() { _ = logger.Sync() }()
	term := diag.NewTerminal(stderr, f.status)

	sum, err := analyze(ctx, cfg, logger, term)
	if err != nil {
		return withCode(exitCode(err), err)
	}
	for _, n := range sum.Report.Notes {
		fmt.Fprintln(stderr, n)
	}
	switch {
	case sum.CreditsExhausted:
		return withCode(exitCredits, nil)
	case sum.Failed > 0:
		return withCode(exitFailed, nil)
	}
	return nil
}

// analyze 装配组件、接入历史库与上一版分析，然后运行流水线。
// 历史库不可用只降级（记录警告），不影响本次分析。
func analyze(ctx context.Context, cfg cfgpkg.Config, logger *diag.Logger, term *diag.Terminal) (pipeline.Summary, error) {
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		logger.Error("config", string(diag.Classify(err)), err.Error(), nil)
		return pipeline.Summary{}, err
	}
	logger.DebugStart("config", "effective", "", "", map[string]string{
		"inputs":      strings.Join(cfg.Inputs, ","),
		"llm":         cfg.LLM,
		"client":      cfg.Provider[cfg.LLM].Client,
		"concurrency": fmt.Sprintf("%d", cfg.MaxConcurrent),
		"max_per_run": fmt.Sprintf("%d", cfg.MaxPerRun),
		"limit":       fmt.Sprintf("%d", cfg.Limit),
	})

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			logger.Warn("history", string(diag.Classify(err)), "history disabled: "+err.Error(), nil)
			store = nil
		} else {
			defer store.Close()
			comp.History = store
			if avg, n, err := store.Pace(ctx); err == nil && n > 0 {
				term.SetPace(avg)
			}
		}
	}

	idx, err := loadPrevious(ctx, cfg, store, logger)
	if err != nil {
		return pipeline.Summary{}, err
	}
	if idx != nil {
		comp.Previous = idx
	}
	return pipeline.Run(ctx, comp, set, logger, term)
}

// loadPrevious: --previous 指定的工作簿优先；否则取历史库中同名输入的最近一次运行。
// 都没有时返回 nil。
func loadPrevious(ctx context.Context, cfg cfgpkg.Config, store *history.Store, logger *diag.Logger) (*history.Index, error) {
	var entries []history.Entry
	src := ""
	switch {
	case strings.TrimSpace(cfg.Previous) != "":
		var err error
		entries, err = history.LoadWorkbook(cfg.Previous)
		if err != nil {
			logger.Error("history", string(diag.Classify(err)), err.Error(), nil)
			return nil, err
		}
		src = cfg.Previous
	case store != nil && len(cfg.Inputs) == 1 && cfg.Inputs[0] != "-":
		var err error
		entries, err = store.Latest(ctx, cfg.Inputs[0])
		if err != nil {
			logger.Warn("history", string(diag.Classify(err)), "previous lookup failed: "+err.Error(), nil)
			return nil, nil
		}
		src = "history"
	}
	if len(entries) == 0 {
		return nil, nil
	}
	logger.StartWithKV("history", "previous", src, "", nil).Finish("previous", int64(len(entries)))
	return history.NewIndex(entries), nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "github.com/Act1nv3r/HUA/internal/config"
	"github.com/Act1nv3r/HUA/internal/diag"
	"github.com/Act1nv3r/HUA/internal/history"
	"github.com/Act1nv3r/HUA/internal/mcpserver"
	"github.com/Act1nv3r/HUA/internal/pipeline"
)

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [directorio]",
		Short: "Genera hua.yaml y .env de plantilla (nunca sobrescribe)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = args[0]
			}
			written, err := cfgpkg.WriteTemplate(dir)
			if err != nil {
				return withCode(exitConfig, err)
			}
			if len(written) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Nada que hacer: hua.yaml y .env ya existen en %s\n", dir)
				return nil
			}
			for _, p := range written {
				fmt.Fprintf(cmd.OutOrStdout(), "Creado %s\n", p)
			}
			return nil
		},
	}
}

func newMCPCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Sirve la herramienta analyze_workbook por MCP (stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfgpkg.LoadDotEnv(".env"); err != nil {
				return withCode(exitConfig, err)
			}
			base, _, err := cfgpkg.Load(configPath, os.Environ())
			if err != nil {
				return withCode(exitConfig, err)
			}
			if err := cfgpkg.Validate(base); err != nil {
				return withCode(exitConfig, err)
			}
			// stdout 承载协议：不启用终端进度，日志只写文件
			logger := newLogger(uuid.NewString(), base.Logging.Level, false)
			defer func() { _ = logger.Sync() }()
			s := mcpserver.New(version, mcpAnalyzer(base, logger))
			if err := mcpserver.Serve(s); err != nil {
				return withCode(exitFailed, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "archivo de configuración YAML/JSON")
	return cmd
}

// mcpAnalyzer 以基础配置为模板，每次调用只替换输入、工作表与上限。
func mcpAnalyzer(base cfgpkg.Config, logger *diag.Logger) mcpserver.Analyzer {
	return func(ctx context.Context, req mcpserver.Request) (pipeline.Summary, error) {
		cfg := base
		cfg.Inputs = []string{req.InputPath}
		if req.Sheet != "" {
			cfg.Sheet = req.Sheet
		}
		if req.Limit > 0 {
			cfg.Limit = req.Limit
		}
		return analyze(ctx, cfg, logger, nil)
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Lista las últimas ejecuciones y la velocidad media por HU",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfgpkg.LoadDotEnv(".env"); err != nil {
				return withCode(exitConfig, err)
			}
			cfg, _, err := cfgpkg.Load(configPath, os.Environ())
			if err != nil {
				return withCode(exitConfig, err)
			}
			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return withCode(exitConfig, err)
			}
			defer store.Close()

			ctx := cmd.Context()
			runs, err := store.Runs(ctx, limit)
			if err != nil {
				return withCode(exitFailed, err)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "Sin ejecuciones registradas.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FECHA\tENTRADA\tHUs\tERRORES\tPROMEDIO\tSALIDA")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.1f\t%s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04"), r.InputBase, r.Records, r.Failed, r.MeanTotal, r.OutputPath)
			}
			_ = tw.Flush()
			if avg, n, err := store.Pace(ctx); err == nil && n > 0 {
				fmt.Fprintf(out, "\nVelocidad media: %.1f s por HU (%d HUs)\n", avg, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "archivo de configuración YAML/JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "número de ejecuciones a mostrar")
	return cmd
}

package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Act1nv3r/HUA/internal/diag"
	"github.com/Act1nv3r/HUA/pkg/contract"
	"github.com/Act1nv3r/HUA/plugins/assembler/workbook"
	"github.com/Act1nv3r/HUA/plugins/decoder/scorejson"
	"github.com/Act1nv3r/HUA/plugins/llmclient/mock"
	"github.com/Act1nv3r/HUA/plugins/prompt/analysis"
	"github.com/Act1nv3r/HUA/plugins/writer/filesystem"
)

type sheetReader []contract.Sheet

func (r sheetReader) Iterate(ctx context.Context, roots []string, yield func(sh contract.Sheet) error) error {
	for _, sh := range r {
		if err := yield(sh); err != nil {
			return err
		}
	}
	return nil
}

type historySpy struct {
	output string
	count  int
}

func (h *historySpy) Record(_ context.Context, rep contract.Report, output string) error {
	h.output = output
	h.count = rep.Global.Count
	return nil
}

func backlog() contract.Sheet {
	return contract.Sheet{
		Source: "in/Backlog Q3.xlsx",
		Name:   "Pagos QR",
		Rows: contract.Grid{
			{"Iniciativa: Pagos QR"},
			{"ID", "Título", "Descripción", "Criterios de aceptación"},
			{"Ejemplo", "Plantilla", "No tocar"},
			{"HU-001", "Pagar con QR", "Como cliente quiero pagar con QR", "Monto > 0"},
			{"HU-002", "Consultar saldo", "Como cliente quiero ver mi saldo"},
			{"HU-003", "Alta", "Registro"},
			{"HU-004", "Baja", "Cancelar cuenta"},
		},
	}
}

func components(t *testing.T, dir string, mockOpts string) (Components, *historySpy) {
	t.Helper()
	pb, err := analysis.New(nil, contract.DefaultWeights())
	require.NoError(t, err)
	llm, err := mock.New(json.RawMessage(mockOpts))
	require.NoError(t, err)
	dec, err := scorejson.New(nil)
	require.NoError(t, err)
	w, err := filesystem.New(&filesystem.Options{OutputDir: dir, Suffix: "_analizado"})
	require.NoError(t, err)
	h := &historySpy{}
	return Components{
		Reader:          sheetReader{backlog()},
		PromptBuilder:   pb,
		LLM:             llm,
		Decoder:         dec,
		Assembler:       workbook.New(nil),
		Writer:          w,
		ExecutivePrompt: analysis.BuildExecutive,
		ExecutiveDecode: scorejson.DecodeExecutive,
		History:         h,
	}, h
}

func settings() Settings {
	return Settings{
		Inputs:      []string{"in/Backlog Q3.xlsx"},
		Concurrency: 3,
		MaxPerRun:   200,
		Weights:     contract.DefaultWeights(),
		Policy:      Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond},
		Now:         func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) },
	}
}

const scoresOpts = `{"scores":{"HU-001":9.5,"HU-002":6,"HU-003":2},"fail":["HU-004"],"executive":"La iniciativa avanza con buena base."}`

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	comp, h := components(t, dir, scoresOpts)
	sum, err := Run(context.Background(), comp, settings(), diag.NewNop(), nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Backlog_Q3_analizado_v1.0.xlsx"), sum.Output)
	_, err = os.Stat(sum.Output)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Scored)
	assert.Equal(t, 1, sum.Failed)
	assert.Zero(t, sum.Skipped)
	assert.False(t, sum.CreditsExhausted)
	assert.InDelta(t, 58.33, sum.Report.Global.Mean, 0.01)
	assert.Equal(t, 95, sum.Report.Global.Max)
	assert.Equal(t, 20, sum.Report.Global.Min)

	require.Len(t, sum.Report.Initiatives, 1)
	ir := sum.Report.Initiatives[0]
	assert.Equal(t, "La iniciativa avanza con buena base.", ir.Executive)
	require.Len(t, ir.Results, 4)
	assert.Equal(t, "HU-001", ir.Results[0].Record.ID)
	assert.Equal(t, contract.TierExcellent, ir.Results[0].Tier)
	assert.True(t, ir.Results[3].Failed())

	assert.Equal(t, sum.Output, h.output)
	assert.Equal(t, 3, h.count)

	// 再次运行不覆盖，版本递增
	comp2, _ := components(t, dir, scoresOpts)
	sum2, err := Run(context.Background(), comp2, settings(), diag.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Backlog_Q3_analizado_v2.0.xlsx"), sum2.Output)
}

func TestRunSameSheetNameAcrossWorkbooks(t *testing.T) {
	sheet := func(src string, ids ...string) contract.Sheet {
		rows := contract.Grid{{"ID", "Título", "Descripción"}}
		for _, id := range ids {
			rows = append(rows, []string{id, "Título " + id, "Como usuario quiero " + id})
		}
		return contract.Sheet{Source: contract.FileID(src), Name: "Backlog", Rows: rows}
	}
	comp, h := components(t, t.TempDir(), `{}`)
	comp.Reader = sheetReader{
		sheet("in/a.xlsx", "HU-001", "HU-002"),
		sheet("in/b.xlsx", "HU-010"),
	}
	set := settings()
	set.Inputs = []string{"in/a.xlsx", "in/b.xlsx"}

	sum, err := Run(context.Background(), comp, set, diag.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Scored)
	assert.Equal(t, 3, sum.Report.Global.Count)
	assert.Equal(t, 3, h.count)

	require.Len(t, sum.Report.Initiatives, 2)
	a, b := sum.Report.Initiatives[0], sum.Report.Initiatives[1]
	assert.Equal(t, "Backlog", a.Initiative.Name)
	assert.Equal(t, "b_Backlog", b.Initiative.Name)
	require.Len(t, a.Results, 2)
	require.Len(t, b.Results, 1)
	for _, r := range a.Results {
		assert.Equal(t, contract.FileID("in/a.xlsx"), r.Record.Source)
	}
	assert.Equal(t, "HU-010", b.Results[0].Record.ID)
	assert.Equal(t, 2, a.Stats.Count)
	assert.Equal(t, 1, b.Stats.Count)
}

func TestRunLimitSkipsRemainder(t *testing.T) {
	comp, _ := components(t, t.TempDir(), scoresOpts)
	set := settings()
	set.Limit = 2
	sum, err := Run(context.Background(), comp, set, diag.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Scored)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 2, sum.Report.Initiatives[0].Stats.Skipped)
	require.NotEmpty(t, sum.Report.Notes)
	assert.Contains(t, sum.Report.Notes[0], "2 HUs no se analizaron")
}

func TestRunCreditsExhausted(t *testing.T) {
	comp, _ := components(t, t.TempDir(), `{"credits_after":1}`)
	set := settings()
	set.Concurrency = 1
	sum, err := Run(context.Background(), comp, set, diag.NewNop(), nil)
	require.NoError(t, err)
	assert.True(t, sum.CreditsExhausted)
	assert.Equal(t, 1, sum.Scored)
	assert.Equal(t, 3, sum.Failed)
	assert.NotEmpty(t, sum.Output)
	assert.Empty(t, sum.Report.Initiatives[0].Executive)
	require.NotEmpty(t, sum.Report.Notes)
	assert.Contains(t, sum.Report.Notes[0], "Créditos del proveedor agotados")
}

func TestRunRejectsInvalidSettings(t *testing.T) {
	comp, _ := components(t, t.TempDir(), `{}`)
	set := settings()
	set.Concurrency = 0
	_, err := Run(context.Background(), comp, set, nil, nil)
	assert.ErrorIs(t, err, contract.ErrConfigInvalid)

	set = settings()
	set.Weights = contract.Weights{contract.DimFuncional: 1}
	_, err = Run(context.Background(), comp, set, nil, nil)
	assert.ErrorIs(t, err, contract.ErrConfigInvalid)

	comp.Writer = nil
	_, err = Run(context.Background(), comp, settings(), nil, nil)
	assert.ErrorIs(t, err, contract.ErrConfigInvalid)
}

func TestRunNoSheets(t *testing.T) {
	comp, _ := components(t, t.TempDir(), `{}`)
	comp.Reader = sheetReader{}
	_, err := Run(context.Background(), comp, settings(), diag.NewNop(), nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestPlanAndEffectiveLimit(t *testing.T) {
	assert.Equal(t, 200, EffectiveLimit(0, 200))
	assert.Equal(t, 200, EffectiveLimit(500, 200))
	assert.Equal(t, 10, EffectiveLimit(10, 200))
	assert.Equal(t, 7, EffectiveLimit(7, 0))

	in := backlog()
	a := ingestInitiative(in, "A")
	b := ingestInitiative(in, "B")
	recs, skipped := Plan([]contract.Initiative{a, b}, 6)
	require.Len(t, recs, 6)
	assert.Equal(t, "A", recs[0].Initiative)
	assert.Equal(t, "B", recs[5].Initiative)
	assert.Equal(t, map[string]int{"B": 2}, skipped)

	recs, skipped = Plan([]contract.Initiative{a}, 0)
	assert.Len(t, recs, 4)
	assert.Empty(t, skipped)
}

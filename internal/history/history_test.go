package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Act1nv3r/HUA/internal/aggregate"
	"github.com/Act1nv3r/HUA/internal/ingest"
	"github.com/Act1nv3r/HUA/pkg/contract"
	"github.com/Act1nv3r/HUA/plugins/assembler/workbook"
)

func uniform(v float64, gap string) contract.Assessment {
	as := contract.Assessment{Scores: map[contract.Dimension]float64{}, Gaps: map[contract.Dimension][]string{}, Summary: "Resumen " + gap}
	for _, d := range contract.Dimensions {
		as.Scores[d] = v
		as.Gaps[d] = []string{gap}
	}
	return as
}

func report(t *testing.T, source string) contract.Report {
	t.Helper()
	in := ingest.NewInitiative(contract.Sheet{
		Source: contract.FileID(source),
		Name:   "Pagos",
		Rows: contract.Grid{
			{"ID", "Título", "Descripción"},
			{"HU-001", "Pagar con QR", "Como cliente quiero pagar escaneando un código QR en comercios"},
			{"HU-002", "Consultar saldo", "Como cliente quiero ver mi saldo disponible"},
			{"HU-003", "Baja", "Cancelar cuenta"},
		},
	})
	recs := ingest.Eligible(in)
	outcomes := []contract.Outcome{
		{Record: recs[0], Assessment: uniform(80, "Definir límites de monto"), Duration: 2 * time.Second},
		{Record: recs[1], Assessment: uniform(50, "Definir mensajes de error"), Duration: 4 * time.Second},
		{Record: recs[2], Err: contract.ErrFatal},
	}
	rep := aggregate.New(contract.DefaultWeights()).Build([]contract.Initiative{in}, outcomes, nil, time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	rep.Source = source
	return rep
}

func TestNormalizeID(t *testing.T) {
	cases := map[string]string{
		"HU-001":  "hu_1",
		"HU 1":    "hu_1",
		"hu_12":   "hu_12",
		"001":     "hu_1",
		"1":       "hu_1",
		"1.0":     "hu_1",
		"7-login": "hu_7",
		"ABC":     "abc",
		"  ":      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeID(in), "%q", in)
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("abc", "abc"))
	assert.Equal(t, 0.0, Similarity("", "abc"))
	assert.InDelta(t, 0.5, Similarity("ab", "cb"), 1e-9)
}

func TestIndexLookupOrder(t *testing.T) {
	idx := NewIndex([]Entry{
		NewEntry("Pagos", "Como cliente quiero pagar con QR", contract.Previous{ID: "HU-001", Title: "Pagar con QR", Total: 70}),
		NewEntry("Pagos", "Como cliente quiero ver mi saldo", contract.Previous{ID: "HU-009", Title: "Consultar saldo", Total: 40}),
		NewEntry("Pagos", "Transferir dinero entre cuentas propias del cliente", contract.Previous{ID: "HU-010", Title: "Transferencia propia", Total: 55}),
		NewEntry("Otra", "x", contract.Previous{ID: "HU-002", Title: "Otro", Total: 10}),
	})
	assert.Equal(t, 4, idx.Len())

	// 1) ID（格式不同）
	p := idx.Lookup(contract.Record{Initiative: "Pagos", ID: "1", Title: "cualquiera"})
	require.NotNil(t, p)
	assert.Equal(t, 70.0, p.Total)

	// 2) 精确标题（忽略大小写与多余空白）
	p = idx.Lookup(contract.Record{Initiative: "Pagos", ID: "HU-050", Title: "  consultar   SALDO "})
	require.NotNil(t, p)
	assert.Equal(t, 40.0, p.Total)

	// 3) 相似度
	p = idx.Lookup(contract.Record{Initiative: "Pagos", ID: "HU-051", Title: "Transferencia propia entre cuentas", Description: "Transferir dinero entre cuentas propias del cliente"})
	require.NotNil(t, p)
	assert.Equal(t, 55.0, p.Total)

	// 不跨 Initiative；无相似项返回 nil
	assert.Nil(t, idx.Lookup(contract.Record{Initiative: "Pagos", ID: "HU-002", Title: "Zzz", Description: "qqq"}))
	assert.Nil(t, idx.Lookup(contract.Record{Initiative: "Nueva", ID: "HU-001"}))

	var empty *Index
	assert.Nil(t, empty.Lookup(contract.Record{ID: "HU-001"}))
}

func TestStoreRecordLatestAndPace(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "db", "hua.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	avg, n, err := s.Pace(ctx)
	require.NoError(t, err)
	assert.Zero(t, avg)
	assert.Zero(t, n)

	entries, err := s.Latest(ctx, "in/Backlog.xlsx")
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.Record(ctx, report(t, "in/Backlog.xlsx"), "Output/Backlog_analizado_v1.0.xlsx"))

	avg, n, err = s.Pace(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.InDelta(t, 3.0, avg, 1e-9)

	require.NoError(t, s.ObserveSpeed(ctx, 6))
	avg, n, err = s.Pace(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.InDelta(t, 4.0, avg, 1e-9)

	// 同名输入（不同目录与大小写）命中同一历史
	entries, err = s.Latest(ctx, "otro/backlog.XLSX")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Pagos", entries[0].Initiative)
	assert.Equal(t, "hu_1", entries[0].NormID)
	assert.Equal(t, 80.0, entries[0].Prev.Total)
	assert.Equal(t, 8.0, entries[0].Prev.Scores[contract.DimFuncional])
	assert.Equal(t, "Definir límites de monto", entries[0].Prev.Gaps[contract.DimUXUI])

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "backlog", runs[0].InputBase)
	assert.Equal(t, 2, runs[0].Records)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, "Output/Backlog_analizado_v1.0.xlsx", runs[0].OutputPath)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open(" ")
	assert.ErrorIs(t, err, contract.ErrConfigInvalid)
}

func TestLoadWorkbookFromPreviousOutput(t *testing.T) {
	rep := report(t, "Backlog.xlsx")
	r, err := workbook.New(nil).Assemble(context.Background(), rep)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "Backlog_analizado_v1.0.xlsx")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = f.ReadFrom(r)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := LoadWorkbook(path)
	require.NoError(t, err)
	require.Len(t, entries, 2, "failed rows are not loaded")
	assert.Equal(t, "HU-001", entries[0].Prev.ID)
	assert.Equal(t, "Pagar con QR", entries[0].Prev.Title)
	assert.Equal(t, 80.0, entries[0].Prev.Total)
	assert.Equal(t, contract.TierComplete.Label(), entries[0].Prev.Tier)

	idx := NewIndex(entries)
	p := idx.Lookup(contract.Record{Initiative: "Pagos", ID: "HU 2"})
	require.NotNil(t, p)
	assert.Equal(t, 50.0, p.Total)

	_, err = LoadWorkbook(filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

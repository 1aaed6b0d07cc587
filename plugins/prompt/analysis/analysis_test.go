package analysis

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Act1nv3r/HUA/pkg/contract"
)

func sampleRecord() contract.Record {
	return contract.Record{
		Initiative: "Pagos",
		ID:         "HU-007",
		Title:      "Pago con QR",
		Fields: []contract.Field{
			{Name: "ID", Value: "HU-007"},
			{Name: "Título", Value: "Pago con QR"},
			{Name: "Notas", Value: "nan"},
			{Name: "Descripción", Value: "Como cliente quiero pagar con QR"},
		},
	}
}

func messages(t *testing.T, p contract.Prompt) contract.ChatPrompt {
	t.Helper()
	cp, ok := p.(contract.ChatPrompt)
	require.True(t, ok)
	require.Len(t, cp, 3)
	return cp
}

func TestBuildDefaultTemplate(t *testing.T) {
	b, err := New(nil, nil)
	require.NoError(t, err)
	p, err := b.Build(context.Background(), sampleRecord(), nil)
	require.NoError(t, err)
	cp := messages(t, p)

	assert.Equal(t, "system", cp[0].Role)
	assert.Contains(t, cp[0].Content, "1. Definición Funcional (35%)")
	assert.Contains(t, cp[0].Content, "6. Criterios de Aceptación (7%)")

	assert.Equal(t, "user", cp[1].Role)
	assert.Contains(t, cp[1].Content, "  Título: Pago con QR\n")
	assert.NotContains(t, cp[1].Content, "Notas")
	assert.NotContains(t, cp[1].Content, "<analisis_anterior>")
	assert.Equal(t, "json_schema", cp[2].Role)
}

func TestBuildWithPreviousAndContext(t *testing.T) {
	b, err := New(&Options{Context: "Core bancario y SPEI"}, contract.DefaultWeights())
	require.NoError(t, err)
	prev := &contract.Previous{
		Total:   48,
		Tier:    "🟠 En progreso",
		Summary: strings.Repeat("r", 400),
		Gaps:    map[contract.Dimension]string{contract.DimUXUI: "Definir estados de error"},
	}
	p, err := b.Build(context.Background(), sampleRecord(), prev)
	require.NoError(t, err)
	cp := messages(t, p)
	assert.Contains(t, cp[0].Content, "<contexto>\nCore bancario y SPEI\n</contexto>")
	assert.Contains(t, cp[1].Content, "Score total previo: 48/100")
	assert.Contains(t, cp[1].Content, "ux_ui: Definir estados de error")
	assert.Contains(t, cp[1].Content, strings.Repeat("r", 300)+"...")
}

func TestBuildInlineTemplateAndErrors(t *testing.T) {
	b, err := New(&Options{InlineSystemTemplate: "{{len .Dimensions}} dims"}, nil)
	require.NoError(t, err)
	p, err := b.Build(context.Background(), sampleRecord(), nil)
	require.NoError(t, err)
	assert.Equal(t, "6 dims", messages(t, p)[0].Content)

	_, err = b.Build(context.Background(), contract.Record{ID: "Ejemplo"}, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Build(ctx, sampleRecord(), nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = New(&Options{InlineSystemTemplate: "{{"}, nil)
	assert.Error(t, err)
	_, err = New(&Options{SystemTemplatePath: "/nonexistent/tpl"}, nil)
	assert.Error(t, err)
}

func TestBuildFallsBackToRoleFields(t *testing.T) {
	b, _ := New(nil, nil)
	rec := contract.Record{ID: "7", Title: "Alta", Description: "Registro", Criteria: "Dado..."}
	p, err := b.Build(context.Background(), rec, nil)
	require.NoError(t, err)
	user := messages(t, p)[1].Content
	assert.Contains(t, user, "  ID: 7\n")
	assert.Contains(t, user, "  Criterios de aceptación: Dado...\n")
	assert.NotContains(t, user, "Reglas de negocio")
}

func TestEstimateOverheadTokens(t *testing.T) {
	b, _ := New(nil, nil)
	assert.Equal(t, 0, b.EstimateOverheadTokens(nil))
	n := b.EstimateOverheadTokens(func(s string) int { return len(s) })
	assert.Greater(t, n, len(assessmentJSONSchema))
}

func TestExecutiveDigest(t *testing.T) {
	ir := contract.InitiativeReport{
		Initiative: contract.Initiative{Name: "Pagos"},
		Stats:      contract.Stats{Count: 1, Mean: 72},
		Results: []contract.ScoreResult{
			{
				Outcome: contract.Outcome{
					Record: contract.Record{ID: "HU-1"},
					Assessment: contract.Assessment{
						Summary: "Bien definida",
						Gaps: map[contract.Dimension][]string{
							contract.DimFuncional: {"Completo"},
							contract.DimUXUI:      {"Definir estado vacío"},
						},
					},
				},
				Total: 72,
				Tier:  contract.TierAcceptable,
			},
			{Outcome: contract.Outcome{Record: contract.Record{ID: "HU-2"}, Err: contract.ErrFatal}},
		},
	}
	d := Digest(ir)
	assert.Contains(t, d, "INICIATIVA: Pagos\n")
	assert.Contains(t, d, "HUs: 1, Score promedio: 72.0")
	assert.Contains(t, d, "HU-1 (72, 🟡 Aceptable): Resumen: Bien definida. Mejoras: N/A. Comparación: N/A. Brechas: ux_ui: Definir estado vacío")
	assert.NotContains(t, d, "HU-2")

	p, err := BuildExecutive(context.Background(), ir)
	require.NoError(t, err)
	assert.Equal(t, d, messages(t, p)[1].Content)

	_, err = BuildExecutive(context.Background(), contract.InitiativeReport{})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

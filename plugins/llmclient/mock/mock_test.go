package mock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Act1nv3r/HUA/pkg/contract"
	"github.com/Act1nv3r/HUA/plugins/decoder/scorejson"
)

func huPrompt(id string) contract.Prompt {
	return contract.ChatPrompt{
		{Role: "system", Content: "analista"},
		{Role: "user", Content: "Evalúa:\n<historia>\n  ID: " + id + "\n  Título: Login\n</historia>\n"},
	}
}

// TestConfiguredScoreDecodes 配置分值经解码后为统一百分制
func TestConfiguredScoreDecodes(t *testing.T) {
	c, err := New(json.RawMessage(`{"scores":{"HU-001":9.5}}`))
	require.NoError(t, err)
	raw, err := c.Invoke(context.Background(), huPrompt("HU-001"))
	require.NoError(t, err)

	dec, err := scorejson.New(nil)
	require.NoError(t, err)
	as, err := dec.Decode(context.Background(), raw)
	require.NoError(t, err)
	for _, d := range contract.Dimensions {
		assert.InDelta(t, 95, as.Scores[d], 1e-9)
		assert.Equal(t, []string{contract.CompleteMarker}, as.Gaps[d])
	}
}

// TestDeterministicDefault 未配置 ID 的分值稳定
func TestDeterministicDefault(t *testing.T) {
	c, _ := New(nil)
	a, err := c.Invoke(context.Background(), huPrompt("HU-XYZ"))
	require.NoError(t, err)
	b, err := c.Invoke(context.Background(), huPrompt("HU-XYZ"))
	require.NoError(t, err)
	assert.Equal(t, a.Text, b.Text)
}

func TestFailAndCredits(t *testing.T) {
	c, _ := New(json.RawMessage(`{"fail":["HU-002"],"credits_after":2}`))
	_, err := c.Invoke(context.Background(), huPrompt("HU-002"))
	assert.ErrorIs(t, err, contract.ErrFatal)
	_, err = c.Invoke(context.Background(), huPrompt("HU-001"))
	assert.NoError(t, err)
	_, err = c.Invoke(context.Background(), huPrompt("HU-001"))
	assert.ErrorIs(t, err, contract.ErrCreditsExhausted)
	assert.EqualValues(t, 3, c.(*Client).Calls())
}

func TestExecutiveReply(t *testing.T) {
	c, _ := New(json.RawMessage(`{"executive":"Párrafo."}`))
	raw, err := c.Invoke(context.Background(), contract.ChatPrompt{
		{Role: "system", Content: `Responde {"analisis_ejecutivo": "..."}`},
		{Role: "user", Content: "INICIATIVA: X"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"analisis_ejecutivo":"Párrafo."}`, raw.Text)
}

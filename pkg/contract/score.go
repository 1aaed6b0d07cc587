package contract

import (
	"fmt"
	"math"
	"sort"
)

// Dimension: 评分维度键（与模型回复 JSON 的 scores/brechas 键一致）。
type Dimension string

const (
	DimFuncional     Dimension = "funcional"
	DimCapasTec      Dimension = "capas_tec"
	DimUXUI          Dimension = "ux_ui"
	DimIntegraciones Dimension = "integraciones"
	DimRegulatorio   Dimension = "regulatorio"
	DimCriterios     Dimension = "criterios"
)

// Dimensions: 固定顺序（报表列、提示词、排序平局均依此序）。
var Dimensions = []Dimension{DimFuncional, DimCapasTec, DimUXUI, DimIntegraciones, DimRegulatorio, DimCriterios}

var dimLabels = map[Dimension]string{
	DimFuncional:     "Definición Funcional",
	DimCapasTec:      "Capas Tecnológicas Involucradas",
	DimUXUI:          "UX / UI (funcional)",
	DimIntegraciones: "Integraciones/Sistemas",
	DimRegulatorio:   "Regulatorio & Seguridad",
	DimCriterios:     "Criterios de Aceptación",
}

var dimShort = map[Dimension]string{
	DimFuncional:     "Funcional",
	DimCapasTec:      "Capas Tec.",
	DimUXUI:          "UX/UI",
	DimIntegraciones: "Integr.",
	DimRegulatorio:   "Regulat.",
	DimCriterios:     "Criterios",
}

// Label 返回报表用的完整名称。
func (d Dimension) Label() string {
	if s, ok := dimLabels[d]; ok {
		return s
	}
	return string(d)
}

// Short 返回列头用的短名。
func (d Dimension) Short() string {
	if s, ok := dimShort[d]; ok {
		return s
	}
	return string(d)
}

// ParseDimension 校验维度键。
func ParseDimension(s string) (Dimension, bool) {
	d := Dimension(s)
	_, ok := dimLabels[d]
	return d, ok
}

// Weights: 维度权重，和必须为 1。
type Weights map[Dimension]float64

// WeightTolerance: 权重和允许的浮点误差。
const WeightTolerance = 1e-6

// DefaultWeights 返回内置权重。
func DefaultWeights() Weights {
	return Weights{
		DimFuncional:     0.35,
		DimCapasTec:      0.25,
		DimUXUI:          0.15,
		DimIntegraciones: 0.10,
		DimRegulatorio:   0.08,
		DimCriterios:     0.07,
	}
}

// Validate 检查维度完整、非负且和为 1。
func (w Weights) Validate() error {
	sum := 0.0
	for _, d := range Dimensions {
		v, ok := w[d]
		if !ok {
			return fmt.Errorf("%w: weight for %q missing", ErrConfigInvalid, d)
		}
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: weight for %q must be >= 0", ErrConfigInvalid, d)
		}
		sum += v
	}
	if len(w) != len(Dimensions) {
		keys := make([]string, 0, len(w))
		for k := range w {
			if _, ok := dimLabels[k]; !ok {
				keys = append(keys, string(k))
			}
		}
		sort.Strings(keys)
		return fmt.Errorf("%w: unknown weight keys %v", ErrConfigInvalid, keys)
	}
	if math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("%w: weights sum to %.6f, want 1", ErrConfigInvalid, sum)
	}
	return nil
}

// Tier: 完整度等级（由总分阈值决定）。
type Tier int

const (
	TierCritical Tier = iota
	TierIncomplete
	TierAcceptable
	TierComplete
	TierExcellent
)

// Tiers: 从高到低。
var Tiers = []Tier{TierExcellent, TierComplete, TierAcceptable, TierIncomplete, TierCritical}

var tierFloor = map[Tier]int{
	TierExcellent:  90,
	TierComplete:   75,
	TierAcceptable: 55,
	TierIncomplete: 30,
	TierCritical:   0,
}

var tierLabel = map[Tier]string{
	TierExcellent:  "🟢 Excelente",
	TierComplete:   "🔵 Completo",
	TierAcceptable: "🟡 Aceptable",
	TierIncomplete: "🟠 En progreso",
	TierCritical:   "🔴 Por definir",
}

// ErrorLabel: 评分失败行的等级列文本。
const ErrorLabel = "⛔ Error"

func (t Tier) String() string {
	switch t {
	case TierExcellent:
		return "Excellent"
	case TierComplete:
		return "Complete"
	case TierAcceptable:
		return "Acceptable"
	case TierIncomplete:
		return "Incomplete"
	case TierCritical:
		return "Critical"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Label 返回报表用的带图标标签。
func (t Tier) Label() string { return tierLabel[t] }

// Floor 返回该等级的最低总分（含）。
func (t Tier) Floor() int { return tierFloor[t] }

// TierFor 将 0..100 的总分映射为等级。
func TierFor(total int) Tier {
	for _, t := range Tiers {
		if total >= tierFloor[t] {
			return t
		}
	}
	return TierCritical
}

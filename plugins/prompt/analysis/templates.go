package analysis

import "github.com/Act1nv3r/HUA/pkg/contract"

var dimensionHints = map[contract.Dimension]string{
	contract.DimFuncional:     "flujo principal, flujos alternos, mensajes de error, reglas de negocio, casos límite y cómo se mide/monitorea",
	contract.DimCapasTec:      "qué capas toca (UI, backend, integraciones, seguridad, notificaciones); solo identificación",
	contract.DimUXUI:          "estados de pantalla (cargando, vacío, error, éxito), validaciones, navegación y retroalimentación",
	contract.DimIntegraciones: "qué sistemas internos o externos intervienen; solo identificación funcional",
	contract.DimRegulatorio:   "aspectos regulatorios y datos sensibles aplicables a esta etapa, o referencia a la HU regulatoria de la iniciativa",
	contract.DimCriterios:     "criterios de aceptación verificables y medibles cuando apliquen a esta etapa",
}

const defaultSystemTemplate = `Eres un Product Manager senior que revisa Historias de Usuario (HU) escritas por personas de negocio.
Tu objetivo es ayudar al Product Owner a dejar cada HU lista para prerefinamiento; la parte técnica se define después.

Cada HU es una ETAPA de un flujo mayor. Evalúa lo que es razonable definir en esa etapa y no penalices información que pertenece a otra.
Usa un tono constructivo: indica qué conviene definir, no qué falta.

Dimensiones (score 0-10 cada una):
{{range $i, $d := .Dimensions}}{{$i | inc}}. {{$d.Label}} ({{$d.Weight}}%): {{$d.Hint}}.
{{end}}
Responde ÚNICAMENTE con JSON válido, sin texto antes ni después.`

const userIntro = "Analiza la siguiente Historia de Usuario desde la perspectiva del Product Owner.\n"

const userRules = `
Devuelve SOLO este JSON (sin markdown ni bloques de código):
{
  "scores": {"funcional": 0-10, "capas_tec": 0-10, "ux_ui": 0-10, "integraciones": 0-10, "regulatorio": 0-10, "criterios": 0-10},
  "capas_tecnologicas": "capas separadas por |",
  "resumen": "2 oraciones: nivel de definición y qué conviene definir",
  "brechas": {"funcional": "items separados por | o 'Completo'", "capas_tec": "...", "ux_ui": "...", "integraciones": "...", "regulatorio": "...", "criterios": "..."},
  "preguntas_criticas": "3-5 preguntas separadas por |",
  "mejoras_identificadas": "mejoras respecto al análisis anterior separadas por |, o 'N/A'",
  "comparacion_anterior": "si el score bajó: qué estaba mejor definido antes; si no, 'N/A'"
}
`

const previousRules = `Compara la HU actual con el análisis anterior: identifica las mejoras hechas por el PO.
Si el score no sube, explica en comparacion_anterior qué estaba mejor definido antes.
`

const assessmentJSONSchema = `{"type":"object","required":["scores","resumen","brechas"],"properties":{` +
	`"scores":{"type":"object","properties":{"funcional":{"type":"number"},"capas_tec":{"type":"number"},"ux_ui":{"type":"number"},"integraciones":{"type":"number"},"regulatorio":{"type":"number"},"criterios":{"type":"number"}}},` +
	`"capas_tecnologicas":{"type":"string"},"resumen":{"type":"string"},` +
	`"brechas":{"type":"object","additionalProperties":{"type":"string"}},` +
	`"preguntas_criticas":{"type":"string"},"mejoras_identificadas":{"type":"string"},"comparacion_anterior":{"type":"string"}}}`

const executiveSystem = `Eres el analista de HUs del área de productos digitales. Un líder te pregunta cómo va una iniciativa.
Escribe UN párrafo de 3 a 5 oraciones que resuma el nivel de definición y sus fortalezas, mencione las mejoras respecto al análisis anterior si existen y señale inconsistencias en los datos (IDs duplicados, campos vacíos, contradicciones).
Sé directo y constructivo.
Responde ÚNICAMENTE con JSON válido: {"analisis_ejecutivo": "<párrafo>"}`

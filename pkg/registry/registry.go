package registry

import (
	"bytes"
	"encoding/json"

	"github.com/Act1nv3r/HUA/pkg/contract"
	wbk "github.com/Act1nv3r/HUA/plugins/assembler/workbook"
	dsj "github.com/Act1nv3r/HUA/plugins/decoder/scorejson"
	ant "github.com/Act1nv3r/HUA/plugins/llmclient/anthropic"
	flaky "github.com/Act1nv3r/HUA/plugins/llmclient/flaky"
	gmi "github.com/Act1nv3r/HUA/plugins/llmclient/gemini"
	mock "github.com/Act1nv3r/HUA/plugins/llmclient/mock"
	pan "github.com/Act1nv3r/HUA/plugins/prompt/analysis"
	rxl "github.com/Act1nv3r/HUA/plugins/reader/xlsx"
	wfs "github.com/Act1nv3r/HUA/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewPromptBuilder 工厂签名：额外接收已校验的维度权重（写入 system 提示）。
type NewPromptBuilder func(raw json.RawMessage, w contract.Weights) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewAssembler 工厂签名：接收原样 JSON Options。
type NewAssembler func(raw json.RawMessage) (contract.Assembler, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// xlsx: 工作簿/目录/STDIN Reader
	"xlsx": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rxl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rxl.New(&opts), nil
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// analysis: 单条 HU 评分提示（system+user+json_schema）
	"analysis": func(raw json.RawMessage, w contract.Weights) (contract.PromptBuilder, error) {
		var opts pan.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		b, err := pan.New(&opts, w)
		if err != nil {
			return nil, err
		}
		return b, nil
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"gemini":    func(raw json.RawMessage) (contract.LLMClient, error) { return gmi.New(raw) },
	"anthropic": func(raw json.RawMessage) (contract.LLMClient, error) { return ant.New(raw) },
	"mock":      func(raw json.RawMessage) (contract.LLMClient, error) { return mock.New(raw) },
	"flaky":     func(raw json.RawMessage) (contract.LLMClient, error) { return flaky.New(raw) },
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// scorejson: 评分 JSON（0..10 → 0..100）
	"scorejson": func(raw json.RawMessage) (contract.Decoder, error) { return dsj.New(raw) },
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	// workbook: 综述页 + 逐表标注的 xlsx 报告
	"workbook": func(raw json.RawMessage) (contract.Assembler, error) {
		var opts wbk.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wbk.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 版本化文件系统 Writer（_vN.0，永不覆盖）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		w, err := wfs.New(&opts)
		if err != nil {
			return nil, err
		}
		return w, nil
	},
}

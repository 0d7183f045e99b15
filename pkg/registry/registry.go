package registry

import (
	"bytes"
	"encoding/json"

	"labelsplit/pkg/contract"
	ord "labelsplit/plugins/assembler/ordered"
	cjson "labelsplit/plugins/codec/jsonarray"
	cjsonl "labelsplit/plugins/codec/jsonl"
	cpq "labelsplit/plugins/codec/parquet"
	rfs "labelsplit/plugins/reader/filesystem"
	shf "labelsplit/plugins/splitter/shuffle"
	wfs "labelsplit/plugins/writer/filesystem"
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

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewEncoder 工厂签名：接收原样 JSON Options。
type NewEncoder func(raw json.RawMessage) (contract.Encoder, error)

// NewSplitter 工厂签名：接收原样 JSON Options。
type NewSplitter func(raw json.RawMessage) (contract.Splitter, error)

// NewAssembler 工厂签名：接收原样 JSON Options。
type NewAssembler func(raw json.RawMessage) (contract.Assembler, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Decoder 工厂注册表。同名编解码器在 Encoder 中对称注册。
var Decoder = map[string]NewDecoder{
	"json": func(raw json.RawMessage) (contract.Decoder, error) {
		var opts cjson.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return cjson.New(&opts)
	},
	"jsonl": func(raw json.RawMessage) (contract.Decoder, error) {
		var opts cjsonl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return cjsonl.New(&opts), nil
	},
	"parquet": func(raw json.RawMessage) (contract.Decoder, error) {
		var opts cpq.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return cpq.New(&opts)
	},
}

// Encoder 工厂注册表。
var Encoder = map[string]NewEncoder{
	// json: 每行一条记录的 JSON 数组（默认）
	"json": func(raw json.RawMessage) (contract.Encoder, error) {
		var opts cjson.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return cjson.New(&opts)
	},
	"jsonl": func(raw json.RawMessage) (contract.Encoder, error) {
		var opts cjsonl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return cjsonl.New(&opts), nil
	},
	// parquet: 仅五个已知列，Extra 丢弃
	"parquet": func(raw json.RawMessage) (contract.Encoder, error) {
		var opts cpq.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return cpq.New(&opts)
	},
}

// Splitter 工厂注册表。
var Splitter = map[string]NewSplitter{
	// shuffle: 显式种子 PCG 洗牌，按 idx 分组切分
	"shuffle": func(raw json.RawMessage) (contract.Splitter, error) {
		var opts shf.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return shf.New(&opts), nil
	},
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	// ordered: 保持原始相对顺序的子序列
	"ordered": func(raw json.RawMessage) (contract.Assembler, error) {
		var opts ord.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ord.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置，支持暂存提交）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

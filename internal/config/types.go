package config

import (
	"encoding/json"
)

// Config: 划分工具的运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs  []string `json:"inputs"`
	Split   Split    `json:"split"`
	Outputs Outputs  `json:"outputs"`
	Logging Logging  `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Split: 划分参数。test_size 与 test_count 互斥。
type Split struct {
	// Seed 为空表示未设置（Merge 时不覆盖）。
	Seed      *uint64 `json:"seed,omitempty"`
	TestSize  float64 `json:"test_size,omitempty"`
	TestCount int     `json:"test_count,omitempty"`
}

// Outputs: 产物命名。Dir 非空时覆盖 fs writer 的 output_dir。
type Outputs struct {
	Dir      string `json:"dir,omitempty"`
	Train    string `json:"train,omitempty"`
	Test     string `json:"test,omitempty"`
	Manifest string `json:"manifest,omitempty"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader    string `json:"reader"`
	Decoder   string `json:"decoder"`
	Encoder   string `json:"encoder"`
	Splitter  string `json:"splitter"`
	Assembler string `json:"assembler"`
	Writer    string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader    json.RawMessage `json:"reader,omitempty"`
	Decoder   json.RawMessage `json:"decoder,omitempty"`
	Encoder   json.RawMessage `json:"encoder,omitempty"`
	Splitter  json.RawMessage `json:"splitter,omitempty"`
	Assembler json.RawMessage `json:"assembler,omitempty"`
	Writer    json.RawMessage `json:"writer,omitempty"`
}

// SeedOf 返回生效种子（未设置时为默认 42）。
func (s Split) SeedOf() uint64 {
	if s.Seed == nil {
		return DefaultSeed
	}
	return *s.Seed
}

// DefaultSeed 与 DefaultTestSize 为划分默认值。
const (
	DefaultSeed     uint64  = 42
	DefaultTestSize float64 = 0.2
)

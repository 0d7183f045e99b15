package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"labelsplit/internal/pipeline"
	"labelsplit/pkg/contract"
	"labelsplit/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	sp := cfg.Split
	switch {
	case sp.TestCount < 0:
		return fmt.Errorf("config: test_count must be >= 0, got %d", sp.TestCount)
	case sp.TestCount > 0 && sp.TestSize != 0:
		return errors.New("config: test_size and test_count are mutually exclusive")
	case sp.TestCount == 0 && (math.IsNaN(sp.TestSize) || sp.TestSize <= 0 || sp.TestSize >= 1):
		return fmt.Errorf("config: test_size must be in (0,1), got %v", sp.TestSize)
	}
	o := cfg.Outputs
	if o.Train != "" && o.Train == o.Test {
		return fmt.Errorf("config: train and test outputs share name %q", o.Train)
	}
	if o.Manifest != "" && (o.Manifest == o.Train || o.Manifest == o.Test) {
		return fmt.Errorf("config: manifest shares name %q with an output", o.Manifest)
	}
	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Decoder, d.Decoder); registry.Decoder[name] == nil {
		return fmt.Errorf("config: decoder %q not registered", name)
	}
	if name := effName(cfg.Components.Encoder, d.Encoder); registry.Encoder[name] == nil {
		return fmt.Errorf("config: encoder %q not registered", name)
	}
	if name := effName(cfg.Components.Splitter, d.Splitter); registry.Splitter[name] == nil {
		return fmt.Errorf("config: splitter %q not registered", name)
	}
	if name := effName(cfg.Components.Assembler, d.Assembler); registry.Assembler[name] == nil {
		return fmt.Errorf("config: assembler %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components
	wn := effName(cfg.Components.Writer, d.Writer)
	wopts := cfg.Options.Writer
	if wn == "fs" {
		var err error
		if wopts, err = WriterOptionsWithDir(wopts, cfg.Outputs.Dir); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: writer options: %w", err)
		}
	}

	var comp pipeline.Components
	var err error
	if comp.Reader, err = registry.Reader[effName(cfg.Components.Reader, d.Reader)](cfg.Options.Reader); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: reader: %w", err)
	}
	if comp.Decoder, err = registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)](cfg.Options.Decoder); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: decoder: %w", err)
	}
	if comp.Encoder, err = registry.Encoder[effName(cfg.Components.Encoder, d.Encoder)](cfg.Options.Encoder); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: encoder: %w", err)
	}
	if comp.Splitter, err = registry.Splitter[effName(cfg.Components.Splitter, d.Splitter)](cfg.Options.Splitter); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: splitter: %w", err)
	}
	if comp.Assembler, err = registry.Assembler[effName(cfg.Components.Assembler, d.Assembler)](cfg.Options.Assembler); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: assembler: %w", err)
	}
	if comp.Writer, err = registry.Writer[wn](wopts); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: writer: %w", err)
	}

	set := pipeline.Settings{
		Inputs: cloneStrings(cfg.Inputs),
		Split: contract.SplitParams{
			Seed:      cfg.Split.SeedOf(),
			TestSize:  cfg.Split.TestSize,
			TestCount: cfg.Split.TestCount,
		},
		TrainName:    cfg.Outputs.Train,
		TestName:     cfg.Outputs.Test,
		ManifestName: cfg.Outputs.Manifest,
	}
	return comp, set, nil
}

// WriterOptionsWithDir 返回写入 output_dir 后的 fs writer 选项：
// dir 非空时覆盖；dir 为空且原选项未指定 output_dir 时使用当前目录。
func WriterOptionsWithDir(raw json.RawMessage, dir string) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if m == nil {
			m = map[string]json.RawMessage{}
		}
	}
	if dir == "" {
		if v, ok := m["output_dir"]; ok && string(v) != `""` && string(v) != "null" {
			return raw, nil
		}
		dir = "."
	}
	b, err := json.Marshal(dir)
	if err != nil {
		return nil, err
	}
	m["output_dir"] = b
	return json.Marshal(m)
}

// OutputDir 返回 fs writer 生效的输出目录（用于预检）。
func OutputDir(cfg Config) string {
	raw, err := WriterOptionsWithDir(cfg.Options.Writer, cfg.Outputs.Dir)
	if err != nil {
		return ""
	}
	var o struct {
		OutputDir string `json:"output_dir"`
	}
	_ = json.Unmarshal(raw, &o)
	return strings.TrimSpace(o.OutputDir)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}

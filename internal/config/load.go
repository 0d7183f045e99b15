package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix 为划分工具环境变量前缀。
const EnvPrefix = "LABELSPLIT_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	seed := DefaultSeed
	return Config{
		Split: Split{Seed: &seed, TestSize: DefaultTestSize},
		// Outputs.Train/Test 为空时按编码器扩展名命名（json → train.json/test.json）
		Logging: Logging{Level: "info"},
		Components: Components{
			Reader:    "fs",
			Decoder:   "json",
			Encoder:   "json",
			Splitter:  "shuffle",
			Assembler: "ordered",
			Writer:    "fs",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	err := decodeStrict(path, raw, &cfg)
	return cfg, err
}

func decodeStrict(path string, raw []byte, v any) error {
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	default:
		return errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.Split.Seed != nil {
		v := *over.Split.Seed
		out.Split.Seed = &v
	}
	// test_size/test_count 互斥：同层出现任一即整体替换
	if over.Split.TestSize != 0 || over.Split.TestCount != 0 {
		out.Split.TestSize = over.Split.TestSize
		out.Split.TestCount = over.Split.TestCount
	}
	if over.Outputs.Dir != "" {
		out.Outputs.Dir = over.Outputs.Dir
	}
	if over.Outputs.Train != "" {
		out.Outputs.Train = over.Outputs.Train
	}
	if over.Outputs.Test != "" {
		out.Outputs.Test = over.Outputs.Test
	}
	if over.Outputs.Manifest != "" {
		out.Outputs.Manifest = over.Outputs.Manifest
	}
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}

	// 组件名（空不覆盖）；换了组件而未同时给 options 时，旧 options 作废
	if over.Components.Decoder != "" && over.Components.Decoder != out.Components.Decoder && len(over.Options.Decoder) == 0 {
		out.Options.Decoder = nil
	}
	if over.Components.Encoder != "" && over.Components.Encoder != out.Components.Encoder && len(over.Options.Encoder) == 0 {
		out.Options.Encoder = nil
	}
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Decoder != "" {
		out.Components.Decoder = over.Components.Decoder
	}
	if over.Components.Encoder != "" {
		out.Components.Encoder = over.Components.Encoder
	}
	if over.Components.Splitter != "" {
		out.Components.Splitter = over.Components.Splitter
	}
	if over.Components.Assembler != "" {
		out.Components.Assembler = over.Components.Assembler
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Decoder) > 0 {
		out.Options.Decoder = cloneRaw(over.Options.Decoder)
	}
	if len(over.Options.Encoder) > 0 {
		out.Options.Encoder = cloneRaw(over.Options.Encoder)
	}
	if len(over.Options.Splitter) > 0 {
		out.Options.Splitter = cloneRaw(over.Options.Splitter)
	}
	if len(over.Options.Assembler) > 0 {
		out.Options.Assembler = cloneRaw(over.Options.Assembler)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 前缀 LABELSPLIT_；支持：
// INPUTS, SEED, TEST_SIZE, TEST_COUNT, OUTPUT_DIR, OUTPUT_TRAIN, OUTPUT_TEST,
// OUTPUT_MANIFEST, LOG_LEVEL, COMPONENTS_*, OPTIONS_*_JSON。
// 数值非法时返回错误；空值视为未设置。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			continue
		}
		switch key {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "SEED":
			v, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return over, fmt.Errorf("env %sSEED: %w", EnvPrefix, err)
			}
			over.Split.Seed = &v
		case "TEST_SIZE":
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return over, fmt.Errorf("env %sTEST_SIZE: %w", EnvPrefix, err)
			}
			over.Split.TestSize = v
		case "TEST_COUNT":
			v, err := strconv.Atoi(val)
			if err != nil {
				return over, fmt.Errorf("env %sTEST_COUNT: %w", EnvPrefix, err)
			}
			over.Split.TestCount = v
		case "OUTPUT_DIR":
			over.Outputs.Dir = val
		case "OUTPUT_TRAIN":
			over.Outputs.Train = val
		case "OUTPUT_TEST":
			over.Outputs.Test = val
		case "OUTPUT_MANIFEST":
			over.Outputs.Manifest = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_DECODER":
			over.Components.Decoder = val
		case "COMPONENTS_ENCODER":
			over.Components.Encoder = val
		case "COMPONENTS_SPLITTER":
			over.Components.Splitter = val
		case "COMPONENTS_ASSEMBLER":
			over.Components.Assembler = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "OPTIONS_READER_JSON":
			over.Options.Reader = json.RawMessage(val)
		case "OPTIONS_DECODER_JSON":
			over.Options.Decoder = json.RawMessage(val)
		case "OPTIONS_ENCODER_JSON":
			over.Options.Encoder = json.RawMessage(val)
		case "OPTIONS_SPLITTER_JSON":
			over.Options.Splitter = json.RawMessage(val)
		case "OPTIONS_ASSEMBLER_JSON":
			over.Options.Assembler = json.RawMessage(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = json.RawMessage(val)
		default:
			// CONFIG_FILE / CONFIG_JSON 由 cmd 层读取；其余未知键忽略
		}
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 默认输入为 STDIN（"-"），输出到 ./out；
// - 划分参数为 seed=42、test_size=0.2，并写出划分清单；
// - 选项包含全部键，值为安全中性默认。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs: []string{"-"},
		Split:  d.Split,
		Outputs: Outputs{
			Train:    "train.json",
			Test:     "test.json",
			Manifest: "split.manifest.json",
		},
		Logging:    Logging{Level: "info"},
		Components: d.Components,
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "allow_exts": [".json", ".jsonl", ".parquet"]
}`)
	cfg.Options.Decoder = json.RawMessage(`{
  "indent": 0,
  "strict_fields": false
}`)
	cfg.Options.Encoder = json.RawMessage(`{
  "indent": 0,
  "strict_fields": false
}`)
	cfg.Options.Splitter = json.RawMessage(`{
  "stream": 0
}`)
	cfg.Options.Assembler = json.RawMessage(`{
  "task": ""
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "flat": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}

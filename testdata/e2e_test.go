package testdata

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	cfgpkg "labelsplit/internal/config"
	"labelsplit/internal/pipeline"
	"labelsplit/pkg/contract"
	"labelsplit/pkg/registry"
)

func baseConfig(input, outDir string) cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.Inputs = []string{input}
	cfg.Outputs.Dir = outDir
	cfg.Logging.Level = "error"
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config) (pipeline.Result, error) {
	t.Helper()
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Run(context.Background(), comp, set, nil)
}

func readRecords(t *testing.T, codec, path string) []contract.Record {
	t.Helper()
	dec, err := registry.Decoder[codec](nil)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	recs, err := dec.Decode(context.Background(), contract.FileID(path), f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return recs
}

// checkPartition 校验：不相交、全覆盖、组内原序。
func checkPartition(t *testing.T, orig, train, test []contract.Record) {
	t.Helper()
	trainIDs := contract.IDSet(contract.DistinctIDs(train))
	for id := range contract.IDSet(contract.DistinctIDs(test)) {
		if _, ok := trainIDs[id]; ok {
			t.Fatalf("idx %d 同时出现在 train 与 test", id)
		}
	}
	testSet := contract.IDSet(contract.DistinctIDs(test))
	if err := contract.ValidateCover(orig, train, test, testSet); err != nil {
		t.Fatalf("输出未能按原序重建输入: %v", err)
	}
}

// 示例：idx [0,0,1,1,1]，test_size=0.2，seed=42
func TestE2EFiveRecords(t *testing.T) {
	in := filepath.Join("files", "five.json")
	outDir := t.TempDir()
	res, err := runPipeline(t, baseConfig(in, outDir))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(res.Assignment.Train) != 1 || len(res.Assignment.Test) != 1 {
		t.Fatalf("应各一个 id: %+v", res.Assignment)
	}
	orig := readRecords(t, "json", in)
	train := readRecords(t, "json", filepath.Join(outDir, "train.json"))
	test := readRecords(t, "json", filepath.Join(outDir, "test.json"))
	checkPartition(t, orig, train, test)
}

// 12 个 idx：|test| = ceil(0.2×12) = 3；Extra 字段 task 原样保留
func TestE2ELabels(t *testing.T) {
	in := filepath.Join("files", "labels.json")
	outDir := t.TempDir()
	cfg := baseConfig(in, outDir)
	cfg.Outputs.Manifest = "split.manifest.json"
	res, err := runPipeline(t, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(res.Assignment.Test) != 3 || len(res.Assignment.Train) != 9 {
		t.Fatalf("划分大小错误: %d/%d", len(res.Assignment.Train), len(res.Assignment.Test))
	}
	orig := readRecords(t, "json", in)
	train := readRecords(t, "json", filepath.Join(outDir, "train.json"))
	test := readRecords(t, "json", filepath.Join(outDir, "test.json"))
	checkPartition(t, orig, train, test)
	if string(test[0].Extra["task"]) != `"classification"` {
		t.Fatalf("未知字段应保留: %v", test[0].Extra)
	}
	if _, err := os.Stat(filepath.Join(outDir, "split.manifest.json")); err != nil {
		t.Fatalf("清单未写出: %v", err)
	}
}

// 同输入同种子：字节一致；不同种子：划分不同
func TestE2EDeterministic(t *testing.T) {
	in := filepath.Join("files", "labels.json")
	run := func(seed uint64) (string, []contract.ID) {
		out := t.TempDir()
		cfg := baseConfig(in, out)
		cfg.Split.Seed = &seed
		cfg.Outputs.Manifest = "m.json"
		res, err := runPipeline(t, cfg)
		if err != nil {
			t.Fatalf("pipeline: %v", err)
		}
		return out, res.Assignment.Test
	}
	a, testA := run(42)
	b, _ := run(42)
	for _, name := range []string{"train.json", "test.json", "m.json"} {
		x, _ := os.ReadFile(filepath.Join(a, name))
		y, _ := os.ReadFile(filepath.Join(b, name))
		if len(x) == 0 || !bytes.Equal(x, y) {
			t.Fatalf("%s 两次运行不一致", name)
		}
	}
	same := true
	for s := uint64(1); s <= 5 && same; s++ {
		_, testB := run(s)
		for i := range testA {
			if testA[i] != testB[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Fatalf("不同种子应至少产生一次不同划分")
	}
}

// 跨格式：json 输入 → jsonl / parquet 输出，再读回校验
func TestE2ECodecs(t *testing.T) {
	in := filepath.Join("files", "labels.json")
	orig := readRecords(t, "json", in)
	for _, codec := range []string{"jsonl", "parquet"} {
		t.Run(codec, func(t *testing.T) {
			outDir := t.TempDir()
			cfg := baseConfig(in, outDir)
			cfg.Components.Encoder = codec
			if _, err := runPipeline(t, cfg); err != nil {
				t.Fatalf("pipeline: %v", err)
			}
			train := readRecords(t, codec, filepath.Join(outDir, "train."+codec))
			test := readRecords(t, codec, filepath.Join(outDir, "test."+codec))
			checkPartition(t, orig, train, test)
		})
	}
}

// 目录输入：按词法序遍历
func TestE2EDirectoryInput(t *testing.T) {
	dir := t.TempDir()
	b, err := os.ReadFile(filepath.Join("files", "five.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "part-1.json"), b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "part-2.json"), []byte(`[{"idx":5,"text":"x"},{"idx":6,"text":"y"}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := runPipeline(t, baseConfig(dir, t.TempDir()))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if res.Records != 7 || len(res.Assignment.Train)+len(res.Assignment.Test) != 4 || len(res.Assignment.Test) != 1 {
		t.Fatalf("摘要错误: %+v", res)
	}
}

// 缺少 idx：失败且不产生任何输出
func TestE2EMissingIdx(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(in, []byte(`[{"idx":0,"text":"a"},{"idx":1,"text":"b"},{"text":"c"}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	outDir := t.TempDir()
	_, err := runPipeline(t, baseConfig(in, outDir))
	if !errors.Is(err, contract.ErrMissingIdx) {
		t.Fatalf("expect missing idx, got %v", err)
	}
	ents, _ := os.ReadDir(outDir)
	if len(ents) != 0 {
		t.Fatalf("失败时不应有输出: %v", ents)
	}
}

// 已存在的旧输出在失败时保持不变
func TestE2EFailureKeepsPreviousOutputs(t *testing.T) {
	outDir := t.TempDir()
	old := []byte("previous\n")
	if err := os.WriteFile(filepath.Join(outDir, "train.json"), old, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	in := filepath.Join(t.TempDir(), "one.json")
	if err := os.WriteFile(in, []byte(`[{"idx":1},{"idx":1}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := runPipeline(t, baseConfig(in, outDir)); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("单个 idx 应失败, got %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(outDir, "train.json"))
	if !bytes.Equal(got, old) {
		t.Fatalf("旧输出被改写")
	}
}

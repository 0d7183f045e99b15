package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"labelsplit/internal/cli"
	"labelsplit/internal/diag"
	"labelsplit/internal/expand"
	"labelsplit/pkg/contract"
	"labelsplit/pkg/registry"
	wfs "labelsplit/plugins/writer/filesystem"
)

// runExpand: labelsplit expand [flags] <raw.json|->
// 输出写入 --out（原子替换）；--out 为 "-" 时写 stdout。
func runExpand(args []string) int {
	start := time.Now()
	_ = cli.LoadDotEnv(".env")
	fs := flag.NewFlagSet(app+" expand", flag.ContinueOnError)
	var (
		flagLabels   string
		flagSeed     uint64
		flagOut      string
		flagEncoder  string
		flagLogLevel string
	)
	fs.StringVar(&flagLabels, "labels", "", "逗号分隔的标签列表（缺省为十个社会维度）")
	fs.Uint64Var(&flagSeed, "seed", 42, "选择 response_bad 的随机种子")
	fs.StringVar(&flagOut, "out", "labels.json", "输出文件路径；\"-\" 表示 stdout")
	fs.StringVar(&flagEncoder, "encoder", "json", "输出格式：json|jsonl|parquet")
	fs.StringVar(&flagLogLevel, "log-level", "info", "日志级别")
	if err := fs.Parse(args); err != nil {
		return cli.ExitConfig
	}
	logger := diag.NewLogger(app, "", flagLogLevel)
	defer func() { _ = logger.Close() }()

	if fs.NArg() != 1 {
		fprintf(os.Stderr, "用法: %s expand [flags] <raw.json|->\n", app)
		return cli.ExitConfig
	}
	labels, err := expand.ParseLabels(flagLabels)
	if err != nil {
		fprintf(os.Stderr, "标签参数无效: %v\n", err)
		return cli.ExitConfig
	}
	newEnc, ok := registry.Encoder[flagEncoder]
	if !ok {
		fprintf(os.Stderr, "未知编码器: %s\n", flagEncoder)
		return cli.ExitConfig
	}
	enc, err := newEnc(nil)
	if err != nil {
		fprintf(os.Stderr, "编码器装配失败: %v\n", err)
		return cli.ExitConfig
	}
	var w contract.Writer
	var artifact contract.ArtifactID
	if flagOut != "-" {
		dir := filepath.Dir(flagOut)
		if err := cli.PreflightDir(dir); err != nil {
			fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
			return cli.ExitConfig
		}
		fw, err := wfs.New(&wfs.Options{OutputDir: dir})
		if err != nil {
			fprintf(os.Stderr, "输出装配失败: %v\n", err)
			return cli.ExitConfig
		}
		w, artifact = fw, contract.ArtifactID(filepath.Base(flagOut))
	}

	ctx := context.Background()
	in := fs.Arg(0)
	t := logger.StartWith("expand", "run", in, "")
	n, err := expandOne(ctx, in, labels, flagSeed, enc, w, artifact)
	if err != nil {
		diag.Report(logger, "expand", "first error", err, in, "")
		fprintf(os.Stderr, "展开失败: %v\n", err)
		return cli.ExitRuntime
	}
	t.Finish("run", int64(n.Records))
	logger.InfoFinish("expand", fmt.Sprintf("examples=%d skipped=%d", n.Examples, n.Skipped), start, int64(n.Records))
	return cli.ExitOK
}

func expandOne(ctx context.Context, in string, labels []string, seed uint64, enc contract.Encoder, w contract.Writer, artifact contract.ArtifactID) (expand.Stats, error) {
	var r io.Reader = os.Stdin
	if in != "-" {
		f, err := os.Open(in)
		if err != nil {
			return expand.Stats{}, err
		}
		defer f.Close()
		r = f
	}
	examples, err := expand.Decode(ctx, r, labels)
	if err != nil {
		return expand.Stats{}, err
	}
	recs, st, err := expand.Expand(ctx, examples, expand.Options{Labels: labels, Seed: seed})
	if err != nil {
		return st, err
	}
	body, err := enc.Encode(ctx, recs)
	if err != nil {
		return st, err
	}
	if w == nil {
		_, err = io.Copy(os.Stdout, body)
		return st, err
	}
	return st, w.Write(ctx, artifact, body)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"labelsplit/internal/cli"
	cfgpkg "labelsplit/internal/config"
	"labelsplit/internal/diag"
	"labelsplit/internal/pipeline"
)

const app = "labelsplit"

var pipelineRun = pipeline.Run

// CLI：默认执行划分；子命令 expand 将原始多标签标注展开为标注记录。
// 位置参数为输入（文件/目录 或 "-" 表示 STDIN，不能与其他输入混用）。
func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 && os.Args[1] == "expand" {
		return runExpand(os.Args[2:])
	}
	start := time.Now()
	corrID := diag.NewCorrID()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = cli.LoadDotEnv(".env")
	logLevel := "info"
	// 先占位默认，合并配置后按最终 level 重建
	logger := diag.NewLogger(app, corrID, logLevel)
	defer func() { _ = logger.Close() }()

	var (
		flagConfig    string
		flagSeed      int64
		flagTestSize  float64
		flagTestCount int
		flagOut       string
		flagTrain     string
		flagTest      string
		flagManifest  string
		flagDecoder   string
		flagEncoder   string
		flagLogLevel  string
		flagInitDir   string
		flagStatus    bool
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	// seed 允许显式为 0；默认 -1 表示“未覆盖”。
	flag.Int64Var(&flagSeed, "seed", -1, "随机种子（覆盖配置；默认 42）")
	flag.Float64Var(&flagTestSize, "test-size", 0, "测试集 idx 比例 (0,1)（覆盖配置；默认 0.2）")
	flag.IntVar(&flagTestCount, "test-count", 0, "测试集 idx 个数（与 --test-size 互斥）")
	flag.StringVar(&flagOut, "out", "", "输出目录（覆盖配置）")
	flag.StringVar(&flagTrain, "train", "", "训练集文件名（覆盖配置）")
	flag.StringVar(&flagTest, "test", "", "测试集文件名（覆盖配置）")
	flag.StringVar(&flagManifest, "manifest", "", "划分清单文件名（为空不生成）")
	flag.StringVar(&flagDecoder, "decoder", "", "输入格式：json|jsonl|parquet（覆盖配置）")
	flag.StringVar(&flagEncoder, "encoder", "", "输出格式：json|jsonl|parquet（覆盖配置）")
	flag.StringVar(&flagLogLevel, "log-level", "", "日志级别：debug|info|warn|error")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（config.json 已存在则失败，不覆盖）；不带值时默认当前目录")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	os.Args = cli.NormalizeInitArg(os.Args, "init-config")
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return cli.ExitConfig
	}
	inputs := flag.Args()

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := initConfig(initDir); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "init-config", &start)
			return cli.ExitConfig
		}
		return cli.ExitOK
	}

	// JSON 配置（文件或 ENV: LABELSPLIT_CONFIG_JSON）
	var cfgJSON []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	if flagConfig == "" {
		flagConfig = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if flagConfig == "" {
		if _, err := os.Stat("config.json"); err == nil {
			flagConfig = "config.json"
		}
	}

	cfg := cfgpkg.Defaults()
	if flagConfig != "" || len(cfgJSON) > 0 {
		base, err := cfgpkg.LoadJSON(flagConfig, cfgJSON)
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "first error", &start)
			return cli.ExitConfig
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return cli.ExitConfig
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖
	var overCLI cfgpkg.Config
	if flagSeed >= 0 {
		v := uint64(flagSeed)
		overCLI.Split.Seed = &v
	}
	overCLI.Split.TestSize = flagTestSize
	overCLI.Split.TestCount = flagTestCount
	overCLI.Outputs = cfgpkg.Outputs{Dir: flagOut, Train: flagTrain, Test: flagTest, Manifest: flagManifest}
	overCLI.Components.Decoder = flagDecoder
	overCLI.Components.Encoder = flagEncoder
	overCLI.Logging.Level = flagLogLevel
	if len(inputs) > 0 {
		overCLI.Inputs = inputs
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		_ = cli.DumpJSON(os.Stderr, "有效配置", cfg)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return cli.ExitConfig
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" {
		logLevel = lv
	}
	_ = logger.Close()
	logger = diag.NewLogger(app, corrID, logLevel)

	if err := cli.PreflightDir(cfgpkg.OutputDir(cfg)); err != nil {
		fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return cli.ExitConfig
	}

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return cli.ExitConfig
	}

	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(app, splitDetail(cfg))

	logger.DebugStart("config", "effective", "", "", map[string]string{
		"inputs_count": strconv.Itoa(len(cfg.Inputs)),
		"seed":         strconv.FormatUint(cfg.Split.SeedOf(), 10),
		"test_size":    strconv.FormatFloat(cfg.Split.TestSize, 'g', -1, 64),
		"test_count":   strconv.Itoa(cfg.Split.TestCount),
		"output_dir":   cfgpkg.OutputDir(cfg),
		"reader":       cfg.Components.Reader,
		"decoder":      cfg.Components.Decoder,
		"encoder":      cfg.Components.Encoder,
		"splitter":     cfg.Components.Splitter,
		"assembler":    cfg.Components.Assembler,
		"writer":       cfg.Components.Writer,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	t := logger.Start("pipeline", "run")
	res, err := pipelineRun(ctx, comp, set, logger)
	if err != nil {
		code := diag.Report(logger, "pipeline", "first error", err, "", "")
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败 (%s): %v\n", code, err)
		}
		term.RunFinish(false, time.Since(start))
		return cli.ExitRuntime
	}
	t.Finish("run", int64(res.Records))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	term.RunFinish(true, time.Since(start))
	return cli.ExitOK
}

func splitDetail(cfg cfgpkg.Config) string {
	seed := cfg.Split.SeedOf()
	if cfg.Split.TestCount > 0 {
		return fmt.Sprintf("seed=%d test_count=%d", seed, cfg.Split.TestCount)
	}
	return fmt.Sprintf("seed=%d test_size=%g", seed, cfg.Split.TestSize)
}

func initConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := cli.WriteJSON(filepath.Join(dir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
		return err
	}
	// .env 生成失败仅提示
	if err := cli.WriteTemplate(filepath.Join(dir, ".env"), dotEnvTemplate); err != nil {
		fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

const dotEnvTemplate = `# labelsplit 环境变量（优先级：CLI > ENV > JSON > 默认）
# LABELSPLIT_CONFIG_FILE=config.json
# LABELSPLIT_INPUTS=data/labels.json
# LABELSPLIT_SEED=42
# LABELSPLIT_TEST_SIZE=0.2
# LABELSPLIT_TEST_COUNT=
# LABELSPLIT_OUTPUT_DIR=out
# LABELSPLIT_OUTPUT_TRAIN=train.json
# LABELSPLIT_OUTPUT_TEST=test.json
# LABELSPLIT_OUTPUT_MANIFEST=split.manifest.json
# LABELSPLIT_LOG_LEVEL=info
# LABELSPLIT_COMPONENTS_DECODER=json
# LABELSPLIT_COMPONENTS_ENCODER=json
# LABELSPLIT_OPTIONS_ENCODER_JSON={"indent":2}
`

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

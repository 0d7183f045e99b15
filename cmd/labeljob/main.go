package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"labelsplit/internal/cli"
	cfgpkg "labelsplit/internal/config"
	"labelsplit/internal/diag"
	"labelsplit/internal/launch"
	"labelsplit/internal/rate"
	wfs "labelsplit/plugins/writer/filesystem"
)

const app = "labeljob"

// 可替换点（测试用）。
var (
	newRunner = func() launch.Runner { return launch.ExecRunner{} }
	runLocal  = launch.RunLocal
)

var stdout io.Writer = os.Stdout

const usage = `用法: labeljob [全局旗标] <命令> [参数]

命令:
  render <job>              打印作业的调度脚本
  submit <job>... | --all   渲染并提交作业（sbatch，本地或 ssh）
  run <job>                 不经调度器直接执行入口，返回其退出码
  list [--limit N]          列出台账中的提交
  status <id>               刷新并显示一条提交的状态
  init-config [dir]         生成 jobs.json 与 .env 模板
`

func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	_ = cli.LoadDotEnv(".env")
	var (
		flagConfig   string
		flagRemote   string
		flagLogLevel string
		flagStatus   bool
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（JSON）；缺省读取 ./jobs.json（若存在）")
	flag.StringVar(&flagRemote, "remote", "", "调度端点 user@host（覆盖配置；空为本机）")
	flag.StringVar(&flagLogLevel, "log-level", "", "日志级别：debug|info|warn|error")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）")
	flag.CommandLine.Usage = func() { fprintf(os.Stderr, "%s", usage) }
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return cli.ExitConfig
	}
	args := flag.Args()
	if len(args) == 0 {
		fprintf(os.Stderr, "%s", usage)
		return cli.ExitConfig
	}
	cmd, rest := args[0], args[1:]
	if cmd == "init-config" {
		dir := "."
		if len(rest) > 0 {
			dir = rest[0]
		}
		if err := initConfig(dir); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			return cli.ExitConfig
		}
		return cli.ExitOK
	}

	cfg, err := loadConfig(flagConfig)
	if err != nil {
		fprintf(os.Stderr, "配置解析失败: %v\n", err)
		return cli.ExitConfig
	}
	cfg = cfgpkg.MergeJobs(cfg, cfgpkg.JobsConfig{
		Scheduler: cfgpkg.Scheduler{Remote: flagRemote},
		Logging:   cfgpkg.Logging{Level: flagLogLevel},
	})
	set, err := cfgpkg.AssembleJobs(cfg)
	if err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		_ = cli.DumpJSON(os.Stderr, "有效配置", cfg)
		return cli.ExitConfig
	}

	logger := diag.NewLogger(app, "", cfg.Logging.Level)
	defer func() { _ = logger.Close() }()
	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	env := &env{cfg: cfg, set: set, logger: logger}

	var code int
	switch cmd {
	case "render":
		code = env.render(rest)
	case "submit":
		code = env.submit(ctx, rest)
	case "run":
		code = env.runJob(ctx, rest)
	case "list":
		code = env.list(ctx, rest)
	case "status":
		code = env.status(ctx, rest)
	default:
		fprintf(os.Stderr, "未知命令: %s\n%s", cmd, usage)
		return cli.ExitConfig
	}
	if cmd != "run" {
		term.RunFinish(code == 0, time.Since(start))
	}
	return code
}

func loadConfig(path string) (cfgpkg.JobsConfig, error) {
	var raw []byte
	if s := os.Getenv(cfgpkg.JobsEnvPrefix + "CONFIG_JSON"); s != "" {
		raw = []byte(s)
	}
	if path == "" {
		path = os.Getenv(cfgpkg.JobsEnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("jobs.json"); err == nil {
			path = "jobs.json"
		}
	}
	cfg := cfgpkg.DefaultJobs()
	if path != "" || len(raw) > 0 {
		base, err := cfgpkg.LoadJobsJSON(path, raw)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.MergeJobs(cfg, base)
	}
	over, err := cfgpkg.JobsEnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	return cfgpkg.MergeJobs(cfg, over), nil
}

type env struct {
	cfg    cfgpkg.JobsConfig
	set    cfgpkg.JobSet
	logger *diag.Logger
}

func (e *env) render(args []string) int {
	if len(args) != 1 {
		fprintf(os.Stderr, "用法: labeljob render <job>\n")
		return cli.ExitConfig
	}
	j, entry, err := e.set.Find(args[0])
	if err != nil {
		fprintf(os.Stderr, "%v\n", err)
		return cli.ExitConfig
	}
	script, err := launch.Render(j, entry)
	if err != nil {
		fprintf(os.Stderr, "渲染失败: %v\n", err)
		return cli.ExitConfig
	}
	_, _ = io.WriteString(stdout, script)
	return cli.ExitOK
}

func (e *env) openStore() (*launch.Store, error) {
	return launch.OpenStore(e.cfg.Ledger)
}

func (e *env) submitter(store *launch.Store) (*launch.Submitter, error) {
	spool, err := wfs.New(&wfs.Options{OutputDir: e.cfg.SpoolDir})
	if err != nil {
		return nil, fmt.Errorf("spool dir: %w", err)
	}
	return &launch.Submitter{
		Remote: e.set.Remote,
		Bin:    e.cfg.Scheduler.Binaries,
		Spool:  spool,
		Runner: newRunner(),
		Gate:   rate.NewGate(e.set.Limits, nil),
		Store:  store,
		Logger: e.logger,
	}, nil
}

// submit 依序提交；首个失败即停止（不重试）。
func (e *env) submit(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	all := fs.Bool("all", false, "提交配置中的全部作业")
	if err := fs.Parse(args); err != nil {
		return cli.ExitConfig
	}
	names := fs.Args()
	if *all {
		names = names[:0]
		for _, j := range e.set.Jobs {
			names = append(names, j.Name)
		}
	}
	if len(names) == 0 {
		fprintf(os.Stderr, "用法: labeljob submit <job>... | --all\n")
		return cli.ExitConfig
	}
	// 先解析全部作业名，避免部分提交后才发现配置错误
	for _, n := range names {
		if _, _, err := e.set.Find(n); err != nil {
			fprintf(os.Stderr, "%v\n", err)
			return cli.ExitConfig
		}
	}
	store, err := e.openStore()
	if err != nil {
		fprintf(os.Stderr, "打开台账失败: %v\n", err)
		diag.Report(e.logger, "ledger", "open", err, "", "")
		return cli.ExitRuntime
	}
	defer store.Close()
	sub, err := e.submitter(store)
	if err != nil {
		fprintf(os.Stderr, "%v\n", err)
		return cli.ExitConfig
	}
	diag.GetTerminal().RunStart(app, fmt.Sprintf("submit %d 个作业 → %s", len(names), rate.KeyFor(e.set.Remote)))
	for _, n := range names {
		j, entry, _ := e.set.Find(n)
		s, err := sub.Submit(ctx, j, entry)
		if err != nil {
			code := diag.Report(e.logger, "launch", "submit failed", err, "", j.Name)
			fprintf(os.Stderr, "提交 %s 失败 (%s): %v\n", j.Name, code, err)
			return cli.ExitRuntime
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", s.ID, s.SchedID, s.Job)
	}
	return cli.ExitOK
}

// runJob 直跑入口；返回值即子进程退出码。
func (e *env) runJob(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fprintf(os.Stderr, "用法: labeljob run <job>\n")
		return cli.ExitConfig
	}
	j, entry, err := e.set.Find(args[0])
	if err != nil {
		fprintf(os.Stderr, "%v\n", err)
		return cli.ExitConfig
	}
	diag.GetTerminal().RunStart(app, "run "+strings.Join(launch.Command(j, entry), " "))
	code, err := runLocal(ctx, j, entry, launch.Stdio{}, e.logger)
	if err != nil {
		c := diag.Report(e.logger, "launch", "run-local failed", err, "", j.Name)
		fprintf(os.Stderr, "启动失败 (%s): %v\n", c, err)
		return cli.ExitRuntime
	}
	if store, err := e.openStore(); err == nil {
		if _, err := launch.RecordRun(ctx, store, j, code); err != nil {
			e.logger.Warn("ledger", "record run failed", map[string]string{"err": err.Error()})
		}
		store.Close()
	} else {
		e.logger.Warn("ledger", "open failed", map[string]string{"err": err.Error()})
	}
	return code
}

func (e *env) list(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "最多显示条数；0 为全部")
	if err := fs.Parse(args); err != nil {
		return cli.ExitConfig
	}
	store, err := e.openStore()
	if err != nil {
		fprintf(os.Stderr, "打开台账失败: %v\n", err)
		return cli.ExitRuntime
	}
	defer store.Close()
	subs, err := store.List(ctx, *limit)
	if err != nil {
		diag.Report(e.logger, "ledger", "list", err, "", "")
		fprintf(os.Stderr, "读取台账失败: %v\n", err)
		return cli.ExitRuntime
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tJOB\tENTRY\tREMOTE\tSCHED\tSTATUS\tCPUS\tCREATED")
	for _, s := range subs {
		status := s.Status
		if s.Remote == launch.RemoteRun {
			status = fmt.Sprintf("%s(%d)", s.Status, s.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n", s.ID[:8], s.Job, s.Entry, s.Remote, dash(s.SchedID), status, s.CPUs, humanize.Time(s.CreatedAt))
	}
	_ = tw.Flush()
	return cli.ExitOK
}

func (e *env) status(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fprintf(os.Stderr, "用法: labeljob status <id>\n")
		return cli.ExitConfig
	}
	store, err := e.openStore()
	if err != nil {
		fprintf(os.Stderr, "打开台账失败: %v\n", err)
		return cli.ExitRuntime
	}
	defer store.Close()
	sub := &launch.Submitter{Bin: e.cfg.Scheduler.Binaries, Runner: newRunner(), Store: store, Logger: e.logger}
	s, err := sub.Refresh(ctx, args[0])
	if err != nil {
		code := diag.Report(e.logger, "launch", "status", err, "", "")
		fprintf(os.Stderr, "查询失败 (%s): %v\n", code, err)
		if errors.Is(err, launch.ErrNotFound) {
			return cli.ExitConfig
		}
		return cli.ExitRuntime
	}
	fmt.Fprintf(stdout, "id:      %s\njob:     %s (%s)\nremote:  %s\nsched:   %s\nstatus:  %s\nscript:  %s\nsha256:  %s\ncreated: %s (%s)\n",
		s.ID, s.Job, s.Entry, s.Remote, dash(s.SchedID), s.Status, dash(s.ScriptPath), dash(s.ScriptSHA256),
		s.CreatedAt.Format(time.RFC3339), humanize.Time(s.CreatedAt))
	if s.Remote == launch.RemoteRun {
		fmt.Fprintf(stdout, "exit:    %d\n", s.ExitCode)
	}
	return cli.ExitOK
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func initConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := cli.WriteJSON(filepath.Join(dir, "jobs.json"), cfgpkg.DefaultJobsTemplate()); err != nil {
		return err
	}
	if err := cli.WriteTemplate(filepath.Join(dir, ".env"), dotEnvTemplate); err != nil {
		fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

const dotEnvTemplate = `# labeljob 环境变量（优先级：CLI > ENV > JSON > 默认）
# LABELJOB_CONFIG_FILE=jobs.json
# LABELJOB_REMOTE=user@login.cluster
# LABELJOB_LEDGER=.labeljob/ledger.db
# LABELJOB_SPOOL_DIR=.labeljob/spool
# LABELJOB_SUBMITS_PER_MINUTE=10
# LABELJOB_CPUS_PER_MINUTE=256
# LABELJOB_MAX_CPUS_PER_JOB=64
# LABELJOB_PARTITIONS=gpu
# LABELJOB_ACCOUNT=
# LABELJOB_MAIL_USER=
# LABELJOB_LOG_LEVEL=info
`

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

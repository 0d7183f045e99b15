package config

import (
	"fmt"
	"strconv"
	"strings"

	"labelsplit/internal/launch"
	"labelsplit/internal/rate"
	"labelsplit/pkg/contract"
)

// JobsEnvPrefix 为作业启动器环境变量前缀。
const JobsEnvPrefix = "LABELJOB_"

// JobsConfig: 作业启动器配置（静态声明，一次解析）。
type JobsConfig struct {
	Scheduler Scheduler               `json:"scheduler"`
	Ledger    string                  `json:"ledger"`
	SpoolDir  string                  `json:"spool_dir"`
	Rate      RateLimits              `json:"rate"`
	Defaults  JobDefaults             `json:"defaults"`
	Entries   map[string]launch.Entry `json:"entries,omitempty"`
	Jobs      []launch.JobSpec        `json:"jobs"`
	Logging   Logging                 `json:"logging"`
}

// Scheduler: 调度端点。Remote 为空表示本机 sbatch。
type Scheduler struct {
	Remote   string          `json:"remote,omitempty"`
	Binaries launch.Binaries `json:"binaries"`
}

// RateLimits: 提交限流（按调度端点）。0 表示不限。
type RateLimits struct {
	SubmitsPerMinute int `json:"submits_per_minute"`
	CPUsPerMinute    int `json:"cpus_per_minute"`
	MaxCPUsPerJob    int `json:"max_cpus_per_job"`
}

// JobDefaults: 作业未声明时继承的字段。
type JobDefaults struct {
	Partitions []string `json:"partitions,omitempty"`
	MailType   string   `json:"mail_type,omitempty"`
	MailUser   string   `json:"mail_user,omitempty"`
	Account    string   `json:"account,omitempty"`
	Output     string   `json:"output,omitempty"`
}

// JobSet: 装配结果。Jobs 已继承 Defaults，顺序同配置。
type JobSet struct {
	Entries map[string]launch.Entry
	Jobs    []launch.JobSpec
	Limits  map[rate.LimitKey]rate.Limits
	Remote  string
}

// Find 按名称查找作业。
func (s JobSet) Find(name string) (launch.JobSpec, launch.Entry, error) {
	for _, j := range s.Jobs {
		if j.Name == name {
			e, err := launch.Resolve(j, s.Entries)
			return j, e, err
		}
	}
	return launch.JobSpec{}, launch.Entry{}, fmt.Errorf("%w: unknown job %q", contract.ErrInvalidInput, name)
}

// DefaultJobs 返回启动器默认配置（无作业）。
func DefaultJobs() JobsConfig {
	return JobsConfig{
		Ledger:   ".labeljob/ledger.db",
		SpoolDir: ".labeljob/spool",
		Rate:     RateLimits{SubmitsPerMinute: 10},
		Logging:  Logging{Level: "info"},
	}
}

// LoadJobsJSON 从文件路径或原始 JSON 严格解析启动器配置。
func LoadJobsJSON(path string, raw []byte) (JobsConfig, error) {
	var cfg JobsConfig
	err := decodeStrict(path, raw, &cfg)
	return cfg, err
}

// MergeJobs 按优先级合并（后者覆盖前者）；Entries 按键合并，Jobs 整体替换。
func MergeJobs(base, over JobsConfig) JobsConfig {
	out := base
	if over.Scheduler.Remote != "" {
		out.Scheduler.Remote = over.Scheduler.Remote
	}
	b, ob := &out.Scheduler.Binaries, over.Scheduler.Binaries
	setIf(&b.SSH, ob.SSH)
	setIf(&b.Sbatch, ob.Sbatch)
	setIf(&b.Squeue, ob.Squeue)
	setIf(&b.Sacct, ob.Sacct)
	if over.Ledger != "" {
		out.Ledger = over.Ledger
	}
	if over.SpoolDir != "" {
		out.SpoolDir = over.SpoolDir
	}
	if over.Rate.SubmitsPerMinute != 0 {
		out.Rate.SubmitsPerMinute = over.Rate.SubmitsPerMinute
	}
	if over.Rate.CPUsPerMinute != 0 {
		out.Rate.CPUsPerMinute = over.Rate.CPUsPerMinute
	}
	if over.Rate.MaxCPUsPerJob != 0 {
		out.Rate.MaxCPUsPerJob = over.Rate.MaxCPUsPerJob
	}
	if len(over.Defaults.Partitions) > 0 {
		out.Defaults.Partitions = cloneStrings(over.Defaults.Partitions)
	}
	if over.Defaults.MailType != "" {
		out.Defaults.MailType = over.Defaults.MailType
	}
	if over.Defaults.MailUser != "" {
		out.Defaults.MailUser = over.Defaults.MailUser
	}
	if over.Defaults.Account != "" {
		out.Defaults.Account = over.Defaults.Account
	}
	if over.Defaults.Output != "" {
		out.Defaults.Output = over.Defaults.Output
	}
	if len(over.Entries) > 0 {
		m := make(map[string]launch.Entry, len(out.Entries)+len(over.Entries))
		for k, v := range out.Entries {
			m[k] = v
		}
		for k, v := range over.Entries {
			m[k] = v
		}
		out.Entries = m
	}
	if len(over.Jobs) > 0 {
		out.Jobs = append([]launch.JobSpec(nil), over.Jobs...)
	}
	if over.Logging.Level != "" {
		out.Logging.Level = over.Logging.Level
	}
	return out
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// JobsEnvOverlay 读取 LABELJOB_* 环境变量；数值非法时返回错误。
func JobsEnvOverlay(environ []string) (JobsConfig, error) {
	var over JobsConfig
	for _, kv := range environ {
		if !strings.HasPrefix(kv, JobsEnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(JobsEnvPrefix) {
			continue
		}
		key := kv[len(JobsEnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			continue
		}
		num := func(dst *int) error {
			v, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("env %s%s: %w", JobsEnvPrefix, key, err)
			}
			*dst = v
			return nil
		}
		var err error
		switch key {
		case "REMOTE":
			over.Scheduler.Remote = val
		case "LEDGER":
			over.Ledger = val
		case "SPOOL_DIR":
			over.SpoolDir = val
		case "SUBMITS_PER_MINUTE":
			err = num(&over.Rate.SubmitsPerMinute)
		case "CPUS_PER_MINUTE":
			err = num(&over.Rate.CPUsPerMinute)
		case "MAX_CPUS_PER_JOB":
			err = num(&over.Rate.MaxCPUsPerJob)
		case "PARTITIONS":
			over.Defaults.Partitions = splitComma(val)
		case "MAIL_USER":
			over.Defaults.MailUser = val
		case "ACCOUNT":
			over.Defaults.Account = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		default:
			// CONFIG_FILE / CONFIG_JSON 由 cmd 层读取
		}
		if err != nil {
			return over, err
		}
	}
	return over, nil
}

// entriesOf 返回内置入口与配置入口的合并视图。
func entriesOf(cfg JobsConfig) map[string]launch.Entry {
	m := make(map[string]launch.Entry, len(launch.Entries)+len(cfg.Entries))
	for k, v := range launch.Entries {
		m[k] = v
	}
	for k, v := range cfg.Entries {
		m[k] = v
	}
	return m
}

func withDefaults(j launch.JobSpec, d JobDefaults) launch.JobSpec {
	if len(j.Partitions) == 0 {
		j.Partitions = cloneStrings(d.Partitions)
	}
	if j.MailType == "" {
		j.MailType = d.MailType
	}
	if j.MailUser == "" {
		j.MailUser = d.MailUser
	}
	if j.Account == "" {
		j.Account = d.Account
	}
	if j.Output == "" {
		j.Output = d.Output
	}
	return j
}

// ValidateJobs 校验启动器配置：作业名唯一、入口已注册、资源声明合法、限额非负。
func ValidateJobs(cfg JobsConfig) error {
	if strings.TrimSpace(cfg.Ledger) == "" {
		return fmt.Errorf("%w: ledger path required", contract.ErrInvalidInput)
	}
	if cfg.Rate.SubmitsPerMinute < 0 || cfg.Rate.CPUsPerMinute < 0 || cfg.Rate.MaxCPUsPerJob < 0 {
		return fmt.Errorf("%w: rate limits must be >= 0", contract.ErrInvalidInput)
	}
	entries := entriesOf(cfg)
	seen := make(map[string]bool, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		if seen[j.Name] {
			return fmt.Errorf("%w: duplicate job %q", contract.ErrInvalidInput, j.Name)
		}
		seen[j.Name] = true
		j = withDefaults(j, cfg.Defaults)
		if err := launch.Validate(j, entries); err != nil {
			return err
		}
		if cfg.Rate.MaxCPUsPerJob > 0 && j.CPUs > cfg.Rate.MaxCPUsPerJob {
			return fmt.Errorf("%w: job %q requests %d cpus, max_cpus_per_job is %d", contract.ErrInvalidInput, j.Name, j.CPUs, cfg.Rate.MaxCPUsPerJob)
		}
	}
	return nil
}

// AssembleJobs 校验并构造 JobSet。
func AssembleJobs(cfg JobsConfig) (JobSet, error) {
	if err := ValidateJobs(cfg); err != nil {
		return JobSet{}, err
	}
	set := JobSet{Entries: entriesOf(cfg), Remote: cfg.Scheduler.Remote}
	for _, j := range cfg.Jobs {
		set.Jobs = append(set.Jobs, withDefaults(j, cfg.Defaults))
	}
	set.Limits = map[rate.LimitKey]rate.Limits{
		rate.KeyFor(cfg.Scheduler.Remote): {
			SubmitsPerMinute: cfg.Rate.SubmitsPerMinute,
			CPUsPerMinute:    cfg.Rate.CPUsPerMinute,
			MaxCPUsPerJob:    cfg.Rate.MaxCPUsPerJob,
		},
	}
	return set, nil
}

// DefaultJobsTemplate 返回包含三类入口的示例作业配置。
func DefaultJobsTemplate() JobsConfig {
	cfg := DefaultJobs()
	cfg.Scheduler.Binaries = launch.Binaries{SSH: "ssh", Sbatch: "sbatch", Squeue: "squeue", Sacct: "sacct"}
	cfg.Rate = RateLimits{SubmitsPerMinute: 10, CPUsPerMinute: 256, MaxCPUsPerJob: 64}
	cfg.Defaults = JobDefaults{
		Partitions: []string{"gpu"},
		MailType:   "END,FAIL",
		MailUser:   "you@example.org",
		Account:    "",
		Output:     "logs/%x-%j.out",
	}
	cfg.Jobs = []launch.JobSpec{
		{Name: "evaluate-llama2", Entry: "evaluate", Arg: "meta-llama/Llama-2-7b-chat-hf", CPUs: 8, GPU: "a100:1", Time: "12:00:00"},
		{Name: "classify", Entry: "classify", Arg: "roberta-base", CPUs: 4, GPU: "a100:1", Time: "06:00:00"},
		{Name: "dpo", Entry: "dpo", CPUs: 16, GPU: "a100:2", Time: "2-00:00:00", Partitions: []string{"gpu-long"}},
	}
	return cfg
}

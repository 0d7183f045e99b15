// Package launch 声明静态作业（资源请求 + 唯一入口调用），渲染调度脚本，
// 并负责提交、本地直跑与提交台账。
//
// 入口点通过显式注册表按名称选择，不做动态导入；作业没有分支与重试，
// 外部调用的退出码即作业的退出码。
package launch

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"labelsplit/pkg/contract"
)

// Entry: 外部入口点（解释器 + 模块）。
type Entry struct {
	Interpreter string `json:"interpreter"`
	Module      string `json:"module"`
}

// Entries 为内置入口注册表；配置可追加或覆盖。
var Entries = map[string]Entry{
	"evaluate": {Interpreter: "python", Module: "social_llama.evaluation.evaluator"},
	"classify": {Interpreter: "python", Module: "social_llama.training.classification"},
	"dpo":      {Interpreter: "python", Module: "social_llama.training.dpo"},
}

// JobSpec: 一个静态作业声明。Arg 为空表示无参数调用。
type JobSpec struct {
	Name       string   `json:"name"`
	Entry      string   `json:"entry"`
	Arg        string   `json:"arg,omitempty"`
	CPUs       int      `json:"cpus"`
	GPU        string   `json:"gpu,omitempty"`
	Time       string   `json:"time"`
	Partitions []string `json:"partitions,omitempty"`
	MailType   string   `json:"mail_type,omitempty"`
	MailUser   string   `json:"mail_user,omitempty"`
	Account    string   `json:"account,omitempty"`
	Output     string   `json:"output,omitempty"`
}

// DefaultOutput 为未指定日志路径时的调度日志模板（%x 作业名，%j 作业号）。
const DefaultOutput = "logs/%x-%j.out"

var (
	reName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	// 分钟 | 分:秒 | 时:分:秒 | 天-时[:分[:秒]]
	reTime = regexp.MustCompile(`^(\d+-\d+(:\d{1,2}){0,2}|\d+(:\d{1,2}){0,2})$`)
	reGPU  = regexp.MustCompile(`^[A-Za-z0-9_.-]+(:\d+)?$`)
)

var mailTypes = map[string]bool{
	"NONE": true, "BEGIN": true, "END": true, "FAIL": true, "REQUEUE": true, "ALL": true,
	"INVALID_DEPEND": true, "STAGE_OUT": true, "TIME_LIMIT": true,
	"TIME_LIMIT_90": true, "TIME_LIMIT_80": true, "TIME_LIMIT_50": true, "ARRAY_TASKS": true,
}

// Resolve 在注册表中查找作业的入口。
func Resolve(j JobSpec, entries map[string]Entry) (Entry, error) {
	if entries == nil {
		entries = Entries
	}
	e, ok := entries[j.Entry]
	if !ok {
		return Entry{}, fmt.Errorf("%w: job %q: unknown entry %q (known: %s)", contract.ErrInvalidInput, j.Name, j.Entry, strings.Join(EntryNames(entries), ","))
	}
	return e, nil
}

// EntryNames 返回排序后的入口名。
func EntryNames(entries map[string]Entry) []string {
	names := make([]string, 0, len(entries))
	for k := range entries {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate 校验作业声明；所有错误包装 ErrInvalidInput。
func Validate(j JobSpec, entries map[string]Entry) error {
	bad := func(format string, a ...any) error {
		return fmt.Errorf("%w: job %q: %s", contract.ErrInvalidInput, j.Name, fmt.Sprintf(format, a...))
	}
	if !reName.MatchString(j.Name) {
		return bad("name must match %s", reName)
	}
	e, err := Resolve(j, entries)
	if err != nil {
		return err
	}
	if strings.TrimSpace(e.Interpreter) == "" || strings.TrimSpace(e.Module) == "" {
		return bad("entry %q needs interpreter and module", j.Entry)
	}
	if j.CPUs < 1 {
		return bad("cpus must be >= 1")
	}
	if !reTime.MatchString(j.Time) {
		return bad("time %q is not a scheduler time limit", j.Time)
	}
	if j.GPU != "" && !reGPU.MatchString(j.GPU) {
		return bad("gpu %q must look like <type>[:<count>]", j.GPU)
	}
	for _, p := range j.Partitions {
		if !reName.MatchString(p) {
			return bad("partition %q", p)
		}
	}
	if j.MailType != "" {
		for _, t := range strings.Split(j.MailType, ",") {
			if !mailTypes[strings.ToUpper(strings.TrimSpace(t))] {
				return bad("mail_type %q", t)
			}
		}
		if strings.ToUpper(j.MailType) != "NONE" && j.MailUser == "" {
			return bad("mail_type needs mail_user")
		}
	}
	for k, v := range map[string]string{"arg": j.Arg, "mail_user": j.MailUser, "account": j.Account, "output": j.Output} {
		if strings.ContainsAny(v, "\r\n\x00") {
			return bad("%s contains a line break", k)
		}
	}
	return nil
}

// Command 返回作业的唯一外部调用：<interpreter> -m <module> [arg]。
func Command(j JobSpec, e Entry) []string {
	argv := []string{e.Interpreter, "-m", e.Module}
	if j.Arg != "" {
		argv = append(argv, j.Arg)
	}
	return argv
}

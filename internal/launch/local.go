package launch

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/klauspost/cpuid/v2"

	"labelsplit/internal/diag"
)

// Stdio: 本地直跑时子进程的标准流；为空时继承当前进程。
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// hostCores 返回主机逻辑核数（测试可替换）。
var hostCores = func() int { return cpuid.CPU.LogicalCores }

// RunLocal 不经调度器直接执行入口调用，返回子进程退出码（原样）。
// 无法启动时返回 -1 与错误；被信号终止时返回 -1。
func RunLocal(ctx context.Context, j JobSpec, e Entry, stdio Stdio, logger *diag.Logger) (int, error) {
	if err := Validate(j, map[string]Entry{j.Entry: e}); err != nil {
		return -1, err
	}
	if n := hostCores(); n > 0 && j.CPUs > n {
		logger.Warn("launch", "requested cpus exceed host logical cores", map[string]string{
			"job":   j.Name,
			"cpus":  strconv.Itoa(j.CPUs),
			"cores": strconv.Itoa(n),
			"cpu":   cpuid.CPU.BrandName,
		})
		if t := diag.GetTerminal(); t != nil {
			t.Note("warn", "请求 "+strconv.Itoa(j.CPUs)+" 核，本机仅 "+strconv.Itoa(n)+" 个逻辑核")
		}
	}
	argv := Command(j, e)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdio.In, stdio.Out, stdio.Err
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	// 与调度器环境一致：子进程可读取核数
	cmd.Env = append(os.Environ(), "SLURM_CPUS_PER_TASK="+strconv.Itoa(j.CPUs), "SLURM_JOB_NAME="+j.Name)
	t := logger.StartWith("launch", "run-local", "", j.Name)
	err := cmd.Run()
	var ee *exec.ExitError
	switch {
	case err == nil:
		t.Finish("run-local", 0)
		return 0, nil
	case errors.As(err, &ee):
		code := ee.ExitCode()
		logger.Warn("launch", "entry exited non-zero", map[string]string{"job": j.Name, "exit_code": strconv.Itoa(code)})
		return code, nil
	default:
		return -1, err
	}
}

// RecordRun 将一次直跑结果写入台账。
func RecordRun(ctx context.Context, store *Store, j JobSpec, code int) (Submission, error) {
	status := "COMPLETED"
	if code != 0 {
		status = "FAILED"
	}
	return store.Insert(ctx, Submission{
		Job:      j.Name,
		Entry:    j.Entry,
		Arg:      j.Arg,
		Remote:   RemoteRun,
		CPUs:     j.CPUs,
		Status:   status,
		ExitCode: code,
	})
}

package launch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"labelsplit/pkg/contract"
)

// Runner 执行外部命令并返回合并输出；测试中可替换。
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// ExecRunner 使用 os/exec 执行命令。
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return out.Bytes(), ctx.Err()
		}
		return out.Bytes(), fmt.Errorf("%w: %s: %w", contract.ErrExternal, name, err)
	}
	return out.Bytes(), nil
}

// Binaries: 调度器命令名（可替换为绝对路径）。
type Binaries struct {
	SSH    string `json:"ssh,omitempty"`
	Sbatch string `json:"sbatch,omitempty"`
	Squeue string `json:"squeue,omitempty"`
	Sacct  string `json:"sacct,omitempty"`
}

func (b Binaries) withDefaults() Binaries {
	if b.SSH == "" {
		b.SSH = "ssh"
	}
	if b.Sbatch == "" {
		b.Sbatch = "sbatch"
	}
	if b.Squeue == "" {
		b.Squeue = "squeue"
	}
	if b.Sacct == "" {
		b.Sacct = "sacct"
	}
	return b
}

// remoteCmd: remote 为空时本地执行，否则经 ssh 执行。
func remoteCmd(bin Binaries, remote, name string, args ...string) (string, []string) {
	if remote == "" || remote == "local" {
		return name, args
	}
	return bin.SSH, append([]string{remote, name}, args...)
}

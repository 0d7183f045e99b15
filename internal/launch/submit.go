package launch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"labelsplit/internal/diag"
	"labelsplit/internal/rate"
	"labelsplit/pkg/contract"
)

// Submitter 渲染并提交作业：脚本先原子落盘到 spool，再经 sbatch（本地或 ssh）提交。
type Submitter struct {
	Remote string // 为空或 "local" 时本机提交
	Bin    Binaries
	Spool  contract.Writer // 脚本落盘；可为 nil
	Runner Runner
	Gate   rate.Gate
	Store  *Store
	Logger *diag.Logger
}

var reSubmitted = regexp.MustCompile(`Submitted batch job (\d+)`)

// ParseJobID 从 sbatch 输出中解析作业号。
func ParseJobID(out string) (string, error) {
	m := reSubmitted.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("%w: unable to parse sbatch output: %q", contract.ErrExternal, strings.TrimSpace(out))
	}
	return m[1], nil
}

func (s *Submitter) runner() Runner {
	if s.Runner == nil {
		return ExecRunner{}
	}
	return s.Runner
}

func (s *Submitter) remote() string {
	if strings.TrimSpace(s.Remote) == "" {
		return "local"
	}
	return strings.TrimSpace(s.Remote)
}

// Submit 提交一个作业并写入台账。失败时不写台账。
func (s *Submitter) Submit(ctx context.Context, j JobSpec, e Entry) (Submission, error) {
	script, err := Render(j, e)
	if err != nil {
		return Submission{}, err
	}
	sum := sha256.Sum256([]byte(script))
	sub := Submission{
		ID:           uuid.NewString(),
		Job:          j.Name,
		Entry:        j.Entry,
		Arg:          j.Arg,
		Remote:       s.remote(),
		CPUs:         j.CPUs,
		ScriptSHA256: hex.EncodeToString(sum[:]),
		ExitCode:     -1,
	}
	t := s.Logger.StartWithKV("launch", "submit", "", j.Name, map[string]string{"remote": sub.Remote, "id": sub.ID})
	if s.Spool != nil {
		name := contract.ArtifactID(j.Name + "-" + sub.ID[:8] + ".sbatch")
		if err := s.Spool.Write(ctx, name, strings.NewReader(script)); err != nil {
			return Submission{}, fmt.Errorf("spool script: %w", err)
		}
		sub.ScriptPath = string(name)
		if r, ok := s.Spool.(interface{ Root() string }); ok {
			sub.ScriptPath = filepath.Join(r.Root(), string(name))
		}
	}
	if s.Gate != nil {
		if err := s.Gate.Wait(ctx, rate.Ask{Key: rate.KeyFor(s.Remote), Submits: 1, CPUs: j.CPUs}); err != nil {
			return Submission{}, fmt.Errorf("rate gate: %w", err)
		}
	}
	bin := s.Bin.withDefaults()
	name, args := remoteCmd(bin, s.Remote, bin.Sbatch)
	out, err := s.runner().Run(ctx, strings.NewReader(script), name, args...)
	if err != nil {
		return Submission{}, fmt.Errorf("sbatch: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	if sub.SchedID, err = ParseJobID(string(out)); err != nil {
		return Submission{}, err
	}
	sub.Status = "SUBMITTED"
	if s.Store != nil {
		saved, err := s.Store.Insert(ctx, sub)
		if err != nil {
			// 作业已在调度器上运行；报出调度作业号与脚本位置以便人工对账
			err = fmt.Errorf("ledger insert failed after sbatch accepted job %s on %s (script %s): %w",
				sub.SchedID, sub.Remote, sub.ScriptPath, err)
			diag.Report(s.Logger, "launch", "ledger insert failed", err, sub.ScriptPath, j.Name)
			return Submission{}, err
		}
		sub = saved
	}
	t.Finish("submit", 1)
	if term := diag.GetTerminal(); term != nil {
		term.Note("submit", fmt.Sprintf("%s → %s 作业 %s (%s)", j.Name, sub.Remote, sub.SchedID, sub.ID[:8]))
	}
	return sub, nil
}

// activeStates 为 squeue 中仍在排队或运行的状态。
var activeStates = map[string]bool{
	"PENDING": true, "CONFIGURING": true, "RUNNING": true, "COMPLETING": true,
	"SUSPENDED": true, "RESV_DEL_HOLD": true, "SPECIAL_EXIT": true,
}

// IsActive 判断状态是否仍为活动态。
func IsActive(status string) bool {
	return activeStates[strings.ToUpper(strings.TrimSpace(status))] || strings.EqualFold(status, "SUBMITTED")
}

// QueryStatus 查询作业状态：先 squeue，作业离队后回落到 sacct；
// sacct 不可用时返回 UNKNOWN。
func (s *Submitter) QueryStatus(ctx context.Context, remote, schedID string) (string, error) {
	if schedID == "" {
		return "UNKNOWN", nil
	}
	bin := s.Bin.withDefaults()
	name, args := remoteCmd(bin, remote, bin.Squeue, "-h", "-j", schedID, "-o", "%T")
	out, err := s.runner().Run(ctx, nil, name, args...)
	if err != nil {
		return "", fmt.Errorf("squeue: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	if st := firstLine(string(out)); st != "" {
		return st, nil
	}
	name, args = remoteCmd(bin, remote, bin.Sacct, "-n", "-X", "-j", schedID, "-o", "State")
	out, err = s.runner().Run(ctx, nil, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "UNKNOWN", nil
	}
	st := firstLine(string(out))
	if i := strings.IndexByte(st, ' '); i >= 0 {
		st = st[:i]
	}
	st = strings.Trim(st, "+")
	if st == "" {
		return "UNKNOWN", nil
	}
	return st, nil
}

// Refresh 刷新台账中一条提交的状态；非活动态与直跑记录不再查询。
func (s *Submitter) Refresh(ctx context.Context, id string) (Submission, error) {
	if s.Store == nil {
		return Submission{}, fmt.Errorf("launch: no ledger configured")
	}
	sub, err := s.Store.Get(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if sub.Remote == RemoteRun || !IsActive(sub.Status) {
		return sub, nil
	}
	remote := sub.Remote
	if remote == "local" {
		remote = ""
	}
	st, err := s.QueryStatus(ctx, remote, sub.SchedID)
	if err != nil {
		return sub, err
	}
	if st != sub.Status {
		if err := s.Store.UpdateStatus(ctx, sub.ID, st); err != nil {
			return sub, err
		}
		sub.Status = st
	}
	return sub, nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

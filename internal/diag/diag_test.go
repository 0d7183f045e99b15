package diag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"labelsplit/pkg/contract"
)

// 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, "app", 30)
	if err := w.WriteLine([]byte("first line that is very long")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := w.WriteLine([]byte("second")); err != nil {
		t.Fatalf("第二次写入失败: %v", err)
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("应存在轮转文件, got %d", len(files))
	}
	_ = w.Close()
}

// current 与时间戳文件均存在
func TestRotatingFileRotateFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, "app", 10)
	for i := 0; i < 5; i++ {
		if err := w.WriteLine([]byte("xxxxxxxxxxxxxxxxxx")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	hasCurrent, hasRotated := false, false
	for _, e := range ents {
		if e.Name() == "app-current.txt" {
			hasCurrent = true
		}
		if strings.HasPrefix(e.Name(), "app-") && strings.HasSuffix(e.Name(), ".txt") && !strings.Contains(e.Name(), "current") {
			hasRotated = true
		}
	}
	if !hasCurrent || !hasRotated {
		t.Fatalf("expect both current and rotated files, got current=%v rotated=%v", hasCurrent, hasRotated)
	}
	_ = w.Close()
}

// 默认 maxBytes/name 分支与 rotate 在 f==nil 分支
func TestRotatingFileDefaultsAndRotateNoOpen(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, "", 0)
	if w.maxBytes != 10*1024*1024 || !strings.HasSuffix(w.Path(), "labelsplit-current.txt") {
		t.Fatalf("默认值错误: %d %s", w.maxBytes, w.Path())
	}
	if err := w.WriteLine([]byte("a")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.f.Close()
	w.f = nil
	if err := w.rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	_ = w.Close()
}

func TestMetricsNoop(t *testing.T) {
	IncOp("comp", "stage", "success")
	IncError("comp", "code")
	ObserveDuration("comp", "stage", 1)
}

// 错误分类
func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{context.Canceled, CodeCancel},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), CodeCancel},
		{contract.ErrMissingIdx, CodeInput},
		{fmt.Errorf("x: %w", contract.ErrInvalidInput), CodeInput},
		{contract.ErrInvariantViolation, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{fmt.Errorf("sbatch: %w", contract.ErrExternal), CodeExternal},
		{exec.ErrNotFound, CodeExternal},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{&os.LinkError{Op: "rename", Old: "a", New: "b", Err: errors.New("x")}, CodeIO},
		{errors.New("other"), CodeUnknown},
	}
	for i, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("case %d: 分类错误 got=%s want=%s", i, got, c.want)
		}
	}
}

// chdir 到临时目录，避免在包目录下生成 logs/
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

// Logger 基本流程
func TestLogger(t *testing.T) {
	l := NewLogger("labelsplit", "corr", "debug")
	l.sink = nil // 避免文件操作
	timer := l.Start("comp", "msg")
	timer.Finish("ok", 1)
	timer = l.StartWith("comp", "msg", "fid", "job")
	timer.Finish("ok", 1)
	timer = l.StartWithKV("comp", "msg", "fid", "job", map[string]string{"k": "v"})
	timer.Finish("ok", 1)
	l.Error("comp", "code", "msg", nil)
	l.ErrorWith("comp", "code", "msg", nil, "fid", "job")
	l.ErrorWithKV("comp", "code", "msg", nil, "fid", "job", map[string]string{"exit": "2"})
	l.Warn("comp", "msg", nil)
	l.InfoFinish("comp", "msg", time.Now(), 1)
	l.DebugStart("comp", "msg", "fid", "job", nil)
	if l.CorrID() != "corr" {
		t.Fatalf("corr id 错误: %s", l.CorrID())
	}
}

// 空 corrID 自动生成 uuid
func TestLoggerGeneratesCorrID(t *testing.T) {
	chdirTemp(t)
	l := NewLogger("labelsplit", "", "info")
	defer l.Close()
	if len(l.CorrID()) != 36 {
		t.Fatalf("应生成 uuid 形式的 corr id: %q", l.CorrID())
	}
	if NewCorrID() == NewCorrID() {
		t.Fatalf("corr id 不应重复")
	}
	var nl *Logger
	if nl.CorrID() != "" || nl.Close() != nil {
		t.Fatalf("nil logger 应为 no-op")
	}
	nl.Warn("comp", "msg", nil)
}

// Logger sink 写入成功路径
func TestLoggerWithSink(t *testing.T) {
	dir := chdirTemp(t)
	l := NewLogger("labeljob", "corr", "info")
	timer := l.Start("comp", "msg")
	timer.Finish("ok", 1)
	l.Error("comp", "code", "msg", nil)
	_ = l.Close()
	b, err := os.ReadFile(filepath.Join(dir, "logs", "labeljob-current.txt"))
	if err != nil {
		t.Fatalf("log file not found: %v", err)
	}
	if !strings.Contains(string(b), `"corr_id":"corr"`) || strings.Count(string(b), "\n") != 3 {
		t.Fatalf("日志内容不符: %s", b)
	}
}

// Level.String 与 parseLevel 分支，以及 lv<level 过滤
func TestLoggerLevelsAndFilter(t *testing.T) {
	if Warn.String() != "warn" {
		t.Fatalf("warn string")
	}
	var unknown Level = 12345
	if unknown.String() != "info" {
		t.Fatalf("default string")
	}
	if parseLevel("ERROR") != Error || parseLevel("x") != Info {
		t.Fatalf("parseLevel 错误")
	}
	l := &Logger{corrID: "c", level: Info}
	l.DebugStart("comp", "msg", "f", "b", nil)
	start := time.Now().Add(-10 * time.Millisecond)
	l.Error("comp", "code", "msg", &start)
	var tnil *Timer
	tnil.Finish("x", 0)
	(&Timer{}).Finish("x", 0)
}

// Report 返回分类
func TestReport(t *testing.T) {
	l := &Logger{corrID: "c", level: Error}
	if Report(l, "writer", "write failed", contract.ErrPathInvalid, "a", "") != CodeInvariant {
		t.Fatalf("Report 分类错误")
	}
	if Report(nil, "reader", "read failed", errors.New("x"), "", "") != CodeUnknown {
		t.Fatalf("nil logger 时也应返回分类")
	}
}

func TestNowUTC(t *testing.T) {
	if NowUTC() == "" {
		t.Fatalf("应返回时间字符串")
	}
}

// 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	if term.isTTY {
		t.Fatalf("expect non-tty")
	}
	term.RunStart("labelsplit", "seed=42 test_size=0.2")
	term.FileStart("data/labels.json")
	term.FileProgress(100) // 非 TTY：不输出进度
	term.FileFinish(true, 1234, 512, 5100*time.Millisecond)
	term.Split(5, 4, 1, 4, 1)
	term.Wrote("out/train.json", 2048)
	term.RunFinish(true, 41300*time.Millisecond)

	out := sb.String()
	if strings.Contains(out, "\r") {
		t.Fatalf("non-tty should not contain carriage returns: %q", out)
	}
	for _, want := range []string{
		"[run] labelsplit | seed=42 test_size=0.2",
		"[file] labels.json | 读取中",
		"[done] labels.json | 记录 1,234 | 512 B | 用时 5.1s",
		"[split] idx 5 | train 4 (4 条) | test 1 (1 条)",
		"[write] train.json | 2.0 kB",
		"[ok] 全部完成 | 文件 1 | 总用时 41.3s",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

// 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart("labelsplit", "")
	term.FileStart("/a/b/c/longfilename.jsonl")

	term.FileProgress(10)
	first := sb.String()
	if !strings.Contains(first, "\r[") {
		t.Fatalf("first progress should be inline with CR: %q", first)
	}
	term.FileProgress(20)
	second := sb.String()
	if second != first {
		t.Fatalf("second progress should be throttled; got changed output")
	}
	time.Sleep(120 * time.Millisecond)
	term.FileProgress(2000)
	third := sb.String()
	if len(third) <= len(second) || !strings.Contains(third, "已读 2.0 kB") {
		t.Fatalf("third progress should append output: %q", third)
	}
	term.FileFinish(false, 2, 20, 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	if idx < 0 {
		t.Fatalf("finish should include fail line: %q", final)
	}
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	if cr < 0 || !strings.Contains(seg[cr+1:], " ") {
		t.Fatalf("clear tail should write spaces after CR: %q", seg)
	}
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// 写失败降级为禁用态
func TestTerminalDisableOnWriteError(t *testing.T) {
	fw := &flakyWriter{fail: true}
	term := NewTerminal(fw, true)
	term.isTTY = false
	term.RunStart("x", "")
	if term.enabled {
		t.Fatalf("terminal should be disabled after write error")
	}
	term.FileStart("a")
	term.FileProgress(0)
	term.FileFinish(true, 0, 0, 0)
	term.Note("x", "y")
	term.RunFinish(true, 0)
}

// printInline 写失败分支（TTY）
func TestTerminalInlineWriteError(t *testing.T) {
	fw := &flakyWriter{fail: true}
	term := NewTerminal(fw, true)
	term.isTTY = true
	term.FileStart("f.json")
	term.FileProgress(2)
	if term.enabled {
		t.Fatalf("terminal should be disabled after inline error")
	}
}

func TestNewTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "true")
	var sb strings.Builder
	if NewTerminal(&sb, true).isTTY {
		t.Fatalf("CI env should force non-tty")
	}
}

// 普通文件不是终端
func TestNewTerminalWithFile(t *testing.T) {
	t.Setenv("CI", "")
	f, err := os.CreateTemp(t.TempDir(), "term")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if NewTerminal(f, true).isTTY {
		t.Fatalf("regular file should not be tty")
	}
	if NewTerminal(nil, false) == nil {
		t.Fatalf("nil writer should default to stderr")
	}
}

func TestTerminalNilReceiverNoop(t *testing.T) {
	var tn *Terminal
	tn.RunStart("x", "")
	tn.FileStart("a")
	tn.FileProgress(0)
	tn.FileFinish(true, 0, 0, 0)
	tn.Split(0, 0, 0, 0, 0)
	tn.Wrote("a", 0)
	tn.RunFinish(true, 0)
}

func TestHelpers(t *testing.T) {
	if shortenBase("/x/y/这是一个很长的文件名用于截断测试abcdefghijk.json", 10) == "" {
		t.Fatalf("shortenBase should produce non-empty")
	}
	if shortenBase("x", 0) != "" {
		t.Fatalf("shortenBase max<=0 should be empty")
	}
	if safe("a\nb\rc") != "a b c" {
		t.Fatalf("safe replace failed")
	}
	if formatDur(0) != "0ms" || formatDur(1500*time.Millisecond) != "1.5s" {
		t.Fatalf("formatDur failed: %s", formatDur(1500*time.Millisecond))
	}
	SetTerminal(nil)
	if GetTerminal() != nil {
		t.Fatalf("expected nil terminal")
	}
	SetTerminal(NewTerminal(os.Stderr, false))
	if GetTerminal() == nil {
		t.Fatalf("expected non-nil terminal")
	}
	SetTerminal(nil)
}

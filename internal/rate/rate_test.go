package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"labelsplit/pkg/contract"
)

func TestGateTryLimit(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {SubmitsPerMinute: 1, CPUsPerMinute: 10, MaxCPUsPerJob: 8}}, clk)
	if !g.Try(Ask{Key: "k", Submits: 1, CPUs: 4}) {
		t.Fatalf("首次应通过")
	}
	if g.Try(Ask{Key: "k", Submits: 1, CPUs: 4}) {
		t.Fatalf("应因每分钟提交数拒绝")
	}
	now = now.Add(60 * time.Second)
	if !g.Try(Ask{Key: "k", Submits: 1, CPUs: 4}) {
		t.Fatalf("补充后应通过")
	}
	if g.Try(Ask{Key: "k", Submits: 1, CPUs: 9}) {
		t.Fatalf("超过单作业 CPU 上限应拒绝")
	}
}

func TestGateCPUBudget(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {CPUsPerMinute: 16}}, clk)
	if !g.Try(Ask{Key: "k", Submits: 1, CPUs: 12}) {
		t.Fatalf("首次应通过")
	}
	if g.Try(Ask{Key: "k", Submits: 1, CPUs: 8}) {
		t.Fatalf("CPU 额度不足应拒绝")
	}
	now = now.Add(15 * time.Second) // +4
	if !g.Try(Ask{Key: "k", Submits: 1, CPUs: 8}) {
		t.Fatalf("补充 4 核后应通过")
	}
	s, c := g.(Snapshoter).Snapshot("k")
	if s != 0 || c != 0 {
		t.Fatalf("快照错误: %d %d", s, c)
	}
	// 申请超过桶容量时按满桶放行
	now = now.Add(time.Minute)
	if !g.Try(Ask{Key: "k", Submits: 1, CPUs: 64}) {
		t.Fatalf("满桶时超容量申请应放行")
	}
}

func TestGateUnknownKeyUnlimited(t *testing.T) {
	g := NewGate(nil, nil)
	for i := 0; i < 100; i++ {
		if !g.Try(Ask{Key: KeyFor("other"), Submits: 1, CPUs: 128}) {
			t.Fatalf("未配置端点应不限额")
		}
	}
	if g.Try(Ask{Key: "x", Submits: 0}) {
		t.Fatalf("Submits=0 应拒绝")
	}
}

func TestGateWaitCancel(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {SubmitsPerMinute: 1}}, clk)
	if err := g.Wait(context.Background(), Ask{Key: "k", Submits: 1}); err != nil {
		t.Fatalf("首次应通过: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if err := g.Wait(ctx, Ask{Key: "k", Submits: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("应返回取消错误: %v", err)
	}
}

func TestGateWaitInvalid(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {MaxCPUsPerJob: 2}}, nil)
	if err := g.Wait(context.Background(), Ask{Key: "k", Submits: 1, CPUs: 3}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("超过单作业上限应快速失败: %v", err)
	}
}

func TestKeyFor(t *testing.T) {
	cases := []struct {
		in   string
		want LimitKey
	}{
		{"", "local"},
		{"local", "local"},
		{"alice@Login.Cluster.org", "ssh:login.cluster.org"},
		{"hpc:2222", "ssh:hpc"},
		{" u@h ", "ssh:h"},
	}
	for _, c := range cases {
		if got := KeyFor(c.in); got != c.want {
			t.Fatalf("KeyFor(%q)=%q, want %q", c.in, got, c.want)
		}
	}
}

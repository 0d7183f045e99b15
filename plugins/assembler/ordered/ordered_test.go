package ordered

import (
	"context"
	"testing"

	"labelsplit/pkg/contract"
)

func TestAssembleKeepsOrder(t *testing.T) {
	recs := []contract.Record{
		{Idx: 1, ResponseGood: "a"},
		{Idx: 0, ResponseGood: "b"},
		{Idx: 1, ResponseGood: "c"},
		{Idx: 2, ResponseGood: "d"},
		{Idx: 1, ResponseGood: "e"},
	}
	a, _ := New(nil)
	out, err := a.Assemble(context.Background(), recs, contract.IDSet([]contract.ID{1}))
	if err != nil {
		t.Fatal(err)
	}
	got := ""
	for _, r := range out {
		got += r.ResponseGood
	}
	if got != "ace" {
		t.Fatalf("顺序错误: %q", got)
	}
}

func TestAssembleTask(t *testing.T) {
	recs := []contract.Record{{Idx: 0}}
	a, err := New(&Options{Task: " social-dimensions "})
	if err != nil {
		t.Fatal(err)
	}
	out, _ := a.Assemble(context.Background(), recs, contract.IDSet([]contract.ID{0}))
	if string(out[0].Extra["task"]) != `"social-dimensions"` {
		t.Fatalf("标签错误: %s", out[0].Extra["task"])
	}
	if recs[0].Extra != nil {
		t.Fatalf("输入被修改")
	}
}

func TestAssembleEmptyKeep(t *testing.T) {
	a, _ := New(nil)
	out, err := a.Assemble(context.Background(), []contract.Record{{Idx: 0}}, nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("空集合应得空结果: %v %v", out, err)
	}
}

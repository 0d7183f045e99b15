package jsonarray

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"labelsplit/pkg/contract"
)

const sample = `[
 {"idx":0,"text":"a","h_text":"ha","response_good":"trust","response_bad":"fun"},
 {"idx":0,"text":"a","h_text":"ha","response_good":"power","response_bad":"fun"},
 {"idx":1,"text":"b","h_text":"hb","response_good":"romance","response_bad":"conflict"}
]`

func TestDecodeOrder(t *testing.T) {
	c, _ := New(nil)
	recs, err := c.Decode(context.Background(), "f.json", strings.NewReader(sample))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 3 || recs[1].ResponseGood != "power" || recs[2].Idx != 1 {
		t.Fatalf("顺序或字段错误: %+v", recs)
	}
}

func TestDecodeErrors(t *testing.T) {
	c, _ := New(nil)
	cases := map[string]error{
		`{"idx":1}`:            contract.ErrInvalidInput,
		`[{"idx":1}`:           contract.ErrInvalidInput,
		`[{"idx":1}] [1]`:      contract.ErrInvalidInput,
		`[{"text":"no idx"}]`:  contract.ErrMissingIdx,
		`[{"idx":1},"string"]`: contract.ErrInvalidInput,
		``:                     contract.ErrInvalidInput,
	}
	for in, want := range cases {
		_, err := c.Decode(context.Background(), "f.json", strings.NewReader(in))
		if !errors.Is(err, want) {
			t.Fatalf("%q: want %v, got %v", in, want, err)
		}
	}
}

func TestDecodeEmptyArray(t *testing.T) {
	c, _ := New(nil)
	recs, err := c.Decode(context.Background(), "f.json", strings.NewReader(" [ ] \n"))
	if err != nil || len(recs) != 0 {
		t.Fatalf("空数组: %v %v", recs, err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	c, _ := New(nil)
	recs, err := c.Decode(context.Background(), "f.json", strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	r, err := c.Encode(context.Background(), recs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, _ := io.ReadAll(r)
	if !strings.HasPrefix(string(b), "[\n{\"idx\":0,") || !strings.HasSuffix(string(b), "}\n]\n") {
		t.Fatalf("输出形态错误: %s", b)
	}
	again, err := c.Decode(context.Background(), "out.json", strings.NewReader(string(b)))
	if err != nil || len(again) != 3 || again[2].HText != "hb" {
		t.Fatalf("回读失败: %v %+v", err, again)
	}
}

func TestEncodeEmptyAndIndent(t *testing.T) {
	c, _ := New(nil)
	r, _ := c.Encode(context.Background(), nil)
	b, _ := io.ReadAll(r)
	if string(b) != "[]\n" {
		t.Fatalf("空输出错误: %q", b)
	}
	ci, err := New(&Options{Indent: 2})
	if err != nil {
		t.Fatal(err)
	}
	r, err = ci.Encode(context.Background(), []contract.Record{{Idx: 1}})
	if err != nil {
		t.Fatal(err)
	}
	b, _ = io.ReadAll(r)
	if !strings.Contains(string(b), "\n    \"idx\": 1,") {
		t.Fatalf("缩进输出错误: %s", b)
	}
	if _, err := New(&Options{Indent: -1}); err == nil {
		t.Fatalf("非法缩进应报错")
	}
}

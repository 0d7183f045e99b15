package recjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"labelsplit/pkg/contract"
)

func TestDecodeFields(t *testing.T) {
	raw := json.RawMessage(`{"idx":7,"text":"t","h_text":"h","response_good":"trust","response_bad":"fun","task":"social-dimensions"}`)
	r, err := Decode(raw, 0, false)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Idx != 7 || r.Text != "t" || r.HText != "h" || r.ResponseGood != "trust" || r.ResponseBad != "fun" {
		t.Fatalf("字段映射错误: %+v", r)
	}
	if string(r.Extra["task"]) != `"social-dimensions"` {
		t.Fatalf("Extra 未保留: %v", r.Extra)
	}
	if _, err := Decode(raw, 0, true); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("strict 模式应拒绝未知字段, got %v", err)
	}
}

func TestDecodeMissingIdx(t *testing.T) {
	for _, s := range []string{`{"text":"a"}`, `{"idx":null}`} {
		_, err := Decode(json.RawMessage(s), 3, false)
		if !errors.Is(err, contract.ErrMissingIdx) {
			t.Fatalf("%s: 应为缺失 idx, got %v", s, err)
		}
	}
}

func TestDecodeBadValues(t *testing.T) {
	cases := []string{
		`[1,2]`,
		`null`,
		`{"idx":1.5}`,
		`{"idx":"abc"}`,
		`{"idx":true}`,
		`{"idx":1,"text":5}`,
	}
	for _, s := range cases {
		if _, err := Decode(json.RawMessage(s), 0, false); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("%s: 应为非法输入, got %v", s, err)
		}
	}
}

func TestParseID(t *testing.T) {
	cases := map[string]contract.ID{`12`: 12, `"12"`: 12, `3.0`: 3, `-4`: -4, `1e2`: 100}
	for in, want := range cases {
		got, err := ParseID(json.RawMessage(in))
		if err != nil || got != want {
			t.Fatalf("ParseID(%s) = %d, %v; want %d", in, got, err, want)
		}
	}
}

// 越界的 idx 必须报错，不能回绕成其他 id
func TestParseIDRange(t *testing.T) {
	for _, in := range []string{
		`9223372036854775808`,
		`"9223372036854775808"`,
		`-9223372036854775809`,
		`9.223372036854775808e18`,
		`1e19`,
	} {
		if got, err := ParseID(json.RawMessage(in)); err == nil {
			t.Fatalf("ParseID(%s) 应报错, got %d", in, got)
		}
	}
	edges := map[string]contract.ID{
		`9223372036854775807`:      math.MaxInt64,
		`-9223372036854775808`:     math.MinInt64,
		`-9.223372036854775808e18`: math.MinInt64,
	}
	for in, want := range edges {
		got, err := ParseID(json.RawMessage(in))
		if err != nil || got != want {
			t.Fatalf("ParseID(%s) = %d, %v; want %d", in, got, err, want)
		}
	}
}

func TestEncodeKeyOrder(t *testing.T) {
	r := contract.Record{
		Idx: 2, Text: "a<b", HText: "h", ResponseGood: "g", ResponseBad: "b",
		Extra: contract.Extra{"z": json.RawMessage(`{ "k" : 1 }`), "a": json.RawMessage(`"x"`)},
	}
	var buf bytes.Buffer
	if err := Encode(&buf, r); err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"idx":2,"text":"a<b","h_text":"h","response_good":"g","response_bad":"b","a":"x","z":{"k":1}}`
	if buf.String() != want {
		t.Fatalf("got  %s\nwant %s", buf.String(), want)
	}
	back, err := Decode(buf.Bytes(), 0, false)
	if err != nil || back.Text != "a<b" || back.Idx != 2 {
		t.Fatalf("回读失败: %+v %v", back, err)
	}
}

package registry

import (
	"encoding/json"
	"fmt"
	"testing"

	"labelsplit/pkg/contract"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	if err := strictUnmarshal(nil, &o); err != nil || o.A != 0 {
		t.Fatalf("nil 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1}`), &o); err != nil || o.A != 1 {
		t.Fatalf("合法 JSON 解析失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o); err == nil {
		t.Fatalf("未知字段应报错")
	}
}

// TestFactories 遍历注册表入口。
func TestFactories(t *testing.T) {
	t.Run("reader", func(t *testing.T) {
		if _, err := Reader["fs"](json.RawMessage(`{}`)); err != nil {
			t.Fatalf("reader: %v", err)
		}
		if _, err := Reader["fs"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("reader 未对未知字段报错")
		}
	})
	t.Run("codecs", func(t *testing.T) {
		for _, name := range []string{"json", "jsonl", "parquet"} {
			dec, err := Decoder[name](nil)
			if err != nil {
				t.Fatalf("decoder %s: %v", name, err)
			}
			enc, err := Encoder[name](nil)
			if err != nil {
				t.Fatalf("encoder %s: %v", name, err)
			}
			if dec == nil || enc.Ext() == "" {
				t.Fatalf("%s 编解码器不完整", name)
			}
			if _, err := Decoder[name](json.RawMessage(`{"x":1}`)); err == nil {
				t.Fatalf("decoder %s 未对未知字段报错", name)
			}
			if _, err := Encoder[name](json.RawMessage(`{"x":1}`)); err == nil {
				t.Fatalf("encoder %s 未对未知字段报错", name)
			}
		}
		if _, err := Encoder["json"](json.RawMessage(`{"indent":99}`)); err == nil {
			t.Fatalf("json indent 越界应报错")
		}
		if _, err := Encoder["parquet"](json.RawMessage(`{"compression":"lz9"}`)); err == nil {
			t.Fatalf("未知压缩应报错")
		}
	})
	t.Run("splitter", func(t *testing.T) {
		if _, err := Splitter["shuffle"](json.RawMessage(`{}`)); err != nil {
			t.Fatalf("splitter: %v", err)
		}
		if _, err := Splitter["shuffle"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("splitter 未对未知字段报错")
		}
	})
	t.Run("assembler", func(t *testing.T) {
		if _, err := Assembler["ordered"](json.RawMessage(`{"task":"cls"}`)); err != nil {
			t.Fatalf("assembler: %v", err)
		}
	})
	t.Run("writer", func(t *testing.T) {
		tmp := t.TempDir()
		raw := json.RawMessage([]byte(fmt.Sprintf(`{"output_dir":%q}`, tmp)))
		w, err := Writer["fs"](raw)
		if err != nil {
			t.Fatalf("writer: %v", err)
		}
		if _, ok := w.(contract.Stager); !ok {
			t.Fatalf("fs writer 应支持暂存")
		}
		bad := json.RawMessage([]byte(fmt.Sprintf(`{"output_dir":%q,"x":1}`, tmp)))
		if _, err := Writer["fs"](bad); err == nil {
			t.Fatalf("writer 未对未知字段报错")
		}
	})
}

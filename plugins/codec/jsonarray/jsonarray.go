package jsonarray

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"labelsplit/pkg/contract"
	"labelsplit/plugins/codec/internal/recjson"
)

// Options: JSON 数组编解码器选项。
type Options struct {
	// Indent: 输出缩进空格数；0 表示紧凑输出（每条记录一行）。
	Indent int `json:"indent"`
	// StrictFields: 解码时拒绝未知字段；默认 false（未知字段原样保留并回写）。
	StrictFields bool `json:"strict_fields"`
}

// Codec 读写 "[{...},{...}]" 形式的记录文件。
type Codec struct {
	indent int
	strict bool
}

// New 创建 JSON 数组编解码器。
func New(opts *Options) (*Codec, error) {
	c := &Codec{}
	if opts != nil {
		if opts.Indent < 0 || opts.Indent > 8 {
			return nil, fmt.Errorf("jsonarray: indent must be in [0,8], got %d", opts.Indent)
		}
		c.indent = opts.Indent
		c.strict = opts.StrictFields
	}
	return c, nil
}

var (
	_ contract.Decoder = (*Codec)(nil)
	_ contract.Encoder = (*Codec)(nil)
)

// Decode 流式解析顶层数组；数组之后出现多余内容视为格式错误。
func (c *Codec) Decode(ctx context.Context, fileID contract.FileID, r io.Reader) ([]contract.Record, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", contract.ErrInvalidInput, fileID, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("%w: %s: top-level value must be an array", contract.ErrInvalidInput, fileID)
	}
	var recs []contract.Record
	for pos := 0; dec.More(); pos++ {
		if pos%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %s: record %d: %v", contract.ErrInvalidInput, fileID, pos, err)
		}
		rec, err := recjson.Decode(raw, pos, c.strict)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fileID, err)
		}
		recs = append(recs, rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", contract.ErrInvalidInput, fileID, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: trailing data after array", contract.ErrInvalidInput, fileID)
	}
	return recs, nil
}

// Encode 输出记录数组（以换行结尾）。
func (c *Codec) Encode(ctx context.Context, recs []contract.Record) (io.Reader, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range recs {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
		if err := recjson.Encode(&buf, r); err != nil {
			return nil, err
		}
	}
	if len(recs) > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString("]\n")
	if c.indent == 0 {
		return &buf, nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", spaces(c.indent)); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ext 返回 ".json"。
func (c *Codec) Ext() string { return ".json" }

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

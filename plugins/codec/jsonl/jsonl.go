package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"labelsplit/pkg/contract"
	"labelsplit/plugins/codec/internal/recjson"
)

// Options: JSON Lines 编解码器选项。
type Options struct {
	// MaxLineBytes: 单行最大字节数；<=0 使用默认 16MiB。
	MaxLineBytes int `json:"max_line_bytes"`
	// StrictFields: 解码时拒绝未知字段。
	StrictFields bool `json:"strict_fields"`
}

// Codec 读写每行一个 JSON 对象的记录文件；空行忽略。
type Codec struct {
	maxLine int
	strict  bool
}

// New 创建 JSON Lines 编解码器。
func New(opts *Options) *Codec {
	c := &Codec{maxLine: 16 << 20}
	if opts != nil {
		if opts.MaxLineBytes > 0 {
			c.maxLine = opts.MaxLineBytes
		}
		c.strict = opts.StrictFields
	}
	return c
}

var (
	_ contract.Decoder = (*Codec)(nil)
	_ contract.Encoder = (*Codec)(nil)
)

func (c *Codec) Decode(ctx context.Context, fileID contract.FileID, r io.Reader) ([]contract.Record, error) {
	sc := bufio.NewScanner(r)
	// 最大 token 取 max 与 cap(buf) 的较大者，初始容量不得超过上限
	initial := 64 * 1024
	if initial > c.maxLine {
		initial = c.maxLine
	}
	sc.Buffer(make([]byte, 0, initial), c.maxLine)
	var recs []contract.Record
	line := 0
	for sc.Scan() {
		line++
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		rec, err := recjson.Decode(b, len(recs), c.strict)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", fileID, line, err)
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s:%d: %v", contract.ErrInvalidInput, fileID, line+1, err)
	}
	return recs, nil
}

func (c *Codec) Encode(ctx context.Context, recs []contract.Record) (io.Reader, error) {
	var buf bytes.Buffer
	for i, r := range recs {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := recjson.Encode(&buf, r); err != nil {
			return nil, err
		}
		buf.WriteByte('\n')
	}
	return &buf, nil
}

// Ext 返回 ".jsonl"。
func (c *Codec) Ext() string { return ".jsonl" }

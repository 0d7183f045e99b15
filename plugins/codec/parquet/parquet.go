// Package parquet 以 Parquet 列式文件读写标注记录。
// 仅承载五个已知字段；Extra 不落盘。
package parquet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/common"
	pq "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/schema"
	"github.com/xitongsys/parquet-go/writer"

	"labelsplit/pkg/contract"
)

// Options: Parquet 编解码器选项。
type Options struct {
	// Compression: snappy（默认）| gzip | none。
	Compression string `json:"compression"`
	// Parallel: parquet-go 内部并行度；<=0 使用 1（保证输出确定性）。
	Parallel int64 `json:"parallel"`
}

// row 为写出 schema；全部列为 OPTIONAL。读取不依赖此结构。
type row struct {
	Idx          *int64  `parquet:"name=idx, type=INT64, repetitiontype=OPTIONAL"`
	Text         *string `parquet:"name=text, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	HText        *string `parquet:"name=h_text, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ResponseGood *string `parquet:"name=response_good, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ResponseBad  *string `parquet:"name=response_bad, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

type Codec struct {
	codec pq.CompressionCodec
	np    int64
}

// New 创建 Parquet 编解码器。
func New(opts *Options) (*Codec, error) {
	c := &Codec{codec: pq.CompressionCodec_SNAPPY, np: 1}
	if opts == nil {
		return c, nil
	}
	switch strings.ToLower(strings.TrimSpace(opts.Compression)) {
	case "", "snappy":
	case "gzip":
		c.codec = pq.CompressionCodec_GZIP
	case "none":
		c.codec = pq.CompressionCodec_UNCOMPRESSED
	default:
		return nil, fmt.Errorf("parquet: unknown compression %q", opts.Compression)
	}
	if opts.Parallel > 0 {
		c.np = opts.Parallel
	}
	return c, nil
}

var (
	_ contract.Decoder = (*Codec)(nil)
	_ contract.Encoder = (*Codec)(nil)
)

// Decode 读入整个文件后按列读取已知字段；列可为 REQUIRED 或 OPTIONAL，其余列忽略。
// 缺少 idx 列或 idx 为空的行返回 ErrMissingIdx。
func (c *Codec) Decode(ctx context.Context, fileID contract.FileID, r io.Reader) ([]contract.Record, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cols, n, err := c.readColumns(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", contract.ErrInvalidInput, fileID, err)
	}
	idx, ok := cols[colIdx]
	if !ok {
		return nil, fmt.Errorf("%s: %w: no %q column", fileID, contract.ErrMissingIdx, colIdx)
	}
	recs := make([]contract.Record, 0, n)
	for i := 0; i < n; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var rec contract.Record
		switch v := idx[i].(type) {
		case nil:
			return nil, fmt.Errorf("%s: %w: record %d", fileID, contract.ErrMissingIdx, i)
		case int64:
			rec.Idx = contract.ID(v)
		case int32:
			rec.Idx = contract.ID(v)
		default:
			return nil, fmt.Errorf("%w: %s: record %d: idx must be an integer column, got %T", contract.ErrInvalidInput, fileID, i, v)
		}
		for _, f := range []struct {
			name string
			dst  *string
		}{
			{colText, &rec.Text},
			{colHText, &rec.HText},
			{colResponseGood, &rec.ResponseGood},
			{colResponseBad, &rec.ResponseBad},
		} {
			vals, ok := cols[f.name]
			if !ok {
				continue
			}
			switch v := vals[i].(type) {
			case nil:
			case string:
				*f.dst = v
			default:
				return nil, fmt.Errorf("%w: %s: record %d: %s must be a string column, got %T", contract.ErrInvalidInput, fileID, i, f.name, v)
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

const (
	colIdx          = "idx"
	colText         = "text"
	colHText        = "h_text"
	colResponseGood = "response_good"
	colResponseBad  = "response_bad"
)

// readColumns 按外部列名读取顶层已知列；返回 列名 → 逐行值（空值为 nil）与行数。
// parquet-go 对损坏文件可能 panic，此处转为错误。
func (c *Codec) readColumns(b []byte) (cols map[string][]interface{}, n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			cols, n, err = nil, 0, fmt.Errorf("corrupt parquet: %v", p)
		}
	}()
	pr, err := reader.NewParquetColumnReader(buffer.NewBufferFileFromBytes(b), c.np)
	if err != nil {
		return nil, 0, err
	}
	defer pr.ReadStop()
	rows := pr.GetNumRows()
	paths := topLevelColumns(pr.SchemaHandler)
	cols = make(map[string][]interface{}, len(paths))
	for _, name := range []string{colIdx, colText, colHText, colResponseGood, colResponseBad} {
		path, ok := paths[name]
		if !ok {
			continue
		}
		if rows == 0 {
			cols[name] = nil
			continue
		}
		vals, _, _, err := pr.ReadColumnByPath(path, rows)
		if err != nil {
			return nil, 0, fmt.Errorf("column %s: %w", name, err)
		}
		if int64(len(vals)) != rows {
			return nil, 0, fmt.Errorf("column %s: %d values for %d rows (not a flat column)", name, len(vals), rows)
		}
		cols[name] = vals
	}
	return cols, int(rows), nil
}

// topLevelColumns 返回 外部列名 → 内部路径，仅含根下直接的叶子列。
func topLevelColumns(sh *schema.SchemaHandler) map[string]string {
	out := make(map[string]string, len(sh.ValueColumns))
	for _, in := range sh.ValueColumns {
		ex, ok := sh.InPathToExPath[in]
		if !ok {
			continue
		}
		parts := strings.Split(ex, common.PAR_GO_PATH_DELIMITER)
		if len(parts) == 2 {
			out[parts[1]] = in
		}
	}
	return out
}

// Encode 将记录写入内存中的 Parquet 文件。
func (c *Codec) Encode(ctx context.Context, recs []contract.Record) (io.Reader, error) {
	var buf bytes.Buffer
	pw, err := writer.NewParquetWriterFromWriter(&buf, new(row), c.np)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = c.codec
	for i := range recs {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r := recs[i]
		idx := int64(r.Idx)
		rw := row{
			Idx:          &idx,
			Text:         &r.Text,
			HText:        &r.HText,
			ResponseGood: &r.ResponseGood,
			ResponseBad:  &r.ResponseBad,
		}
		if err := pw.Write(rw); err != nil {
			return nil, fmt.Errorf("parquet write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("parquet finalize: %w", err)
	}
	return &buf, nil
}

// Ext 返回 ".parquet"。
func (c *Codec) Ext() string { return ".parquet" }

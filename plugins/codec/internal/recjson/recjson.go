// Package recjson 在 JSON 对象与 contract.Record 之间转换，供 json/jsonl 编解码器共用。
package recjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"labelsplit/pkg/contract"
)

// 已知字段名（与输入文件一致）。
const (
	KeyIdx          = "idx"
	KeyText         = "text"
	KeyHText        = "h_text"
	KeyResponseGood = "response_good"
	KeyResponseBad  = "response_bad"
)

var known = map[string]struct{}{
	KeyIdx: {}, KeyText: {}, KeyHText: {}, KeyResponseGood: {}, KeyResponseBad: {},
}

// Decode 将单个 JSON 对象转换为 Record。pos 为记录在文件内的位置（仅用于报错）。
// strict=true 时拒绝未知字段；否则未知字段原样保留到 Extra。
func Decode(raw json.RawMessage, pos int, strict bool) (contract.Record, error) {
	var rec contract.Record
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return rec, fmt.Errorf("%w: record %d: %v", contract.ErrInvalidInput, pos, err)
	}
	if obj == nil {
		return rec, fmt.Errorf("%w: record %d is null", contract.ErrInvalidInput, pos)
	}
	idxRaw, ok := obj[KeyIdx]
	if !ok || isNull(idxRaw) {
		return rec, fmt.Errorf("%w: record %d", contract.ErrMissingIdx, pos)
	}
	id, err := ParseID(idxRaw)
	if err != nil {
		return rec, fmt.Errorf("%w: record %d: idx %s: %v", contract.ErrInvalidInput, pos, string(idxRaw), err)
	}
	rec.Idx = id
	fields := []struct {
		key string
		dst *string
	}{
		{KeyText, &rec.Text},
		{KeyHText, &rec.HText},
		{KeyResponseGood, &rec.ResponseGood},
		{KeyResponseBad, &rec.ResponseBad},
	}
	for _, f := range fields {
		v, ok := obj[f.key]
		if !ok || isNull(v) {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return rec, fmt.Errorf("%w: record %d: field %q must be a string", contract.ErrInvalidInput, pos, f.key)
		}
	}
	for k, v := range obj {
		if _, ok := known[k]; ok {
			continue
		}
		if strict {
			return rec, fmt.Errorf("%w: record %d: unknown field %q", contract.ErrInvalidInput, pos, k)
		}
		if rec.Extra == nil {
			rec.Extra = contract.Extra{}
		}
		b := make(json.RawMessage, len(v))
		copy(b, v)
		rec.Extra[k] = b
	}
	return rec, nil
}

// ParseID 接受 JSON 整数、整值浮点数（如 3.0）与数字字符串（如 "3"）。
func ParseID(raw json.RawMessage) (contract.ID, error) {
	s := string(bytes.TrimSpace(raw))
	if len(s) > 0 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, err
		}
		s = str
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return contract.ID(n), nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("integer out of int64 range")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	// float64(MaxInt64) 即 2^63，已越界
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("not an integer")
	}
	return contract.ID(int64(f)), nil
}

// Encode 以固定键序写出单个对象：已知字段在前，Extra 按键名字典序在后。
func Encode(buf *bytes.Buffer, r contract.Record) error {
	buf.WriteByte('{')
	buf.WriteString(`"idx":`)
	buf.WriteString(strconv.FormatInt(int64(r.Idx), 10))
	for _, kv := range [][2]string{
		{KeyText, r.Text},
		{KeyHText, r.HText},
		{KeyResponseGood, r.ResponseGood},
		{KeyResponseBad, r.ResponseBad},
	} {
		buf.WriteByte(',')
		if err := writeString(buf, kv[0]); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeString(buf, kv[1]); err != nil {
			return err
		}
	}
	if len(r.Extra) > 0 {
		keys := make([]string, 0, len(r.Extra))
		for k := range r.Extra {
			if _, ok := known[k]; ok {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteByte(',')
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			var c bytes.Buffer
			if err := json.Compact(&c, r.Extra[k]); err != nil {
				return fmt.Errorf("%w: extra field %q: %v", contract.ErrInvalidInput, k, err)
			}
			buf.Write(c.Bytes())
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeString 输出 JSON 字符串，不做 HTML 转义。
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// Package expand 将多标签计数标注展开为带正负响应的标注记录。
//
// 规则：
//   - 计数 > 0 的标签为正例，== 0 的为负例；未出现的标签不参与；
//   - 正例与负例均按样本对象中键的出现顺序排列；
//   - 每个正例产出一条记录，response_bad 由显式种子随机源从负例中选取；
//   - idx 为样本在输入中的位置（从 0 开始）；
//   - 无正例的样本跳过；有正例但无负例视为输入错误。
package expand

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"labelsplit/pkg/contract"
)

// DefaultLabels 为默认的十个社会维度标签（顺序即遍历顺序）。
var DefaultLabels = []string{
	"social_support",
	"conflict",
	"trust",
	"fun",
	"similarity",
	"identity",
	"respect",
	"romance",
	"knowledge",
	"power",
}

// Options: 展开参数。
type Options struct {
	Labels []string
	Seed   uint64
	Stream uint64
}

// Example 为一条原始标注样本。
type Example struct {
	Text   string
	HText  string
	Counts map[string]float64
	// Order 为标签键在原对象中的出现顺序；为 nil 时按配置标签顺序。
	Order []string
}

// Stats 为展开摘要。
type Stats struct {
	Examples int
	Skipped  int
	Records  int
}

// Decode 解析原始样本数组。text/h_text 必须为字符串；标签计数必须为数值。
// 非标签字段忽略。
func Decode(ctx context.Context, r io.Reader, labels []string) ([]Example, error) {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	var raw []json.RawMessage
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: raw annotations: %v", contract.ErrInvalidInput, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: raw annotations: trailing data after array", contract.ErrInvalidInput)
	}
	want := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		want[l] = struct{}{}
	}
	out := make([]Example, 0, len(raw))
	for i, item := range raw {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if string(bytes.TrimSpace(item)) == "null" {
			return nil, fmt.Errorf("%w: example %d is null", contract.ErrInvalidInput, i)
		}
		obj, keys, err := decodeObject(item)
		if err != nil {
			return nil, fmt.Errorf("%w: example %d: %v", contract.ErrInvalidInput, i, err)
		}
		ex := Example{Counts: make(map[string]float64, len(labels))}
		if err := stringField(obj, "text", &ex.Text); err != nil {
			return nil, fmt.Errorf("%w: example %d: %v", contract.ErrInvalidInput, i, err)
		}
		if err := stringField(obj, "h_text", &ex.HText); err != nil {
			return nil, fmt.Errorf("%w: example %d: %v", contract.ErrInvalidInput, i, err)
		}
		for _, l := range keys {
			if _, ok := want[l]; !ok {
				continue
			}
			v := obj[l]
			if string(v) == "null" {
				continue
			}
			var n json.Number
			if err := json.Unmarshal(v, &n); err != nil {
				return nil, fmt.Errorf("%w: example %d: label %q must be numeric", contract.ErrInvalidInput, i, l)
			}
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("%w: example %d: label %q: %v", contract.ErrInvalidInput, i, l, err)
			}
			ex.Counts[l] = f
			ex.Order = append(ex.Order, l)
		}
		out = append(out, ex)
	}
	return out, nil
}

// decodeObject 解析单个 JSON 对象并保留键的出现顺序；重复键取最后的值、保留首次位置。
func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("not an object")
	}
	obj := make(map[string]json.RawMessage)
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		k, ok := tok.(string)
		if !ok {
			return nil, nil, errors.New("object key expected")
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		if _, dup := obj[k]; !dup {
			keys = append(keys, k)
		}
		obj[k] = v
	}
	return obj, keys, nil
}

func stringField(obj map[string]json.RawMessage, key string, dst *string) error {
	v, ok := obj[key]
	if !ok {
		return fmt.Errorf("missing %q", key)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("field %q must be a string", key)
	}
	return nil
}

// Expand 按样本中标签键的顺序展开样本。相同输入与种子产生相同输出。
func Expand(ctx context.Context, examples []Example, opts Options) ([]contract.Record, Stats, error) {
	labels := opts.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	if err := checkLabels(labels); err != nil {
		return nil, Stats{}, err
	}
	want := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		want[l] = struct{}{}
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Stream))
	st := Stats{Examples: len(examples)}
	var out []contract.Record
	for i, ex := range examples {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, st, err
			}
		}
		order := ex.Order
		if order == nil {
			order = labels
		}
		var pos, neg []string
		for _, l := range order {
			if _, ok := want[l]; !ok {
				continue
			}
			c, ok := ex.Counts[l]
			switch {
			case !ok:
			case c > 0:
				pos = append(pos, l)
			case c == 0:
				neg = append(neg, l)
			}
		}
		if len(pos) == 0 {
			st.Skipped++
			continue
		}
		if len(neg) == 0 {
			return nil, st, fmt.Errorf("%w: example %d has no zero-count label to use as response_bad", contract.ErrInvalidInput, i)
		}
		for _, p := range pos {
			out = append(out, contract.Record{
				Idx:          contract.ID(i),
				Text:         ex.Text,
				HText:        ex.HText,
				ResponseGood: p,
				ResponseBad:  neg[rng.IntN(len(neg))],
			})
		}
	}
	st.Records = len(out)
	return out, st, nil
}

// ParseLabels 解析逗号分隔的标签列表；空串返回默认标签。
func ParseLabels(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultLabels, nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if err := checkLabels(out); err != nil {
		return nil, err
	}
	return out, nil
}

func checkLabels(labels []string) error {
	if len(labels) < 2 {
		return fmt.Errorf("%w: need at least two labels, got %d", contract.ErrInvalidInput, len(labels))
	}
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if l == "text" || l == "h_text" {
			return fmt.Errorf("%w: %q cannot be a label", contract.ErrInvalidInput, l)
		}
		if _, dup := seen[l]; dup {
			return fmt.Errorf("%w: duplicate label %q", contract.ErrInvalidInput, l)
		}
		seen[l] = struct{}{}
	}
	return nil
}

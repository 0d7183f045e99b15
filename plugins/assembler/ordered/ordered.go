package ordered

import (
	"context"
	"encoding/json"
	"strings"

	"labelsplit/pkg/contract"
)

// Options: 可选地为每条输出记录追加任务标签（写入 Extra["task"]）。
type Options struct {
	Task string `json:"task"`
}

// Assembler 按原始顺序筛选 Idx 属于 keep 的记录。
type Assembler struct {
	task json.RawMessage
}

// New 创建顺序保持装配器。
func New(opts *Options) (*Assembler, error) {
	a := &Assembler{}
	if opts != nil && strings.TrimSpace(opts.Task) != "" {
		b, err := json.Marshal(strings.TrimSpace(opts.Task))
		if err != nil {
			return nil, err
		}
		a.task = b
	}
	return a, nil
}

var _ contract.Assembler = (*Assembler)(nil)

func (a *Assembler) Assemble(ctx context.Context, recs []contract.Record, keep map[contract.ID]struct{}) ([]contract.Record, error) {
	out := make([]contract.Record, 0, len(recs))
	for i, r := range recs {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if _, ok := keep[r.Idx]; !ok {
			continue
		}
		c := contract.CloneRecord(r)
		if a.task != nil {
			if c.Extra == nil {
				c.Extra = contract.Extra{}
			}
			c.Extra["task"] = a.task
		}
		out = append(out, c)
	}
	return out, nil
}

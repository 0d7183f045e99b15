package contract

import "encoding/json"

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// ID: 记录分组键（源文段编号 idx）。同一 ID 的多条记录来自同一源文段。
type ID int64

// Extra: 未识别字段的原样 JSON（键 → 值）。核心流程不读取其内容。
type Extra map[string]json.RawMessage

// Record: 标注记录（一段源文可产生多条 good/bad 标签对）。
// 约束：
// - Idx 必须存在（解码期校验）；
// - 其余文本字段原样保留，不做业务性清洗；
// - Extra 仅由 JSON 类编解码器回写，其他格式可忽略。
type Record struct {
	Idx          ID
	Text         string
	HText        string
	ResponseGood string
	ResponseBad  string
	Extra        Extra // 可为 nil
}

// Assignment: 对去重后 ID 集合的划分结果。
// 约束：Train 与 Test 互不相交，且并集等于输入 ID 集合；
// 两者内部顺序为划分器产出的顺序（对结果无语义影响）。
type Assignment struct {
	Train []ID
	Test  []ID
}

// DistinctIDs 按首次出现顺序返回去重后的 ID 列表。
func DistinctIDs(recs []Record) []ID {
	seen := make(map[ID]struct{}, len(recs))
	out := make([]ID, 0)
	for _, r := range recs {
		if _, ok := seen[r.Idx]; ok {
			continue
		}
		seen[r.Idx] = struct{}{}
		out = append(out, r.Idx)
	}
	return out
}

// IDSet 将 ID 列表转换为集合视图。
func IDSet(ids []ID) map[ID]struct{} {
	m := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// CloneRecord 深拷贝单条记录（含 Extra）。
func CloneRecord(r Record) Record {
	out := r
	if r.Extra != nil {
		out.Extra = make(Extra, len(r.Extra))
		for k, v := range r.Extra {
			b := make(json.RawMessage, len(v))
			copy(b, v)
			out.Extra[k] = b
		}
	}
	return out
}

package contract

import "fmt"

// 校验库函数（纯函数，无 I/O）：
// - ValidateAssignment: 划分须互不相交且恰好覆盖 ids
// - ValidateCover:      train/test 两个子序列须恰好重建原始记录序列
func ValidateAssignment(ids []ID, a Assignment) error {
	all := IDSet(ids)
	if len(all) != len(ids) {
		return fmt.Errorf("%w: duplicate ids in split input", ErrInvariantViolation)
	}
	seen := make(map[ID]struct{}, len(ids))
	for _, side := range [][]ID{a.Train, a.Test} {
		for _, id := range side {
			if _, ok := all[id]; !ok {
				return fmt.Errorf("%w: id %d not in input set", ErrInvariantViolation, id)
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: id %d assigned twice", ErrInvariantViolation, id)
			}
			seen[id] = struct{}{}
		}
	}
	if len(seen) != len(all) {
		return fmt.Errorf("%w: %d of %d ids unassigned", ErrInvariantViolation, len(all)-len(seen), len(all))
	}
	return nil
}

// ValidateCover 以归并方式校验：按原始顺序逐条消费 train/test 的队头，
// 每条原始记录必须恰好匹配其中一侧的队头（Idx 决定所属侧）。
func ValidateCover(orig, train, test []Record, testIDs map[ID]struct{}) error {
	if len(train)+len(test) != len(orig) {
		return fmt.Errorf("%w: %d+%d records, want %d", ErrInvariantViolation, len(train), len(test), len(orig))
	}
	i, j := 0, 0
	for k, r := range orig {
		if _, isTest := testIDs[r.Idx]; isTest {
			if j >= len(test) || !sameRecord(test[j], r) {
				return fmt.Errorf("%w: test record mismatch at input position %d", ErrInvariantViolation, k)
			}
			j++
			continue
		}
		if i >= len(train) || !sameRecord(train[i], r) {
			return fmt.Errorf("%w: train record mismatch at input position %d", ErrInvariantViolation, k)
		}
		i++
	}
	return nil
}

// sameRecord 仅比较核心字段；Extra 允许由装配器追加标签。
func sameRecord(a, b Record) bool {
	return a.Idx == b.Idx &&
		a.Text == b.Text &&
		a.HText == b.HText &&
		a.ResponseGood == b.ResponseGood &&
		a.ResponseBad == b.ResponseBad
}

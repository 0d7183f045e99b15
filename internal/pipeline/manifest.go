package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"labelsplit/pkg/contract"
)

// Manifest 描述一次划分，足以复核与复现。不含时间戳：同输入同参数两次运行字节一致。
type Manifest struct {
	Inputs    []manifestInput `json:"inputs"`
	Seed      uint64          `json:"seed"`
	TestSize  float64         `json:"test_size,omitempty"`
	TestCount int             `json:"test_count,omitempty"`
	// Rounding: "ceil"（n_test=ceil(test_size×N)）或 "count"（显式 test_count）。
	Rounding string      `json:"rounding"`
	Records  int         `json:"records"`
	IDs      int         `json:"ids"`
	Train    partSummary `json:"train"`
	Test     partSummary `json:"test"`
}

type manifestInput struct {
	File    string `json:"file"`
	SHA256  string `json:"sha256"`
	Bytes   int64  `json:"bytes"`
	Records int    `json:"records"`
}

type partSummary struct {
	Artifact string        `json:"artifact"`
	SHA256   string        `json:"sha256"`
	Records  int           `json:"records"`
	IDs      []contract.ID `json:"ids"`
}

func summarizePart(id contract.ArtifactID, ids []contract.ID, records int, data []byte) partSummary {
	sum := sha256.Sum256(data)
	out := make([]contract.ID, len(ids))
	copy(out, ids)
	return partSummary{Artifact: string(id), SHA256: hex.EncodeToString(sum[:]), Records: records, IDs: out}
}

func buildManifest(inputs []manifestInput, set Settings, ids []contract.ID, records int, train, test partSummary) Manifest {
	m := Manifest{
		Inputs:  inputs,
		Seed:    set.Split.Seed,
		Records: records,
		IDs:     len(ids),
		Train:   train,
		Test:    test,
	}
	if set.Split.TestCount > 0 {
		m.Rounding = "count"
		m.TestCount = set.Split.TestCount
	} else {
		m.Rounding = "ceil"
		m.TestSize = set.Split.TestSize
	}
	return m
}

func (m Manifest) encode() ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

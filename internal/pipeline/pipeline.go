package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"labelsplit/internal/diag"
	"labelsplit/pkg/contract"
)

// - 单线程顺序执行：Reader → Decoder → Splitter → Assembler → Encoder → Writer。
// - 全部产物先在内存中完成编码，任一阶段失败不落盘。
// - Writer 支持 Stager 时先全部暂存再统一提交；任一暂存失败则全部丢弃。
// - 阶段之间检查 ctx；流式 I/O 由各组件自行检查。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader    contract.Reader
	Decoder   contract.Decoder
	Splitter  contract.Splitter
	Assembler contract.Assembler
	Encoder   contract.Encoder
	Writer    contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Inputs []string
	Split  contract.SplitParams
	// 产物名；为空时为 "train"/"test" + Encoder.Ext()。
	TrainName string
	TestName  string
	// ManifestName 非空时额外写出划分清单（JSON）。
	ManifestName string
}

// Result 为一次运行的摘要。
type Result struct {
	Records    int
	Assignment contract.Assignment
	TrainRecs  int
	TestRecs   int
	Artifacts  []contract.ArtifactID
}

type artifact struct {
	id   contract.ArtifactID
	data []byte
}

// Run 执行完整流水线并返回摘要；任一错误即返回且不提交任何产物。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Result, error) {
	if err := sanity(comp, set); err != nil {
		return Result{}, fmt.Errorf("sanity: %w", err)
	}
	var res Result

	// 1) 读取 + 解码
	recs, inputs, err := load(ctx, comp, set, logger)
	if err != nil {
		return res, err
	}
	res.Records = len(recs)
	if len(recs) == 0 {
		return res, fmt.Errorf("%w: no records in inputs", contract.ErrInvalidInput)
	}

	// 2) 去重 + 划分
	if err := ctx.Err(); err != nil {
		return res, err
	}
	ids := contract.DistinctIDs(recs)
	stimer := logger.StartWithKV("splitter", "split", "", "", map[string]string{
		"ids":        fmt.Sprintf("%d", len(ids)),
		"seed":       fmt.Sprintf("%d", set.Split.Seed),
		"test_size":  fmt.Sprintf("%g", set.Split.TestSize),
		"test_count": fmt.Sprintf("%d", set.Split.TestCount),
	})
	a, err := comp.Splitter.Split(ctx, ids, set.Split)
	if err != nil {
		diag.Report(logger, "splitter", "split failed", err, "", "")
		return res, fmt.Errorf("splitter split: %w", err)
	}
	if err := contract.ValidateAssignment(ids, a); err != nil {
		diag.Report(logger, "splitter", "assignment invalid", err, "", "")
		return res, err
	}
	stimer.Finish("split", int64(len(a.Test)))
	diag.IncOp("splitter", "finish", "success")
	res.Assignment = a

	// 3) 装配
	if err := ctx.Err(); err != nil {
		return res, err
	}
	atimer := logger.Start("assembler", "assemble")
	trainSet := contract.IDSet(a.Train)
	testSet := contract.IDSet(a.Test)
	train, err := comp.Assembler.Assemble(ctx, recs, trainSet)
	if err != nil {
		diag.Report(logger, "assembler", "assemble train failed", err, "", "")
		return res, fmt.Errorf("assembler assemble: %w", err)
	}
	test, err := comp.Assembler.Assemble(ctx, recs, testSet)
	if err != nil {
		diag.Report(logger, "assembler", "assemble test failed", err, "", "")
		return res, fmt.Errorf("assembler assemble: %w", err)
	}
	if err := contract.ValidateCover(recs, train, test, testSet); err != nil {
		diag.Report(logger, "assembler", "cover invalid", err, "", "")
		return res, err
	}
	atimer.Finish("assemble", int64(len(train)+len(test)))
	diag.IncOp("assembler", "finish", "success")
	res.TrainRecs, res.TestRecs = len(train), len(test)
	if t := diag.GetTerminal(); t != nil {
		t.Split(len(ids), len(a.Train), len(a.Test), len(train), len(test))
	}

	// 4) 编码（全部在内存中完成）
	if err := ctx.Err(); err != nil {
		return res, err
	}
	trainID, testID := artifactNames(comp.Encoder, set)
	etimer := logger.Start("encoder", "encode")
	trainB, err := encode(ctx, comp.Encoder, train)
	if err != nil {
		diag.Report(logger, "encoder", "encode train failed", err, string(trainID), "")
		return res, fmt.Errorf("encoder encode: %w", err)
	}
	testB, err := encode(ctx, comp.Encoder, test)
	if err != nil {
		diag.Report(logger, "encoder", "encode test failed", err, string(testID), "")
		return res, fmt.Errorf("encoder encode: %w", err)
	}
	arts := []artifact{{id: trainID, data: trainB}, {id: testID, data: testB}}
	if set.ManifestName != "" {
		m := buildManifest(inputs, set, ids, len(recs),
			summarizePart(trainID, a.Train, len(train), trainB),
			summarizePart(testID, a.Test, len(test), testB))
		mb, err := m.encode()
		if err != nil {
			diag.Report(logger, "encoder", "encode manifest failed", err, set.ManifestName, "")
			return res, fmt.Errorf("encode manifest: %w", err)
		}
		arts = append(arts, artifact{id: contract.ArtifactID(set.ManifestName), data: mb})
	}
	etimer.Finish("encode", int64(len(arts)))
	diag.IncOp("encoder", "finish", "success")

	// 5) 落盘
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := persist(ctx, comp.Writer, arts, logger); err != nil {
		return res, err
	}
	for _, x := range arts {
		res.Artifacts = append(res.Artifacts, x.id)
	}
	return res, nil
}

// load 依 Reader 顺序读取全部输入；记录按文件顺序拼接。
func load(ctx context.Context, comp Components, set Settings, logger *diag.Logger) ([]contract.Record, []manifestInput, error) {
	var (
		recs   []contract.Record
		inputs []manifestInput
	)
	rtimer := logger.Start("reader", "iterate")
	err := comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		term := diag.GetTerminal()
		if term != nil {
			term.FileStart(string(fid))
		}
		start := time.Now()
		cr := &countingReader{r: rc, h: sha256.New(), term: term}
		dtimer := logger.StartWith("decoder", "decode", string(fid), "")
		got, err := comp.Decoder.Decode(ctx, fid, cr)
		if err == nil {
			// 读尽剩余字节以保证摘要覆盖整个输入
			_, err = io.Copy(io.Discard, cr)
		}
		if err != nil {
			if term != nil {
				term.FileFinish(false, len(got), cr.n, time.Since(start))
			}
			diag.Report(logger, "decoder", "decode failed", err, string(fid), "")
			return fmt.Errorf("decode %s: %w", fid, err)
		}
		dtimer.Finish("decode", int64(len(got)))
		diag.IncOp("decoder", "finish", "success")
		if term != nil {
			term.FileFinish(true, len(got), cr.n, time.Since(start))
		}
		inputs = append(inputs, manifestInput{
			File:    string(fid),
			SHA256:  hex.EncodeToString(cr.h.Sum(nil)),
			Bytes:   cr.n,
			Records: len(got),
		})
		recs = append(recs, got...)
		return nil
	})
	if err != nil {
		diag.Report(logger, "reader", "iterate failed", err, "", "")
		return nil, nil, fmt.Errorf("reader iterate: %w", err)
	}
	rtimer.Finish("iterate", int64(len(recs)))
	diag.IncOp("reader", "finish", "success")
	return recs, inputs, nil
}

func encode(ctx context.Context, enc contract.Encoder, recs []contract.Record) ([]byte, error) {
	r, err := enc.Encode(ctx, recs)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// persist 写出全部产物。支持 Stager 时两阶段提交，否则逐个写出。
func persist(ctx context.Context, w contract.Writer, arts []artifact, logger *diag.Logger) error {
	wtimer := logger.Start("writer", "write")
	st, ok := w.(contract.Stager)
	if !ok {
		for _, x := range arts {
			if err := w.Write(ctx, x.id, bytes.NewReader(x.data)); err != nil {
				diag.Report(logger, "writer", "write failed", err, string(x.id), "")
				return fmt.Errorf("writer write %s: %w", x.id, err)
			}
			wrote(x)
		}
		wtimer.Finish("write", int64(len(arts)))
		diag.IncOp("writer", "finish", "success")
		return nil
	}

	staged := make([]contract.Staged, 0, len(arts))
	discard := func() {
		for _, s := range staged {
			_ = s.Discard()
		}
	}
	for _, x := range arts {
		s, err := st.Stage(ctx, x.id, bytes.NewReader(x.data))
		if err != nil {
			discard()
			diag.Report(logger, "writer", "stage failed", err, string(x.id), "")
			return fmt.Errorf("writer stage %s: %w", x.id, err)
		}
		staged = append(staged, s)
	}
	if err := ctx.Err(); err != nil {
		discard()
		return err
	}
	for i, s := range staged {
		if err := s.Commit(); err != nil {
			// 已提交的无法回滚；丢弃剩余暂存
			for _, rest := range staged[i+1:] {
				_ = rest.Discard()
			}
			diag.Report(logger, "writer", "commit failed", err, string(arts[i].id), "")
			return fmt.Errorf("writer commit %s: %w", arts[i].id, err)
		}
		wrote(arts[i])
	}
	wtimer.Finish("write", int64(len(arts)))
	diag.IncOp("writer", "finish", "success")
	return nil
}

func wrote(x artifact) {
	if t := diag.GetTerminal(); t != nil {
		t.Wrote(string(x.id), int64(len(x.data)))
	}
}

func artifactNames(enc contract.Encoder, set Settings) (contract.ArtifactID, contract.ArtifactID) {
	train, test := set.TrainName, set.TestName
	if train == "" {
		train = "train" + enc.Ext()
	}
	if test == "" {
		test = "test" + enc.Ext()
	}
	return contract.ArtifactID(train), contract.ArtifactID(test)
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Decoder == nil || c.Splitter == nil || c.Assembler == nil || c.Encoder == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	train, test := artifactNames(c.Encoder, s)
	names := map[contract.ArtifactID]struct{}{train: {}}
	if _, dup := names[test]; dup {
		return fmt.Errorf("pipeline: train and test outputs share name %q", test)
	}
	names[test] = struct{}{}
	if s.ManifestName != "" {
		if _, dup := names[contract.ArtifactID(s.ManifestName)]; dup {
			return fmt.Errorf("pipeline: manifest shares name %q with an output", s.ManifestName)
		}
	}
	return nil
}

// countingReader 统计字节数、计算摘要并上报终端进度。
type countingReader struct {
	r    io.Reader
	h    hash.Hash
	n    int64
	term *diag.Terminal
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		_, _ = c.h.Write(p[:n])
		if c.term != nil {
			c.term.FileProgress(c.n)
		}
	}
	return n, err
}

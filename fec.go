/**
 * Reed-Solomon 纠删码库 - 流式编解码驱动
 *
 * 字路径：每轮从 k 条数据流各读一个字，编码后向 nOutputs 条
 * 校验流各写一个字，偏移按字宽推进。
 * 包路径：每轮读取 bufSize 字节的包，打包成宿主宽度的字后
 * 走缓冲区内核编码，扫描越界标记，展开回字节后写出，
 * 偏移按 bufSize 推进。末尾的短包补零处理后结束。
 * 解码先选定幸存分片 (数据优先)，一次求逆，然后逐块重建。
 *
 * Copyright 2024
 */

package fermatrs

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// CodeStats 是单实例累计的流式统计
type CodeStats struct {
	EncodeOps     uint64
	DecodeOps     uint64
	EncodeBytes   uint64
	DecodeBytes   uint64
	EncodeElapsed time.Duration
	DecodeElapsed time.Duration
}

// Stats 返回累计统计
func (c *Code[T]) Stats() CodeStats {
	return c.stats
}

// ResetStats 清零累计统计
func (c *Code[T]) ResetStats() {
	c.stats = CodeStats{}
}

// SetMetrics 安装可选的 prometheus 观测，传 nil 关闭
func (c *Code[T]) SetMetrics(m *Metrics) {
	c.metrics = m
}

func (c *Code[T]) observeEncode(bytes uint64, ops uint64, d time.Duration) {
	c.stats.EncodeOps += ops
	c.stats.EncodeBytes += bytes
	c.stats.EncodeElapsed += d
	if c.metrics != nil {
		c.metrics.EncodeOps.Add(float64(ops))
		c.metrics.EncodeBytes.Add(float64(bytes))
		c.metrics.EncodeLatency.Observe(d.Seconds())
	}
}

func (c *Code[T]) observeDecode(bytes uint64, ops uint64, d time.Duration) {
	c.stats.DecodeOps += ops
	c.stats.DecodeBytes += bytes
	c.stats.DecodeElapsed += d
	if c.metrics != nil {
		c.metrics.DecodeOps.Add(float64(ops))
		c.metrics.DecodeBytes.Add(float64(bytes))
		c.metrics.DecodeLatency.Observe(d.Seconds())
	}
}

// readWord 读取一个 wordSize 字节的小端字。
// 流结束或遇到不完整的字时返回 ok = false，流在块中间
// 结束属于正常终止 (调用方保证各流等长并补齐)
func (c *Code[T]) readWord(r io.Reader, buf []byte) (T, bool, error) {
	n, err := io.ReadFull(r, buf[:c.wordSize])
	switch err {
	case nil:
	case io.EOF:
		return 0, false, nil
	case io.ErrUnexpectedEOF:
		logger.Debug("流在字中间结束，按流尾处理 (已读 %d 字节)", n)
		return 0, false, nil
	default:
		return 0, false, err
	}
	var v T
	for b := 0; b < c.wordSize; b++ {
		v |= T(buf[b]) << (8 * b)
	}
	return v, true, nil
}

// writeWord 按小端序写出一个字，超出字宽的位被截断
func (c *Code[T]) writeWord(w io.Writer, v T, buf []byte) error {
	for b := 0; b < c.wordSize; b++ {
		buf[b] = byte(v >> (8 * b))
	}
	n, err := w.Write(buf[:c.wordSize])
	if err != nil {
		return err
	}
	if n != c.wordSize {
		return ErrShortWrite
	}
	return nil
}

// EncodeStream 字粒度的流式编码。
// dataIn 必须是 k 条等长的流；parityOut 与 propsOut 各 nOutputs 个，
// 不需要的输出可以传 nil
func (c *Code[T]) EncodeStream(dataIn []io.Reader, parityOut []io.Writer, propsOut []*Properties) error {
	if len(dataIn) != c.nData || len(parityOut) != c.nOutputs || len(propsOut) != c.nOutputs {
		return ErrConfig
	}
	start := time.Now()

	words := NewVector(c.field, c.nData)
	output := NewVector(c.field, c.nOutputs)
	buf := make([]byte, 8)
	var offset int64
	var ops uint64

	for {
		words.ZeroFill()
		cont := true
		for i, r := range dataIn {
			v, ok, err := c.readWord(r, buf)
			if err != nil {
				return StreamReadError{Err: err, Stream: i}
			}
			if !ok {
				cont = false
				break
			}
			words.Set(i, v)
		}
		if !cont {
			break
		}

		if err := c.EncodeVector(output, propsOut, offset, words); err != nil {
			return err
		}
		for i, w := range parityOut {
			if w == nil {
				continue
			}
			if err := c.writeWord(w, output.Get(i), buf); err != nil {
				return StreamWriteError{Err: err, Stream: i}
			}
		}
		offset += int64(c.wordSize)
		ops++
	}

	c.observeEncode(uint64(offset), ops, time.Since(start))
	return nil
}

// selectSurvivors 选定参与解码的 k 个幸存分片并构建解码矩阵。
// 系统码优先选数据分片 (对应行是单位行，重建退化为拷贝)，
// 不足时用校验分片补齐；幸存数不足 k 返回 ErrDecodeUnrecoverable。
// 返回值依次是选中的流与其分片编号；数据分片全部在场时
// allPresent 为真，无需任何重建
func (c *Code[T]) selectSurvivors(dataIn, parityIn []io.Reader) (sel []io.Reader, ids []int, allPresent bool, err error) {
	c.DecodeReset()
	fragmentIndex := 0

	if c.typ == Systematic {
		for i := 0; i < c.nData; i++ {
			if dataIn[i] == nil {
				continue
			}
			if err = c.DecodeAddData(fragmentIndex, i); err != nil {
				return nil, nil, false, err
			}
			sel = append(sel, dataIn[i])
			ids = append(ids, i)
			fragmentIndex++
		}
		if fragmentIndex == c.nData {
			c.DecodeReset()
			return nil, nil, true, nil
		}
	}

	for i := 0; i < c.nOutputs && fragmentIndex < c.nData; i++ {
		if parityIn[i] == nil {
			continue
		}
		if err = c.DecodeAddParities(fragmentIndex, i); err != nil {
			return nil, nil, false, err
		}
		id := i
		if c.typ == Systematic {
			id = c.nData + i
		}
		sel = append(sel, parityIn[i])
		ids = append(ids, id)
		fragmentIndex++
	}

	if fragmentIndex < c.nData {
		c.DecodeReset()
		return nil, nil, false, ErrDecodeUnrecoverable
	}

	logger.Info("解码选中 %d 个幸存分片: %v", len(ids), ids)
	if err = c.DecodeBuild(); err != nil {
		return nil, nil, false, err
	}
	return sel, ids, false, nil
}

// DecodeStream 字粒度的流式解码。
// dataIn/parityIn 中缺失的分片传 nil；propsIn 是各校验分片的属性；
// dataOut 中只需要重建的位置传入写入器，其余传 nil。
// 幸存分片不足 k 时在产生任何输出前返回 ErrDecodeUnrecoverable
func (c *Code[T]) DecodeStream(dataIn, parityIn []io.Reader, propsIn []*Properties, dataOut []io.Writer) error {
	if c.typ == Systematic && len(dataIn) != c.nData {
		return ErrConfig
	}
	if len(parityIn) != c.nOutputs || len(propsIn) != c.nOutputs || len(dataOut) != c.nData {
		return ErrConfig
	}
	start := time.Now()

	sel, ids, allPresent, err := c.selectSurvivors(dataIn, parityIn)
	if err != nil {
		return err
	}
	if allPresent {
		logger.Debug("数据分片全部在场，无需重建")
		return nil
	}
	defer c.DecodeReset()

	words := NewVector(c.field, c.nData)
	output := NewVector(c.field, c.nData)
	buf := make([]byte, 8)
	var offset int64
	var ops uint64

	for {
		words.ZeroFill()
		cont := true
		for f, r := range sel {
			v, ok, rerr := c.readWord(r, buf)
			if rerr != nil {
				return StreamReadError{Err: rerr, Stream: ids[f]}
			}
			if !ok {
				cont = false
				break
			}
			words.Set(f, v)
		}
		if !cont {
			break
		}

		if err := c.Decode(output, propsIn, offset, ids, words); err != nil {
			return err
		}
		for i, w := range dataOut {
			if w == nil {
				continue
			}
			if err := c.writeWord(w, output.Get(i), buf); err != nil {
				return StreamWriteError{Err: err, Stream: i}
			}
		}
		offset += int64(c.wordSize)
		ops++
	}

	c.observeDecode(uint64(offset), ops, time.Since(start))
	return nil
}

// readPkt 读取一个 bufSize 字节的包，短包补零。
// 返回实际读取的字节数
func (c *Code[T]) readPkt(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	switch err {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		for j := n; j < len(buf); j++ {
			buf[j] = 0
		}
	default:
		return 0, err
	}
	return n, nil
}

// checkPktSizes 校验一轮包读取的各流字节数。
// 尾包允许长短不一 (各流在本包内结束)；某条流提前整包
// 结束而其它流仍有数据，说明流长不一致
func checkPktSizes(ns []int, bufSize int) (last bool, err error) {
	maxN := 0
	for _, n := range ns {
		if n > maxN {
			maxN = n
		}
	}
	for _, n := range ns {
		if n < bufSize {
			last = true
		}
		if n == 0 && maxN > 0 {
			return false, ErrSizeMismatch
		}
	}
	return last, nil
}

// EncodePackets 包粒度的流式编码，走缓冲区内核。
// 要求 pktSize*wordSize 是 32 的倍数；末尾短包补零编码后结束，
// 校验流因此总是 bufSize 的整数倍长
func (c *Code[T]) EncodePackets(dataIn []io.Reader, parityOut []io.Writer, propsOut []*Properties) error {
	if len(dataIn) != c.nData || len(parityOut) != c.nOutputs || len(propsOut) != c.nOutputs {
		return ErrConfig
	}
	if c.bufSize%bufAlign != 0 {
		return ErrSizeMismatch
	}
	start := time.Now()

	inBytes := AllocAligned(c.nData, c.bufSize)
	outBytes := AllocAligned(c.nOutputs, c.bufSize)
	words := AllocWords[T](c.nData, c.pktSize)
	output := AllocWords[T](c.nOutputs, c.pktSize)
	ns := make([]int, c.nData)

	var offset int64
	var ops uint64
	last := false

	for !last {
		for i, r := range dataIn {
			n, err := c.readPkt(r, inBytes[i])
			if err != nil {
				return StreamReadError{Err: err, Stream: i}
			}
			ns[i] = n
		}
		var err error
		last, err = checkPktSizes(ns, c.bufSize)
		if err != nil {
			return err
		}
		if ns[0] == 0 {
			break
		}

		PackWords(words, inBytes, c.nData, c.pktSize, c.wordSize)
		if err := c.EncodeBuffers(output, propsOut, offset, words); err != nil {
			return err
		}
		UnpackWords(output, outBytes, c.nOutputs, c.pktSize, c.wordSize)

		for i, w := range parityOut {
			if w == nil {
				continue
			}
			n, err := w.Write(outBytes[i])
			if err != nil {
				return StreamWriteError{Err: err, Stream: i}
			}
			if n != c.bufSize {
				return StreamWriteError{Err: ErrShortWrite, Stream: i}
			}
		}
		offset += int64(c.bufSize)
		ops++
	}

	c.observeEncode(uint64(offset), ops, time.Since(start))
	return nil
}

// DecodePackets 包粒度的流式解码。
// 重建输出按整包写出 (尾包含补零)，调用方按原始长度截断
func (c *Code[T]) DecodePackets(dataIn, parityIn []io.Reader, propsIn []*Properties, dataOut []io.Writer) error {
	if c.typ == Systematic && len(dataIn) != c.nData {
		return ErrConfig
	}
	if len(parityIn) != c.nOutputs || len(propsIn) != c.nOutputs || len(dataOut) != c.nData {
		return ErrConfig
	}
	if c.bufSize%bufAlign != 0 {
		return ErrSizeMismatch
	}
	start := time.Now()

	sel, ids, allPresent, err := c.selectSurvivors(dataIn, parityIn)
	if err != nil {
		return err
	}
	if allPresent {
		logger.Debug("数据分片全部在场，无需重建")
		return nil
	}
	defer c.DecodeReset()

	inBytes := AllocAligned(c.nData, c.bufSize)
	outBytes := AllocAligned(c.nData, c.bufSize)
	words := AllocWords[T](c.nData, c.pktSize)
	output := AllocWords[T](c.nData, c.pktSize)
	ns := make([]int, len(sel))

	var offset int64
	var ops uint64
	last := false

	for !last {
		for f, r := range sel {
			n, rerr := c.readPkt(r, inBytes[f])
			if rerr != nil {
				return StreamReadError{Err: rerr, Stream: ids[f]}
			}
			ns[f] = n
		}
		last, err = checkPktSizes(ns, c.bufSize)
		if err != nil {
			return errors.Wrap(err, "幸存分片流长度不一致")
		}
		if ns[0] == 0 {
			break
		}

		PackWords(words, inBytes, c.nData, c.pktSize, c.wordSize)
		if err := c.DecodeBuffers(output, propsIn, offset, ids, words); err != nil {
			return err
		}
		UnpackWords(output, outBytes, c.nData, c.pktSize, c.wordSize)

		for i, w := range dataOut {
			if w == nil {
				continue
			}
			n, werr := w.Write(outBytes[i])
			if werr != nil {
				return StreamWriteError{Err: werr, Stream: i}
			}
			if n != c.bufSize {
				return StreamWriteError{Err: ErrShortWrite, Stream: i}
			}
		}
		offset += int64(c.bufSize)
		ops++
	}

	c.observeDecode(uint64(offset), ops, time.Since(start))
	return nil
}

/**
 * Reed-Solomon 纠删码库 - 矩阵码核心
 *
 * 把有限域、完整的 (k+m) x k 生成矩阵与解码矩阵构建绑定为一个编解码器。
 * 系统码的生成矩阵前 k 行是单位阵，编码只输出后 m 行；
 * 非系统码输出全部 k+m 行。解码按状态机收集幸存分片对应的行，
 * 凑满 k 行后求逆，整条流只求一次逆。
 *
 * Copyright 2024
 */

package fermatrs

import (
	"math/bits"

	"github.com/pkg/errors"
)

// FecType 区分系统码与非系统码
type FecType int

const (
	// Systematic 系统码：数据分片原样保留，额外生成 m 个校验分片
	Systematic FecType = iota
	// NonSystematic 非系统码：生成 k+m 个编码分片
	NonSystematic
)

// GenKind 区分生成矩阵的构造方式
type GenKind int

const (
	// GenVandermonde 系统码下使用适配纠删码的 Vandermonde 变换，
	// 非系统码下使用朴素 Vandermonde
	GenVandermonde GenKind = iota
	// GenCauchy 使用 Cauchy 构造
	GenCauchy
)

// 解码状态机状态
type decodeState int

const (
	stateIdle decodeState = iota
	stateCollecting
	stateReady
	stateFailed
)

// 合法的打包字宽
var validWordSizes = map[int]bool{1: true, 2: true, 4: true, 8: true}

// Code 是绑定了域与生成矩阵的 Reed-Solomon 编解码器。
// 单个实例不支持并发使用；多条流并行时各自持有实例，域可共享
type Code[T Word] struct {
	field Field[T]
	typ   FecType
	kind  GenKind

	nData     int
	nParities int
	codeLen   int
	nOutputs  int

	wordSize int
	pktSize  int
	bufSize  int

	gen *Matrix[T]

	// 越界标记：基数减一 (即 2^w) 是唯一放不下打包字宽的取值
	needOOR  bool
	oorValue T

	// T 为 uint32 的费马域可走 32 位通道内核
	fermat32 bool
	card32   uint32

	// 解码状态机
	state     decodeState
	decodeMat *Matrix[T]
	rowsAdded int
	usedRows  map[int]struct{}

	scratch []T

	stats   CodeStats
	metrics *Metrics
}

// NewCode 创建编解码器。
// wordSize 是分片流的打包字宽 (字节)，pktSize 是包路径每包的字数
func NewCode[T Word](field Field[T], typ FecType, kind GenKind, nData, nParities, wordSize, pktSize int) (*Code[T], error) {
	if nData <= 0 || nParities <= 0 || pktSize <= 0 {
		return nil, ErrConfig
	}
	if !validWordSizes[wordSize] || wordSize*8 > wordBits[T]() {
		return nil, ErrConfig
	}
	// 0..card-2 必须能放进打包字宽，card-1 允许越界并由属性标记兜底
	cardM1 := uint64(field.CardMinusOne())
	if bits.Len64(cardM1-1) > 8*wordSize {
		return nil, ErrConfig
	}

	c := &Code[T]{
		field:     field,
		typ:       typ,
		kind:      kind,
		nData:     nData,
		nParities: nParities,
		codeLen:   nData + nParities,
		wordSize:  wordSize,
		pktSize:   pktSize,
		bufSize:   pktSize * wordSize,
	}
	if typ == Systematic {
		c.nOutputs = nParities
	} else {
		c.nOutputs = c.codeLen
	}
	c.needOOR = bits.Len64(cardM1) > 8*wordSize
	c.oorValue = field.CardMinusOne()
	if ff, ok := any(field).(*Fermat[uint32]); ok {
		c.fermat32 = true
		c.card32 = uint32(ff.P())
	}

	if err := c.buildGenerator(); err != nil {
		return nil, err
	}
	return c, nil
}

// buildGenerator 构建完整的 codeLen x nData 生成矩阵
func (c *Code[T]) buildGenerator() error {
	f := c.field
	g := NewMatrix(f, c.codeLen, c.nData)

	switch {
	case c.typ == Systematic && c.kind == GenVandermonde:
		if err := g.VandermondeSuitableForEC(); err != nil {
			return err
		}
	case c.typ == Systematic && c.kind == GenCauchy:
		one := f.One()
		for i := 0; i < c.nData; i++ {
			g.Set(i, i, one)
		}
		cau := NewMatrix(f, c.nParities, c.nData)
		if err := cau.Cauchy(); err != nil {
			return err
		}
		for i := 0; i < c.nParities; i++ {
			for j := 0; j < c.nData; j++ {
				g.Set(c.nData+i, j, cau.Get(i, j))
			}
		}
	case c.kind == GenVandermonde:
		if err := g.Vandermonde(); err != nil {
			return err
		}
	default:
		if err := g.Cauchy(); err != nil {
			return err
		}
	}

	c.gen = g
	return nil
}

// DataShards 返回数据分片数量
func (c *Code[T]) DataShards() int {
	return c.nData
}

// ParityShards 返回校验分片数量
func (c *Code[T]) ParityShards() int {
	return c.nParities
}

// TotalShards 返回总分片数量
func (c *Code[T]) TotalShards() int {
	return c.codeLen
}

// NOutputs 返回编码输出的分片数量
func (c *Code[T]) NOutputs() int {
	return c.nOutputs
}

// WordSize 返回打包字宽 (字节)
func (c *Code[T]) WordSize() int {
	return c.wordSize
}

// PktSize 返回包路径每包的字数
func (c *Code[T]) PktSize() int {
	return c.pktSize
}

// Type 返回码型
func (c *Code[T]) Type() FecType {
	return c.typ
}

// Generator 返回生成矩阵 (调用方不得修改)
func (c *Code[T]) Generator() *Matrix[T] {
	return c.gen
}

// Field 返回绑定的有限域
func (c *Code[T]) Field() Field[T] {
	return c.field
}

// EncodeVector 对一个长度 k 的字向量编码，输出 nOutputs 个字。
// offset 是当前字的流内字节偏移，编码结果等于越界值时在 props 中记标记
func (c *Code[T]) EncodeVector(output *Vector[T], props []*Properties, offset int64, words *Vector[T]) error {
	if words.Len() != c.nData || output.Len() != c.nOutputs {
		return ErrSizeMismatch
	}
	rowBase := 0
	if c.typ == Systematic {
		rowBase = c.nData
	}
	for i := 0; i < c.nOutputs; i++ {
		v := c.gen.MultRowVector(rowBase+i, words)
		output.Set(i, v)
		if c.needOOR && v == c.oorValue && i < len(props) && props[i] != nil {
			props[i].Add(uint64(offset), TagOOR)
		}
	}
	return nil
}

// EncodeBuffers 对 k 个字缓冲区编码。逐列乘累加：
// 每个数据缓冲区以单一系数乘进每个输出缓冲区，摊薄装载开销；
// 最后对输出整体做一次越界扫描
func (c *Code[T]) EncodeBuffers(output [][]T, props []*Properties, offset int64, words [][]T) error {
	if len(words) != c.nData || len(output) != c.nOutputs {
		return ErrSizeMismatch
	}
	l := len(words[0])
	for _, w := range words {
		if len(w) != l {
			return ErrSizeMismatch
		}
	}
	for _, o := range output {
		if len(o) != l {
			return ErrSizeMismatch
		}
	}

	rowBase := 0
	if c.typ == Systematic {
		rowBase = c.nData
	}
	for i := 0; i < c.nOutputs; i++ {
		out := output[i]
		for j := range out {
			out[j] = 0
		}
		for j := 0; j < c.nData; j++ {
			c.bufMulAdd(c.gen.Get(rowBase+i, j), words[j], out)
		}
	}

	if c.needOOR && props != nil {
		c.scanOOR(output, props, offset)
	}
	return nil
}

// bufMulAdd 执行 dst += coef * src，按系数特例化：
// 0 跳过，1 纯加法，-1 纯减法，其余走系数乘加
func (c *Code[T]) bufMulAdd(coef T, src, dst []T) {
	f := c.field
	zero, one := f.Zero(), f.One()
	switch {
	case coef == zero:
		return
	case coef == one:
		if c.fermat32 {
			AddTwoBufs32(as32(src), as32(dst), c.card32)
			return
		}
		for i := range src {
			dst[i] = f.Add(dst[i], src[i])
		}
	case coef == f.Neg(one):
		if c.fermat32 {
			d := as32(dst)
			SubTwoBufs32(d, as32(src), d, c.card32)
			return
		}
		for i := range src {
			dst[i] = f.Sub(dst[i], src[i])
		}
	default:
		if c.fermat32 {
			if cap(c.scratch) < len(src) {
				c.scratch = make([]T, len(src))
			}
			tmp := c.scratch[:len(src)]
			MulCoefToBuf32(uint32(coef), as32(src), as32(tmp), c.card32)
			AddTwoBufs32(as32(tmp), as32(dst), c.card32)
			return
		}
		for i := range src {
			dst[i] = f.Add(dst[i], f.Mul(coef, src[i]))
		}
	}
}

// scanOOR 对编码输出做越界扫描并记录标记
func (c *Code[T]) scanOOR(output [][]T, props []*Properties, offset int64) {
	if c.fermat32 {
		out32 := make([][]uint32, len(output))
		for i := range output {
			out32[i] = as32(output[i])
		}
		EncodePostProcess32(out32, props, offset, uint32(c.oorValue), c.wordSize)
		return
	}
	for i, buf := range output {
		if i >= len(props) || props[i] == nil {
			continue
		}
		for j, v := range buf {
			if v == c.oorValue {
				props[i].Add(uint64(offset+int64(j*c.wordSize)), TagOOR)
			}
		}
	}
}

// as32 在 T 实例化为 uint32 时取回具体切片，仅在 fermat32 为真时调用
func as32[T Word](b []T) []uint32 {
	v, _ := any(b).([]uint32)
	return v
}

// DecodeReset 重置解码状态机到初始状态
func (c *Code[T]) DecodeReset() {
	c.state = stateIdle
	c.decodeMat = nil
	c.rowsAdded = 0
	c.usedRows = nil
}

func (c *Code[T]) decodeAddRow(fragmentIndex, genRow int) error {
	if c.state != stateIdle && c.state != stateCollecting {
		return ErrDecodeState
	}
	if fragmentIndex < 0 || fragmentIndex >= c.nData {
		return ErrConfig
	}
	if c.decodeMat == nil {
		c.decodeMat = NewMatrix(c.field, c.nData, c.nData)
		c.usedRows = make(map[int]struct{})
	}
	if _, ok := c.usedRows[genRow]; ok {
		return ErrDuplicateRow
	}
	c.usedRows[genRow] = struct{}{}
	for j := 0; j < c.nData; j++ {
		c.decodeMat.Set(fragmentIndex, j, c.gen.Get(genRow, j))
	}
	c.rowsAdded++
	c.state = stateCollecting
	return nil
}

// DecodeAddData 登记一个幸存的数据分片：
// 解码矩阵第 fragmentIndex 行取生成矩阵的第 row 个单位行。
// 仅系统码有数据行
func (c *Code[T]) DecodeAddData(fragmentIndex, row int) error {
	if c.typ != Systematic {
		return ErrConfig
	}
	if row < 0 || row >= c.nData {
		return ErrConfig
	}
	return c.decodeAddRow(fragmentIndex, row)
}

// DecodeAddParities 登记一个幸存的编码输出分片：
// 系统码取生成矩阵第 nData+row 行，非系统码取第 row 行
func (c *Code[T]) DecodeAddParities(fragmentIndex, row int) error {
	genRow := row
	if c.typ == Systematic {
		if row < 0 || row >= c.nParities {
			return ErrConfig
		}
		genRow = c.nData + row
	} else if row < 0 || row >= c.codeLen {
		return ErrConfig
	}
	return c.decodeAddRow(fragmentIndex, genRow)
}

// DecodeBuild 在收集满 k 行后求解码矩阵的逆。
// 矩阵奇异时状态机进入 Failed
func (c *Code[T]) DecodeBuild() error {
	if c.state != stateCollecting || c.rowsAdded != c.nData {
		return ErrDecodeState
	}
	if logger != nil {
		logger.Debug("解码矩阵:\n%s", c.decodeMat)
	}
	if err := c.decodeMat.Inv(); err != nil {
		c.state = stateFailed
		return errors.Wrap(err, "解码矩阵求逆失败")
	}
	c.state = stateReady
	return nil
}

// parityPropIndex 把分片编号映射到属性数组下标；数据分片没有属性
func (c *Code[T]) parityPropIndex(id int) (int, bool) {
	if c.typ == Systematic {
		if id >= c.nData {
			return id - c.nData, true
		}
		return 0, false
	}
	return id, true
}

// Decode 解出一组原始数据字。
// words 是按 fragmentsIDs 顺序收集的 k 个幸存字；
// 来自校验分片的字先按属性把 0 还原为越界值，再乘解码逆矩阵
func (c *Code[T]) Decode(output *Vector[T], props []*Properties, offset int64, fragmentsIDs []int, words *Vector[T]) error {
	if c.state != stateReady {
		return ErrDecodeNotReady
	}
	if words.Len() != c.nData || output.Len() != c.nData || len(fragmentsIDs) != c.nData {
		return ErrSizeMismatch
	}
	if c.needOOR && props != nil {
		for f, id := range fragmentsIDs {
			pIdx, isParity := c.parityPropIndex(id)
			if !isParity || pIdx >= len(props) || props[pIdx] == nil {
				continue
			}
			if _, ok := props[pIdx].Get(uint64(offset)); ok {
				words.Set(f, c.oorValue)
			}
		}
	}
	return c.decodeMat.Mult(output, words)
}

// DecodeBuffers 对一个包的幸存字缓冲区解码。
// 命中当前包的属性标记先还原为越界值，再与逆矩阵做逐列乘累加
func (c *Code[T]) DecodeBuffers(output [][]T, props []*Properties, offset int64, fragmentsIDs []int, words [][]T) error {
	if c.state != stateReady {
		return ErrDecodeNotReady
	}
	if len(words) != c.nData || len(output) != c.nData || len(fragmentsIDs) != c.nData {
		return ErrSizeMismatch
	}
	l := len(words[0])
	for _, w := range words {
		if len(w) != l {
			return ErrSizeMismatch
		}
	}
	for _, o := range output {
		if len(o) != l {
			return ErrSizeMismatch
		}
	}

	if c.needOOR && props != nil {
		end := uint64(offset) + uint64(l*c.wordSize)
		for f, id := range fragmentsIDs {
			pIdx, isParity := c.parityPropIndex(id)
			if !isParity || pIdx >= len(props) || props[pIdx] == nil {
				continue
			}
			buf := words[f]
			props[pIdx].Iter(func(off uint64, tag PropTag) bool {
				if off < uint64(offset) {
					return true
				}
				if off >= end {
					return false
				}
				buf[(off-uint64(offset))/uint64(c.wordSize)] = c.oorValue
				return true
			})
		}
	}

	for i := 0; i < c.nData; i++ {
		out := output[i]
		for j := range out {
			out[j] = 0
		}
		for f := 0; f < c.nData; f++ {
			c.bufMulAdd(c.decodeMat.Get(i, f), words[f], out)
		}
	}
	return nil
}

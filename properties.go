/**
 * Reed-Solomon 纠删码库 - 分片属性 (越界标记边车)
 *
 * 记录单个输出分片内 字节偏移 -> 标记 的有序映射。
 * 编码时若某个字等于 2^w (打包字宽放不下的唯一取值)，
 * 打包会把它截断为 0，同时在这里记一个 OOR 标记；
 * 解码侧按标记把 0 还原为 2^w 后再做逆变换。
 *
 * Copyright 2024
 */

package fermatrs

import (
	"encoding/binary"
	"io"
	"sort"
)

// PropTag 是属性标记类型
type PropTag uint8

// 标记取值的封闭集合
const (
	TagOOR PropTag = 1 // 越界标记
)

// PropRecord 是一条属性记录
type PropRecord struct {
	Offset uint64
	Tag    PropTag
}

// Properties 是单个分片的属性集合，零值可直接使用
type Properties struct {
	marks []PropRecord
	index map[uint64]PropTag
}

// Add 记录一条标记。编码过程按偏移递增追加；
// 乱序插入时会按偏移排序放置，保证遍历顺序
func (p *Properties) Add(offset uint64, tag PropTag) {
	if p.index == nil {
		p.index = make(map[uint64]PropTag)
	}
	if _, ok := p.index[offset]; ok {
		return
	}
	p.index[offset] = tag

	rec := PropRecord{Offset: offset, Tag: tag}
	n := len(p.marks)
	if n == 0 || p.marks[n-1].Offset < offset {
		p.marks = append(p.marks, rec)
		return
	}
	i := sort.Search(n, func(k int) bool { return p.marks[k].Offset >= offset })
	p.marks = append(p.marks, PropRecord{})
	copy(p.marks[i+1:], p.marks[i:])
	p.marks[i] = rec
}

// Get 查询某个偏移上的标记
func (p *Properties) Get(offset uint64) (PropTag, bool) {
	if p.index == nil {
		return 0, false
	}
	t, ok := p.index[offset]
	return t, ok
}

// Del 删除某个偏移上的标记
func (p *Properties) Del(offset uint64) {
	if p.index == nil {
		return
	}
	if _, ok := p.index[offset]; !ok {
		return
	}
	delete(p.index, offset)
	for i := range p.marks {
		if p.marks[i].Offset == offset {
			p.marks = append(p.marks[:i], p.marks[i+1:]...)
			return
		}
	}
}

// Len 返回标记数量
func (p *Properties) Len() int {
	return len(p.marks)
}

// Iter 按偏移顺序遍历标记，fn 返回 false 时提前结束
func (p *Properties) Iter(fn func(offset uint64, tag PropTag) bool) {
	for _, rec := range p.marks {
		if !fn(rec.Offset, rec.Tag) {
			return
		}
	}
}

// Records 返回按偏移有序的记录切片
func (p *Properties) Records() []PropRecord {
	return p.marks
}

// Reset 清空所有标记
func (p *Properties) Reset() {
	p.marks = p.marks[:0]
	p.index = nil
}

// Marshal 写出边车格式：u32 记录数 + (u64 偏移, u8 标记)*，小端序
func (p *Properties) Marshal(w io.Writer) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(p.marks)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	var rec [9]byte
	for _, m := range p.marks {
		binary.LittleEndian.PutUint64(rec[:8], m.Offset)
		rec[8] = byte(m.Tag)
		if _, err := w.Write(rec[:]); err != nil {
			return err
		}
	}
	return nil
}

// Unmarshal 读入边车格式，保持记录顺序
func (p *Properties) Unmarshal(r io.Reader) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	count := binary.LittleEndian.Uint32(hdr[:])
	p.Reset()
	var rec [9]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return err
		}
		p.Add(binary.LittleEndian.Uint64(rec[:8]), PropTag(rec[8]))
	}
	return nil
}

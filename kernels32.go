/**
 * Reed-Solomon 纠删码库 - 32 位通道的费马域内核
 *
 * 对 F3/F4 的打包 32 位通道执行模运算、蝶形变换与缓冲区批量运算。
 * 所有例程按通道组展开处理对齐前缀，尾部退化为标量循环；
 * 通道组宽度按 CPU 能力选取，与向量寄存器宽度保持一致。
 *
 * 数值语义：
 *   ADD:  res = x + y;        min(res, res - card)
 *   SUB:  res = x - y;        min(res, res + card)
 *   NEG:  res = card - x;     min(res, res - card)
 *   MUL:  32x32 -> 低 32 位，按 w 位拆高低段后 (lo - hi) mod card，
 *         要求至少一个操作数 <= card-2
 *   MULFULL: 两操作数均为 card-1 时先修正 (F4 加一，F3 异或 65537)
 *
 * Copyright 2024
 */

package fermatrs

import (
	"math/bits"

	"github.com/klauspost/cpuid/v2"
)

// lanes32 是 32 位通道的分组宽度，AVX2 可容纳 8 个通道
var lanes32 = 4

func init() {
	if cpuid.CPU.Supports(cpuid.AVX2) {
		lanes32 = 8
	}
}

// fermatShift32 返回 card = 2^w + 1 的拆分位宽 w
func fermatShift32(card uint32) uint {
	return uint(bits.Len32(card) - 1)
}

// addMod32 计算 (x + y) mod card
func addMod32(x, y, card uint32) uint32 {
	res := x + y
	return min(res, res-card)
}

// subMod32 计算 (x - y) mod card
func subMod32(x, y, card uint32) uint32 {
	res := x - y
	return min(res, res+card)
}

// negMod32 计算 (-x) mod card，0 映射到 0
func negMod32(x, card uint32) uint32 {
	res := card - x
	return min(res, res-card)
}

// mulMod32 计算 (x * y) mod card，要求至少一个操作数 <= card-2，
// 此时乘积不会溢出 32 位
func mulMod32(x, y, card uint32) uint32 {
	res := x * y
	w := fermatShift32(card)
	mask := (card - 1) - 1
	lo := res & mask
	hi := (res >> w) & mask
	return subMod32(lo, hi, card)
}

// mulFullMod32 计算 (x * y) mod card，允许两个操作数都是 card-1
func mulFullMod32(x, y, card uint32) uint32 {
	res := x * y
	if x == card-1 && y == card-1 {
		if card == F3 {
			res ^= F4
		} else {
			res++
		}
	}
	w := fermatShift32(card)
	mask := (card - 1) - 1
	lo := res & mask
	hi := (res >> w) & mask
	return subMod32(lo, hi, card)
}

// MulCoefToBuf32 把系数 a 乘到 src 的每个元素并写入 dst。
// 约定 0 < a < card-1，src 与 dst 可以是同一缓冲区
func MulCoefToBuf32(a uint32, src, dst []uint32, card uint32) {
	n := len(src)
	step := lanes32
	full := n - n%step
	for i := 0; i < full; i += step {
		for j := 0; j < step; j++ {
			dst[i+j] = mulMod32(a, src[i+j], card)
		}
	}
	if full < n {
		coef := uint64(a)
		for i := full; i < n; i++ {
			dst[i] = uint32((coef * uint64(src[i])) % uint64(card))
		}
	}
}

// AddTwoBufs32 执行 dst[i] = (src[i] + dst[i]) mod card
func AddTwoBufs32(src, dst []uint32, card uint32) {
	n := len(src)
	step := lanes32
	full := n - n%step
	for i := 0; i < full; i += step {
		for j := 0; j < step; j++ {
			dst[i+j] = addMod32(src[i+j], dst[i+j], card)
		}
	}
	for i := full; i < n; i++ {
		tmp := src[i] + dst[i]
		if tmp >= card {
			tmp -= card
		}
		dst[i] = tmp
	}
}

// SubTwoBufs32 执行 res[i] = (bufa[i] - bufb[i]) mod card
func SubTwoBufs32(bufa, bufb, res []uint32, card uint32) {
	n := len(bufa)
	step := lanes32
	full := n - n%step
	for i := 0; i < full; i += step {
		for j := 0; j < step; j++ {
			res[i+j] = subMod32(bufa[i+j], bufb[i+j], card)
		}
	}
	for i := full; i < n; i++ {
		if bufa[i] >= bufb[i] {
			res[i] = bufa[i] - bufb[i]
		} else {
			res[i] = card - (bufb[i] - bufa[i])
		}
	}
}

// MulTwoBufs32 执行 dst[i] = (src[i] * dst[i]) mod card，允许越界值相乘
func MulTwoBufs32(src, dst []uint32, card uint32) {
	n := len(src)
	step := lanes32
	full := n - n%step
	for i := 0; i < full; i += step {
		for j := 0; j < step; j++ {
			dst[i+j] = mulFullMod32(src[i+j], dst[i+j], card)
		}
	}
	for i := full; i < n; i++ {
		dst[i] = uint32((uint64(src[i]) * uint64(dst[i])) % uint64(card))
	}
}

// NegBuf32 对缓冲区逐元素取负
func NegBuf32(buf []uint32, card uint32) {
	n := len(buf)
	step := lanes32
	full := n - n%step
	for i := 0; i < full; i += step {
		for j := 0; j < step; j++ {
			buf[i+j] = negMod32(buf[i+j], card)
		}
	}
	for i := full; i < n; i++ {
		if buf[i] != 0 {
			buf[i] = card - buf[i]
		}
	}
}

// ctScalar32 是 Cooley-Tukey 蝶形的单通道形式：(x, y) -> (x + r*y, x - r*y)。
// r == 1 与 r == card-1 时免去乘法
func ctScalar32(r, x, y, card uint32) (uint32, uint32) {
	switch r {
	case 1:
		return addMod32(x, y, card), subMod32(x, y, card)
	case card - 1:
		return subMod32(x, y, card), addMod32(x, y, card)
	default:
		z := mulMod32(r, y, card)
		return addMod32(x, z, card), subMod32(x, z, card)
	}
}

// gsScalar32 是 Gentleman-Sande 蝶形的单通道形式：(x, y) -> (x + y, r*(x - y))
func gsScalar32(r, x, y, card uint32) (uint32, uint32) {
	switch r {
	case 1:
		return addMod32(x, y, card), subMod32(x, y, card)
	case card - 1:
		return addMod32(x, y, card), subMod32(y, x, card)
	default:
		d := subMod32(x, y, card)
		return addMod32(x, y, card), mulMod32(r, d, card)
	}
}

// ButterflyCT32 对 (bufs[i], bufs[i+m]) 的每一对执行 CT 蝶形，
// i 从 start 起按 step 递增
func ButterflyCT32(r uint32, bufs [][]uint32, start, m, step int, card uint32) {
	for i := start; i+m < len(bufs); i += step {
		p, q := bufs[i], bufs[i+m]
		for j := range p {
			p[j], q[j] = ctScalar32(r, p[j], q[j], card)
		}
	}
}

// ButterflyGS32 对 (bufs[i], bufs[i+m]) 的每一对执行 GS 蝶形
func ButterflyGS32(r uint32, bufs [][]uint32, start, m, step int, card uint32) {
	for i := start; i+m < len(bufs); i += step {
		p, q := bufs[i], bufs[i+m]
		for j := range p {
			p[j], q[j] = gsScalar32(r, p[j], q[j], card)
		}
	}
}

// ButterflyCTTwoLayers32 对四元组 (P, Q, R, S) =
// (bufs[i], bufs[i+m], bufs[i+2m], bufs[i+3m]) 在一遍内完成两层 CT 蝶形：
//
//	第一层 (步长 2m)：r1 作用于 (P, Q) 与 (R, S)
//	第二层 (步长 4m)：r2 作用于 (P, R)，r3 作用于 (Q, S)
//
// 每个通道只做四次装载与四次存储，i 从 start 起按 4m 递增
func ButterflyCTTwoLayers32(bufs [][]uint32, r1, r2, r3 uint32, start, m int, card uint32) {
	step := m << 2
	for i := start; i+3*m < len(bufs); i += step {
		p, q := bufs[i], bufs[i+m]
		r, s := bufs[i+2*m], bufs[i+3*m]
		for j := range p {
			x, y := p[j], q[j]
			u, v := r[j], s[j]

			x, y = ctScalar32(r1, x, y, card)
			u, v = ctScalar32(r1, u, v, card)

			x, u = ctScalar32(r2, x, u, card)
			y, v = ctScalar32(r3, y, v, card)

			p[j], q[j] = x, y
			r[j], s[j] = u, v
		}
	}
}

// EncodePostProcess32 扫描编码输出中等于 threshold (即越界值 2^w) 的通道，
// 为每个命中的通道追加一条 OOR 标记。offset 是本块的流内字节偏移，
// wordSize 是打包字宽，标记偏移 = offset + 通道序号 * wordSize
func EncodePostProcess32(output [][]uint32, props []*Properties, offset int64, threshold uint32, wordSize int) {
	step := lanes32
	for fragID := range output {
		if fragID >= len(props) || props[fragID] == nil {
			continue
		}
		buf := output[fragID]
		n := len(buf)
		full := n - n%step
		for base := 0; base < full; base += step {
			// 逐通道构造命中掩码后按位扫描
			mask := uint32(0)
			for j := 0; j < step; j++ {
				if buf[base+j] == threshold {
					mask |= 1 << j
				}
			}
			for mask > 0 {
				idx := bits.TrailingZeros32(mask)
				off := offset + int64((base+idx)*wordSize)
				props[fragID].Add(uint64(off), TagOOR)
				mask &= mask - 1
			}
		}
		for i := full; i < n; i++ {
			if buf[i] == threshold {
				off := offset + int64(i*wordSize)
				props[fragID].Add(uint64(off), TagOOR)
			}
		}
	}
}

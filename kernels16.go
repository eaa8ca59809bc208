/**
 * Reed-Solomon 纠删码库 - 16 位通道的 F3 内核
 *
 * F3 = 257 的元素最大为 256，可以装进 16 位通道。
 * 合法输入下 16 位通道不会回绕：
 *   ADD 峰值 2*256 = 512；SUB 的中间量 x + card 峰值 256 + 257。
 * MUL 要求至少一个操作数 <= card-2 (峰值 256*255 < 65536)；
 * 两个 card-1 相乘会溢出 16 位，全量乘法只在 32 位通道提供。
 *
 * Copyright 2024
 */

package fermatrs

import (
	"github.com/klauspost/cpuid/v2"
)

// lanes16 是 16 位通道的分组宽度，AVX2 可容纳 16 个通道
var lanes16 = 8

func init() {
	if cpuid.CPU.Supports(cpuid.AVX2) {
		lanes16 = 16
	}
}

// addMod16 计算 (x + y) mod F3
func addMod16(x, y uint16) uint16 {
	res := x + y
	return min(res, res-F3)
}

// subMod16 计算 (x - y) mod F3
func subMod16(x, y uint16) uint16 {
	res := x - y
	return min(res, x+F3-y)
}

// negMod16 计算 (-x) mod F3，0 映射到 0
func negMod16(x uint16) uint16 {
	res := uint16(F3) - x
	return min(res, res-F3)
}

// mulMod16 计算 (x * y) mod F3，要求至少一个操作数 <= F3-2
func mulMod16(x, y uint16) uint16 {
	res := x * y
	lo := res & 0xFF
	hi := (res >> 8) & 0xFF
	return subMod16(lo, hi)
}

// AddTwoBufs16 执行 dst[i] = (src[i] + dst[i]) mod F3
func AddTwoBufs16(src, dst []uint16) {
	n := len(src)
	step := lanes16
	full := n - n%step
	for i := 0; i < full; i += step {
		for j := 0; j < step; j++ {
			dst[i+j] = addMod16(src[i+j], dst[i+j])
		}
	}
	for i := full; i < n; i++ {
		tmp := src[i] + dst[i]
		if tmp >= F3 {
			tmp -= F3
		}
		dst[i] = tmp
	}
}

// SubTwoBufs16 执行 res[i] = (bufa[i] - bufb[i]) mod F3
func SubTwoBufs16(bufa, bufb, res []uint16) {
	n := len(bufa)
	step := lanes16
	full := n - n%step
	for i := 0; i < full; i += step {
		for j := 0; j < step; j++ {
			res[i+j] = subMod16(bufa[i+j], bufb[i+j])
		}
	}
	for i := full; i < n; i++ {
		if bufa[i] >= bufb[i] {
			res[i] = bufa[i] - bufb[i]
		} else {
			res[i] = F3 - (bufb[i] - bufa[i])
		}
	}
}

// MulCoefToBuf16 把系数 a 乘到 src 的每个元素并写入 dst，
// 约定 0 < a < F3-1
func MulCoefToBuf16(a uint16, src, dst []uint16) {
	n := len(src)
	step := lanes16
	full := n - n%step
	for i := 0; i < full; i += step {
		for j := 0; j < step; j++ {
			dst[i+j] = mulMod16(a, src[i+j])
		}
	}
	for i := full; i < n; i++ {
		dst[i] = uint16((uint32(a) * uint32(src[i])) % F3)
	}
}

// NegBuf16 对缓冲区逐元素取负
func NegBuf16(buf []uint16) {
	n := len(buf)
	step := lanes16
	full := n - n%step
	for i := 0; i < full; i += step {
		for j := 0; j < step; j++ {
			buf[i+j] = negMod16(buf[i+j])
		}
	}
	for i := full; i < n; i++ {
		if buf[i] != 0 {
			buf[i] = F3 - buf[i]
		}
	}
}

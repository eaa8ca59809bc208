/**
 * Reed-Solomon 纠删码库 - 费马素数域 F_p
 *
 * p = 2^w + 1，支持 F3 = 257 与 F4 = 65537。
 * 乘法利用 2^w ≡ -1 (mod p)：2w 位乘积拆成高低两段后
 * 归约为 (lo - hi) mod p；两个 p-1 相乘时高位越界，
 * 需要先做修正 (F4 加一，F3 异或 65537)。
 *
 * Copyright 2024
 */

package fermatrs

import (
	"math/bits"
)

// 支持的费马素数
const (
	F3 = 257   // 2^8 + 1
	F4 = 65537 // 2^16 + 1
)

// Fermat 是费马素数域 F_p 的实现
type Fermat[T Word] struct {
	p    uint64 // 基数
	pm1  uint64 // p - 1，同时是字宽内无法表示的越界值 2^w
	w    uint   // p = 2^w + 1
	mask uint64 // 2^w - 1
	g    uint64 // 本原元
}

// NewFermat 创建 F_p 域，p 取 F3 或 F4，
// 元素类型位宽必须严格大于 p 的位长，保证越界值 2^w 可表示
func NewFermat[T Word](p uint64) (*Fermat[T], error) {
	if p != F3 && p != F4 {
		return nil, ErrConfig
	}
	if wordBits[T]() <= bits.Len64(p) {
		return nil, ErrConfig
	}

	f := &Fermat[T]{
		p:   p,
		pm1: p - 1,
		g:   3, // 3 是 257 与 65537 的本原根
	}
	f.w = uint(bits.Len64(p) - 1)
	f.mask = f.pm1 - 1

	return f, nil
}

// P 返回素数 p
func (f *Fermat[T]) P() uint64 {
	return f.p
}

// Zero 返回加法单位元
func (f *Fermat[T]) Zero() T {
	return 0
}

// One 返回乘法单位元
func (f *Fermat[T]) One() T {
	return 1
}

// Card 返回域的基数 p
func (f *Fermat[T]) Card() T {
	return T(f.p)
}

// CardMinusOne 返回 p - 1
func (f *Fermat[T]) CardMinusOne() T {
	return T(f.pm1)
}

// Check 校验 a 是否为合法域元素
func (f *Fermat[T]) Check(a T) error {
	if uint64(a) >= f.p {
		return ErrDomain
	}
	return nil
}

// Add 模 p 加法
func (f *Fermat[T]) Add(a, b T) T {
	s := uint64(a) + uint64(b)
	if s >= f.p {
		s -= f.p
	}
	return T(s)
}

// Sub 模 p 减法
func (f *Fermat[T]) Sub(a, b T) T {
	x, y := uint64(a), uint64(b)
	if x >= y {
		return T(x - y)
	}
	return T(f.p + x - y)
}

// Neg 模 p 取负，0 映射到 0
func (f *Fermat[T]) Neg(a T) T {
	if a == 0 {
		return 0
	}
	return T(f.p - uint64(a))
}

// Mul 模 p 乘法，使用高低拆分归约
func (f *Fermat[T]) Mul(a, b T) T {
	x, y := uint64(a), uint64(b)
	prod := x * y
	if x == f.pm1 && y == f.pm1 {
		// (2^w)^2 = 2^2w 的高位不在 w 位内，先修正
		if f.p == F4 {
			prod++
		} else {
			prod ^= F4
		}
	}
	lo := prod & f.mask
	hi := (prod >> f.w) & f.mask
	if lo >= hi {
		return T(lo - hi)
	}
	return T(f.p + lo - hi)
}

// Inv 乘法逆元 a^(p-2)，Inv(0) 返回 ErrDomain
func (f *Fermat[T]) Inv(a T) (T, error) {
	if a == 0 {
		return 0, ErrDomain
	}
	return f.Exp(a, f.p-2), nil
}

// Exp 快速幂，约定 Exp(a, 0) = 1 (包括 a = 0)
func (f *Fermat[T]) Exp(a T, n uint64) T {
	if n == 0 {
		return 1
	}
	if a == 0 {
		return 0
	}
	res := f.One()
	base := a
	for n > 0 {
		if n&1 == 1 {
			res = f.Mul(res, base)
		}
		base = f.Mul(base, base)
		n >>= 1
	}
	return res
}

// Log 以本原元 3 为底的朴素离散对数，仅用于小域
func (f *Fermat[T]) Log(a T) (T, error) {
	if a == 0 {
		return 0, ErrDomain
	}
	v := f.One()
	for i := uint64(0); i < f.p-1; i++ {
		if v == a {
			return T(i), nil
		}
		v = f.Mul(v, T(f.g))
	}
	return 0, ErrDomain
}

// GetNthRoot 返回乘法阶恰为 n 的元素 g^((p-1)/n)，要求 n 整除 p-1
func (f *Fermat[T]) GetNthRoot(n uint64) (T, error) {
	if n == 0 || (f.p-1)%n != 0 {
		return 0, ErrDomain
	}
	return f.Exp(T(f.g), (f.p-1)/n), nil
}

// 编译期接口断言
var _ Field[uint32] = (*Fermat[uint32])(nil)

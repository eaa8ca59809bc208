/**
 * Reed-Solomon 纠删码库 - 费马域上的基-2 数论变换
 *
 * 正向变换是按时间抽取的 Cooley-Tukey：先做位反序置换，
 * 主循环尽量走融合的两层蝶形 (每个通道一遍完成两级)，
 * log2(n) 为奇数时余下一级走单层蝶形。
 * 逆向变换是按频率抽取的 Gentleman-Sande，使用逆旋转因子，
 * 输出位反序还原后再乘 n 的逆。
 *
 * Copyright 2024
 */

package fermatrs

// FFT32 是 n 点的原地数论变换，作用在 n 个字缓冲区上，
// 逐通道独立变换 (缓冲区的第 j 个字构成第 j 条通道)
type FFT32 struct {
	n     int
	card  uint32
	w     []uint32 // 正向旋转因子 W[k] = root^k
	wInv  []uint32 // 逆旋转因子
	nInv  uint32   // n 的乘法逆
	rev   []int    // 位反序置换表
	field Field[uint32]
}

// NewFFT32 创建 n 点变换，要求 n 是 2 的幂且整除 card-1
func NewFFT32(field Field[uint32], n int) (*FFT32, error) {
	if n < 2 || n&(n-1) != 0 {
		return nil, ErrConfig
	}
	root, err := field.GetNthRoot(uint64(n))
	if err != nil {
		return nil, err
	}
	rootInv, err := field.Inv(root)
	if err != nil {
		return nil, err
	}
	nInv, err := field.Inv(uint32(n))
	if err != nil {
		return nil, err
	}

	f := &FFT32{
		n:     n,
		card:  uint32(field.Card()),
		w:     make([]uint32, n),
		wInv:  make([]uint32, n),
		nInv:  nInv,
		rev:   make([]int, n),
		field: field,
	}

	f.w[0], f.wInv[0] = 1, 1
	for k := 1; k < n; k++ {
		f.w[k] = field.Mul(f.w[k-1], root)
		f.wInv[k] = field.Mul(f.wInv[k-1], rootInv)
	}

	logN := 0
	for 1<<logN < n {
		logN++
	}
	for i := 0; i < n; i++ {
		r := 0
		for b := 0; b < logN; b++ {
			if i&(1<<b) != 0 {
				r |= 1 << (logN - 1 - b)
			}
		}
		f.rev[i] = r
	}

	return f, nil
}

// N 返回变换点数
func (f *FFT32) N() int {
	return f.n
}

// bitReverse 按位反序交换缓冲区指针，不搬运数据
func (f *FFT32) bitReverse(bufs [][]uint32) {
	for i := 0; i < f.n; i++ {
		if j := f.rev[i]; j > i {
			bufs[i], bufs[j] = bufs[j], bufs[i]
		}
	}
}

func (f *FFT32) check(bufs [][]uint32) error {
	if len(bufs) != f.n {
		return ErrSizeMismatch
	}
	l := len(bufs[0])
	for _, b := range bufs[1:] {
		if len(b) != l {
			return ErrSizeMismatch
		}
	}
	return nil
}

// Transform 正向变换，结果按自然序覆盖输入
func (f *FFT32) Transform(bufs [][]uint32) error {
	if err := f.check(bufs); err != nil {
		return err
	}
	f.bitReverse(bufs)

	m := 1
	for m < f.n {
		if 4*m <= f.n {
			// 两层融合：第一层步长 2m 系数 r1，
			// 第二层步长 4m 系数 r2 (P,R) 与 r3 (Q,S)
			for start := 0; start < m; start++ {
				r1 := f.w[start*f.n/(2*m)]
				r2 := f.w[start*f.n/(4*m)]
				r3 := f.w[(start+m)*f.n/(4*m)]
				ButterflyCTTwoLayers32(bufs, r1, r2, r3, start, m, f.card)
			}
			m <<= 2
		} else {
			for start := 0; start < m; start++ {
				r := f.w[start*f.n/(2*m)]
				ButterflyCT32(r, bufs, start, m, 2*m, f.card)
			}
			m <<= 1
		}
	}
	return nil
}

// Inverse 逆变换，结果按自然序覆盖输入
func (f *FFT32) Inverse(bufs [][]uint32) error {
	if err := f.check(bufs); err != nil {
		return err
	}

	for m := f.n / 2; m >= 1; m /= 2 {
		for start := 0; start < m; start++ {
			r := f.wInv[start*f.n/(2*m)]
			ButterflyGS32(r, bufs, start, m, 2*m, f.card)
		}
	}
	f.bitReverse(bufs)

	switch f.nInv {
	case 1:
	case f.card - 1:
		// n = card-1 时 n 的逆是 -1，MulCoefToBuf32 不接受该系数，改为取负
		for _, b := range bufs {
			NegBuf32(b, f.card)
		}
	default:
		for _, b := range bufs {
			MulCoefToBuf32(f.nInv, b, b, f.card)
		}
	}
	return nil
}

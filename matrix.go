/**
 * Reed-Solomon 纠删码库 - 域上稠密矩阵
 *
 * 行主序存储。提供初等行变换、简化行阶梯形、高斯-若尔当求逆，
 * 以及纠删码相关的 Vandermonde / Cauchy 构造与系统化变换。
 *
 * Copyright 2024
 */

package fermatrs

import (
	"fmt"
	"strings"
)

// Matrix 是绑定某个有限域的 rows x cols 矩阵
type Matrix[T Word] struct {
	field Field[T]
	rows  int
	cols  int
	mem   []T
}

// NewMatrix 创建 rows x cols 的零矩阵
func NewMatrix[T Word](field Field[T], rows, cols int) *Matrix[T] {
	return &Matrix[T]{
		field: field,
		rows:  rows,
		cols:  cols,
		mem:   make([]T, rows*cols),
	}
}

// Rows 返回行数
func (m *Matrix[T]) Rows() int {
	return m.rows
}

// Cols 返回列数
func (m *Matrix[T]) Cols() int {
	return m.cols
}

// Get 读取元素
func (m *Matrix[T]) Get(i, j int) T {
	return m.mem[i*m.cols+j]
}

// Set 写入元素
func (m *Matrix[T]) Set(i, j int, v T) {
	m.mem[i*m.cols+j] = v
}

// ZeroFill 将所有元素置零
func (m *Matrix[T]) ZeroFill() {
	zero := m.field.Zero()
	for i := range m.mem {
		m.mem[i] = zero
	}
}

// Clone 返回矩阵的深拷贝
func (m *Matrix[T]) Clone() *Matrix[T] {
	c := NewMatrix(m.field, m.rows, m.cols)
	copy(c.mem, m.mem)
	return c
}

// Mult 计算 output = M * v，v 长度必须等于列数
func (m *Matrix[T]) Mult(output, v *Vector[T]) error {
	if v.Len() != m.cols || output.Len() != m.rows {
		return ErrSizeMismatch
	}
	f := m.field
	for i := 0; i < m.rows; i++ {
		acc := f.Zero()
		for j := 0; j < m.cols; j++ {
			acc = f.Add(acc, f.Mul(m.Get(i, j), v.Get(j)))
		}
		output.Set(i, acc)
	}
	return nil
}

// MultRowVector 用第 row 行与向量 v 做内积
func (m *Matrix[T]) MultRowVector(row int, v *Vector[T]) T {
	f := m.field
	acc := f.Zero()
	for j := 0; j < m.cols; j++ {
		acc = f.Add(acc, f.Mul(m.Get(row, j), v.Get(j)))
	}
	return acc
}

// SwapRows 交换两行
func (m *Matrix[T]) SwapRows(row0, row1 int) {
	if row0 == row1 {
		return
	}
	r0 := m.mem[row0*m.cols : (row0+1)*m.cols]
	r1 := m.mem[row1*m.cols : (row1+1)*m.cols]
	for j := range r0 {
		r0[j], r1[j] = r1[j], r0[j]
	}
}

// swapCols 交换两列
func (m *Matrix[T]) swapCols(col0, col1 int) {
	if col0 == col1 {
		return
	}
	for i := 0; i < m.rows; i++ {
		a, b := m.Get(i, col0), m.Get(i, col1)
		m.Set(i, col0, b)
		m.Set(i, col1, a)
	}
}

// MulRow 将第 row 行整体乘以 factor
func (m *Matrix[T]) MulRow(row int, factor T) {
	f := m.field
	r := m.mem[row*m.cols : (row+1)*m.cols]
	for j := range r {
		r[j] = f.Mul(r[j], factor)
	}
}

// AddRows 执行 row_dst += factor * row_src
func (m *Matrix[T]) AddRows(srcRow, dstRow int, factor T) {
	f := m.field
	src := m.mem[srcRow*m.cols : (srcRow+1)*m.cols]
	dst := m.mem[dstRow*m.cols : (dstRow+1)*m.cols]
	for j := range src {
		dst[j] = f.Add(dst[j], f.Mul(factor, src[j]))
	}
}

// ReducedRowEchelonForm 将矩阵就地化为简化行阶梯形。
// 主元选取：从当前行向下取首个非零元素
func (m *Matrix[T]) ReducedRowEchelonForm() {
	f := m.field
	zero, one := f.Zero(), f.One()

	lead := 0
	for r := 0; r < m.rows && lead < m.cols; {
		i := r
		for i < m.rows && m.Get(i, lead) == zero {
			i++
		}
		if i == m.rows {
			lead++
			continue
		}
		m.SwapRows(i, r)

		piv := m.Get(r, lead)
		if piv != one {
			inv, _ := f.Inv(piv)
			m.MulRow(r, inv)
		}
		for k := 0; k < m.rows; k++ {
			if k == r {
				continue
			}
			if v := m.Get(k, lead); v != zero {
				m.AddRows(r, k, f.Neg(v))
			}
		}
		r++
		lead++
	}
}

// Inv 高斯-若尔当求逆。矩阵必须是方阵，不可逆时返回 ErrSingular
func (m *Matrix[T]) Inv() error {
	if m.rows != m.cols {
		return ErrConfig
	}
	f := m.field
	zero, one := f.Zero(), f.One()
	n := m.rows

	// 增广 [A | I] 后化简化行阶梯形
	aug := NewMatrix(f, n, 2*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			aug.Set(i, j, m.Get(i, j))
		}
		aug.Set(i, n+i, one)
	}
	aug.ReducedRowEchelonForm()

	// 左半部不是单位阵说明 A 奇异
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			want := zero
			if i == j {
				want = one
			}
			if aug.Get(i, j) != want {
				return ErrSingular
			}
		}
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.Set(i, j, aug.Get(i, n+j))
		}
	}
	return nil
}

// Vandermonde 填充 V[i][j] = i^j，要求行数不超过域基数
func (m *Matrix[T]) Vandermonde() error {
	if uint64(m.rows) > uint64(m.field.Card()) {
		return ErrConfig
	}
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			m.Set(i, j, m.field.Exp(T(i), uint64(j)))
		}
	}
	return nil
}

// Cauchy 填充 C[i][j] = 1/(x_i - y_j)，取 y_j = j、x_i = cols + i，
// 两组取值互不相交，要求 rows + cols 不超过域基数
func (m *Matrix[T]) Cauchy() error {
	if uint64(m.rows+m.cols) > uint64(m.field.Card()) {
		return ErrConfig
	}
	f := m.field
	for i := 0; i < m.rows; i++ {
		x := T(m.cols + i)
		for j := 0; j < m.cols; j++ {
			d := f.Sub(x, T(j))
			inv, err := f.Inv(d)
			if err != nil {
				return err
			}
			m.Set(i, j, inv)
		}
	}
	return nil
}

// rowIsIdentity 判断第 row 行是否为单位阵的对应行
func (m *Matrix[T]) rowIsIdentity(row int) bool {
	f := m.field
	for j := 0; j < m.cols; j++ {
		want := f.Zero()
		if j == row {
			want = f.One()
		}
		if m.Get(row, j) != want {
			return false
		}
	}
	return true
}

// ecTransform1 将第 i 列整体乘以 V[i][i] 的逆，使对角元变为 1
func (m *Matrix[T]) ecTransform1(i int) error {
	f := m.field
	inv, err := f.Inv(m.Get(i, i))
	if err != nil {
		return err
	}
	for r := 0; r < m.rows; r++ {
		m.Set(r, i, f.Mul(inv, m.Get(r, i)))
	}
	return nil
}

// ecTransform2 执行 col_j -= V[i][j] * col_i，消去第 i 行的非对角元
func (m *Matrix[T]) ecTransform2(i, j int) {
	f := m.field
	factor := m.Get(i, j)
	for r := 0; r < m.rows; r++ {
		m.Set(r, j, f.Sub(m.Get(r, j), f.Mul(factor, m.Get(r, i))))
	}
}

// VandermondeSuitableForEC 把本矩阵重写为系统化的生成矩阵：
// 先按 Vandermonde 填充，再用列变换使前 cols 行构成单位阵。
// 列变换等价于右乘可逆矩阵，保持任意 k x k 子矩阵可逆 (MDS)。
// 若前 cols 行已是单位阵则直接返回，重复调用是幂等的
func (m *Matrix[T]) VandermondeSuitableForEC() error {
	if m.rows < m.cols {
		return ErrConfig
	}

	done := true
	for i := 0; i < m.cols; i++ {
		if !m.rowIsIdentity(i) {
			done = false
			break
		}
	}
	if done {
		return nil
	}

	if err := m.Vandermonde(); err != nil {
		return err
	}

	zero, one := m.field.Zero(), m.field.One()
	for i := 0; i < m.cols; i++ {
		if m.rowIsIdentity(i) {
			continue
		}
		if m.Get(i, i) == zero {
			// 对角元为零时向右找非零元换列
			j := i + 1
			for j < m.cols && m.Get(i, j) == zero {
				j++
			}
			if j == m.cols {
				return ErrSingular
			}
			m.swapCols(i, j)
		}
		if m.Get(i, i) != one {
			if err := m.ecTransform1(i); err != nil {
				return err
			}
		}
		for j := 0; j < m.cols; j++ {
			if j != i && m.Get(i, j) != zero {
				m.ecTransform2(i, j)
			}
		}
	}
	return nil
}

// String 输出矩阵内容，用于调试日志
func (m *Matrix[T]) String() string {
	var sb strings.Builder
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			if j > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%d", uint64(m.Get(i, j)))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

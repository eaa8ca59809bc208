/**
 * Reed-Solomon 纠删码库 - 域元素向量
 *
 * Copyright 2024
 */

package fermatrs

import (
	"fmt"
	"strings"
)

// Vector 是绑定某个有限域的定长稠密向量
type Vector[T Word] struct {
	field Field[T]
	data  []T
}

// NewVector 创建长度为 n 的向量，初始为全零
func NewVector[T Word](field Field[T], n int) *Vector[T] {
	return &Vector[T]{
		field: field,
		data:  make([]T, n),
	}
}

// Len 返回向量长度
func (v *Vector[T]) Len() int {
	return len(v.data)
}

// Get 读取第 i 个元素
func (v *Vector[T]) Get(i int) T {
	return v.data[i]
}

// Set 写入第 i 个元素
func (v *Vector[T]) Set(i int, val T) {
	v.data[i] = val
}

// ZeroFill 将所有元素置为加法单位元
func (v *Vector[T]) ZeroFill() {
	zero := v.field.Zero()
	for i := range v.data {
		v.data[i] = zero
	}
}

// Data 返回底层切片
func (v *Vector[T]) Data() []T {
	return v.data
}

// String 输出向量内容，用于调试日志
func (v *Vector[T]) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, e := range v.data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d", uint64(e))
	}
	sb.WriteByte(']')
	return sb.String()
}

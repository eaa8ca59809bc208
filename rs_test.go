package fermatrs

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"
)

// 场景 1: GF(2^8)，k=3 m=2，12 字节数据，丢掉 d0 与 c1 后完整恢复
func TestRoundTripGF8(t *testing.T) {
	f, err := NewGF2N[uint32](8)
	if err != nil {
		t.Fatal(err)
	}
	code, err := NewCode[uint32](f, Systematic, GenVandermonde, 3, 2, 1, 32)
	if err != nil {
		t.Fatal(err)
	}

	frags := [][]byte{
		[]byte("ABCD"),
		[]byte("EFGH"),
		[]byte("IJKL"),
	}

	encode := func() ([][]byte, []*Properties) {
		dataIn := make([]io.Reader, 3)
		for i := range frags {
			dataIn[i] = bytes.NewReader(frags[i])
		}
		parityBufs := make([]bytes.Buffer, 2)
		parityOut := make([]io.Writer, 2)
		props := make([]*Properties, 2)
		for i := range parityBufs {
			parityOut[i] = &parityBufs[i]
			props[i] = new(Properties)
		}
		if err := code.EncodeStream(dataIn, parityOut, props); err != nil {
			t.Fatal("编码失败:", err)
		}
		out := make([][]byte, 2)
		for i := range parityBufs {
			out[i] = append([]byte(nil), parityBufs[i].Bytes()...)
		}
		return out, props
	}

	parity, props := encode()
	for i := range parity {
		if len(parity[i]) != 4 {
			t.Fatalf("校验分片 %d 长度 %d，期望 4", i, len(parity[i]))
		}
	}

	// 固定生成矩阵下编码是确定性的
	parity2, _ := encode()
	for i := range parity {
		if !bytes.Equal(parity[i], parity2[i]) {
			t.Fatalf("两次编码的校验分片 %d 不一致", i)
		}
	}

	// 丢掉 d0 与 c1
	dataIn := []io.Reader{nil, bytes.NewReader(frags[1]), bytes.NewReader(frags[2])}
	parityIn := []io.Reader{bytes.NewReader(parity[0]), nil}

	outBuf := new(bytes.Buffer)
	dataOut := []io.Writer{outBuf, nil, nil}

	if err := code.DecodeStream(dataIn, parityIn, props, dataOut); err != nil {
		t.Fatal("解码失败:", err)
	}
	if !bytes.Equal(outBuf.Bytes(), frags[0]) {
		t.Fatalf("重建的 d0 = %q，期望 %q", outBuf.Bytes(), frags[0])
	}
}

// 场景 2: F4 字宽 2，构造一个恰好落在越界值 65536 上的校验字，
// 打包截断为 0 并记 OOR 标记，往返解码必须还原
func TestRoundTripF4OutOfRange(t *testing.T) {
	f, err := NewFermat[uint32](F4)
	if err != nil {
		t.Fatal(err)
	}
	// k=2 m=1，每个分片 16 个 16 位字
	code, err := NewCode[uint32](f, Systematic, GenVandermonde, 2, 1, 2, 16)
	if err != nil {
		t.Fatal(err)
	}

	// 解出 d1 使第一个校验字 = a*d0 + b*d1 = 65536
	g := code.Generator()
	a := g.Get(2, 0)
	b := g.Get(2, 1)
	d0 := uint32(7)
	invB, err := f.Inv(b)
	if err != nil {
		t.Fatal(err)
	}
	d1 := f.Mul(invB, f.Sub(f.CardMinusOne(), f.Mul(a, d0)))
	if d1 > 65535 {
		// b 的逆把目标值映射到越界值本身时换一个 d0
		d0 = 8
		d1 = f.Mul(invB, f.Sub(f.CardMinusOne(), f.Mul(a, d0)))
	}
	if check := f.Add(f.Mul(a, d0), f.Mul(b, d1)); check != f.CardMinusOne() {
		t.Fatalf("构造失败: a*d0+b*d1 = %d", check)
	}

	// 16 个字的分片，首字放置构造值，其余为确定性模式
	words := make([][]uint32, 2)
	for i := range words {
		words[i] = make([]uint32, 16)
		for j := range words[i] {
			words[i][j] = uint32((i*131 + j*17) % 65536)
		}
	}
	words[0][0] = d0
	words[1][0] = d1

	packWordsLE := func(w []uint32) []byte {
		out := make([]byte, len(w)*2)
		for i, v := range w {
			out[2*i] = byte(v)
			out[2*i+1] = byte(v >> 8)
		}
		return out
	}
	frag0 := packWordsLE(words[0])
	frag1 := packWordsLE(words[1])

	run := func(encode func(dataIn []io.Reader, parityOut []io.Writer, props []*Properties) error,
		decode func(dataIn, parityIn []io.Reader, props []*Properties, dataOut []io.Writer) error) {

		props := []*Properties{new(Properties)}
		parityBuf := new(bytes.Buffer)
		err := encode(
			[]io.Reader{bytes.NewReader(frag0), bytes.NewReader(frag1)},
			[]io.Writer{parityBuf},
			props,
		)
		if err != nil {
			t.Fatal("编码失败:", err)
		}

		// 首个校验字命中越界值：流里是 0，属性里有标记
		pb := parityBuf.Bytes()
		if pb[0] != 0 || pb[1] != 0 {
			t.Fatalf("越界校验字应打包为 0，实际 %x %x", pb[0], pb[1])
		}
		if _, ok := props[0].Get(0); !ok {
			t.Fatalf("偏移 0 处应有 OOR 标记: %+v", props[0].Records())
		}

		// 丢掉 d0，靠 d1 + 校验恢复
		out0 := new(bytes.Buffer)
		err = decode(
			[]io.Reader{nil, bytes.NewReader(frag1)},
			[]io.Reader{bytes.NewReader(pb)},
			props,
			[]io.Writer{out0, nil},
		)
		if err != nil {
			t.Fatal("解码失败:", err)
		}
		if !bytes.Equal(out0.Bytes(), frag0) {
			t.Fatalf("重建的 d0 不一致:\n得到 %x\n期望 %x", out0.Bytes(), frag0)
		}

		// 属性忠实性：丢掉这条标记后解码结果必须变化，不能静默成功
		props[0].Del(0)
		out0bad := new(bytes.Buffer)
		err = decode(
			[]io.Reader{nil, bytes.NewReader(frag1)},
			[]io.Reader{bytes.NewReader(pb)},
			props,
			[]io.Writer{out0bad, nil},
		)
		if err != nil {
			t.Fatal("解码失败:", err)
		}
		if bytes.Equal(out0bad.Bytes(), frag0) {
			t.Fatal("丢失 OOR 标记后不应恢复出原始数据")
		}
	}

	// 字路径与包路径各走一遍 (包大小 16 字 = 32 字节，满足对齐)
	run(code.EncodeStream, code.DecodeStream)
	run(code.EncodePackets, code.DecodePackets)
}

// 场景 3: GF(2^16) 上的 Cauchy 码，k=5 m=3，任删 3 个分片都能恢复
func TestCauchyAllErasures(t *testing.T) {
	f, err := NewGF2N[uint32](16)
	if err != nil {
		t.Fatal(err)
	}
	code, err := NewCode[uint32](f, Systematic, GenCauchy, 5, 3, 2, 16)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(23))
	frags := make([][]byte, 5)
	for i := range frags {
		frags[i] = make([]byte, 64)
		rng.Read(frags[i])
	}

	dataIn := make([]io.Reader, 5)
	for i := range frags {
		dataIn[i] = bytes.NewReader(frags[i])
	}
	parityBufs := make([]bytes.Buffer, 3)
	parityOut := make([]io.Writer, 3)
	props := make([]*Properties, 3)
	for i := range parityBufs {
		parityOut[i] = &parityBufs[i]
		props[i] = new(Properties)
	}
	if err := code.EncodeStream(dataIn, parityOut, props); err != nil {
		t.Fatal("编码失败:", err)
	}
	parity := make([][]byte, 3)
	for i := range parityBufs {
		parity[i] = parityBufs[i].Bytes()
	}

	for _, missing := range combinations(8, 3) {
		gone := make(map[int]bool)
		for _, id := range missing {
			gone[id] = true
		}

		dIn := make([]io.Reader, 5)
		dOut := make([]io.Writer, 5)
		outBufs := make([]*bytes.Buffer, 5)
		for i := 0; i < 5; i++ {
			if gone[i] {
				outBufs[i] = new(bytes.Buffer)
				dOut[i] = outBufs[i]
			} else {
				dIn[i] = bytes.NewReader(frags[i])
			}
		}
		pIn := make([]io.Reader, 3)
		for i := 0; i < 3; i++ {
			if !gone[5+i] {
				pIn[i] = bytes.NewReader(parity[i])
			}
		}

		if err := code.DecodeStream(dIn, pIn, props, dOut); err != nil {
			t.Fatalf("删除 %v 后解码失败: %v", missing, err)
		}
		for i := 0; i < 5; i++ {
			if gone[i] && !bytes.Equal(outBufs[i].Bytes(), frags[i]) {
				t.Fatalf("删除 %v 后数据分片 %d 重建不一致", missing, i)
			}
		}
	}
}

// 场景 4: k=4 m=2 的生成矩阵检查由 TestVandermondeSuitableForEC 覆盖，
// 这里验证码对象暴露的矩阵形状与码型参数
func TestCodeShape(t *testing.T) {
	f, _ := NewGF2N[uint32](8)
	code, err := NewCode[uint32](f, Systematic, GenVandermonde, 4, 2, 1, 32)
	if err != nil {
		t.Fatal(err)
	}
	if code.DataShards() != 4 || code.ParityShards() != 2 || code.TotalShards() != 6 {
		t.Fatal("分片数量不正确")
	}
	if code.NOutputs() != 2 {
		t.Fatalf("系统码输出数量 %d，期望 2", code.NOutputs())
	}
	g := code.Generator()
	if g.Rows() != 6 || g.Cols() != 4 {
		t.Fatalf("生成矩阵形状 %dx%d", g.Rows(), g.Cols())
	}

	nonsys, err := NewCode[uint32](f, NonSystematic, GenVandermonde, 4, 2, 1, 32)
	if err != nil {
		t.Fatal(err)
	}
	if nonsys.NOutputs() != 6 {
		t.Fatalf("非系统码输出数量 %d，期望 6", nonsys.NOutputs())
	}
}

// 场景 6: k=3 m=2 删掉 3 个分片，必须在产生任何输出前返回不可恢复
func TestDecodeUnrecoverable(t *testing.T) {
	f, _ := NewGF2N[uint32](8)
	code, err := NewCode[uint32](f, Systematic, GenVandermonde, 3, 2, 1, 32)
	if err != nil {
		t.Fatal(err)
	}

	frags := [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cccc")}
	dataIn := make([]io.Reader, 3)
	for i := range frags {
		dataIn[i] = bytes.NewReader(frags[i])
	}
	parityBufs := make([]bytes.Buffer, 2)
	parityOut := make([]io.Writer, 2)
	props := make([]*Properties, 2)
	for i := range parityBufs {
		parityOut[i] = &parityBufs[i]
		props[i] = new(Properties)
	}
	if err := code.EncodeStream(dataIn, parityOut, props); err != nil {
		t.Fatal(err)
	}

	// 三个数据分片全部缺失，只剩两个校验分片
	outBufs := make([]*bytes.Buffer, 3)
	dOut := make([]io.Writer, 3)
	for i := range outBufs {
		outBufs[i] = new(bytes.Buffer)
		dOut[i] = outBufs[i]
	}
	pIn := []io.Reader{
		bytes.NewReader(parityBufs[0].Bytes()),
		bytes.NewReader(parityBufs[1].Bytes()),
	}
	err = code.DecodeStream([]io.Reader{nil, nil, nil}, pIn, props, dOut)
	if !errors.Is(err, ErrDecodeUnrecoverable) {
		t.Fatalf("期望 ErrDecodeUnrecoverable，实际: %v", err)
	}
	for i, b := range outBufs {
		if b.Len() != 0 {
			t.Fatalf("失败前不应产生输出，分片 %d 写入了 %d 字节", i, b.Len())
		}
	}
}

// 非系统码：任取 k 个编码输出恢复原始数据
func TestNonSystematicRoundTrip(t *testing.T) {
	f, err := NewFermat[uint32](F4)
	if err != nil {
		t.Fatal(err)
	}
	code, err := NewCode[uint32](f, NonSystematic, GenVandermonde, 3, 2, 2, 16)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(29))
	frags := make([][]byte, 3)
	for i := range frags {
		frags[i] = make([]byte, 32)
		rng.Read(frags[i])
	}

	dataIn := make([]io.Reader, 3)
	for i := range frags {
		dataIn[i] = bytes.NewReader(frags[i])
	}
	outBufs := make([]bytes.Buffer, 5)
	outs := make([]io.Writer, 5)
	props := make([]*Properties, 5)
	for i := range outBufs {
		outs[i] = &outBufs[i]
		props[i] = new(Properties)
	}
	if err := code.EncodeStream(dataIn, outs, props); err != nil {
		t.Fatal("编码失败:", err)
	}

	for _, keep := range combinations(5, 3) {
		pIn := make([]io.Reader, 5)
		for _, id := range keep {
			pIn[id] = bytes.NewReader(outBufs[id].Bytes())
		}
		recBufs := make([]*bytes.Buffer, 3)
		dOut := make([]io.Writer, 3)
		for i := range recBufs {
			recBufs[i] = new(bytes.Buffer)
			dOut[i] = recBufs[i]
		}
		if err := code.DecodeStream(nil, pIn, props, dOut); err != nil {
			t.Fatalf("保留 %v 解码失败: %v", keep, err)
		}
		for i := range frags {
			if !bytes.Equal(recBufs[i].Bytes(), frags[i]) {
				t.Fatalf("保留 %v 后数据分片 %d 不一致", keep, i)
			}
		}
	}
}

// 解码状态机：重复行、未构建就解码、构建后可复用
func TestDecodeStateMachine(t *testing.T) {
	f, _ := NewGF2N[uint32](8)
	code, err := NewCode[uint32](f, Systematic, GenVandermonde, 3, 2, 1, 32)
	if err != nil {
		t.Fatal(err)
	}

	code.DecodeReset()
	if err := code.DecodeAddData(0, 1); err != nil {
		t.Fatal(err)
	}
	if err := code.DecodeAddData(1, 1); !errors.Is(err, ErrDuplicateRow) {
		t.Fatalf("重复行应被拒绝: %v", err)
	}
	if err := code.DecodeBuild(); !errors.Is(err, ErrDecodeState) {
		t.Fatalf("未收集满 k 行不应允许构建: %v", err)
	}

	out := NewVector[uint32](f, 3)
	words := NewVector[uint32](f, 3)
	if err := code.Decode(out, nil, 0, []int{1, 2, 3}, words); !errors.Is(err, ErrDecodeNotReady) {
		t.Fatalf("未就绪时解码应报错: %v", err)
	}

	if err := code.DecodeAddData(1, 2); err != nil {
		t.Fatal(err)
	}
	if err := code.DecodeAddParities(2, 0); err != nil {
		t.Fatal(err)
	}
	if err := code.DecodeBuild(); err != nil {
		t.Fatal(err)
	}

	// Ready 状态下解码是无状态的，可以反复调用
	for i := 0; i < 3; i++ {
		if err := code.Decode(out, nil, 0, []int{1, 2, 3}, words); err != nil {
			t.Fatal(err)
		}
	}
	code.DecodeReset()
}

// 字向量编码与缓冲区内核编码逐字一致 (内核 ≡ 标量)
func TestEncodeBuffersMatchesVector(t *testing.T) {
	f, err := NewFermat[uint32](F4)
	if err != nil {
		t.Fatal(err)
	}
	code, err := NewCode[uint32](f, Systematic, GenVandermonde, 4, 3, 2, 64)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(31))
	l := 64
	words := make([][]uint32, 4)
	for i := range words {
		words[i] = randBuf32(rng, l, 65536)
	}

	// 缓冲区路径
	output := make([][]uint32, 3)
	for i := range output {
		output[i] = make([]uint32, l)
	}
	propsBuf := make([]*Properties, 3)
	for i := range propsBuf {
		propsBuf[i] = new(Properties)
	}
	if err := code.EncodeBuffers(output, propsBuf, 0, words); err != nil {
		t.Fatal(err)
	}

	// 逐字标量路径
	wv := NewVector[uint32](f, 4)
	ov := NewVector[uint32](f, 3)
	propsVec := make([]*Properties, 3)
	for i := range propsVec {
		propsVec[i] = new(Properties)
	}
	for j := 0; j < l; j++ {
		for i := range words {
			wv.Set(i, words[i][j])
		}
		if err := code.EncodeVector(ov, propsVec, int64(j*2), wv); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			if output[i][j] != ov.Get(i) {
				t.Fatalf("输出 %d 字 %d: 缓冲区=%d 标量=%d", i, j, output[i][j], ov.Get(i))
			}
		}
	}

	// 两条路径产生的属性标记也一致
	for i := 0; i < 3; i++ {
		a, b := propsBuf[i].Records(), propsVec[i].Records()
		if len(a) != len(b) {
			t.Fatalf("输出 %d 标记数量不一致: %d vs %d", i, len(a), len(b))
		}
		for k := range a {
			if a[k] != b[k] {
				t.Fatalf("输出 %d 标记 %d 不一致: %+v vs %+v", i, k, a[k], b[k])
			}
		}
	}
}

// 配置校验
func TestNewCodeConfig(t *testing.T) {
	f, _ := NewGF2N[uint32](8)
	if _, err := NewCode[uint32](f, Systematic, GenVandermonde, 0, 2, 1, 32); !errors.Is(err, ErrConfig) {
		t.Fatal("k=0 应被拒绝")
	}
	if _, err := NewCode[uint32](f, Systematic, GenVandermonde, 3, 0, 1, 32); !errors.Is(err, ErrConfig) {
		t.Fatal("m=0 应被拒绝")
	}
	if _, err := NewCode[uint32](f, Systematic, GenVandermonde, 3, 2, 3, 32); !errors.Is(err, ErrConfig) {
		t.Fatal("字宽 3 应被拒绝")
	}
	if _, err := NewCode[uint32](f, Systematic, GenVandermonde, 3, 2, 8, 32); !errors.Is(err, ErrConfig) {
		t.Fatal("字宽超过元素宽度应被拒绝")
	}

	// GF(2^16) 打包进 1 字节放不下
	f16, _ := NewGF2N[uint32](16)
	if _, err := NewCode[uint32](f16, Systematic, GenVandermonde, 3, 2, 1, 32); !errors.Is(err, ErrConfig) {
		t.Fatal("GF(2^16) 字宽 1 应被拒绝")
	}

	// F4 字宽 2 合法 (靠 OOR 标记兜底)，字宽 1 不合法
	f4, _ := NewFermat[uint32](F4)
	if _, err := NewCode[uint32](f4, Systematic, GenVandermonde, 3, 2, 2, 32); err != nil {
		t.Fatalf("F4 字宽 2 应合法: %v", err)
	}
	if _, err := NewCode[uint32](f4, Systematic, GenVandermonde, 3, 2, 1, 32); !errors.Is(err, ErrConfig) {
		t.Fatal("F4 字宽 1 应被拒绝")
	}
}

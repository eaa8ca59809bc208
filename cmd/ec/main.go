/**
 * ec - 基于文件的纠删码工具
 *
 * encode: 由 prefix.d0..d(n-1) 生成 prefix.c0..c(m-1) 与属性边车
 * repair: 用幸存分片重建缺失的 prefix.d<i>
 *
 * Copyright 2024
 */

package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/bpfs/fermatrs"
)

// VERSION 由打包时的构建参数注入
var VERSION = "SELFBUILD"

func main() {
	app := cli.NewApp()
	app.Name = "ec"
	app.Usage = "Reed-Solomon 文件纠删码工具"
	app.Version = VERSION

	flags := []cli.Flag{
		cli.IntFlag{Name: "e", Usage: "使用二元扩域 GF(2^e)，取 8 或 16", Value: 0},
		cli.IntFlag{Name: "f", Usage: "使用费马素数域 F_f，取 3 (=257) 或 4 (=65537)", Value: 0},
		cli.IntFlag{Name: "n", Usage: "数据分片数量", Value: 3},
		cli.IntFlag{Name: "m", Usage: "校验分片数量", Value: 2},
		cli.IntFlag{Name: "w", Usage: "打包字宽 (字节)，0 表示按域自动选择", Value: 0},
		cli.IntFlag{Name: "pkt", Usage: "包路径每包的字节数", Value: 8192},
		cli.BoolFlag{Name: "s", Usage: "使用 Cauchy 生成矩阵 (默认 Vandermonde)"},
		cli.StringFlag{Name: "p", Usage: "分片文件前缀", Required: true},
		cli.BoolFlag{Name: "v", Usage: "输出详细日志"},
	}

	app.Commands = []cli.Command{
		{
			Name:   "encode",
			Usage:  "生成校验分片文件",
			Flags:  flags,
			Action: runEncode,
		},
		{
			Name:   "repair",
			Usage:  "重建缺失的数据分片文件",
			Flags:  flags,
			Action: runRepair,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

// newCode 按命令行参数构造编解码器
func newCode(c *cli.Context) (*fermatrs.Code[uint32], error) {
	if c.Bool("v") {
		fermatrs.SetLogLevel(fermatrs.LogLevelDebug)
	}

	eflag := c.Int("e")
	fflag := c.Int("f")
	if eflag != 0 && fflag != 0 {
		return nil, errors.New("-e 与 -f 不能同时指定")
	}

	var (
		field    fermatrs.Field[uint32]
		err      error
		wordSize int
	)
	switch {
	case fflag == 3:
		field, err = fermatrs.NewFermat[uint32](fermatrs.F3)
		wordSize = 1
	case fflag == 4:
		field, err = fermatrs.NewFermat[uint32](fermatrs.F4)
		wordSize = 2
	case eflag == 16:
		field, err = fermatrs.NewGF2N[uint32](16)
		wordSize = 2
	case eflag == 8 || eflag == 0:
		field, err = fermatrs.NewGF2N[uint32](8)
		wordSize = 1
	default:
		return nil, errors.Errorf("不支持的域参数: -e %d", eflag)
	}
	if err != nil {
		return nil, err
	}
	if w := c.Int("w"); w != 0 {
		wordSize = w
	}

	kind := fermatrs.GenVandermonde
	if c.Bool("s") {
		kind = fermatrs.GenCauchy
	}

	pktBytes := c.Int("pkt")
	if pktBytes <= 0 || pktBytes%wordSize != 0 {
		return nil, errors.Errorf("无效的包大小: %d", pktBytes)
	}

	return fermatrs.NewCode(field, fermatrs.Systematic, kind,
		c.Int("n"), c.Int("m"), wordSize, pktBytes/wordSize)
}

func dataName(prefix string, i int) string {
	return fmt.Sprintf("%s.d%d", prefix, i)
}

func parityName(prefix string, i int) string {
	return fmt.Sprintf("%s.c%d", prefix, i)
}

func propsName(prefix string, i int) string {
	return parityName(prefix, i) + ".props"
}

func closeAll(files []*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

// runEncode 读取全部数据分片文件，生成校验分片与属性边车
func runEncode(c *cli.Context) error {
	code, err := newCode(c)
	if err != nil {
		return err
	}
	prefix := c.String("p")
	n := code.DataShards()
	m := code.ParityShards()

	dFiles := make([]*os.File, n)
	defer closeAll(dFiles)
	dataIn := make([]io.Reader, n)
	size := int64(-1)
	for i := 0; i < n; i++ {
		name := dataName(prefix, i)
		f, err := os.Open(name)
		if err != nil {
			return errors.Wrapf(err, "打开数据分片 %s", name)
		}
		dFiles[i] = f
		dataIn[i] = f

		st, err := f.Stat()
		if err != nil {
			return errors.Wrapf(err, "读取 %s 的元信息", name)
		}
		if size == -1 {
			size = st.Size()
		} else if size != st.Size() {
			return errors.Wrapf(fermatrs.ErrSizeMismatch, "%s 大小不一致", name)
		}
	}

	cFiles := make([]*os.File, m)
	defer closeAll(cFiles)
	parityOut := make([]io.Writer, m)
	props := make([]*fermatrs.Properties, m)
	for i := 0; i < m; i++ {
		name := parityName(prefix, i)
		f, err := os.Create(name)
		if err != nil {
			return errors.Wrapf(err, "创建校验分片 %s", name)
		}
		cFiles[i] = f
		parityOut[i] = f
		props[i] = new(fermatrs.Properties)
	}

	if err := code.EncodePackets(dataIn, parityOut, props); err != nil {
		return errors.Wrap(err, "编码失败")
	}

	for i := 0; i < m; i++ {
		pf, err := os.Create(propsName(prefix, i))
		if err != nil {
			return errors.Wrap(err, "创建属性边车")
		}
		werr := props[i].Marshal(pf)
		pf.Close()
		if werr != nil {
			return errors.Wrap(werr, "写出属性边车")
		}
	}

	if c.Bool("v") {
		st := code.Stats()
		log.Printf("编码完成: %d 字节 / %d 包 / %v", st.EncodeBytes, st.EncodeOps, st.EncodeElapsed)
	}
	return nil
}

// runRepair 重建缺失的数据分片文件
func runRepair(c *cli.Context) error {
	code, err := newCode(c)
	if err != nil {
		return err
	}
	prefix := c.String("p")
	n := code.DataShards()
	m := code.ParityShards()
	verbose := c.Bool("v")

	dFiles := make([]*os.File, n)
	rFiles := make([]*os.File, n)
	cFiles := make([]*os.File, m)
	defer closeAll(dFiles)
	defer closeAll(rFiles)
	defer closeAll(cFiles)

	dataIn := make([]io.Reader, n)
	dataOut := make([]io.Writer, n)
	size := int64(-1)
	nDataOK := 0
	for i := 0; i < n; i++ {
		name := dataName(prefix, i)
		f, err := os.Open(name)
		if err != nil {
			if !os.IsNotExist(err) {
				return errors.Wrapf(err, "打开数据分片 %s", name)
			}
			if verbose {
				log.Printf("%s 缺失，待重建", name)
			}
			w, err := os.Create(name)
			if err != nil {
				return errors.Wrapf(err, "创建数据分片 %s", name)
			}
			rFiles[i] = w
			dataOut[i] = w
			continue
		}
		dFiles[i] = f
		dataIn[i] = f
		nDataOK++

		st, err := f.Stat()
		if err != nil {
			return errors.Wrapf(err, "读取 %s 的元信息", name)
		}
		if size == -1 {
			size = st.Size()
		} else if size != st.Size() {
			return errors.Wrapf(fermatrs.ErrSizeMismatch, "%s 大小不一致", name)
		}
	}

	if nDataOK == n {
		if verbose {
			log.Printf("数据分片全部在场，无需修复")
		}
		return nil
	}

	parityIn := make([]io.Reader, m)
	props := make([]*fermatrs.Properties, m)
	nParityOK := 0
	for i := 0; i < m; i++ {
		name := parityName(prefix, i)
		f, err := os.Open(name)
		if err != nil {
			if !os.IsNotExist(err) {
				return errors.Wrapf(err, "打开校验分片 %s", name)
			}
			if verbose {
				log.Printf("%s 缺失", name)
			}
			continue
		}
		cFiles[i] = f
		parityIn[i] = f
		nParityOK++

		props[i] = new(fermatrs.Properties)
		pf, err := os.Open(propsName(prefix, i))
		if err == nil {
			uerr := props[i].Unmarshal(pf)
			pf.Close()
			if uerr != nil {
				return errors.Wrapf(uerr, "读取属性边车 %s", propsName(prefix, i))
			}
		} else if !os.IsNotExist(err) {
			return errors.Wrapf(err, "打开属性边车 %s", propsName(prefix, i))
		}
	}

	if verbose {
		log.Printf("n_data_ok=%d n_parity_ok=%d", nDataOK, nParityOK)
	}

	if err := code.DecodePackets(dataIn, parityIn, props, dataOut); err != nil {
		if errors.Is(err, fermatrs.ErrDecodeUnrecoverable) {
			return cli.NewExitError("too many losses", 1)
		}
		return errors.Wrap(err, "修复失败")
	}

	// 包路径按整包写出，按幸存分片的原始大小截断
	for i := 0; i < n; i++ {
		if rFiles[i] == nil {
			continue
		}
		if size >= 0 {
			if err := rFiles[i].Truncate(size); err != nil {
				return errors.Wrapf(err, "截断 %s", dataName(prefix, i))
			}
		}
	}

	if verbose {
		st := code.Stats()
		log.Printf("修复完成: %d 字节 / %d 包 / %v", st.DecodeBytes, st.DecodeOps, st.DecodeElapsed)
	}
	return nil
}

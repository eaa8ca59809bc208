/**
 * Reed-Solomon 纠删码库 - prometheus 观测
 *
 * 可选安装。编解码的耗时与吞吐在流结束时整体观测一次，
 * 不进入逐块热路径。
 *
 * Copyright 2024
 */

package fermatrs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 聚合编解码的计数器与延迟直方图
type Metrics struct {
	EncodeOps     prometheus.Counter
	DecodeOps     prometheus.Counter
	EncodeBytes   prometheus.Counter
	DecodeBytes   prometheus.Counter
	EncodeLatency prometheus.Histogram
	DecodeLatency prometheus.Histogram
}

// NewMetrics 创建指标集合，namespace 用于区分多个部署
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EncodeOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encode_ops_total",
			Help:      "编码操作总次数",
		}),
		DecodeOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_ops_total",
			Help:      "解码操作总次数",
		}),
		EncodeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encode_bytes_total",
			Help:      "编码处理的字节总数",
		}),
		DecodeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_bytes_total",
			Help:      "解码处理的字节总数",
		}),
		EncodeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_stream_seconds",
			Help:      "单条流编码耗时",
			Buckets:   prometheus.DefBuckets,
		}),
		DecodeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_stream_seconds",
			Help:      "单条流解码耗时",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// MustRegister 把全部指标注册到给定的注册表
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.EncodeOps, m.DecodeOps,
		m.EncodeBytes, m.DecodeBytes,
		m.EncodeLatency, m.DecodeLatency,
	)
}

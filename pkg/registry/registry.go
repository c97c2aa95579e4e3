package registry

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"

	"backfill/pkg/contract"
	bfx "backfill/plugins/batcher/fixed"
	fln "backfill/plugins/formatter/line"
	kfs "backfill/plugins/sink/filesystem"
	rfs "backfill/plugins/source/filesystem"
	sln "backfill/plugins/splitter/line"
)

// strictUnmarshal: 严格解码 options 子树，拒绝未知字段。
// 空节点保持零值（默认选项）。
func strictUnmarshal(raw *yaml.Node, v any) error {
	if raw == nil || raw.IsZero() {
		return nil
	}
	b, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// NewSource 工厂签名：输入路径 + 原样 YAML Options。
type NewSource func(path string, raw *yaml.Node) (contract.Source, error)

// NewSplitter 工厂签名：接收原样 YAML Options。
type NewSplitter func(raw *yaml.Node) (contract.Splitter, error)

// NewBatcher 工厂签名：批大小为显式构造参数（不经 Options 传递）。
type NewBatcher func(size int, raw *yaml.Node) (contract.Batcher, error)

// NewFormatter 工厂签名：接收原样 YAML Options。
type NewFormatter func(raw *yaml.Node) (contract.Formatter, error)

// NewSink 工厂签名：输出路径 + 原样 YAML Options。
type NewSink func(path string, raw *yaml.Node) (contract.LineSink, error)

// Source 工厂注册表（显式、零反射）。
var Source = map[string]NewSource{
	// fs: 文件系统/STDIN 块源
	"fs": func(path string, raw *yaml.Node) (contract.Source, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(path, &opts)
	},
}

// Splitter 工厂注册表。
var Splitter = map[string]NewSplitter{
	// line: 按分隔符切记录（跨块 Carry）
	"line": func(raw *yaml.Node) (contract.Splitter, error) {
		var opts sln.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sln.New(&opts)
	},
}

// Batcher 工厂注册表。
var Batcher = map[string]NewBatcher{
	// fixed: 定长切批（可挂起恢复的切批循环）
	"fixed": func(size int, raw *yaml.Node) (contract.Batcher, error) {
		var opts struct{}
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return bfx.New(size)
	},
}

// Formatter 工厂注册表。
var Formatter = map[string]NewFormatter{
	// line: 每记录一行写出 + 逐批进度
	"line": func(raw *yaml.Node) (contract.Formatter, error) {
		var opts struct{}
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return fln.New(), nil
	},
}

// Sink 工厂注册表。
var Sink = map[string]NewSink{
	// fs: 文件系统/STDOUT 行汇（原子替换可配置）
	"fs": func(path string, raw *yaml.Node) (contract.LineSink, error) {
		var opts kfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return kfs.New(path, &opts)
	},
}

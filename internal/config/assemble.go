package config

import (
	"fmt"

	"backfill/internal/diag"
	"backfill/internal/pipeline"
	"backfill/pkg/registry"
)

// Assemble 将最终配置装配为可运行的流水线三元组。
// 在此打开输出汇与进度日志：Sink 交由 Run 终结（成功 Close 提交，
// 失败 Discard 丢弃），Progress 由调用方在 Run 返回后关闭
// （失败路径也必须 Close 以刷出已写进度行）。
func Assemble(cfg Config) (pipeline.Components, pipeline.Collaborators, pipeline.Settings, *diag.Progress, error) {
	var (
		comp   pipeline.Components
		collab pipeline.Collaborators
		set    pipeline.Settings
	)

	newSource, ok := registry.Source[cfg.Components.Source]
	if !ok {
		return comp, collab, set, nil, fmt.Errorf("config: 未注册的 source: %q", cfg.Components.Source)
	}
	newSplitter, ok := registry.Splitter[cfg.Components.Splitter]
	if !ok {
		return comp, collab, set, nil, fmt.Errorf("config: 未注册的 splitter: %q", cfg.Components.Splitter)
	}
	newBatcher, ok := registry.Batcher[cfg.Components.Batcher]
	if !ok {
		return comp, collab, set, nil, fmt.Errorf("config: 未注册的 batcher: %q", cfg.Components.Batcher)
	}
	newFormatter, ok := registry.Formatter[cfg.Components.Formatter]
	if !ok {
		return comp, collab, set, nil, fmt.Errorf("config: 未注册的 formatter: %q", cfg.Components.Formatter)
	}
	newSink, ok := registry.Sink[cfg.Components.Sink]
	if !ok {
		return comp, collab, set, nil, fmt.Errorf("config: 未注册的 sink: %q", cfg.Components.Sink)
	}

	src, err := newSource(cfg.Input, &cfg.Options.Source)
	if err != nil {
		return comp, collab, set, nil, fmt.Errorf("config: 装配 source: %w", err)
	}
	spl, err := newSplitter(&cfg.Options.Splitter)
	if err != nil {
		return comp, collab, set, nil, fmt.Errorf("config: 装配 splitter: %w", err)
	}
	bat, err := newBatcher(cfg.BatchSize, &cfg.Options.Batcher)
	if err != nil {
		return comp, collab, set, nil, fmt.Errorf("config: 装配 batcher: %w", err)
	}
	fm, err := newFormatter(&cfg.Options.Formatter)
	if err != nil {
		return comp, collab, set, nil, fmt.Errorf("config: 装配 formatter: %w", err)
	}

	readiness, err := pipeline.ParseReadiness(cfg.Readiness)
	if err != nil {
		return comp, collab, set, nil, fmt.Errorf("config: %w", err)
	}

	// 句柄最后打开；先进度后输出——Sink.Close 即提交（原子替换），
	// 装配失败路径绝不触碰目标文件。
	prog, err := diag.NewProgress(cfg.Log)
	if err != nil {
		return comp, collab, set, nil, fmt.Errorf("config: 打开进度日志: %w", err)
	}
	sink, err := newSink(cfg.Output, &cfg.Options.Sink)
	if err != nil {
		_ = prog.Close()
		return comp, collab, set, nil, fmt.Errorf("config: 打开输出: %w", err)
	}

	comp = pipeline.Components{Source: src, Splitter: spl, Batcher: bat, Formatter: fm}
	collab = pipeline.Collaborators{Sink: sink, Progress: prog}
	set = pipeline.Settings{BufferDepth: cfg.BufferDepth, Readiness: readiness}
	return comp, collab, set, prog, nil
}

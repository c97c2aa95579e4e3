package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"backfill/internal/pipeline"
)

// LoadYAML 严格解析配置文件：未知字段即错误。空文件等价零值。
func LoadYAML(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config: 解析 %s: %w", path, err)
	}
	return cfg, nil
}

// EnvOverlay 从环境变量构造覆盖层。仅识别固定的 BACKFILL_ 键，
// 无效取值在此即失败，不延迟到装配期。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, "BACKFILL_") {
			continue
		}
		switch k {
		case "BACKFILL_BATCH_SIZE":
			// 0 也即时拒绝：零值会被 Merge 当作“未设置”而悄然取默认
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return Config{}, fmt.Errorf("config: %s=%q 必须为正整数", k, v)
			}
			over.BatchSize = n
		case "BACKFILL_BUFFER_DEPTH":
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return Config{}, fmt.Errorf("config: %s=%q 必须为 >=1 的整数", k, v)
			}
			over.BufferDepth = n
		case "BACKFILL_READINESS":
			over.Readiness = v
		case "BACKFILL_LOG_LEVEL":
			over.Logging.Level = v
		}
	}
	return over, nil
}

// Merge 叠加覆盖层：over 的非零字段覆盖 base。
func Merge(base, over Config) Config {
	out := base
	if over.Input != "" {
		out.Input = over.Input
	}
	if over.Output != "" {
		out.Output = over.Output
	}
	if over.Log != "" {
		out.Log = over.Log
	}
	if over.BatchSize != 0 {
		out.BatchSize = over.BatchSize
	}
	if over.BufferDepth != 0 {
		out.BufferDepth = over.BufferDepth
	}
	if over.Readiness != "" {
		out.Readiness = over.Readiness
	}
	if over.Logging.Level != "" {
		out.Logging.Level = over.Logging.Level
	}
	if over.Logging.Dir != "" {
		out.Logging.Dir = over.Logging.Dir
	}
	if over.Logging.MaxBytes != 0 {
		out.Logging.MaxBytes = over.Logging.MaxBytes
	}
	if over.Components.Source != "" {
		out.Components.Source = over.Components.Source
	}
	if over.Components.Splitter != "" {
		out.Components.Splitter = over.Components.Splitter
	}
	if over.Components.Batcher != "" {
		out.Components.Batcher = over.Components.Batcher
	}
	if over.Components.Formatter != "" {
		out.Components.Formatter = over.Components.Formatter
	}
	if over.Components.Sink != "" {
		out.Components.Sink = over.Components.Sink
	}
	if !over.Options.Source.IsZero() {
		out.Options.Source = over.Options.Source
	}
	if !over.Options.Splitter.IsZero() {
		out.Options.Splitter = over.Options.Splitter
	}
	if !over.Options.Batcher.IsZero() {
		out.Options.Batcher = over.Options.Batcher
	}
	if !over.Options.Formatter.IsZero() {
		out.Options.Formatter = over.Options.Formatter
	}
	if !over.Options.Sink.IsZero() {
		out.Options.Sink = over.Options.Sink
	}
	return out
}

// Finalize 填充剩余零值字段的默认值（default 标签驱动）。
func Finalize(cfg *Config) error {
	return defaults.Set(cfg)
}

// Validate 校验叠加后的最终配置。路径必填，数值必须在合法域内。
func Validate(cfg Config) error {
	if cfg.Input == "" {
		return errors.New("config: 缺少输入路径")
	}
	if cfg.Output == "" {
		return errors.New("config: 缺少输出路径")
	}
	if cfg.Log == "" {
		return errors.New("config: 缺少日志路径")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size 必须为正: %d", cfg.BatchSize)
	}
	if cfg.BufferDepth < 1 {
		return fmt.Errorf("config: buffer_depth 必须 >=1: %d", cfg.BufferDepth)
	}
	if _, err := pipeline.ParseReadiness(cfg.Readiness); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch cfg.Logging.Level {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("config: 未知日志级别 %q", cfg.Logging.Level)
	}
	return nil
}

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "backfill/internal/config"
	"backfill/internal/diag"
	"backfill/internal/pipeline"
)

var pipelineRun = pipeline.Run

// 退出码约定：0 成功；1 用法错误；2 运行期错误；3 配置/装配错误。

// 简化的 CLI：单命令，三个位置参数 <输入> <输出> <进度日志>，
// 各自支持 "-"（STDIN/STDOUT/STDERR）。
// 全局旗标（最小集）：--config, --batch-size, --buffer-depth, --readiness, --status
func main() {
	os.Exit(run(os.Args[1:], os.Environ()))
}

func run(args, environ []string) int {
	var (
		flagConfig    string
		flagBatch     int
		flagDepth     int
		flagReadiness string
		flagStatus    bool
	)
	code := 0
	root := &cobra.Command{
		Use:           "backfill <input> <output> <log>",
		Short:         "按行切批回填：读入按行分隔的记录，定长切批后写出",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, pos []string) error {
			code = execute(pos, environ, flagConfig, flagBatch, flagDepth, flagReadiness, flagStatus)
			return nil
		},
	}
	root.Flags().StringVar(&flagConfig, "config", "", "配置文件路径（YAML）；缺省读取 ./backfill.yaml（若存在）")
	root.Flags().IntVar(&flagBatch, "batch-size", 0, "每批记录数（覆盖配置）")
	root.Flags().IntVar(&flagDepth, "buffer-depth", 0, "阶段间链路缓冲槽位数（覆盖配置）")
	root.Flags().StringVar(&flagReadiness, "readiness", "", "就绪策略 channel|edge（覆盖配置）")
	root.Flags().BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	root.SetArgs(args)
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)

	if err := root.Execute(); err != nil {
		// 位置参数/旗标错误属于用法错误：提示 + usage，退出 1。
		fprintf(os.Stderr, "%v\n", err)
		fprintf(os.Stderr, "%s", root.UsageString())
		return 1
	}
	return code
}

func execute(pos, environ []string, flagConfig string, flagBatch, flagDepth int, flagReadiness string, flagStatus bool) int {
	start := time.Now()
	corrID := genCorrID()
	// 先占位默认 level，解析/合并配置后重建 logger 以使用最终配置。
	logger := diag.NewLogger(corrID, "info")

	if flagConfig == "" {
		if s := lookupEnv(environ, "BACKFILL_CONFIG_FILE"); s != "" {
			flagConfig = s
		}
	}
	// 默认读取工作目录下 backfill.yaml（若存在）
	if flagConfig == "" {
		if _, err := os.Stat("backfill.yaml"); err == nil {
			flagConfig = "backfill.yaml"
		}
	}

	var cfg cfgpkg.Config
	if flagConfig != "" {
		base, err := cfgpkg.LoadYAML(flagConfig)
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		cfg = base
	}

	// ENV 覆盖（最小集合）
	overEnv, err := cfgpkg.EnvOverlay(environ)
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖：位置参数即三个路径，旗标仅在显式给出时覆盖。
	var overCLI cfgpkg.Config
	overCLI.Input, overCLI.Output, overCLI.Log = pos[0], pos[1], pos[2]
	if flagBatch > 0 {
		overCLI.BatchSize = flagBatch
	}
	if flagDepth > 0 {
		overCLI.BufferDepth = flagDepth
	}
	if flagReadiness != "" {
		overCLI.Readiness = flagReadiness
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	// 叠加完成后补默认值，再整体校验。
	if err := cfgpkg.Finalize(&cfg); err != nil {
		fprintf(os.Stderr, "配置默认值失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	// 使用最终配置重建 logger
	logger = diag.NewLoggerAt(corrID, cfg.Logging.Level, cfg.Logging.Dir, cfg.Logging.MaxBytes)

	comp, collab, set, prog, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	if term != nil {
		term.RunStart(cfg.BatchSize, cfg.Readiness)
	}

	// debug: 输出运行时配置信息
	logger.DebugStart("config", "effective", "", map[string]string{
		"input":        cfg.Input,
		"output":       cfg.Output,
		"log":          cfg.Log,
		"batch_size":   strconv.Itoa(cfg.BatchSize),
		"buffer_depth": strconv.Itoa(cfg.BufferDepth),
		"readiness":    cfg.Readiness,
		"source":       cfg.Components.Source,
		"splitter":     cfg.Components.Splitter,
		"batcher":      cfg.Components.Batcher,
		"formatter":    cfg.Components.Formatter,
		"sink":         cfg.Components.Sink,
	})

	// 运行流水线
	t := logger.Start("pipeline", "run")
	runErr := pipelineRun(context.Background(), comp, collab, set, logger)
	// 失败路径同样 Close：已写出的进度行必须落盘。
	if cerr := prog.Close(); cerr != nil && runErr == nil {
		runErr = cerr
	}
	if runErr != nil {
		code := string(diag.Classify(runErr))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != "" && code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if !errors.Is(runErr, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", runErr)
		}
		if term != nil {
			term.RunFinish(false, time.Since(start))
		}
		return 2
	}
	if t != nil {
		t.Finish("run", 0)
	}
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	if term != nil {
		term.RunFinish(true, time.Since(start))
	}
	return 0
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

// lookupEnv 在给定的 environ 快照中查找键（便于测试注入）。
func lookupEnv(environ []string, key string) string {
	prefix := key + "="
	for _, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):]
		}
	}
	return ""
}

// genCorrID 生成 8 字节随机 hex 相关 ID；随机源失败时退化为时间戳。
func genCorrID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b[:])
}

package config

import "gopkg.in/yaml.v3"

// Config: 运行期只读配置。一次装配，运行期不再变更。
// 来源叠加顺序：默认值 < 配置文件 < 环境变量 < 命令行。
type Config struct {
	// 三个路径与命令行位置参数一一对应（CLI 优先）。
	// "-" 分别表示 STDIN / STDOUT / STDERR。
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
	Log    string `yaml:"log"`

	// BatchSize: 每批记录数（>0）。
	BatchSize int `yaml:"batch_size" default:"10"`
	// BufferDepth: 阶段间链路缓冲槽位数（>=1）。
	BufferDepth int `yaml:"buffer_depth" default:"1"`
	// Readiness: 就绪策略。channel=修正实现；edge=缺陷对照实现。
	Readiness string `yaml:"readiness" default:"channel"`

	Logging    Logging    `yaml:"logging"`
	Components Components `yaml:"components"`
	Options    Options    `yaml:"options"`
}

// Logging 诊断日志配置（JSONL，独立于进度日志）。
type Logging struct {
	// Level: error|info|debug
	Level string `yaml:"level" default:"info"`
	// Dir: 轮转文件目录；空值回退内置默认 logs/。
	Dir string `yaml:"dir"`
	// MaxBytes: 单文件轮转阈值（字节），0 取内置默认。
	MaxBytes int64 `yaml:"max_bytes"`
}

// Components: 各槽位选用的组件名（注册表键）。
type Components struct {
	Source    string `yaml:"source" default:"fs"`
	Splitter  string `yaml:"splitter" default:"line"`
	Batcher   string `yaml:"batcher" default:"fixed"`
	Formatter string `yaml:"formatter" default:"line"`
	Sink      string `yaml:"sink" default:"fs"`
}

// Options: 原样保留的组件私有配置子树，装配期由工厂严格解码。
type Options struct {
	Source    yaml.Node `yaml:"source"`
	Splitter  yaml.Node `yaml:"splitter"`
	Batcher   yaml.Node `yaml:"batcher"`
	Formatter yaml.Node `yaml:"formatter"`
	Sink      yaml.Node `yaml:"sink"`
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Options is the full configuration of one suite run. Flags, the optional
// config file, and the short environment variables all funnel into it; the
// precedence is flags over file over built-in defaults, with the
// environment variables appended (T/S) or overriding the UI mode.
type Options struct {
	TestDir string `mapstructure:"testdir"`
	OutDir  string `mapstructure:"outdir"`
	WorkDir string `mapstructure:"workdir"`

	Continue bool `mapstructure:"continue"`

	Only []string `mapstructure:"only"`
	Skip []string `mapstructure:"skip"`

	Flavours      []string `mapstructure:"flavours"`
	FlavourVar    string   `mapstructure:"flavour_var"`
	FlavourFilter string   `mapstructure:"flavour_filter"`

	Watch        []string          `mapstructure:"watch"`
	Interpreters map[string]string `mapstructure:"interpreters"` // ext -> script
	SortHints    []string          `mapstructure:"sort_hints"`

	Timeout      time.Duration `mapstructure:"timeout"`
	TotalTimeout time.Duration `mapstructure:"total_timeout"`

	Jobs        int  `mapstructure:"jobs"`
	Batch       bool `mapstructure:"batch"`
	Verbose     bool `mapstructure:"verbose"`
	Interactive bool `mapstructure:"interactive"`

	KMsg          bool   `mapstructure:"kmsg"`
	Heartbeat     string `mapstructure:"heartbeat"`
	FatalTimeouts bool   `mapstructure:"fatal_timeouts"`

	HistoryDSN string `mapstructure:"history_dsn"`
	Listen     string `mapstructure:"listen"`

	LogDir   string `mapstructure:"log_dir"`
	LogLevel string `mapstructure:"log_level"`
}

func Default() Options {
	return Options{
		OutDir:       ".",
		Flavours:     []string{"vanilla"},
		FlavourVar:   "TEST_FLAVOUR",
		Interpreters: map[string]string{},
		Timeout:      60 * time.Second,
		TotalTimeout: 10800 * time.Second,
		Jobs:         1,
		LogLevel:     "info",
	}
}

// FromFile overlays a viper-readable config file (TOML or YAML by
// extension) onto o.
func (o *Options) FromFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(o); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// envSet treats empty and "0" as unset, so `BATCH=0 dipot` behaves the same
// as not exporting BATCH at all.
func envSet(name string) (string, bool) {
	v := os.Getenv(name)
	if v == "" || v == "0" {
		return "", false
	}
	return v, true
}

// ApplyEnv folds the short environment variables into o: T and S extend the
// include/exclude filters, F filters flavours, BATCH/VERBOSE/INTERACTIVE
// pick the UI mode, JOBS sets the slot count.
func (o *Options) ApplyEnv() {
	if v, ok := envSet("T"); ok {
		o.Only = append(o.Only, splitCSV(v)...)
	}
	if v, ok := envSet("S"); ok {
		o.Skip = append(o.Skip, splitCSV(v)...)
	}
	if v, ok := envSet("F"); ok {
		o.FlavourFilter = v
	}
	if _, ok := envSet("BATCH"); ok {
		o.Batch = true
	}
	if _, ok := envSet("VERBOSE"); ok {
		o.Verbose = true
	}
	if _, ok := envSet("INTERACTIVE"); ok {
		o.Interactive = true
	}
	if v, ok := envSet("JOBS"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			o.Jobs = n
		}
	}
}

// AddInterpreter parses one "ext:script" mapping.
func (o *Options) AddInterpreter(spec string) error {
	ext, script, ok := strings.Cut(spec, ":")
	if !ok || ext == "" || script == "" {
		return fmt.Errorf("malformed interpreter mapping %q (want ext:script)", spec)
	}
	if o.Interpreters == nil {
		o.Interpreters = map[string]string{}
	}
	o.Interpreters[strings.TrimPrefix(ext, ".")] = script
	return nil
}

// Normalize validates and settles derived values. It must run after flags,
// file and environment have all been applied.
func (o *Options) Normalize() error {
	if o.TestDir == "" {
		return fmt.Errorf("--testdir is required")
	}
	if o.WorkDir == "" {
		o.WorkDir = o.TestDir
	}
	if o.OutDir == "" {
		o.OutDir = "."
	}
	if o.Jobs < 1 {
		o.Jobs = 1
	}
	if o.Jobs > 1 {
		o.Batch = true
	}
	if len(o.Flavours) == 0 {
		o.Flavours = []string{"vanilla"}
	}
	if o.FlavourVar == "" {
		o.FlavourVar = "TEST_FLAVOUR"
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SplitCSV is exported for the CLI layer, which receives csv-valued flags.
func SplitCSV(s string) []string { return splitCSV(s) }

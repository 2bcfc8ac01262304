package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "mtdecode/internal/config"
	"mtdecode/internal/decoder"
	"mtdecode/internal/diag"
	"mtdecode/internal/pipeline"
)

var pipelineRun = pipeline.Run

// shutdownTimeout: 运行结束后等待工作池归位的上限。
const shutdownTimeout = 10 * time.Second

// 退出码：0 成功；1 运行期失败；3 配置/装配失败。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

// exitError 携带退出码；消息在 run 中统一打印。
type exitError struct {
	code  int
	err   error
	quiet bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configError(stage string, err error) error {
	return &exitError{code: exitConfig, err: fmt.Errorf("%s: %w", stage, err)}
}

// options: 根命令旗标（覆盖配置文件与环境变量）。
type options struct {
	config       string
	numParallel  int
	weightsFile  string
	onFailure    string
	metricsAddr  string
	logLevel     string
	outputFormat string
	sidecar      bool
	posteriors   bool
	watchWeights bool
	status       bool
	traceFile    string
	traceRatio   float64
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.quiet {
			fprintf(stderr, "%v\n", ee.err)
		}
		return ee.code
	}
	// 旗标/参数解析错误
	fprintf(stderr, "%v\n", err)
	return exitConfig
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "mtdecode [inputs...]",
		Short: "Concurrent phrase-based MT decoder",
		Long: `Decode every sentence of the given inputs (files, directories or "-" for STDIN)
with a fixed pool of decoder workers. Translations are written in input order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd, o, args)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.config, "config", "", "配置文件（.yaml/.yml/.json）；缺省依次尝试 ./config.yaml、./config.json")
	pf.IntVarP(&o.numParallel, "num-parallel-decoders", "n", 0, "工作池大小（覆盖配置）")
	pf.StringVar(&o.weightsFile, "weights-file", "", "权重文件 NAME VALUE（覆盖配置）")
	pf.StringVar(&o.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")

	f := root.Flags()
	f.StringVar(&o.onFailure, "on-failure", "", "单句失败策略 fatal|isolate（覆盖配置）")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Prometheus /metrics 监听地址，如 :9090")
	f.StringVar(&o.outputFormat, "format", "", "输出格式 plain|nbest|jsonl（覆盖配置）")
	f.BoolVar(&o.sidecar, "sidecar", false, "每个输入另写 <file>.jsonl 明细")
	f.BoolVar(&o.posteriors, "posteriors", false, "计算最优推导的后验概率")
	f.BoolVar(&o.watchWeights, "watch-weights", false, "监视权重文件，变更后重估文法")
	f.StringVar(&o.traceFile, "trace-file", "", "把逐句解码 span（OpenTelemetry）以 JSON 行写入该文件")
	f.Float64Var(&o.traceRatio, "trace-ratio", 1, "span 采样比例 (0,1]")
	f.BoolVar(&o.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")

	root.AddCommand(newInitConfigCmd(), newShowWeightsCmd(o))
	return root
}

// loadConfig 按优先级合并：Defaults ← 配置文件 ← ENV ← CLI，并校验。
func loadConfig(o *options, inputs []string) (cfgpkg.Config, error) {
	path := o.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		for _, p := range []string{"config.yaml", "config.yml", "config.json"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	cfg := cfgpkg.Defaults()
	if path != "" {
		base, err := cfgpkg.LoadFile(path)
		if err != nil {
			return cfg, configError("配置解析失败", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, configError("环境变量解析失败", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	var overCLI cfgpkg.Config
	overCLI.Inputs = inputs
	overCLI.NumParallelDecoders = o.numParallel
	overCLI.WeightsFile = o.weightsFile
	overCLI.OnFailure = o.onFailure
	overCLI.Logging.Level = o.logLevel
	overCLI.Metrics.Addr = o.metricsAddr
	overCLI.Output.Format = o.outputFormat
	overCLI.Output.Sidecar = o.sidecar
	overCLI.Search.Posteriors = o.posteriors
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		return cfg, configError("配置校验失败", err)
	}
	return cfg, nil
}

func runDecode(cmd *cobra.Command, o *options, args []string) error {
	start := time.Now()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	cfg, err := loadConfig(o, args)
	if err != nil {
		return err
	}
	if o.watchWeights && cfg.WeightsFile == "" {
		return configError("配置校验失败", errors.New("--watch-weights requires weights_file"))
	}

	logger := diag.NewLogger(uuid.NewString(), cfg.Logging.Level)
	defer logger.Close()
	fail := func(code int, stage string, err error) error {
		logger.Error("main", string(diag.Classify(err)), "first error: "+err.Error(), &start)
		if c := diag.Classify(err); c != diag.CodeUnknown {
			diag.IncError("main", string(c))
		}
		return &exitError{code: code, err: fmt.Errorf("%s: %w", stage, err), quiet: errors.Is(err, context.Canceled)}
	}

	rt, err := cfgpkg.Assemble(cfg, logger)
	if err != nil {
		return fail(exitConfig, "装配失败", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.traceFile != "" {
		tf, err := os.Create(o.traceFile)
		if err != nil {
			return fail(exitConfig, "trace 文件创建失败", err)
		}
		defer tf.Close()
		shutdownTracing, err := diag.SetupTracing(tf, o.traceRatio)
		if err != nil {
			return fail(exitConfig, "trace 初始化失败", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				logger.Warn("trace", "flush failed: "+err.Error(), nil)
			}
		}()
	}

	term := diag.NewTerminal(cmd.ErrOrStderr(), o.status)
	rt.Settings.Terminal = term
	dec, err := decoder.New(rt.Workers, rt.Settings)
	if err != nil {
		return fail(exitConfig, "装配失败", err)
	}
	if rs, ok := rt.Reader.(interface{ SetStdin(io.Reader) }); ok {
		rs.SetStdin(cmd.InOrStdin())
	}
	if ws, ok := rt.Writer.(interface{ SetStdout(io.Writer) }); ok {
		ws.SetStdout(cmd.OutOrStdout())
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := diag.ServeMetrics(ctx, cfg.Metrics.Addr); err != nil {
				logger.Warn("metrics", "serve failed: "+err.Error(), map[string]string{"addr": cfg.Metrics.Addr})
			}
		}()
	}
	if o.watchWeights {
		onReload := func(changed int) {
			t := logger.Start("search", "reestimate")
			rt.Model.Reestimate()
			t.Finish("reestimated", int64(changed))
		}
		if err := cfgpkg.WatchWeights(ctx, cfg, rt.Weights, onReload, logger); err != nil {
			return fail(exitConfig, "权重监视失败", err)
		}
	}

	logger.DebugStart("config", "effective", "", "", map[string]string{
		"inputs_count":          strconv.Itoa(len(cfg.Inputs)),
		"num_parallel_decoders": strconv.Itoa(cfg.NumParallelDecoders),
		"on_failure":            string(rt.Settings.OnFailure),
		"search":                cfg.Search.Algorithm,
		"features":              strings.Join(rt.Model.Describe(), ","),
		"output":                cfg.Output.Format,
	})
	term.RunStart(cfg.NumParallelDecoders, cfg.Search.Algorithm)

	comp := pipeline.Components{
		Reader:    rt.Reader,
		Splitter:  rt.Splitter,
		Decoder:   dec,
		Formatter: rt.Formatter,
		Sidecar:   rt.Sidecar,
		Writer:    rt.Writer,
	}
	set := pipeline.Settings{
		Inputs:        cfg.Inputs,
		Ext:           cfgpkg.ArtifactExt(cfg),
		MaxOpenInputs: 2 * cfg.NumParallelDecoders,
	}
	t := logger.Start("pipeline", "run")
	st, runErr := pipelineRun(ctx, comp, set, logger)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dec.Shutdown(sctx); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		diag.IncOp("pipeline", "error", "error")
		term.RunFinish(false, time.Since(start))
		return fail(exitRuntime, "运行失败", runErr)
	}
	t.Finish("run", int64(st.Sentences))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	if st.Failed > 0 {
		logger.Warn("pipeline", "sentences failed (isolated)", map[string]string{"failed": strconv.Itoa(st.Failed)})
	}
	term.RunFinish(true, time.Since(start))
	return nil
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write a default config.yaml and .env template (existing files are kept)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			if dir == "-" {
				if err := writeConfig("-", cfgpkg.DefaultTemplateConfig(), cmd.OutOrStdout()); err != nil {
					return configError("生成默认配置失败", err)
				}
				return nil
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return configError("生成默认配置失败", err)
			}
			if err := writeConfig(dir+string(os.PathSeparator)+"config.yaml", cfgpkg.DefaultTemplateConfig(), nil); err != nil {
				return configError("生成默认配置失败", err)
			}
			if err := writeDotEnv(dir + string(os.PathSeparator) + ".env"); err != nil {
				fprintf(cmd.ErrOrStderr(), "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			return nil
		},
	}
}

// newShowWeightsCmd: 打印特征与权重后退出（不解码）。
func newShowWeightsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show-weights",
		Short: "Print feature functions and weights, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = loadDotEnv(".env")
			cfg, err := loadConfig(o, []string{"-"})
			if err != nil {
				return err
			}
			rt, err := cfgpkg.Assemble(cfg, nil)
			if err != nil {
				return configError("装配失败", err)
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			seen := map[string]bool{}
			for _, line := range rt.Model.Describe() {
				seen[strings.Fields(line)[0]] = true
				fmt.Fprintln(w, line)
			}
			// 其余权重（如文法分数列 tm_<owner>_<i>）
			snap := rt.Weights.Snapshot()
			names := make([]string, 0, len(snap))
			for k := range snap {
				if !seen[k] {
					names = append(names, k)
				}
			}
			sort.Strings(names)
			for _, k := range names {
				fmt.Fprintf(w, "%s %g\n", k, snap[k])
			}
			return w.Flush()
		},
	}
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

package config

import (
	"errors"
	"fmt"
	"strings"

	"mtdecode/internal/decoder"
	"mtdecode/internal/diag"
	"mtdecode/internal/ff"
	"mtdecode/internal/grammar"
	"mtdecode/internal/rate"
	"mtdecode/internal/search"
	"mtdecode/pkg/contract"
	"mtdecode/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if cfg.NumParallelDecoders < 1 {
		return errors.New("config: num_parallel_decoders must be >= 1")
	}
	switch decoder.FailurePolicy(cfg.OnFailure) {
	case "", decoder.PolicyFatal, decoder.PolicyIsolate:
	default:
		return fmt.Errorf("config: on_failure %q must be fatal or isolate", cfg.OnFailure)
	}
	if cfg.Search.Beam < 0 || cfg.Search.MaxLen < 0 {
		return errors.New("config: search.beam and search.max_len must be >= 0")
	}
	if cfg.Limits.SentencesPerMinute < 0 || cfg.Limits.Burst < 0 {
		return errors.New("config: limits must be >= 0")
	}

	owners := map[string]bool{}
	for i, tm := range cfg.TMs {
		if tm.Format != "" && tm.Format != "text" {
			return fmt.Errorf("config: tms[%d] format %q not supported", i, tm.Format)
		}
		if strings.TrimSpace(tm.Owner) == "" || strings.TrimSpace(tm.Path) == "" {
			return fmt.Errorf("config: tms[%d] needs owner and path", i)
		}
		if tm.Owner == grammar.OwnerGlue || tm.Owner == grammar.OwnerOOV {
			return fmt.Errorf("config: tms[%d] owner %q is reserved", i, tm.Owner)
		}
		if owners[tm.Owner] {
			return fmt.Errorf("config: tms[%d] duplicate owner %q", i, tm.Owner)
		}
		owners[tm.Owner] = true
	}
	for i, line := range cfg.Features {
		name, _, err := registry.ParseFeatureLine(line)
		if err != nil {
			return fmt.Errorf("config: features[%d]: %w", i, err)
		}
		if registry.Feature[name] == nil {
			return fmt.Errorf("config: features[%d] %q: %w", i, name, contract.ErrUnknownFeature)
		}
	}

	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults()
	if name := effName(cfg.Search.Algorithm, d.Search.Algorithm); registry.Worker[name] == nil {
		return fmt.Errorf("config: search algorithm %q not registered", name)
	}
	if name := effName(cfg.Output.Format, d.Output.Format); registry.Formatter[name] == nil {
		return fmt.Errorf("config: output format %q not registered", name)
	}
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Splitter, d.Components.Splitter); registry.Splitter[name] == nil {
		return fmt.Errorf("config: splitter %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Runtime: 装配结果（进程级资源 + I/O 组件 + 解码器设置）。
type Runtime struct {
	Vocab   *grammar.Vocabulary
	Weights *ff.FeatureVector
	Model   *search.Model
	Workers []contract.Worker

	Reader    contract.Reader
	Splitter  contract.Splitter
	Writer    contract.Writer
	Formatter contract.Formatter
	// Sidecar: 非空时每个输入另写一份 JSONL 明细。
	Sidecar contract.Formatter

	Settings decoder.Settings
}

// Assemble 加载权重与文法、构造特征/模型/worker 与 I/O 组件。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config, logger *diag.Logger) (*Runtime, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	d := Defaults()
	rt := &Runtime{Vocab: grammar.NewVocabulary()}

	vec, err := BuildWeights(cfg)
	if err != nil {
		return nil, err
	}
	rt.Weights = vec

	t := logger.Start("config", "load grammars")
	grammars := make([]*grammar.Grammar, 0, len(cfg.TMs))
	for _, tm := range cfg.TMs {
		g, err := grammar.LoadFile(tm.Path, rt.Vocab, tm.Owner, tm.SpanLimit)
		if err != nil {
			return nil, fmt.Errorf("tm %s: %w", tm.Owner, err)
		}
		grammars = append(grammars, g)
	}
	t.Finish("grammars loaded", int64(len(grammars)))

	feats, err := registry.BuildFeatures(registry.FeatureEnv{Vocab: rt.Vocab, Weights: vec}, featureLines(cfg))
	if err != nil {
		return nil, err
	}
	rt.Model = &search.Model{
		Vocab:    rt.Vocab,
		Weights:  vec,
		Grammars: grammars,
		Features: feats,
		Options: search.Options{
			Beam:       cfg.Search.Beam,
			MaxLen:     cfg.Search.MaxLen,
			Posteriors: cfg.Search.Posteriors,
		},
		Logger: logger,
	}
	if err := rt.Model.Init(); err != nil {
		return nil, err
	}

	algo := effName(cfg.Search.Algorithm, d.Search.Algorithm)
	rt.Workers, err = registry.Worker[algo](registry.WorkerEnv{Model: rt.Model}, cfg.NumParallelDecoders, cfg.Search.Options)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", algo, err)
	}

	if rt.Reader, err = registry.Reader[effName(cfg.Components.Reader, d.Components.Reader)](cfg.Options.Reader); err != nil {
		return nil, err
	}
	if rt.Splitter, err = registry.Splitter[effName(cfg.Components.Splitter, d.Components.Splitter)](cfg.Options.Splitter); err != nil {
		return nil, err
	}
	if rt.Writer, err = registry.Writer[effName(cfg.Components.Writer, d.Components.Writer)](cfg.Options.Writer); err != nil {
		return nil, err
	}
	if rt.Formatter, err = registry.Formatter[effName(cfg.Output.Format, d.Output.Format)](cfg.Options.Formatter); err != nil {
		return nil, err
	}
	if cfg.Output.Sidecar {
		if rt.Sidecar, err = registry.Formatter["jsonl"](cfg.Options.Formatter); err != nil {
			return nil, err
		}
	}

	rt.Settings = decoder.Settings{
		OnFailure: decoder.FailurePolicy(effName(cfg.OnFailure, d.OnFailure)),
		Logger:    logger,
	}
	if cfg.Limits.SentencesPerMinute > 0 {
		rt.Settings.Gate = rate.NewGate(nil, rate.Limits{
			SentencesPerMinute: cfg.Limits.SentencesPerMinute,
			Burst:              cfg.Limits.Burst,
		}, nil)
	}
	return rt, nil
}

// featureLines 返回特征行；配置了文法但未声明对应 tm 特征的 owner 自动补 `tm -owner NAME`。
func featureLines(cfg Config) []string {
	declared := map[string]bool{}
	for _, line := range cfg.Features {
		name, args, err := registry.ParseFeatureLine(line)
		if err == nil && name == "tm" {
			declared[args.String("owner", "")] = true
		}
	}
	out := cloneStrings(cfg.Features)
	for _, tm := range cfg.TMs {
		if !declared[tm.Owner] {
			out = append(out, "tm -owner "+tm.Owner)
		}
	}
	return out
}

// ArtifactExt 返回主输出工件的扩展名（默认 .trans）。
func ArtifactExt(cfg Config) string {
	return effName(cfg.Output.Ext, Defaults().Output.Ext)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}

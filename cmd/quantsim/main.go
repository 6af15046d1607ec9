package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"quantsim/internal/app"
	"quantsim/internal/backtest"
	qcfg "quantsim/internal/config"
	"quantsim/internal/logger"

	"github.com/spf13/pflag"
)

const usage = `quantsim <command> [flags]

commands:
  run     按配置执行一次回测并输出绩效报告
  sweep   对信号阈值做参数扫描
  analyze 融合各策略最新信号，给出单个标的的买卖判断
  serve   启动回测 HTTP 服务
  import  把 CSV 日线导入本地 SQLite 行情库

通用参数:
  -c, --config string   配置文件路径（默认 $QUANTSIM_CONFIG 或 configs/config.yaml）
      --dump-config     输出解析后的完整配置后退出
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "run":
		err = runCommand(ctx, args)
	case "sweep":
		err = sweepCommand(ctx, args)
	case "analyze":
		err = analyzeCommand(ctx, args)
	case "serve":
		err = serveCommand(ctx, args)
	case "import":
		err = importCommand(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "未知命令 %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s 失败: %v", cmd, err)
	}
}

type commonFlags struct {
	configPath string
	dump       bool
}

func newFlagSet(name string) (*pflag.FlagSet, *commonFlags) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	common := &commonFlags{}
	def := os.Getenv("QUANTSIM_CONFIG")
	if def == "" {
		def = "configs/config.yaml"
	}
	fs.StringVarP(&common.configPath, "config", "c", def, "配置文件路径")
	fs.BoolVar(&common.dump, "dump-config", false, "输出解析后的完整配置后退出")
	return fs, common
}

// loadConfig 读取配置并初始化日志；dump 为 true 时打印配置，返回 nil。
func loadConfig(common *commonFlags) (*qcfg.Config, func(), error) {
	cfg, found, err := qcfg.LoadOrDefault(common.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置失败: %w", err)
	}
	if common.dump {
		return nil, func() {}, qcfg.WriteYAML(os.Stdout, cfg)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	cleanup := func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}
	logger.SetLevel(cfg.App.LogLevel)
	if found {
		logger.Infof("✓ 配置加载成功（环境=%s，文件=%s）", cfg.App.Env, common.configPath)
	} else {
		logger.Warnf("配置文件 %s 不存在，使用内置默认值", common.configPath)
	}
	return cfg, cleanup, nil
}

func runCommand(ctx context.Context, args []string) error {
	fs, common := newFlagSet("run")
	profile := fs.StringP("profile", "p", "", "策略组合名称")
	threshold := fs.Float64("threshold", -1, "覆盖 engine.signal_threshold")
	htmlPath := fs.String("html", "", "覆盖 report.html_path")
	pngPath := fs.String("png", "", "覆盖 report.png_path")
	_ = fs.Parse(args)

	cfg, cleanup, err := loadConfig(common)
	if err != nil || cfg == nil {
		return err
	}
	defer cleanup()
	if *threshold >= 0 {
		cfg.Engine.SignalThreshold = *threshold
	}
	if *htmlPath != "" {
		cfg.Report.HTMLPath = *htmlPath
	}
	if *pngPath != "" {
		cfg.Report.PNGPath = *pngPath
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	defer a.Close()
	a.Summary.Print()

	run, res, err := a.RunOnce(ctx, *profile)
	if err != nil {
		return err
	}
	fmt.Print(res.Summary())
	title := fmt.Sprintf("quantsim %s ~ %s", run.Config.StartDate, run.Config.EndDate)
	written, err := a.WriteReports(ctx, title, res)
	for _, path := range written {
		logger.Infof("✓ 报告已写入 %s", path)
	}
	return err
}

func sweepCommand(ctx context.Context, args []string) error {
	fs, common := newFlagSet("sweep")
	profile := fs.StringP("profile", "p", "", "策略组合名称")
	thresholds := fs.Float64Slice("thresholds", nil, "阈值列表，逗号分隔（默认 sweep.thresholds）")
	parallel := fs.Int("parallel", 0, "覆盖 sweep.parallel")
	_ = fs.Parse(args)

	cfg, cleanup, err := loadConfig(common)
	if err != nil || cfg == nil {
		return err
	}
	defer cleanup()
	if *parallel > 0 {
		cfg.Sweep.Parallel = *parallel
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	defer a.Close()

	points, err := a.RunSweep(ctx, *profile, *thresholds)
	if err != nil {
		return err
	}
	writeSweepTable(os.Stdout, points)
	return nil
}

func analyzeCommand(ctx context.Context, args []string) error {
	fs, common := newFlagSet("analyze")
	profile := fs.StringP("profile", "p", "", "策略组合名称")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("至少指定一个标的")
	}

	cfg, cleanup, err := loadConfig(common)
	if err != nil || cfg == nil {
		return err
	}
	defer cleanup()
	a, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	defer a.Close()

	for _, sym := range fs.Args() {
		analysis, err := a.Analyze(ctx, sym, *profile)
		if err != nil {
			return err
		}
		writeAnalysis(os.Stdout, analysis)
	}
	return nil
}

func serveCommand(ctx context.Context, args []string) error {
	fs, common := newFlagSet("serve")
	addr := fs.String("addr", "", "覆盖 app.http_addr")
	_ = fs.Parse(args)

	cfg, cleanup, err := loadConfig(common)
	if err != nil || cfg == nil {
		return err
	}
	defer cleanup()
	if *addr != "" {
		cfg.App.HTTPAddr = *addr
	}
	a, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	defer a.Close()
	return a.Serve(ctx)
}

func importCommand(ctx context.Context, args []string) error {
	fs, common := newFlagSet("import")
	dbDir := fs.String("db", "", "SQLite 行情库目录（默认 data.dir）")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("至少指定一个 CSV 文件或目录")
	}

	cfg, cleanup, err := loadConfig(common)
	if err != nil || cfg == nil {
		return err
	}
	defer cleanup()
	root := *dbDir
	if root == "" {
		root = cfg.Data.Dir
	}
	results, err := app.ImportCSV(ctx, root, fs.Args())
	total := 0
	for _, r := range results {
		total += r.Rows
	}
	logger.Infof("✓ 导入完成: %d 个标的, %d 条日线 -> %s", len(results), total, root)
	return err
}

func writeSweepTable(w io.Writer, points []backtest.SweepPoint) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "阈值\t交易数\t最终权益\t收益率\t胜率\t夏普\t最大回撤\t")
	for _, p := range points {
		if p.Error != "" {
			fmt.Fprintf(tw, "%.2f\t-\t-\t-\t-\t-\t-\t%s\n", p.Threshold, p.Error)
			continue
		}
		fmt.Fprintf(tw, "%.2f\t%d\t%.2f\t%.2f%%\t%.1f%%\t%.2f\t%.2f%%\t\n",
			p.Threshold, p.TotalTrades, p.FinalEquity, p.TotalReturn*100, p.WinRate*100, p.SharpeRatio, p.MaxDrawdown*100)
	}
	_ = tw.Flush()
}

func writeAnalysis(w io.Writer, a backtest.Analysis) {
	fmt.Fprintf(w, "%s %s 收盘 %.2f → %s (强度 %.3f, 门槛 %.2f)\n", a.Symbol, a.Date, a.LatestPrice, a.Direction, a.Strength, a.Threshold)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range a.Signals {
		fmt.Fprintf(tw, "  %s\t%s\t%.3f\t%s\t%s\n", s.Strategy, s.Direction, s.Strength, s.Date, s.Reason)
	}
	_ = tw.Flush()
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

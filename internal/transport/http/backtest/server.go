package backtesthttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quantsim/internal/backtest"
	"quantsim/internal/config/loader"
	"quantsim/internal/indicator"
	"quantsim/internal/market"
	"quantsim/internal/report"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ProfileSource 提供当前策略组合快照，由 loader.ProfileLoader 实现。
type ProfileSource interface {
	Snapshot() loader.ProfileSnapshot
}

// ManifestReader 查询本地行情库的覆盖范围，由 market.Store 实现。
type ManifestReader interface {
	Manifest(ctx context.Context, symbol string) (market.Manifest, error)
}

// Server 提供回测相关的 HTTP API。结果只保存在 Simulator 内存中。
type Server struct {
	addr      string
	sim       *backtest.Simulator
	profiles  ProfileSource
	manifests ManifestReader
	limiter   *rate.Limiter
	router    *gin.Engine
}

// Config 描述回测 HTTP Server 的依赖。
type Config struct {
	Addr      string
	Simulator *backtest.Simulator
	Profiles  ProfileSource
	Manifests ManifestReader
	// RunsPerMinute 限制创建回测/扫描的频率，<=0 表示不限。
	RunsPerMinute int
}

// NewServer 构建回测 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Simulator == nil {
		return nil, errors.New("simulator 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:      cfg.Addr,
		sim:       cfg.Simulator,
		profiles:  cfg.Profiles,
		manifests: cfg.Manifests,
		router:    router,
	}
	if cfg.RunsPerMinute > 0 {
		burst := max(1, cfg.RunsPerMinute/6)
		s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RunsPerMinute)/60.0), burst)
	}
	s.registerRoutes()
	return s, nil
}

// Handler 暴露路由，便于测试或挂载到其它 server。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	api := s.router.Group("/api/backtest")
	api.POST("/runs", s.throttle, s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/equity", s.handleRunEquity)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/orders", s.handleRunOrders)
	api.GET("/runs/:id/holdings", s.handleRunHoldings)
	api.GET("/runs/:id/summary", s.handleRunSummary)
	api.GET("/runs/:id/report", s.handleRunReport)
	api.POST("/sweeps", s.throttle, s.handleSweep)
	api.POST("/analyze", s.throttle, s.handleAnalyze)
	api.GET("/analyze/history", s.handleAnalyzeHistory)
	api.GET("/market/:symbol", s.handleMarketData)
	api.GET("/profiles", s.handleProfiles)
	api.GET("/data", s.handleManifest)
}

func (s *Server) throttle(c *gin.Context) {
	if s.limiter != nil && !s.limiter.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁，请稍后再试"})
		return
	}
	c.Next()
}

func (s *Server) handleRunStart(c *gin.Context) {
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if wait, _ := strconv.ParseBool(c.DefaultQuery("wait", "false")); wait {
		run, _, err := s.sim.RunSync(c.Request.Context(), req)
		if err != nil && run.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"run": run, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": run})
		return
	}
	run, err := s.sim.StartRun(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	runs := s.sim.List()
	if len(runs) > limit {
		runs = runs[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, ok := s.sim.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	resp := gin.H{"run": run}
	if res, ok := s.sim.Result(run.ID); ok {
		resp["metrics"] = res.Metrics
	}
	c.JSON(http.StatusOK, resp)
}

// result 取已完成任务的结果；未找到或未完成时直接写响应并返回 false。
func (s *Server) result(c *gin.Context) (*backtest.Result, bool) {
	run, ok := s.sim.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return nil, false
	}
	res, ok := s.sim.Result(run.ID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("run 状态为 %s，暂无结果", run.Status), "run": run})
		return nil, false
	}
	return res, true
}

func (s *Server) handleRunEquity(c *gin.Context) {
	res, ok := s.result(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": res.EquityCurve, "daily_returns": res.DailyReturns})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	res, ok := s.result(c)
	if !ok {
		return
	}
	trades := res.Trades
	if sym := strings.ToUpper(strings.TrimSpace(c.Query("symbol"))); sym != "" {
		filtered := trades[:0:0]
		for _, t := range trades {
			if t.Symbol == sym {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunOrders(c *gin.Context) {
	res, ok := s.result(c)
	if !ok {
		return
	}
	orders := res.Orders
	if status := strings.ToUpper(strings.TrimSpace(c.Query("status"))); status != "" {
		filtered := orders[:0:0]
		for _, o := range orders {
			if string(o.Status) == status {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleRunHoldings(c *gin.Context) {
	res, ok := s.result(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"holdings": res.Holdings})
}

func (s *Server) handleRunSummary(c *gin.Context) {
	res, ok := s.result(c)
	if !ok {
		return
	}
	c.String(http.StatusOK, res.Summary())
}

func (s *Server) handleRunReport(c *gin.Context) {
	res, ok := s.result(c)
	if !ok {
		return
	}
	html, err := report.RenderEquityBytes(fmt.Sprintf("回测 %s", c.Param("id")), res)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

type sweepRequest struct {
	backtest.RunRequest
	Thresholds []float64 `json:"thresholds"`
	Parallel   int       `json:"parallel"`
}

func (s *Server) handleSweep(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateSweepBody(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req sweepRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	points, err := s.sim.Sweep(c.Request.Context(), req.RunRequest, req.Thresholds, req.Parallel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req backtest.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	analysis, err := s.sim.Analyze(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": analysis})
}

func (s *Server) handleAnalyzeHistory(c *gin.Context) {
	history := s.sim.AnalysisHistory()
	if sym := strings.TrimSpace(c.Query("symbol")); sym != "" {
		sym = strings.ToUpper(sym)
		filtered := history[:0:0]
		for _, a := range history {
			if a.Symbol == sym {
				filtered = append(filtered, a)
			}
		}
		history = filtered
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

type barView struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// handleMarketData 返回日线与指标列；预热期的 NaN 输出为 null。
func (s *Server) handleMarketData(c *gin.Context) {
	tail, err := strconv.Atoi(c.DefaultQuery("tail", "0"))
	if err != nil || tail < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tail 非法"})
		return
	}
	data, err := s.sim.MarketData(c.Request.Context(), backtest.MarketRequest{
		Symbol:    c.Param("symbol"),
		Profile:   c.Query("profile"),
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if tail > 0 {
		data = data.Tail(tail)
	}
	bars := make([]barView, data.Len())
	for i, b := range data.Bars {
		bars[i] = barView{Date: b.Key(), Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	indicators := make(map[string][]*float64)
	for _, name := range data.Columns() {
		switch name {
		case indicator.ColOpen, indicator.ColHigh, indicator.ColLow, indicator.ColClose, indicator.ColVolume:
			continue
		}
		col, _ := data.Column(name)
		values := make([]*float64, len(col))
		for i, v := range col {
			if indicator.Valid(v) {
				values[i] = &v
			}
		}
		indicators[name] = values
	}
	c.JSON(http.StatusOK, gin.H{"symbol": data.Symbol, "count": len(bars), "bars": bars, "indicators": indicators})
}

func (s *Server) handleProfiles(c *gin.Context) {
	if s.profiles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "策略组合未启用"})
		return
	}
	snap := s.profiles.Snapshot()
	list := make([]loader.ProfileDefinition, 0, len(snap.Profiles))
	for _, name := range snap.Names() {
		list = append(list, snap.Profiles[name])
	}
	c.JSON(http.StatusOK, gin.H{"version": snap.Version, "loaded_at": snap.LoadedAt, "profiles": list})
}

func (s *Server) handleManifest(c *gin.Context) {
	if s.manifests == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "本地行情库未启用"})
		return
	}
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 必填"})
		return
	}
	info, err := s.manifests.Manifest(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

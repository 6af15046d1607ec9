package loader

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"quantsim/internal/config"
	"quantsim/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// ProfileDefinition 描述一组可复用的策略组合，可覆盖信号阈值。
type ProfileDefinition struct {
	Name            string                  `toml:"-" json:"name"`
	Description     string                  `toml:"description" json:"description,omitempty"`
	SignalThreshold float64                 `toml:"signal_threshold" json:"signal_threshold,omitempty"`
	Strategies      []config.StrategyConfig `toml:"strategies" json:"strategies"`
	Default         bool                    `toml:"default" json:"default"`
}

// FileConfig 是完整的 profile 配置文件结构。
type FileConfig struct {
	Profiles map[string]ProfileDefinition `toml:"profiles"`
}

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]ProfileDefinition
}

// Names 返回按字母排序的 profile 名称。
func (s ProfileSnapshot) Names() []string {
	out := make([]string, 0, len(s.Profiles))
	for name := range s.Profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve 按名称查找 profile；名称为空时返回标记为 default 的 profile。
func (s ProfileSnapshot) Resolve(name string) (ProfileDefinition, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" {
		def, ok := s.Profiles[name]
		return def, ok
	}
	for _, n := range s.Names() {
		if def := s.Profiles[n]; def.Default {
			return def, true
		}
	}
	return ProfileDefinition{}, false
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(ProfileSnapshot)

// ProfileLoader 从 YAML 文件加载策略组合，并监听热更新。
type ProfileLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

// NewProfileLoader 读取配置文件；watch 为 true 时开始监听 FS 事件。
func NewProfileLoader(path string, watch bool) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	loader := &ProfileLoader{path: path, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	if watch {
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := loader.reload(); err != nil {
				logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
				return
			}
			loader.notify()
		})
		v.WatchConfig()
	}
	return loader, nil
}

// Snapshot 返回当前配置快照（深拷贝）。
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go safeCall(fn, snap)
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go safeCall(fn, snap)
	}
}

func safeCall(fn ChangeListener, snap ProfileSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("profile listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *ProfileLoader) reload() error {
	var fileCfg FileConfig
	if err := l.v.Unmarshal(&fileCfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return fmt.Errorf("parse profile config failed: %w", err)
	}
	normalized := make(map[string]ProfileDefinition, len(fileCfg.Profiles))
	for name, def := range fileCfg.Profiles {
		norm, err := normalizeProfileDefinition(name, def)
		if err != nil {
			return err
		}
		normalized[norm.Name] = norm
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: normalized,
	}
	l.mu.Unlock()
	logger.Infof("Profile loader reloaded %d profiles from %s", len(normalized), filepath.Base(l.path))
	return nil
}

func normalizeProfileDefinition(name string, def ProfileDefinition) (ProfileDefinition, error) {
	def.Name = strings.ToLower(strings.TrimSpace(name))
	def.Description = strings.TrimSpace(def.Description)
	if def.SignalThreshold < 0 || def.SignalThreshold > 1 {
		return def, fmt.Errorf("profile %s: signal_threshold must be in [0, 1]", def.Name)
	}
	if len(def.Strategies) == 0 {
		return def, fmt.Errorf("profile %s: strategies cannot be empty", def.Name)
	}
	strategies := make([]config.StrategyConfig, 0, len(def.Strategies))
	for _, s := range def.Strategies {
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		if s.Kind == "" {
			return def, fmt.Errorf("profile %s: strategy kind cannot be empty", def.Name)
		}
		s.Params = cloneParams(s.Params)
		strategies = append(strategies, s)
	}
	def.Strategies = strategies
	return def, nil
}

func cloneParams(src map[string]float64) map[string]float64 {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	dst := ProfileSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]ProfileDefinition, len(src.Profiles)),
	}
	for name, def := range src.Profiles {
		def.Strategies = append([]config.StrategyConfig(nil), def.Strategies...)
		dst.Profiles[name] = def
	}
	return dst
}

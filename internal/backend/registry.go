package backend

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artifact-vault/artifact-vault/internal/cache"
	"github.com/artifact-vault/artifact-vault/internal/config"
)

// Deps 汇总所有引擎共享的依赖，由启动层构造一次后注入各实例。
type Deps struct {
	Store  cache.Store
	Client *http.Client
	Logger *logrus.Logger
	// Timeout 是全局上游超时，后端自身未覆盖时生效。
	Timeout time.Duration
}

// Factory 根据单条后端配置构造引擎实例。
type Factory func(cfg config.BackendConfig, deps Deps) (Backend, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// Register 将引擎工厂加入全局注册表，重复键会返回错误。
func Register(typeKey string, factory Factory) error {
	normalized := strings.ToLower(strings.TrimSpace(typeKey))
	if normalized == "" {
		return fmt.Errorf("backend type is required")
	}
	if factory == nil {
		return fmt.Errorf("backend factory is required")
	}

	factoryMu.Lock()
	defer factoryMu.Unlock()

	if _, exists := factories[normalized]; exists {
		return fmt.Errorf("backend type %s already registered", normalized)
	}
	factories[normalized] = factory
	return nil
}

// MustRegister 在注册失败时 panic，适合引擎包 init() 中调用。
func MustRegister(typeKey string, factory Factory) {
	if err := Register(typeKey, factory); err != nil {
		panic(err)
	}
}

// Types 返回所有已注册的引擎类型，供配置校验与诊断输出使用。
func Types() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	result := make([]string, 0, len(factories))
	for key := range factories {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}

// Registered 报告某个引擎类型是否可用。
func Registered(typeKey string) bool {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	_, ok := factories[strings.ToLower(strings.TrimSpace(typeKey))]
	return ok
}

// Build 按配置顺序构造后端列表。路由层按同样顺序做首个前缀匹配，
// 因此配置顺序即分发优先级。
func Build(cfgs []config.BackendConfig, deps Deps) ([]Backend, error) {
	backends := make([]Backend, 0, len(cfgs))
	for i := range cfgs {
		cfg := cfgs[i]
		typeKey := strings.ToLower(strings.TrimSpace(cfg.Type))

		factoryMu.RLock()
		factory, ok := factories[typeKey]
		factoryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("backend %s: unknown type %q (known: %s)",
				cfg.DisplayName(), cfg.Type, strings.Join(Types(), "|"))
		}

		b, err := factory(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", cfg.DisplayName(), err)
		}
		backends = append(backends, b)
	}
	return backends, nil
}

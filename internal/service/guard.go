package service

import (
	"context"
	"sync"

	"gacha-admin/internal/metrics"
)

type GuardState string

const (
	GuardLoading GuardState = "loading"
	GuardAllowed GuardState = "allowed"
	GuardDenied  GuardState = "denied"
)

// Redirect 拒绝时跳转到 not-found，并替换当前历史记录
type Redirect struct {
	To      string `json:"to"`
	Replace bool   `json:"replace"`
}

type GuardDecision struct {
	State    GuardState `json:"state"`
	Path     string     `json:"path"`
	Redirect *Redirect  `json:"redirect,omitempty"`
}

// Guard 路由守卫；NotFoundPath 自身总是放行，避免重定向循环
type Guard struct {
	NotFoundPath string
}

func NewGuard(notFoundPath string) Guard {
	if notFoundPath == "" {
		notFoundPath = "/404"
	}
	return Guard{NotFoundPath: notFoundPath}
}

// Evaluate 单次判定；拒绝时总是携带重定向
func (g Guard) Evaluate(r *Resolver, path string) GuardDecision {
	d := GuardDecision{Path: path}
	switch {
	case r == nil || r.IsLoading():
		d.State = GuardLoading
	case path == g.NotFoundPath || r.Unrestricted() || r.HasAccessToPath(path):
		d.State = GuardAllowed
	default:
		d.State = GuardDenied
		d.Redirect = &Redirect{To: g.NotFoundPath, Replace: true}
	}
	metrics.GuardDecisions.WithLabelValues(string(d.State)).Inc()
	return d
}

// Navigation 一个客户端会话内的守卫状态机。每次路径变化从 loading 重新开始，
// 进入 denied 时只发出一次重定向。
type Navigation struct {
	guard    Guard
	resolver *Resolver

	mu         sync.Mutex
	path       string
	state      GuardState
	redirected bool
}

func (g Guard) Start(r *Resolver, path string) (*Navigation, GuardDecision) {
	n := &Navigation{guard: g, resolver: r}
	return n, n.Navigate(path)
}

// Navigate 路径变化
func (n *Navigation) Navigate(path string) GuardDecision {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.path = path
	n.state = GuardLoading
	n.redirected = false
	return n.evaluateLocked()
}

// Refresh 同一路径重新判定，通常在 resolver 完成后调用
func (n *Navigation) Refresh() GuardDecision {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.evaluateLocked()
}

// Settle 仍在 loading 时等待 resolver 完成（或 ctx 结束）后重新判定
func (n *Navigation) Settle(ctx context.Context) GuardDecision {
	n.mu.Lock()
	r, st := n.resolver, n.state
	n.mu.Unlock()
	if st == GuardLoading && r != nil && r.IsLoading() {
		_ = r.Wait(ctx)
	}
	return n.Refresh()
}

// SetResolver 身份或授权变化后替换 resolver，并重新判定当前路径
func (n *Navigation) SetResolver(r *Resolver) GuardDecision {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolver = r
	n.state = GuardLoading
	n.redirected = false
	return n.evaluateLocked()
}

func (n *Navigation) State() GuardState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Navigation) evaluateLocked() GuardDecision {
	d := n.guard.Evaluate(n.resolver, n.path)
	n.state = d.State
	if d.State == GuardDenied {
		if n.redirected {
			d.Redirect = nil
		}
		n.redirected = true
	}
	return d
}

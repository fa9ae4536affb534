package service

import (
	"context"
	"errors"
	"sync"

	"gacha-admin/internal/domain/menutree"
	"gacha-admin/internal/domain/model"
)

var ErrNoIdentity = errors.New("no identity")

// Resolver 某个身份一次解析的结果。加载完成前所有判定返回 false，
// 调用方需要先看 IsLoading 区分“加载中”和“无权限”。
type Resolver struct {
	identity     *model.AdminUser
	unrestricted bool
	done         chan struct{}

	// 以下字段在 done 关闭前写入，关闭后只读
	tree  *menutree.Tree
	paths map[string]struct{}
	codes map[string]struct{}
	err   error
}

// NewResolver 已完成的 Resolver
func NewResolver(identity *model.AdminUser, tree *menutree.Tree, err error) *Resolver {
	r, settle := NewPendingResolver(identity)
	settle(tree, err)
	return r
}

// NewPendingResolver 返回加载中的 Resolver 及其完成函数；完成函数只生效一次
func NewPendingResolver(identity *model.AdminUser) (*Resolver, func(*menutree.Tree, error)) {
	r := &Resolver{identity: identity, unrestricted: model.IsUnrestricted(identity), done: make(chan struct{})}
	var once sync.Once
	return r, func(tree *menutree.Tree, err error) {
		once.Do(func() {
			r.tree, r.err = tree, err
			if err == nil {
				r.paths = tree.FindPaths()
				r.codes = tree.FindCodes()
			}
			close(r.done)
		})
	}
}

func (r *Resolver) Identity() *model.AdminUser { return r.identity }

func (r *Resolver) Unrestricted() bool { return r.unrestricted }

func (r *Resolver) IsLoading() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Done 加载完成时关闭
func (r *Resolver) Done() <-chan struct{} { return r.done }

// Wait 阻塞到加载完成或 ctx 结束
func (r *Resolver) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err 加载失败原因；加载中返回 nil
func (r *Resolver) Err() error {
	if r.IsLoading() {
		return nil
	}
	return r.err
}

// Tree super_admin 或加载中/失败时为 nil
func (r *Resolver) Tree() *menutree.Tree {
	if r.IsLoading() {
		return nil
	}
	return r.tree
}

// HasAccessToPath 精确匹配，不做前缀或通配
func (r *Resolver) HasAccessToPath(path string) bool {
	if r.IsLoading() || r.err != nil {
		return false
	}
	if r.unrestricted {
		return true
	}
	if path == "" {
		return false
	}
	_, ok := r.paths[path]
	return ok
}

func (r *Resolver) HasAccessToCode(code string) bool {
	if r.IsLoading() || r.err != nil {
		return false
	}
	if r.unrestricted {
		return true
	}
	_, ok := r.codes[code]
	return ok
}

// Package menutree 菜单树快照：节点按 id 存于 arena，父子关系只保存 id 引用，
// 所有遍历都用显式栈完成，不依赖递归深度。
package menutree

import (
	"sort"

	"gacha-admin/internal/domain/model"
)

type node struct {
	menu     model.Menu
	children []string
}

// Tree 一次查询/会话内不可变的菜单树
type Tree struct {
	nodes map[string]*node
	roots []string
}

func newTree(capacity int) *Tree {
	return &Tree{nodes: make(map[string]*node, capacity)}
}

// FromNested 由仓库返回的嵌套结构构建；重复出现的 id 连同其子树忽略
func FromNested(list []model.MenuNode) *Tree {
	t := newTree(len(list))
	type frame struct {
		id  string
		src *model.MenuNode
	}
	stack := make([]frame, 0, len(list))
	for i := range list {
		src := &list[i]
		if _, dup := t.nodes[src.ID]; dup {
			continue
		}
		t.nodes[src.ID] = &node{menu: src.Menu}
		t.roots = append(t.roots, src.ID)
		stack = append(stack, frame{id: src.ID, src: src})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		parent := t.nodes[f.id]
		for i := range f.src.Children {
			child := &f.src.Children[i]
			if _, dup := t.nodes[child.ID]; dup {
				continue
			}
			t.nodes[child.ID] = &node{menu: child.Menu}
			parent.children = append(parent.children, child.ID)
			stack = append(stack, frame{id: child.ID, src: child})
		}
	}
	t.sortAll()
	return t
}

// FromFlat 由扁平行按 parent_id 构建。父节点缺失或处于环上的条目连同子树视为不存在。
func FromFlat(list []model.Menu) *Tree {
	index := make(map[string]model.Menu, len(list))
	children := make(map[string][]string, len(list))
	var roots []string
	for _, m := range list {
		if _, dup := index[m.ID]; dup {
			continue
		}
		index[m.ID] = m
		if m.IsRoot() {
			roots = append(roots, m.ID)
			continue
		}
		children[m.ParentValue()] = append(children[m.ParentValue()], m.ID)
	}
	t := newTree(len(index))
	stack := make([]string, 0, len(roots))
	for _, id := range roots {
		t.nodes[id] = &node{menu: index[id]}
		t.roots = append(t.roots, id)
		stack = append(stack, id)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		parent := t.nodes[id]
		for _, cid := range children[id] {
			if _, seen := t.nodes[cid]; seen {
				continue
			}
			t.nodes[cid] = &node{menu: index[cid]}
			parent.children = append(parent.children, cid)
			stack = append(stack, cid)
		}
	}
	t.sortAll()
	return t
}

// display_order 升序，相同则按创建时间，再相同保持输入顺序
func (t *Tree) sortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := t.nodes[ids[i]].menu, t.nodes[ids[j]].menu
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (t *Tree) sortAll() {
	t.sortIDs(t.roots)
	for _, n := range t.nodes {
		if len(n.children) > 1 {
			t.sortIDs(n.children)
		}
	}
}

func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

func (t *Tree) Empty() bool { return t.Len() == 0 }

func (t *Tree) Contains(id string) bool {
	if t == nil {
		return false
	}
	_, ok := t.nodes[id]
	return ok
}

func (t *Tree) Get(id string) (model.Menu, bool) {
	if t == nil {
		return model.Menu{}, false
	}
	n, ok := t.nodes[id]
	if !ok {
		return model.Menu{}, false
	}
	return n.menu, true
}

// walk 前序遍历：父节点先于子节点，子节点按排序顺序访问；已访问节点跳过
func (t *Tree) walk(start []string, visit func(n *node)) {
	if t == nil {
		return
	}
	visited := make(map[string]struct{}, len(t.nodes))
	stack := make([]string, 0, len(start))
	for i := len(start) - 1; i >= 0; i-- {
		stack = append(stack, start[i])
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[id]; seen {
			continue
		}
		n, ok := t.nodes[id]
		if !ok {
			continue
		}
		visited[id] = struct{}{}
		visit(n)
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
}

// Flatten 前序展开，每个节点恰好一次
func (t *Tree) Flatten() []model.Menu {
	out := make([]model.Menu, 0, t.Len())
	if t == nil {
		return out
	}
	t.walk(t.roots, func(n *node) { out = append(out, n.menu) })
	return out
}

func (t *Tree) ExtractIDs() map[string]struct{} {
	set := make(map[string]struct{}, t.Len())
	if t == nil {
		return set
	}
	t.walk(t.roots, func(n *node) { set[n.menu.ID] = struct{}{} })
	return set
}

// FindPaths 无 path 的节点不参与
func (t *Tree) FindPaths() map[string]struct{} {
	set := make(map[string]struct{}, t.Len())
	if t == nil {
		return set
	}
	t.walk(t.roots, func(n *node) {
		if p := n.menu.PathValue(); p != "" {
			set[p] = struct{}{}
		}
	})
	return set
}

func (t *Tree) FindCodes() map[string]struct{} {
	set := make(map[string]struct{}, t.Len())
	if t == nil {
		return set
	}
	t.walk(t.roots, func(n *node) {
		if n.menu.Code != "" {
			set[n.menu.Code] = struct{}{}
		}
	})
	return set
}

// Descendants 返回 id 及其全部后代（前序）；id 不存在返回 nil
func (t *Tree) Descendants(id string) []string {
	if !t.Contains(id) {
		return nil
	}
	var out []string
	t.walk([]string{id}, func(n *node) { out = append(out, n.menu.ID) })
	return out
}

// Nested 还原嵌套结构用于接口输出。按前序逆序构建，子节点总是先于父节点完成。
func (t *Tree) Nested() []model.MenuNode {
	if t == nil || len(t.roots) == 0 {
		return []model.MenuNode{}
	}
	var order []*node
	t.walk(t.roots, func(n *node) { order = append(order, n) })
	built := make(map[string]model.MenuNode, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		mn := model.MenuNode{Menu: n.menu}
		if len(n.children) > 0 {
			mn.Children = make([]model.MenuNode, 0, len(n.children))
			for _, cid := range n.children {
				if c, ok := built[cid]; ok {
					mn.Children = append(mn.Children, c)
				}
			}
		}
		built[n.menu.ID] = mn
	}
	out := make([]model.MenuNode, 0, len(t.roots))
	for _, id := range t.roots {
		out = append(out, built[id])
	}
	return out
}

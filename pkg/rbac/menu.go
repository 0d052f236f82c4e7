package rbac

import (
	"context"
	"fmt"
	"sort"

	"github.com/dwp-platform/guard/pkg/observability"
)

// Menu groups
const (
	MenuGroupManagement = "MANAGEMENT"
	MenuGroupApps       = "APPS"
	MenuGroupOther      = "OTHER"
)

// MenuGroupName returns the display name of a menu group code
func MenuGroupName(group string) string {
	switch group {
	case MenuGroupManagement:
		return "Management"
	case MenuGroupApps:
		return "Apps"
	default:
		return "Other"
	}
}

// MenuNode is a menu with its visible children
type MenuNode struct {
	Menu
	Children []*MenuNode `json:"children,omitempty"`
}

// MenuGroupIndex lists the roots that belong to one menu group
type MenuGroupIndex struct {
	Group string      `json:"group"`
	Name  string      `json:"name"`
	Roots []*MenuNode `json:"roots"`
}

// MenuForest is the navigation tree a user may see
type MenuForest struct {
	Roots  []*MenuNode      `json:"roots"`
	Groups []MenuGroupIndex `json:"groups"`
}

// Keys returns every menu key in the forest in depth-first order
func (f *MenuForest) Keys() []string {
	var keys []string
	var walk func(nodes []*MenuNode)
	walk = func(nodes []*MenuNode) {
		for _, n := range nodes {
			keys = append(keys, n.MenuKey)
			walk(n.Children)
		}
	}
	walk(f.Roots)
	return keys
}

// decisionSource yields a user's Decisions
type decisionSource interface {
	Decisions(ctx context.Context, tenantID, userID int64) (*Decisions, error)
}

// MenuBuilder assembles the menu tree from VIEW grants on MENU resources
type MenuBuilder struct {
	decisions decisionSource
	menus     MenuReader
}

// NewMenuBuilder creates a builder
func NewMenuBuilder(decisions decisionSource, menus MenuReader) *MenuBuilder {
	return &MenuBuilder{decisions: decisions, menus: menus}
}

// ResolveMenuTree builds the user's menu forest. A user without roles gets an empty forest.
func (b *MenuBuilder) ResolveMenuTree(ctx context.Context, tenantID, userID int64) (*MenuForest, error) {
	d, err := b.decisions.Decisions(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	forest := &MenuForest{Roots: []*MenuNode{}, Groups: []MenuGroupIndex{}}
	if len(d.Roles) == 0 {
		return forest, nil
	}

	allowed := d.AllowedKeys(ResourceMenu, PermissionView)
	if len(allowed) == 0 {
		return forest, nil
	}

	menus, err := b.menus.ListMenus(ctx)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to load menus")
		return nil, fmt.Errorf("failed to list menus: %w", err)
	}

	forest = BuildMenuForest(menus, allowed)
	observability.FromContext(ctx).Debugf("menu tree resolved with %d roots", len(forest.Roots))
	return forest, nil
}

// BuildMenuForest assembles the forest of menus whose key is in allowedKeys,
// plus every ancestor of such a menu.
func BuildMenuForest(menus []Menu, allowedKeys []string) *MenuForest {
	byKey := make(map[string]Menu, len(menus))
	for _, m := range menus {
		byKey[m.MenuKey] = m
	}

	included := make(map[string]bool)
	for _, key := range allowedKeys {
		m, ok := byKey[key]
		if !ok {
			continue
		}
		included[key] = true

		// Walk the full parent chain; the step bound stops cycles
		for steps := 0; m.ParentMenuKey != "" && steps < len(menus); steps++ {
			parent, ok := byKey[m.ParentMenuKey]
			if !ok || included[parent.MenuKey] {
				break
			}
			included[parent.MenuKey] = true
			m = parent
		}
	}

	nodes := make(map[string]*MenuNode, len(included))
	for key := range included {
		nodes[key] = &MenuNode{Menu: byKey[key]}
	}

	forest := &MenuForest{Roots: []*MenuNode{}, Groups: []MenuGroupIndex{}}
	for _, node := range nodes {
		parent, ok := nodes[node.ParentMenuKey]
		if node.ParentMenuKey == "" || !ok || parent == node {
			forest.Roots = append(forest.Roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	// Cycles leave nodes unreachable from any root; promote one member of each
	reachable := make(map[string]bool)
	markReachable(forest.Roots, reachable)
	for _, key := range sortedMenuKeys(nodes) {
		if reachable[key] {
			continue
		}
		node := nodes[key]
		if parent, ok := nodes[node.ParentMenuKey]; ok {
			parent.Children = removeNode(parent.Children, node)
		}
		forest.Roots = append(forest.Roots, node)
		markReachable([]*MenuNode{node}, reachable)
	}

	sortMenuNodes(forest.Roots)
	for _, root := range forest.Roots {
		inheritChildPath(root)
	}

	groupPos := make(map[string]int)
	for _, root := range forest.Roots {
		group := root.MenuGroup
		if group == "" {
			group = MenuGroupOther
		}
		pos, ok := groupPos[group]
		if !ok {
			pos = len(forest.Groups)
			groupPos[group] = pos
			forest.Groups = append(forest.Groups, MenuGroupIndex{Group: group, Name: MenuGroupName(group)})
		}
		forest.Groups[pos].Roots = append(forest.Groups[pos].Roots, root)
	}

	return forest
}

// sortMenuNodes orders siblings by sort order, then menu key, recursively
func sortMenuNodes(nodes []*MenuNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].SortOrder != nodes[j].SortOrder {
			return nodes[i].SortOrder < nodes[j].SortOrder
		}
		return nodes[i].MenuKey < nodes[j].MenuKey
	})
	for _, n := range nodes {
		sortMenuNodes(n.Children)
	}
}

// inheritChildPath gives a parent without a path the path of its first child
func inheritChildPath(node *MenuNode) {
	for _, child := range node.Children {
		inheritChildPath(child)
	}
	if node.Path == "" && len(node.Children) > 0 {
		node.Path = node.Children[0].Path
	}
}

func markReachable(nodes []*MenuNode, seen map[string]bool) {
	for _, n := range nodes {
		if seen[n.MenuKey] {
			continue
		}
		seen[n.MenuKey] = true
		markReachable(n.Children, seen)
	}
}

func removeNode(nodes []*MenuNode, target *MenuNode) []*MenuNode {
	out := nodes[:0]
	for _, n := range nodes {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

func sortedMenuKeys(nodes map[string]*MenuNode) []string {
	keys := make([]string, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

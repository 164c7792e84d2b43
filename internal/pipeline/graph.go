package pipeline

import (
	"fmt"
	"strings"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/models"
	"wisefido-actigraphy/internal/module"
)

// node 依赖图中的一个模块
type node struct {
	module     module.Module
	spec       models.ModuleSpec
	deps       []int    // 上游模块下标（去重）
	unresolved []string // 没有生产者的依赖指标
	blocked    string   // 非空表示模块永久不可用及其原因
}

// Graph 以指标名为边的模块依赖图
// 构建时完成环检测并缓存分层拓扑序，运行期间只读
type Graph struct {
	nodes     []node
	producers map[string]int
	levels    [][]int
}

// BuildGraph 构建依赖图
// strict 为 true 时依赖无法解析即为配置错误，否则相关模块在运行时记为 skipped-dependency
func BuildGraph(modules []module.Module, strict bool) (*Graph, error) {
	g := &Graph{
		nodes:     make([]node, len(modules)),
		producers: make(map[string]int),
	}

	names := make(map[string]struct{}, len(modules))
	for i, m := range modules {
		spec := m.Spec()
		if spec.Name == "" {
			return nil, pipeerrors.Configf(pipeerrors.ErrInvalidOption, "pipeline", "module %d has no name", i)
		}
		if _, dup := names[spec.Name]; dup {
			return nil, pipeerrors.Configf(pipeerrors.ErrDuplicateModule, "pipeline", "module %q listed twice", spec.Name)
		}
		names[spec.Name] = struct{}{}
		g.nodes[i] = node{module: m, spec: spec}

		for _, metric := range spec.Produces {
			if prev, dup := g.producers[metric]; dup {
				return nil, pipeerrors.Configf(pipeerrors.ErrDuplicateProducer, "pipeline",
					"metric %q produced by %q and %q", metric, g.nodes[prev].spec.Name, spec.Name)
			}
			g.producers[metric] = i
		}
	}

	for i := range g.nodes {
		n := &g.nodes[i]
		seen := make(map[int]struct{})
		for _, req := range n.spec.Requires {
			p, ok := g.producers[req]
			if !ok {
				n.unresolved = append(n.unresolved, req)
				continue
			}
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				n.deps = append(n.deps, p)
			}
		}
		if len(n.unresolved) > 0 && strict {
			return nil, pipeerrors.Configf(pipeerrors.ErrUnresolvedDependency, "pipeline",
				"module %q requires %s with no producer", n.spec.Name, strings.Join(n.unresolved, ", "))
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, pipeerrors.Configf(pipeerrors.ErrCyclicDependency, "pipeline", "%s", strings.Join(cycle, " -> "))
	}
	g.buildLevels()
	return g, nil
}

const (
	white = iota // 未访问
	grey         // 在当前 DFS 路径上
	black        // 已完成
)

// findCycle DFS 三色标记，返回环上的模块名（首尾相同），无环返回 nil
func (g *Graph) findCycle() []string {
	color := make([]int, len(g.nodes))
	var path []int
	var cycle []string

	var visit func(i int) bool
	visit = func(i int) bool {
		color[i] = grey
		path = append(path, i)
		for _, d := range g.nodes[i].deps {
			switch color[d] {
			case grey:
				start := 0
				for k, p := range path {
					if p == d {
						start = k
						break
					}
				}
				for _, p := range path[start:] {
					cycle = append(cycle, g.nodes[p].spec.Name)
				}
				cycle = append(cycle, g.nodes[d].spec.Name)
				return true
			case white:
				if visit(d) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[i] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && visit(i) {
			return cycle
		}
	}
	return nil
}

// buildLevels 按最长上游路径分层，层内保持模块列表顺序；同时向下游传播不可用状态
func (g *Graph) buildLevels() {
	level := make([]int, len(g.nodes))
	done := make([]bool, len(g.nodes))

	var depth func(i int) int
	depth = func(i int) int {
		if done[i] {
			return level[i]
		}
		l := 0
		for _, d := range g.nodes[i].deps {
			l = max(l, depth(d)+1)
		}
		level[i], done[i] = l, true
		return l
	}

	maxLevel := 0
	for i := range g.nodes {
		maxLevel = max(maxLevel, depth(i))
	}
	g.levels = make([][]int, maxLevel+1)
	for i := range g.nodes {
		g.levels[level[i]] = append(g.levels[level[i]], i)
	}
	if len(g.nodes) == 0 {
		g.levels = nil
	}

	for _, lvl := range g.levels {
		for _, i := range lvl {
			n := &g.nodes[i]
			if len(n.unresolved) > 0 {
				n.blocked = fmt.Sprintf("no module produces %s", strings.Join(n.unresolved, ", "))
				continue
			}
			for _, d := range n.deps {
				if g.nodes[d].blocked != "" {
					n.blocked = fmt.Sprintf("upstream module %q unavailable", g.nodes[d].spec.Name)
					break
				}
			}
		}
	}
}

// Levels 分层执行顺序（模块名），同层模块互不依赖
func (g *Graph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for l, lvl := range g.levels {
		for _, i := range lvl {
			out[l] = append(out[l], g.nodes[i].spec.Name)
		}
	}
	return out
}

// Unavailable 永久不可用的模块及原因
func (g *Graph) Unavailable() map[string]string {
	out := make(map[string]string)
	for _, n := range g.nodes {
		if n.blocked != "" {
			out[n.spec.Name] = n.blocked
		}
	}
	return out
}

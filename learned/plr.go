package learned

import (
	"learnedkv/utils"

	"github.com/pkg/errors"
)

/*
	贪心的分段线性回归：
	维护一个锚在sint上的锥[ρ_lower, ρ_upper]，每个新点把锥收紧；
	新点落在锥外时取两条边的平分线作为这一段的(k, b)，从新点重新开始；
	训练结束后每个训练点的预测误差不超过±gamma
*/

type point struct {
	x float64
	y float64
}

// y = a*x + b
type line struct {
	a float64
	b float64
}

// 训练产出的一段：x在[X, X2]上预测为K*x + B
type Segment struct {
	X  float64
	K  float64
	B  float64
	X2 float64
}

// 过两点的直线
func getLine(p1, p2 point) line {
	a := (p2.y - p1.y) / (p2.x - p1.x)
	return line{a: a, b: p1.y - a*p1.x}
}

// 两条直线的交点
func intersection(l1, l2 line) point {
	x := (l2.b - l1.b) / (l1.a - l2.a)
	return point{x: x, y: l1.a*x + l1.b}
}

// 严格在线上方/下方；正好压线算在锥内
func isAbove(pt point, l line) bool {
	return pt.y > l.a*pt.x+l.b
}
func isBelow(pt point, l line) bool {
	return pt.y < l.a*pt.x+l.b
}

func upperBound(pt point, gamma float64) point {
	return point{x: pt.x, y: pt.y + gamma}
}
func lowerBound(pt point, gamma float64) point {
	return point{x: pt.x, y: pt.y - gamma}
}

type plrState int

const (
	stateNeed1 plrState = iota
	stateNeed2
	stateReady
)

// 一次处理一个点的贪心PLR状态机
type GreedyPLR struct {
	state    plrState
	gamma    float64
	lastPt   point
	s0       point
	s1       point
	rhoLower line
	rhoUpper line
	sint     point
}

func NewGreedyPLR(gamma float64) *GreedyPLR {
	return &GreedyPLR{
		state: stateNeed1,
		gamma: gamma,
	}
}

// 以当前锥的平分线封装一段
func (g *GreedyPLR) currentSegment() Segment {
	k := (g.rhoLower.a + g.rhoUpper.a) / 2
	return Segment{
		X:  g.s0.x,
		K:  k,
		B:  g.sint.y - k*g.sint.x,
		X2: g.lastPt.x,
	}
}

// 由s0、s1建立初始的锥
func (g *GreedyPLR) setup() {
	g.rhoLower = getLine(upperBound(g.s0, g.gamma), lowerBound(g.s1, g.gamma))
	g.rhoUpper = getLine(lowerBound(g.s0, g.gamma), upperBound(g.s1, g.gamma))
	g.sint = intersection(g.rhoUpper, g.rhoLower)
}

// 喂入一个点，x必须严格递增；锥被破坏时返回封装好的一段
func (g *GreedyPLR) Process(x, y float64) (Segment, bool, error) {
	if g.state != stateNeed1 && x <= g.lastPt.x {
		return Segment{}, false, errors.Wrapf(utils.ErrNotAscending, "x=%v after %v", x, g.lastPt.x)
	}
	pt := point{x: x, y: y}

	switch g.state {
	case stateNeed1:
		g.s0 = pt
		g.lastPt = pt
		g.state = stateNeed2
		return Segment{}, false, nil

	case stateNeed2:
		g.s1 = pt
		g.setup()
		g.lastPt = pt
		g.state = stateReady
		return Segment{}, false, nil

	case stateReady:
		if isAbove(pt, g.rhoUpper) || isBelow(pt, g.rhoLower) {
			// 锥被破坏，封装当前段，从pt重新开始
			seg := g.currentSegment()
			g.s0 = pt
			g.lastPt = pt
			g.state = stateNeed2
			return seg, true, nil
		}
		// 收紧：只在新的边界更紧时替换
		if sUpper := upperBound(pt, g.gamma); isBelow(sUpper, g.rhoUpper) {
			g.rhoUpper = getLine(g.sint, sUpper)
		}
		if sLower := lowerBound(pt, g.gamma); isAbove(sLower, g.rhoLower) {
			g.rhoLower = getLine(g.sint, sLower)
		}
		g.lastPt = pt
		return Segment{}, false, nil
	}
	return Segment{}, false, nil
}

// 冲刷未完成的段；need2的退化情形给一条过s0的水平线
func (g *GreedyPLR) Finish() (Segment, bool) {
	switch g.state {
	case stateNeed1:
		return Segment{}, false
	case stateNeed2:
		g.state = stateNeed1
		return Segment{
			X:  g.s0.x,
			K:  0,
			B:  g.s0.y,
			X2: g.lastPt.x,
		}, true
	case stateReady:
		g.state = stateNeed1
		return g.currentSegment(), true
	}
	return Segment{}, false
}

// 批量训练：keys已按升序排好，y取下标
type PLR struct {
	gamma float64
}

func NewPLR(gamma float64) *PLR {
	return &PLR{gamma: gamma}
}

func (p *PLR) Train(keys []float64) ([]Segment, error) {
	var segments []Segment
	g := NewGreedyPLR(p.gamma)
	for i, x := range keys {
		seg, ok, err := g.Process(x, float64(i))
		if err != nil {
			return nil, err
		}
		if ok {
			segments = append(segments, seg)
		}
	}
	if seg, ok := g.Finish(); ok {
		segments = append(segments, seg)
	}
	return segments, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

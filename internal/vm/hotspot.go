// hotspot.go - 热点检测
//
// 统计方法的解释执行次数，达到阈值后交给 JIT 编译。

package vm

import (
	"sort"

	"go.uber.org/atomic"

	"github.com/tangzhangming/novajit/internal/bytecode"
)

// HotspotState 热点状态
type HotspotState int32

const (
	HotspotCold     HotspotState = iota // 冷代码（低于阈值的十分之一）
	HotspotWarm                         // 温代码（接近热点）
	HotspotHot                          // 热点代码（尚未编译）
	HotspotCompiled                     // 已编译（JIT）
)

func (s HotspotState) String() string {
	switch s {
	case HotspotWarm:
		return "warm"
	case HotspotHot:
		return "hot"
	case HotspotCompiled:
		return "compiled"
	}
	return "cold"
}

// MethodProfile 方法性能档案，记录解释执行的调用次数
type MethodProfile struct {
	Method    *bytecode.Method
	CallCount atomic.Int64
	state     atomic.Int32
}

// State 返回热点状态
func (p *MethodProfile) State() HotspotState {
	return HotspotState(p.state.Load())
}

// HotspotDetector 热点检测器
// 档案只在宿主 goroutine 中创建，计数器可以在任意 goroutine 中读取。
type HotspotDetector struct {
	threshold int64
	profiles  map[*bytecode.Method]*MethodProfile
	onHot     func(*MethodProfile)

	hot      atomic.Int64
	compiled atomic.Int64
}

// NewHotspotDetector 创建热点检测器
// 阈值为 0 时任何方法都不会变热。
func NewHotspotDetector(threshold int64) *HotspotDetector {
	return &HotspotDetector{
		threshold: threshold,
		profiles:  make(map[*bytecode.Method]*MethodProfile),
	}
}

// OnHot 设置方法变热时的回调，每个方法只回调一次
func (hd *HotspotDetector) OnHot(fn func(*MethodProfile)) {
	hd.onHot = fn
}

// RecordCall 记录一次调用，返回方法当前是否为热点
func (hd *HotspotDetector) RecordCall(m *bytecode.Method) bool {
	p := hd.profile(m)
	n := p.CallCount.Inc()
	if hd.threshold <= 0 {
		return false
	}
	switch p.State() {
	case HotspotCold:
		if n >= hd.threshold/10 {
			p.state.Store(int32(HotspotWarm))
		}
		if n < hd.threshold {
			return false
		}
		fallthrough
	case HotspotWarm:
		if n < hd.threshold {
			return false
		}
		p.state.Store(int32(HotspotHot))
		hd.hot.Inc()
		if hd.onHot != nil {
			hd.onHot(p)
		}
		return true
	case HotspotHot:
		return true
	}
	return false
}

// MarkCompiled 标记方法已编译
func (hd *HotspotDetector) MarkCompiled(m *bytecode.Method) {
	p := hd.profile(m)
	if p.state.Swap(int32(HotspotCompiled)) != int32(HotspotCompiled) {
		hd.compiled.Inc()
	}
}

// Profile 获取方法档案，从未调用过时返回 nil
func (hd *HotspotDetector) Profile(m *bytecode.Method) *MethodProfile {
	return hd.profiles[m]
}

// IsHot 检查方法是否达到阈值
func (hd *HotspotDetector) IsHot(m *bytecode.Method) bool {
	p := hd.profiles[m]
	return p != nil && p.State() >= HotspotHot
}

// HotMethods 获取热点方法列表（按调用次数降序）
func (hd *HotspotDetector) HotMethods() []*MethodProfile {
	var out []*MethodProfile
	for _, p := range hd.profiles {
		if p.State() >= HotspotHot {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].CallCount.Load(), out[j].CallCount.Load()
		if ci != cj {
			return ci > cj
		}
		return out[i].Method.Name < out[j].Method.Name
	})
	return out
}

func (hd *HotspotDetector) profile(m *bytecode.Method) *MethodProfile {
	if p, ok := hd.profiles[m]; ok {
		return p
	}
	p := &MethodProfile{Method: m}
	hd.profiles[m] = p
	return p
}

// HotspotStats 热点统计
type HotspotStats struct {
	Methods  int   `json:"methods"`
	Hot      int64 `json:"hot"`
	Compiled int64 `json:"compiled"`
}

// Stats 获取统计信息
func (hd *HotspotDetector) Stats() HotspotStats {
	return HotspotStats{
		Methods:  len(hd.profiles),
		Hot:      hd.hot.Load(),
		Compiled: hd.compiled.Load(),
	}
}

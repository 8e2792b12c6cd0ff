package learned

import (
	"encoding/binary"
	"math"
	"sort"
	"sync/atomic"
)

// 把用户key映射到模型坐标：取前8个byte按大端解释，不足右侧补零。
// 对前缀差异在8字节内的key保持单调
func KeyToNumber(userKey []byte) float64 {
	var buf [8]byte
	copy(buf[:], userKey)
	return float64(binary.BigEndian.Uint64(buf[:]))
}

// 一个table文件训练好的模型：有序的段 + 训练参数
type LearnedIndexData struct {
	fileNumber uint64
	gamma      float64
	segments   []Segment
	// 训练后实测的残差修正，和gamma一起决定查询范围宽度
	delta      float64
	numEntries uint64
	version    uint64
	trained    int32
}

// 是否训练完成
func (m *LearnedIndexData) Trained() bool {
	return m != nil && atomic.LoadInt32(&m.trained) == 1
}

// 对训练数据复核一遍预测误差，超出gamma的部分记为delta
func (m *LearnedIndexData) measureResidual(keys []float64) {
	maxResid := 0.0
	for i, x := range keys {
		pred := m.predict(x)
		if r := math.Abs(pred - float64(i)); r > maxResid {
			maxResid = r
		}
	}
	if maxResid > m.gamma {
		m.delta = maxResid - m.gamma
	}
}

// 找到覆盖x的段并求预测位置
func (m *LearnedIndexData) predict(x float64) float64 {
	// 段按X2升序，取第一个X2 >= x的段；x越界时用端上的段外推
	i := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].X2 >= x
	})
	if i == len(m.segments) {
		i = len(m.segments) - 1
	}
	seg := m.segments[i]
	return seg.K*x + seg.B
}

// 查询key可能所在的位置闭区间[lower, upper]。
// 只要模型是在这个文件上训练的，真实位置一定落在区间内
func (m *LearnedIndexData) GetPosition(userKey []byte) (lower, upper uint64, ok bool) {
	if !m.Trained() || m.numEntries == 0 {
		return 0, 0, false
	}
	pred := m.predict(KeyToNumber(userKey))
	spread := m.gamma + m.delta

	lo := math.Floor(pred - spread)
	hi := math.Ceil(pred + spread)
	max := float64(m.numEntries - 1)
	if hi < 0 {
		hi = 0
	}
	if lo < 0 {
		lo = 0
	}
	if lo > max {
		lo = max
	}
	if hi > max {
		hi = max
	}
	return uint64(lo), uint64(hi), true
}

package table

import (
	"learnedkv/utils"

	"github.com/pkg/errors"
)

// filter策略；Name()会拼进metaindex的key，两侧必须一致
type FilterPolicy interface {
	Name() string
	CreateFilter(keys [][]byte) []byte
	// 不允许假阴性
	KeyMayMatch(key, filter []byte) bool
}

// 基于utils里bloomFilter的默认策略
type BloomFilterPolicy struct {
	bitsPerKey int
}

func NewBloomFilterPolicy(bitsPerKey int) *BloomFilterPolicy {
	return &BloomFilterPolicy{bitsPerKey: bitsPerKey}
}

func (p *BloomFilterPolicy) Name() string {
	return "learnedkv.BloomFilter"
}

func (p *BloomFilterPolicy) CreateFilter(keys [][]byte) []byte {
	return utils.NewFilterFromKeys(keys, p.bitsPerKey)
}

func (p *BloomFilterPolicy) KeyMayMatch(key, filter []byte) bool {
	return utils.Filter(filter).MayContainKey(key)
}

/*
	filter block布局：
	+--------------------------------------------------------------------------+
	| filter 0 | filter 1 | ... | offset数组(4B each) | 数组起点(4B) | baseLg(1B) |
	+--------------------------------------------------------------------------+
	文件内每 1<<baseLg 字节的block偏移共享一个filter
*/
type filterBlockBuilder struct {
	policy  FilterPolicy
	keys    [][]byte
	result  []byte
	offsets []uint32
}

func newFilterBlockBuilder(policy FilterPolicy) *filterBlockBuilder {
	return &filterBlockBuilder{policy: policy}
}

// 在开始写offset处的data block之前调用
func (fb *filterBlockBuilder) StartBlock(blockOffset uint64) {
	filterIndex := int(blockOffset >> utils.FilterBaseLg)
	utils.CondPanic(filterIndex < len(fb.offsets), errors.New("filter block offset went backwards"))
	for filterIndex > len(fb.offsets) {
		fb.generate()
	}
}

func (fb *filterBlockBuilder) AddKey(key []byte) {
	fb.keys = append(fb.keys, append([]byte(nil), key...))
}

// 封装当前积累的key为一个filter
func (fb *filterBlockBuilder) generate() {
	fb.offsets = append(fb.offsets, uint32(len(fb.result)))
	if len(fb.keys) == 0 {
		// 空档位共享offset，不产出filter数据
		return
	}
	fb.result = append(fb.result, fb.policy.CreateFilter(fb.keys)...)
	fb.keys = fb.keys[:0]
}

func (fb *filterBlockBuilder) Finish() []byte {
	if len(fb.keys) > 0 {
		fb.generate()
	}
	arrayStart := uint32(len(fb.result))
	for _, off := range fb.offsets {
		fb.result = append(fb.result, utils.Uint32ToBytes(off)...)
	}
	fb.result = append(fb.result, utils.Uint32ToBytes(arrayStart)...)
	fb.result = append(fb.result, byte(utils.FilterBaseLg))
	return fb.result
}

// filter block的读取侧
type FilterBlockReader struct {
	policy FilterPolicy
	data   []byte
	// offset数组的起点
	offsetStart int
	num         int
	baseLg      uint
}

func NewFilterBlockReader(policy FilterPolicy, data []byte) (*FilterBlockReader, error) {
	if len(data) < 5 {
		return nil, errors.Wrap(utils.ErrCorruption, "filter block too small")
	}
	baseLg := uint(data[len(data)-1])
	offsetStart := int(utils.Bytes2Uint32(data[len(data)-5:]))
	if offsetStart > len(data)-5 {
		return nil, errors.Wrap(utils.ErrCorruption, "filter block offset array")
	}
	return &FilterBlockReader{
		policy:      policy,
		data:        data,
		offsetStart: offsetStart,
		num:         (len(data) - 5 - offsetStart) / utils.U32Size,
		baseLg:      baseLg,
	}, nil
}

// blockOffset是data block在文件中的起始偏移
func (fr *FilterBlockReader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	index := int(blockOffset >> fr.baseLg)
	if index >= fr.num {
		// 超界时不做判断，当作可能存在
		return true
	}
	start := int(utils.Bytes2Uint32(fr.data[fr.offsetStart+index*utils.U32Size:]))
	limit := int(utils.Bytes2Uint32(fr.data[fr.offsetStart+(index+1)*utils.U32Size:]))
	if start == limit {
		// 这个档位没有任何key
		return false
	}
	if start > limit || limit > fr.offsetStart {
		return true
	}
	return fr.policy.KeyMayMatch(key, fr.data[start:limit])
}

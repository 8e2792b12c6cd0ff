package table

import (
	"encoding/binary"

	"learnedkv/utils"

	"github.com/pkg/errors"
)

/*
	block 外 -> 内
	+----------------------------------------------------+
	| numRestarts | restartOffsets |      entry(k-v)s    |
	+----------------------------------------------------+
	entry前缀压缩编码：
	+---------------------------------------------------+
	| value | key diff | valueLen | nonShared | shared  |
	+---------------------------------------------------+
	三个长度都是uvarint；每个restart点上shared == 0
*/
type block struct {
	data          []byte
	restartOffset int
	numRestarts   int
}

// 解析block尾部的restart数组
func newBlock(data []byte) (*block, error) {
	if len(data) < utils.U32Size {
		return nil, errors.Wrap(utils.ErrCorruption, "block too small")
	}
	numRestarts := int(utils.Bytes2Uint32(data[len(data)-utils.U32Size:]))
	restartOffset := len(data) - utils.U32Size - numRestarts*utils.U32Size
	if numRestarts <= 0 || restartOffset < 0 {
		return nil, errors.Wrapf(utils.ErrCorruption, "block restart array: num=%d", numRestarts)
	}
	return &block{
		data:          data,
		restartOffset: restartOffset,
		numRestarts:   numRestarts,
	}, nil
}

func (b *block) restartPoint(i int) int {
	return int(utils.Bytes2Uint32(b.data[b.restartOffset+i*utils.U32Size:]))
}

// 解码一条entry的三个长度头，返回头的长度
func decodeEntryHeader(data []byte) (shared, nonShared, valueLen uint64, headerLen int, err error) {
	var n int
	shared, n = binary.Uvarint(data)
	if n <= 0 {
		return 0, 0, 0, 0, errors.Wrap(utils.ErrCorruption, "decode entry shared")
	}
	headerLen = n
	nonShared, n = binary.Uvarint(data[headerLen:])
	if n <= 0 {
		return 0, 0, 0, 0, errors.Wrap(utils.ErrCorruption, "decode entry nonshared")
	}
	headerLen += n
	valueLen, n = binary.Uvarint(data[headerLen:])
	if n <= 0 {
		return 0, 0, 0, 0, errors.Wrap(utils.ErrCorruption, "decode entry valuelen")
	}
	headerLen += n
	return shared, nonShared, valueLen, headerLen, nil
}

// 学习路径用的entry解码：entry定长且要求shared == 0，
// 返回完整的key和value
func DecodeFixedEntry(data []byte) (key, value []byte, err error) {
	shared, nonShared, valueLen, headerLen, err := decodeEntryHeader(data)
	if err != nil {
		return nil, nil, err
	}
	if shared != 0 {
		return nil, nil, errors.Wrapf(utils.ErrEntryCorruption, "shared=%d", shared)
	}
	if headerLen+int(nonShared)+int(valueLen) > len(data) {
		return nil, nil, errors.Wrap(utils.ErrEntryCorruption, "entry beyond buffer")
	}
	key = data[headerLen : headerLen+int(nonShared)]
	value = data[headerLen+int(nonShared) : headerLen+int(nonShared)+int(valueLen)]
	return key, value, nil
}

// block内的迭代器
type blockIterator struct {
	block *block
	cmp   utils.Comparator
	// 下一条entry在data中的offset
	nextOffset int
	key        []byte
	value      []byte
	valid      bool
	err        error
}

func newBlockIterator(b *block, cmp utils.Comparator) *blockIterator {
	return &blockIterator{
		block: b,
		cmp:   cmp,
	}
}

// 定位到restart点i
func (it *blockIterator) seekToRestart(i int) {
	it.key = it.key[:0]
	it.nextOffset = it.block.restartPoint(i)
	it.valid = false
}

// 解析nextOffset处的entry，成功后迭代器停在这条entry上
func (it *blockIterator) parseNext() bool {
	if it.err != nil || it.nextOffset >= it.block.restartOffset {
		it.valid = false
		return false
	}
	data := it.block.data[it.nextOffset:it.block.restartOffset]
	shared, nonShared, valueLen, headerLen, err := decodeEntryHeader(data)
	if err != nil {
		it.err = err
		it.valid = false
		return false
	}
	if int(shared) > len(it.key) || headerLen+int(nonShared)+int(valueLen) > len(data) {
		it.err = errors.Wrap(utils.ErrCorruption, "malformed block entry")
		it.valid = false
		return false
	}
	// 前缀部分复用上一条key
	it.key = append(it.key[:shared], data[headerLen:headerLen+int(nonShared)]...)
	it.value = data[headerLen+int(nonShared) : headerLen+int(nonShared)+int(valueLen)]
	it.nextOffset += headerLen + int(nonShared) + int(valueLen)
	it.valid = true
	return true
}

func (it *blockIterator) Rewind() {
	it.err = nil
	it.seekToRestart(0)
	it.parseNext()
}

func (it *blockIterator) Next() {
	if !it.valid {
		return
	}
	it.parseNext()
}

// 定位到第一条key >= target的entry
func (it *blockIterator) Seek(target []byte) {
	it.err = nil
	// 先在restart点上二分，找到最后一个key < target的restart
	lo, hi := 0, it.block.numRestarts-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		it.seekToRestart(mid)
		if !it.parseNext() {
			return
		}
		if it.cmp(it.key, target) < 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	it.seekToRestart(lo)
	// 再线性前进
	for it.parseNext() {
		if it.cmp(it.key, target) >= 0 {
			return
		}
	}
}

func (it *blockIterator) Valid() bool {
	return it.valid && it.err == nil
}

func (it *blockIterator) Key() []byte {
	return it.key
}

func (it *blockIterator) Value() []byte {
	return it.value
}

func (it *blockIterator) Error() error {
	return it.err
}

func (it *blockIterator) Item() utils.Item {
	return &utils.Entry{
		Key:     it.key,
		Value:   it.value,
		Version: utils.ParseTimeStamp(it.key),
	}
}

func (it *blockIterator) Close() error {
	return nil
}

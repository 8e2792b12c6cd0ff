package table

import (
	"learnedkv/utils"

	"github.com/pkg/errors"
)

// 两层迭代器：index block定位data block，block内逐条前进
type tableIterator struct {
	t    *Table
	idx  *blockIterator
	data *blockIterator
	err  error
}

// 创建迭代器
func (t *Table) NewIterator() utils.Iterator {
	return &tableIterator{
		t:   t,
		idx: newBlockIterator(t.index, t.cmp),
	}
}

// 根据index当前指向的handle加载data block
func (it *tableIterator) loadDataBlock() bool {
	it.data = nil
	if !it.idx.Valid() {
		return false
	}
	handle, n := DecodeBlockHandle(it.idx.Value())
	if n == 0 {
		it.err = errors.Wrap(utils.ErrCorruption, "decode index handle")
		return false
	}
	blockData, err := readBlock(it.t.f, handle, it.t.opt.VerifyChecksums)
	if err != nil {
		it.err = err
		return false
	}
	b, err := newBlock(blockData)
	if err != nil {
		it.err = err
		return false
	}
	it.data = newBlockIterator(b, it.t.cmp)
	return true
}

func (it *tableIterator) Rewind() {
	it.err = nil
	it.idx.Rewind()
	if it.loadDataBlock() {
		it.data.Rewind()
	}
	it.skipEmpty()
}

func (it *tableIterator) Seek(key []byte) {
	it.err = nil
	it.idx.Seek(key)
	if it.loadDataBlock() {
		it.data.Seek(key)
	}
	it.skipEmpty()
}

func (it *tableIterator) Next() {
	if it.data == nil {
		return
	}
	it.data.Next()
	it.skipEmpty()
}

// data block耗尽时前进到下一个block
func (it *tableIterator) skipEmpty() {
	for it.err == nil && (it.data == nil || !it.data.Valid()) {
		if it.data == nil && !it.idx.Valid() {
			return
		}
		it.idx.Next()
		if !it.idx.Valid() {
			it.data = nil
			return
		}
		if it.loadDataBlock() {
			it.data.Rewind()
		}
	}
}

func (it *tableIterator) Valid() bool {
	return it.err == nil && it.data != nil && it.data.Valid()
}

func (it *tableIterator) Item() utils.Item {
	return it.data.Item()
}

func (it *tableIterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.idx.Error() != nil {
		return it.idx.Error()
	}
	if it.data != nil {
		return it.data.Error()
	}
	return nil
}

func (it *tableIterator) Close() error {
	return nil
}

package table

import (
	"bytes"

	"learnedkv/file"
	"learnedkv/utils"

	"github.com/pkg/errors"
)

// 读结果的回调；Accept最多被调用一次有效命中，
// Found用来提前终止上层的block遍历
type Acceptor interface {
	Accept(key, value []byte)
	Found() bool
}

// 解析好footer和index、可以提供查询的table文件
type Table struct {
	opt    *Options
	cmp    utils.Comparator
	f      file.RandomAccessFile
	size   uint64
	footer *Footer
	index  *block
	filter *FilterBlockReader
}

// metaindex的key是普通字符串，不带timestamp
func rawCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// 打开一个table：footer -> index，按需加载filter。
// 任何解码失败都视为损坏；file的所有权仍在调用方
func Open(opt *Options, f file.RandomAccessFile, size uint64) (*Table, error) {
	if size < uint64(utils.FooterSize) {
		return nil, errors.Wrapf(utils.ErrCorruption, "file too small for footer: %d", size)
	}
	footerData, err := f.Read(size-uint64(utils.FooterSize), utils.FooterSize, nil)
	if err != nil {
		return nil, errors.Wrap(err, "read footer")
	}
	footer, err := DecodeFooter(footerData)
	if err != nil {
		return nil, err
	}

	indexData, err := readBlock(f, footer.Index, opt.VerifyChecksums)
	if err != nil {
		return nil, errors.Wrap(err, "read index block")
	}
	index, err := newBlock(indexData)
	if err != nil {
		return nil, err
	}

	t := &Table{
		opt:    opt,
		cmp:    opt.internalCompare(),
		f:      f,
		size:   size,
		footer: footer,
		index:  index,
	}
	if opt.UseFilter && opt.FilterPolicy != nil {
		// filter读不出来只是退化成全量查询，不算打开失败
		if filter, err := t.readFilter(); err == nil {
			t.filter = filter
		}
	}
	return t, nil
}

// 从metaindex中找到filter block并构建读取器
func (t *Table) readFilter() (*FilterBlockReader, error) {
	return ReadFilter(t.opt, t.f, t.footer)
}

// ReadFilter 按footer定位metaindex，取出filter block。
// 配置了filter策略时对应的条目必须存在且完全匹配
func ReadFilter(opt *Options, f file.RandomAccessFile, footer *Footer) (*FilterBlockReader, error) {
	metaData, err := readBlock(f, footer.MetaIndex, opt.VerifyChecksums)
	if err != nil {
		return nil, err
	}
	metaBlock, err := newBlock(metaData)
	if err != nil {
		return nil, err
	}
	filterName := []byte(utils.FilterMetaPrefix + opt.FilterPolicy.Name())
	it := newBlockIterator(metaBlock, rawCompare)
	it.Seek(filterName)
	if !it.Valid() || !bytes.Equal(it.Key(), filterName) {
		return nil, errors.Wrapf(utils.ErrCorruption, "filter entry %s not found", filterName)
	}
	handle, n := DecodeBlockHandle(it.Value())
	if n == 0 {
		return nil, errors.Wrap(utils.ErrCorruption, "decode filter handle")
	}
	filterData, err := readBlock(f, handle, opt.VerifyChecksums)
	if err != nil {
		return nil, err
	}
	return NewFilterBlockReader(opt.FilterPolicy, filterData)
}

// 通过index定位data block做点查；key存在时调用acc.Accept一次，
// 不存在不算错误
func (t *Table) InternalGet(key []byte, acc Acceptor) error {
	idxIter := newBlockIterator(t.index, t.cmp)
	idxIter.Seek(key)
	if !idxIter.Valid() {
		return idxIter.Error()
	}
	handle, n := DecodeBlockHandle(idxIter.Value())
	if n == 0 {
		return errors.Wrap(utils.ErrCorruption, "decode index handle")
	}

	if t.filter != nil && !t.filter.KeyMayMatch(handle.Offset, utils.ParseKey(key)) {
		return nil
	}

	data, err := readBlock(t.f, handle, t.opt.VerifyChecksums)
	if err != nil {
		return err
	}
	b, err := newBlock(data)
	if err != nil {
		return err
	}
	it := newBlockIterator(b, t.cmp)
	it.Seek(key)
	if it.Valid() {
		acc.Accept(it.Key(), it.Value())
	}
	return it.Error()
}

// 遍历全部entry，把(userKey, 位置)交给add；训练路径用
func (t *Table) FillData(add func(userKey []byte, pos int)) error {
	it := t.NewIterator()
	defer func() { _ = it.Close() }()
	pos := 0
	for it.Rewind(); it.Valid(); it.Next() {
		add(utils.ParseKey(it.Item().Entry().Key), pos)
		pos++
	}
	return it.(*tableIterator).Error()
}

// table自身不持有file，关闭由缓存的deleter负责
func (t *Table) Close() error {
	return nil
}

package table

import (
	"os"

	"learnedkv/utils"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

/*
	table文件整体布局：前 ---> 后
	+--------------------------------------------------------------------------+
	| data block 0 | data block 1 | ... | filter | metaindex | index | footer  |
	+--------------------------------------------------------------------------+
	data block按BlockSize定长摆放(内容+trailer后补零)，学习路径依赖这个跨度；
	每个data block固定BlockNumEntries条entry，entry定长且shared == 0
*/

// 记录一个data block在index中的条目
type indexEntry struct {
	lastKey []byte
	handle  BlockHandle
}

// Builder将整个table文件构建在内存中，Finish后写出
type Builder struct {
	opt *Options
	cmp utils.Comparator

	buf []byte
	// 当前data block的起点和restart记录
	curStart     int
	entryOffsets []uint32
	curEntries   int

	entrySize  int
	lastKey    []byte
	numEntries int

	indexEntries  []indexEntry
	filterBuilder *filterBlockBuilder
	finished      bool
}

func NewBuilder(opt *Options) *Builder {
	b := &Builder{
		opt:      opt,
		cmp:      opt.internalCompare(),
		curStart: -1,
	}
	if opt.FilterPolicy != nil {
		b.filterBuilder = newFilterBlockBuilder(opt.FilterPolicy)
	}
	return b
}

// 追加一条entry，key必须严格递增
func (b *Builder) Add(key, value []byte) error {
	utils.CondPanic(b.finished, errors.New("add after finish"))
	if len(b.lastKey) > 0 && b.cmp(key, b.lastKey) <= 0 {
		return errors.Wrapf(utils.ErrNotAscending, "key out of order")
	}

	if b.curStart < 0 {
		b.curStart = len(b.buf)
		utils.CondPanic(b.opt.BlockSize > 0 && b.curStart%b.opt.BlockSize != 0,
			errors.New("data block not aligned"))
		if b.filterBuilder != nil {
			b.filterBuilder.StartBlock(uint64(b.curStart))
		}
	}

	b.entryOffsets = append(b.entryOffsets, uint32(len(b.buf)-b.curStart))
	encoded := b.appendEntry(key, value)

	// 学习路径依赖entry定长，第一条entry确定长度后其余必须一致
	if b.entrySize == 0 {
		b.entrySize = encoded
		if b.opt.EntrySize > 0 && b.opt.EntrySize != encoded {
			return errors.Wrapf(utils.ErrEntryCorruption,
				"entry size %d, configured %d", encoded, b.opt.EntrySize)
		}
	} else if encoded != b.entrySize {
		return errors.Wrapf(utils.ErrEntryCorruption,
			"entry size %d, previous %d", encoded, b.entrySize)
	}

	if b.filterBuilder != nil {
		b.filterBuilder.AddKey(utils.ParseKey(key))
	}
	b.lastKey = utils.SafeCopy(b.lastKey, key)
	b.numEntries++
	b.curEntries++

	if b.curEntries >= b.opt.BlockNumEntries {
		return b.finishDataBlock()
	}
	return nil
}

// entry编码，shared恒为0，也就是每条entry都是restart点
func (b *Builder) appendEntry(key, value []byte) int {
	start := len(b.buf)
	b.buf = appendUvarint(b.buf, 0)
	b.buf = appendUvarint(b.buf, uint64(len(key)))
	b.buf = appendUvarint(b.buf, uint64(len(value)))
	b.buf = append(b.buf, key...)
	b.buf = append(b.buf, value...)
	return len(b.buf) - start
}

// 封装当前data block：restart数组 + trailer，再补零到BlockSize
func (b *Builder) finishDataBlock() error {
	if b.curStart < 0 || len(b.entryOffsets) == 0 {
		return nil
	}
	for _, off := range b.entryOffsets {
		b.buf = append(b.buf, utils.Uint32ToBytes(off)...)
	}
	b.buf = append(b.buf, utils.Uint32ToBytes(uint32(len(b.entryOffsets)))...)

	handle := BlockHandle{
		Offset: uint64(b.curStart),
		Size:   uint64(len(b.buf) - b.curStart),
	}
	b.appendTrailer(b.curStart, utils.NoCompression)

	// 补零到固定跨度
	used := len(b.buf) - b.curStart
	if used > b.opt.BlockSize {
		return errors.Wrapf(utils.ErrBlockOverflow, "block used %d of %d", used, b.opt.BlockSize)
	}
	b.buf = append(b.buf, make([]byte, b.opt.BlockSize-used)...)

	b.indexEntries = append(b.indexEntries, indexEntry{
		lastKey: append([]byte(nil), b.lastKey...),
		handle:  handle,
	})
	b.curStart = -1
	b.entryOffsets = b.entryOffsets[:0]
	b.curEntries = 0
	return nil
}

// content从start到buf末尾，trailer为压缩类型byte + crc
func (b *Builder) appendTrailer(start int, compression byte) {
	b.buf = append(b.buf, compression)
	crc := utils.CalculateChecksum(b.buf[start:])
	b.buf = append(b.buf, utils.Uint32ToBytes(crc)...)
}

// 写一个非data的block(filter/metaindex/index)，返回handle
func (b *Builder) appendRawBlock(content []byte, compression byte) BlockHandle {
	if compression == utils.SnappyCompression {
		compressed := snappy.Encode(nil, content)
		// 压不动就按原样存
		if len(compressed) < len(content) {
			content = compressed
		} else {
			compression = utils.NoCompression
		}
	}
	handle := BlockHandle{
		Offset: uint64(len(b.buf)),
		Size:   uint64(len(content)),
	}
	start := len(b.buf)
	b.buf = append(b.buf, content...)
	b.appendTrailer(start, compression)
	return handle
}

// 用标准block格式封装一组有序的k-v(用于metaindex和index)
func buildPlainBlock(entries []indexEntry) []byte {
	var buf []byte
	var restarts []uint32
	for _, e := range entries {
		restarts = append(restarts, uint32(len(buf)))
		buf = appendUvarint(buf, 0)
		buf = appendUvarint(buf, uint64(len(e.lastKey)))
		var value []byte
		value = e.handle.EncodeTo(value)
		buf = appendUvarint(buf, uint64(len(value)))
		buf = append(buf, e.lastKey...)
		buf = append(buf, value...)
	}
	if len(restarts) == 0 {
		restarts = append(restarts, 0)
	}
	for _, r := range restarts {
		buf = append(buf, utils.Uint32ToBytes(r)...)
	}
	return append(buf, utils.Uint32ToBytes(uint32(len(restarts)))...)
}

// 封装整个table：filter、metaindex、index、footer
func (b *Builder) Finish() ([]byte, error) {
	utils.CondPanic(b.finished, errors.New("finish twice"))
	if err := b.finishDataBlock(); err != nil {
		return nil, err
	}

	// filter block
	var metaEntries []indexEntry
	if b.filterBuilder != nil {
		filterHandle := b.appendRawBlock(b.filterBuilder.Finish(), utils.NoCompression)
		metaEntries = append(metaEntries, indexEntry{
			lastKey: []byte(utils.FilterMetaPrefix + b.opt.FilterPolicy.Name()),
			handle:  filterHandle,
		})
	}

	// metaindex block
	metaHandle := b.appendRawBlock(buildPlainBlock(metaEntries), b.opt.Compression)

	// index block
	indexHandle := b.appendRawBlock(buildPlainBlock(b.indexEntries), b.opt.Compression)

	footer := Footer{
		MetaIndex: metaHandle,
		Index:     indexHandle,
	}
	b.buf = append(b.buf, footer.Encode()...)
	b.finished = true
	return b.buf, nil
}

// 写出到文件
func (b *Builder) FlushToFile(path string) error {
	data, err := b.Finish()
	if err != nil {
		return err
	}
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, utils.DefaultFileMode)
	if err != nil {
		return errors.Wrapf(err, "create table file %s", path)
	}
	if _, err := fd.Write(data); err != nil {
		_ = fd.Close()
		return errors.Wrapf(err, "write table file %s", path)
	}
	if err := fd.Sync(); err != nil {
		_ = fd.Close()
		return err
	}
	return fd.Close()
}

// entry的实际编码长度，配置EntrySize为0时由这里读出
func (b *Builder) EntrySize() int {
	return b.entrySize
}

func (b *Builder) NumEntries() int {
	return b.numEntries
}

func appendUvarint(dst []byte, v uint64) []byte {
	var buf [10]byte
	n := 0
	for v >= 0x80 {
		buf[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	buf[n] = byte(v)
	return append(dst, buf[:n+1]...)
}

package table

import (
	"encoding/binary"

	"learnedkv/file"
	"learnedkv/utils"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// 指向文件内一个block的位置，Size不包含trailer
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// 编码为两个uvarint，追加到dst上
func (h BlockHandle) EncodeTo(dst []byte) []byte {
	var buf [utils.MaxBlockHandleSize]byte
	n := binary.PutUvarint(buf[:], h.Offset)
	n += binary.PutUvarint(buf[n:], h.Size)
	return append(dst, buf[:n]...)
}

// 解码BlockHandle，返回消耗的字节数，0表示解码失败
func DecodeBlockHandle(data []byte) (BlockHandle, int) {
	offset, n := binary.Uvarint(data)
	if n <= 0 {
		return BlockHandle{}, 0
	}
	size, m := binary.Uvarint(data[n:])
	if m <= 0 {
		return BlockHandle{}, 0
	}
	return BlockHandle{Offset: offset, Size: size}, n + m
}

/*
	footer在文件末尾定长存放：
	+-----------------------------------------------------+
	| metaindex handle | index handle | padding |  magic  |
	+-----------------------------------------------------+
	|<------------- 40 bytes ------------------>|<- 8B  ->|
*/
type Footer struct {
	MetaIndex BlockHandle
	Index     BlockHandle
}

// 编码为定长FooterSize
func (f *Footer) Encode() []byte {
	buf := make([]byte, 0, utils.FooterSize)
	buf = f.MetaIndex.EncodeTo(buf)
	buf = f.Index.EncodeTo(buf)
	// 补齐到定长
	for len(buf) < utils.FooterSize-utils.U64Size {
		buf = append(buf, 0)
	}
	return append(buf, utils.Uint64ToBytes(utils.MagicNumber)...)
}

// 解码footer，魔数不对视为损坏
func DecodeFooter(data []byte) (*Footer, error) {
	if len(data) != utils.FooterSize {
		return nil, errors.Wrapf(utils.ErrCorruption, "footer size %d", len(data))
	}
	if magic := utils.Bytes2Uint64(data[utils.FooterSize-utils.U64Size:]); magic != utils.MagicNumber {
		return nil, errors.Wrapf(utils.ErrCorruption, "bad magic number %x", magic)
	}
	var f Footer
	var n int
	f.MetaIndex, n = DecodeBlockHandle(data)
	if n == 0 {
		return nil, errors.Wrap(utils.ErrCorruption, "decode metaindex handle")
	}
	var m int
	f.Index, m = DecodeBlockHandle(data[n:])
	if m == 0 {
		return nil, errors.Wrap(utils.ErrCorruption, "decode index handle")
	}
	return &f, nil
}

// 读出一个block的内容，剥掉trailer，校验crc并按需解压
func readBlock(f file.RandomAccessFile, h BlockHandle, verify bool) ([]byte, error) {
	n := int(h.Size) + utils.BlockTrailerSize
	if size, err := f.Size(); err == nil && h.Offset+h.Size+utils.BlockTrailerSize > uint64(size) {
		// handle指向了文件之外，说明它本身就是坏的
		return nil, errors.Wrapf(utils.ErrCorruption, "block handle [%d, %d) beyond file size %d",
			h.Offset, h.Offset+h.Size, size)
	}
	raw, err := f.Read(h.Offset, n, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "read block at %d size %d", h.Offset, n)
	}
	if len(raw) < n {
		return nil, errors.Wrapf(utils.ErrCorruption, "truncated block at %d", h.Offset)
	}
	data := raw[:h.Size]
	compression := raw[h.Size]
	if verify {
		expected := utils.Bytes2Uint32(raw[h.Size+1 : h.Size+1+4])
		if err := utils.VerifyChecksum(raw[:h.Size+1], expected); err != nil {
			return nil, errors.Wrapf(err, "block at %d", h.Offset)
		}
	}

	switch compression {
	case utils.NoCompression:
		return data, nil
	case utils.SnappyCompression:
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, errors.Wrapf(utils.ErrCorruption, "snappy decode block at %d: %v", h.Offset, err)
		}
		return decoded, nil
	default:
		return nil, errors.Wrapf(utils.ErrCorruption, "unknown compression type %d", compression)
	}
}

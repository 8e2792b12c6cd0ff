package file

import (
	"io"
	"learnedkv/utils"
	"learnedkv/utils/mmap"
	"os"

	"github.com/pkg/errors"
)

// 用于表示一个通过mmap映射的只读文件
type MmapFile struct {
	// 实际放置数据的[]byte
	Data []byte
	// File唯一标识
	Fd *os.File
}

// 将一个文件按照Mmap的方式只读打开，返回MmapFile的格式
func OpenMmapFile(filename string) (*MmapFile, error) {
	fd, err := os.OpenFile(filename, os.O_RDONLY, utils.DefaultFileMode)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open: %s", filename)
	}
	fi, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, errors.Wrapf(err, "cannot stat file: %s", filename)
	}

	buf, err := mmap.Mmap(fd, fi.Size())
	if err != nil {
		_ = fd.Close()
		return nil, errors.Wrapf(err, "while mmapping %s with size: %d", filename, fi.Size())
	}
	// 顺序预读对footer+index的解析是有利的
	_ = mmap.Madvise(buf, true)
	return &MmapFile{
		Data: buf,
		Fd:   fd,
	}, nil
}

// 实现RandomAccessFile，直接返回映射页上的切片，不发生拷贝
func (m *MmapFile) Read(offset uint64, n int, _ []byte) ([]byte, error) {
	if offset+uint64(n) > uint64(len(m.Data)) {
		return nil, errors.Wrapf(io.EOF, "mmap read at %d size %d beyond %d", offset, n, len(m.Data))
	}
	return m.Data[offset : offset+uint64(n)], nil
}

// 返回文件的大小
func (m *MmapFile) Size() (int64, error) {
	return int64(len(m.Data)), nil
}

// Close 关闭
func (m *MmapFile) Close() error {
	if m.Fd == nil {
		return nil
	}
	if err := mmap.Munmap(m.Data); err != nil {
		_ = m.Fd.Close()
		return err
	}
	return m.Fd.Close()
}

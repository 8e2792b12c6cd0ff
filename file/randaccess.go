package file

import (
	"os"

	"learnedkv/utils"

	"github.com/pkg/errors"
)

// pread实现的随机读文件，不做mmap，每次只按请求的字节数读取，
// 学习路径一次只读取预测出来的一小段；不设置任何预读提示，内核对普通读的预读照常生效
type preadFile struct {
	fd *os.File
}

func (p *preadFile) Read(offset uint64, n int, scratch []byte) ([]byte, error) {
	if n > len(scratch) {
		scratch = make([]byte, n)
	}
	read, err := p.fd.ReadAt(scratch[:n], int64(offset))
	if err != nil {
		return nil, errors.Wrapf(err, "pread %s at %d size %d", p.fd.Name(), offset, n)
	}
	return scratch[:read], nil
}

func (p *preadFile) Size() (int64, error) {
	fi, err := p.fd.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (p *preadFile) Close() error {
	return p.fd.Close()
}

// 打开常规读路径使用的随机读文件
func NewRandomAccessFile(filename string) (RandomAccessFile, error) {
	return OpenMmapFile(filename)
}

// 打开学习路径使用的随机读文件，字节语义与NewRandomAccessFile一致，
// 区别在于用pread代替mmap，不对文件做映射和madvise
func NewRandomAccessFileLearned(filename string) (RandomAccessFile, error) {
	fd, err := os.OpenFile(filename, os.O_RDONLY, utils.DefaultFileMode)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open: %s", filename)
	}
	return &preadFile{fd: fd}, nil
}

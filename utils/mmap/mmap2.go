// 对外暴露的mmap类
package mmap

import "os"

func Mmap(fd *os.File, size int64) ([]byte, error) {
	return mmap(fd, size)
}

func Munmap(data []byte) error {
	return munmap(data)
}

func Madvise(buf []byte, readahead bool) error {
	return madvise(buf, readahead)
}

// 对syscall的封装
package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// 封装mmap，将文件只读映射到用户态内存中，可以直接在返回的[]byte上读取
//
//	void *mmap(void *addr, size_t length, int prot, int flags, int fd, off_t offset);
func mmap(fd *os.File, size int64) ([]byte, error) {
	// 读路径上的table文件是不可变的，只需要PROT_READ
	return unix.Mmap(int(fd.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
}

// 封装munmap，用于解除映射关系
// int munmap(void *addr, size_t length);
func munmap(data []byte) error {
	if len(data) == 0 || len(data) != cap(data) {
		return unix.EINVAL
	}
	_, _, err := unix.Syscall(unix.SYS_MUNMAP,
		uintptr((unsafe.Pointer(&data[0]))),
		uintptr((len(data))),
		0,
	)
	if err != 0 {
		return err
	}
	return nil
}

// 封装madvise，可以用于配合mmap做一个预读操作，避免性能抖动
// int madvise(void *addr, size_t length, int advice);
func madvise(buf []byte, readahead bool) error {
	// 默认参数，预读前15个页和后16个页
	flag := unix.MADV_NORMAL
	// 如果不需要预读
	if !readahead {
		flag = unix.MADV_RANDOM
	}
	return unix.Madvise(buf, flag)
}

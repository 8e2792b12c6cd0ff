package utils

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	gopath = path.Join(os.Getenv("GOPATH"), "src") + "/"
)

// 错误类别，上层通过Is*判断种类，不做字符串匹配
var (
	// ErrKeyNotFound key不存在，不算真正的错误
	ErrKeyNotFound = errors.New("Key not found")
	// ErrCorruption 解码类错误的根，footer/metaindex/index/block解析失败都归于此
	ErrCorruption = errors.New("data corruption")
	// ErrChecksumMismatch block的crc校验失败
	ErrChecksumMismatch = errors.Wrap(ErrCorruption, "checksum mismatch")
	// ErrEntryCorruption 学习路径要求entry定长且shared==0，违反视为损坏
	ErrEntryCorruption = errors.Wrap(ErrCorruption, "entry corruption")
	// ErrModelViolation 模型返回了不可能的范围，属于编程错误或磁盘损坏
	ErrModelViolation = errors.New("learned model invariant violation")
	// ErrNotAscending PLR训练要求x严格递增
	ErrNotAscending = errors.New("points not strictly ascending")
	// ErrBlockOverflow builder写入的block超过了固定的block大小
	ErrBlockOverflow = errors.New("block geometry overflow")
)

// 判断err的根因是不是损坏类错误
func IsCorruption(err error) bool {
	for e := err; e != nil; {
		if e == ErrCorruption {
			return true
		}
		cause, ok := e.(interface{ Cause() error })
		if !ok {
			return false
		}
		e = cause.Cause()
	}
	return false
}

func Panic(err error) {
	if err != nil {
		panic(err)
	}
}
func CondPanic(condition bool, err error) {
	if condition {
		Panic(err)
	}
}
func AssertTrue(b bool) {
	if !b {
		log.Fatalf("%+v", errors.Errorf("Assert failed"))
	}
}
func AssertTruef(b bool, fmt string, args ...interface{}) {
	if !b {
		log.Fatalf("%+v", errors.Errorf(fmt, args...))
	}
}
func location(deep int, fullPath bool) string {
	_, file, line, ok := runtime.Caller(deep)
	if !ok {
		file = "???"
		line = 0
	}

	if fullPath {
		if strings.HasPrefix(file, gopath) {
			file = file[len(gopath):]
		}
	} else {
		file = filepath.Base(file)
	}
	return file + ":" + strconv.Itoa(line)
}

// Err err
func Err(err error) error {
	if err != nil {
		fmt.Printf("%s %s\n", location(2, true), err)
	}
	return err
}

// key处理相关

package utils

import (
	"bytes"
	"encoding/binary"
	"math"
)

// 用户key的比较器，默认按字节序
type Comparator func(a, b []byte) int

// 获取realKey
func ParseKey(sourceKey []byte) (realKey []byte) {
	if len(sourceKey) <= 8 {
		realKey = sourceKey
		return
	}
	// 后8位是timestamp
	realKey = sourceKey[:len(sourceKey)-8]
	return
}

// 获取timestamp
func ParseTimeStamp(sourceKey []byte) (timestamp uint64) {
	if len(sourceKey) <= 8 {
		timestamp = 0
		return
	}
	// timestamp在后8位
	timestamp = math.MaxUint64 - binary.BigEndian.Uint64(sourceKey[len(sourceKey)-8:])
	return
}

// 判断是不是相同的key
func IsSameKey(key1, key2 []byte) bool {
	// 只考虑realKey部分
	return bytes.Equal(ParseKey(key1), ParseKey(key2))
}

// 为key添加上TimeStamp
func KeyWithTS(key []byte, ts uint64) []byte {
	res := make([]byte, len(key)+8)
	copy(res, key)
	// 取反存储，同一个key下版本大的排前面
	binary.BigEndian.PutUint64(res[len(key):], math.MaxUint64-ts)
	return res
}

// 先比较realKey，再比较timestamp部分
func CompareKeys(key1, key2 []byte) int {
	if c := bytes.Compare(ParseKey(key1), ParseKey(key2)); c != 0 {
		return c
	}
	if len(key1) <= 8 || len(key2) <= 8 {
		return len(key1) - len(key2)
	}
	return bytes.Compare(key1[len(key1)-8:], key2[len(key2)-8:])
}

// 根据用户key比较器构造内部key比较器
func InternalCompare(userCmp Comparator) Comparator {
	if userCmp == nil {
		return CompareKeys
	}
	return func(key1, key2 []byte) int {
		if c := userCmp(ParseKey(key1), ParseKey(key2)); c != 0 {
			return c
		}
		if len(key1) <= 8 || len(key2) <= 8 {
			return len(key1) - len(key2)
		}
		return bytes.Compare(key1[len(key1)-8:], key2[len(key2)-8:])
	}
}

// copy
func SafeCopy(needKey, key []byte) []byte {
	return append(needKey[:0], key...)
}

package utils

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// 将byte数组转化为uint32，大端直接读取
func Bytes2Uint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// 将byte数组转化为uint64，大端直接读取
func Bytes2Uint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// 将uint32转化为byte数组
func Uint32ToBytes(u32 uint32) []byte {
	buf := make([]byte, U32Size)
	binary.BigEndian.PutUint32(buf, u32)
	return buf
}

// 将uint64转化为byte数组
func Uint64ToBytes(u64 uint64) []byte {
	buf := make([]byte, U64Size)
	binary.BigEndian.PutUint64(buf, u64)
	return buf
}

// 缓存key用的定长编码，插入和查询两侧保持一致即可
func EncodeFixed64(fileNumber uint64) []byte {
	return Uint64ToBytes(fileNumber)
}

// 计算checksum
func CalculateChecksum(data []byte) uint32 {
	return crc32.Checksum(data, CastagnoliCrcTable)
}

// 校验checksum
func VerifyChecksum(data []byte, expected uint32) error {
	if actual := CalculateChecksum(data); actual != expected {
		return errors.Wrapf(ErrChecksumMismatch, "actual: %d, expected: %d", actual, expected)
	}
	return nil
}

package utils

import (
	"hash/crc32"
	"math"
	"unsafe"
)

// 点查时作为seek key的timestamp，保证定位到同一user key下最新的版本
const MaxTimestamp uint64 = math.MaxUint64

// table文件
const (
	// TableFileExt 默认的sstable文件后缀
	TableFileExt = ".sst"
	// LegacyTableFileExt 旧版本写出的文件后缀，打开时作为回退
	LegacyTableFileExt = ".ldb"
	// DefaultFileMode _
	DefaultFileMode = 0666
)

// table文件编码
const (
	// MagicNumber footer结尾的魔数
	MagicNumber uint64 = 0x8775f2c1db974fb5
	// FooterSize footer定长：两个BlockHandle(varint，补齐到40) + 8字节魔数
	FooterSize = 48
	// BlockTrailerSize 每个block后的压缩类型(1) + crc32(4)
	BlockTrailerSize = 5
	// MaxBlockHandleSize 两个uvarint64的上限
	MaxBlockHandleSize = 10 + 10
	// FilterBaseLg filter block中每2KB文件偏移对应一个filter
	FilterBaseLg = 11
	// FilterMetaPrefix metaindex中filter条目的key前缀
	FilterMetaPrefix = "filter."
)

// block压缩类型，记录在trailer的第一个byte
const (
	NoCompression     byte = 0
	SnappyCompression byte = 1
)

// codec
var (
	// CastagnoliCrcTable is a CRC32 polynomial table
	CastagnoliCrcTable = crc32.MakeTable(crc32.Castagnoli)
)

const U32Size = int(unsafe.Sizeof(uint32(0)))
const U64Size = int(unsafe.Sizeof(uint64(0)))

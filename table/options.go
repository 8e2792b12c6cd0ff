package table

import "learnedkv/utils"

// table的配置，构建和读取两侧共用；整库不可变
type Options struct {
	// 每个data block固定的entry个数
	BlockNumEntries int
	// data block在文件中的固定字节跨度，block会被补齐到这个长度
	BlockSize int
	// entry的固定编码长度，0表示由builder根据第一个entry推断
	EntrySize int
	// 是否加载和查询filter block
	UseFilter bool
	// filter策略，Name()参与metaindex的key
	FilterPolicy FilterPolicy
	// index/metaindex block的压缩方式，data block始终不压缩
	Compression byte
	// 读block时是否校验crc
	VerifyChecksums bool
	// 用户key比较器，nil表示按字节序
	Comparator utils.Comparator
}

// 内部key比较器
func (o *Options) internalCompare() utils.Comparator {
	return utils.InternalCompare(o.Comparator)
}

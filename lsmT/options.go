package lsmt

import (
	"learnedkv/table"
	"learnedkv/utils"

	"github.com/prometheus/client_golang/prometheus"
)

// 读路径启用学习索引的两个模式值
const (
	ModeLearnedCold = 6
	ModeLearnedWarm = 7
)

// Options 读路径总的配置文件，构造后不可变；
// 运行期还需要可变的开关放到持有方的atomic字段上，不放这里
type Options struct {
	WorkDir string // table文件的保存目录
	Entries int    // handle缓存的容量，以打开的table个数计
	FDLimit int    // file+filter缓存的容量，受fd上限约束

	UseFilter    bool               // 是否加载和查询filter block
	FilterPolicy table.FilterPolicy // filter策略

	BlockNumEntries int // 每个data block的entry个数
	BlockSize       int // data block的字节跨度
	EntrySize       int // entry的定长编码长度

	Mode            int              // 6/7时启用学习路径
	Gamma           float64          // PLR训练的误差界
	Comparator      utils.Comparator // 用户key比较器，nil为字节序
	VerifyChecksums bool

	// 为nil时指标只计数不注册
	Registerer prometheus.Registerer
}

// NewDefaultOptions 返回默认的options
func NewDefaultOptions(workDir string) *Options {
	return &Options{
		WorkDir:         workDir,
		Entries:         1024,
		FDLimit:         900,
		UseFilter:       true,
		FilterPolicy:    table.NewBloomFilterPolicy(10),
		BlockNumEntries: 256,
		BlockSize:       4096,
		Mode:            ModeLearnedWarm,
		Gamma:           8,
		VerifyChecksums: true,
	}
}

// 学习路径是否开启
func (o *Options) learnedEnabled() bool {
	return o.Mode == ModeLearnedCold || o.Mode == ModeLearnedWarm
}

// 派生出table层的配置
func (o *Options) tableOptions() *table.Options {
	return &table.Options{
		BlockNumEntries: o.BlockNumEntries,
		BlockSize:       o.BlockSize,
		EntrySize:       o.EntrySize,
		UseFilter:       o.UseFilter,
		FilterPolicy:    o.FilterPolicy,
		VerifyChecksums: o.VerifyChecksums,
		Comparator:      o.Comparator,
	}
}

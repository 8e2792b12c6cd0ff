package lsmt

import (
	"bytes"
	"strconv"
	"time"

	"learnedkv/file"
	"learnedkv/learned"
	"learnedkv/table"
	"learnedkv/utils"
	"learnedkv/utils/cache"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// 一个不可变table文件的元数据，由version集合持有
type FileMeta struct {
	Number   uint64
	FileSize uint64
}

// handle缓存中的entry：一个打开的文件和解析好的table
type tableAndFile struct {
	file  file.RandomAccessFile
	table *table.Table
}

// file+filter缓存中的entry，filter可能为空
type filterAndFile struct {
	file   file.RandomAccessFile
	filter *table.FilterBlockReader
}

/*
	读路径的总入口。两级缓存：
	cache缓存完整打开的(file, table)，常规路径用；
	fileCache只缓存(file, filter)，学习路径绕过index直接按预测位置读，
	不需要整个table对象，省打开成本也省fd；
	两个缓存的key都是file_number的定长编码
*/
type TableCache struct {
	opt       *Options
	cache     *cache.Cache
	fileCache *cache.Cache
	// 冷缓存并发miss时只打开一次
	openGroup singleflight.Group
	fileGroup singleflight.Group

	models  *learned.FileModels
	cmp     utils.Comparator
	metrics *Metrics
}

func NewTableCache(opt *Options, models *learned.FileModels) *TableCache {
	return &TableCache{
		opt:       opt,
		cache:     cache.NewCache(opt.Entries),
		fileCache: cache.NewCache(opt.FDLimit),
		models:    models,
		cmp:       utils.InternalCompare(opt.Comparator),
		metrics:   newMetrics(opt.Registerer),
	}
}

// 关闭两级缓存；有未释放handle的entry要等Release后才真正销毁
func (tc *TableCache) Close() error {
	tc.cache.Close()
	tc.fileCache.Close()
	return nil
}

// 打开table文件并解析，失败时文件立刻关闭、不进缓存
func (tc *TableCache) openTable(fileNumber, fileSize uint64) (*tableAndFile, error) {
	fname := file.TableFileName(tc.opt.WorkDir, fileNumber)
	f, err := file.NewRandomAccessFile(fname)
	if err != nil {
		// 回退到旧后缀；两个都失败返回第一个错误
		old, err2 := file.NewRandomAccessFile(file.LegacyTableFileName(tc.opt.WorkDir, fileNumber))
		if err2 != nil {
			return nil, err
		}
		f = old
	}

	t, err := table.Open(tc.opt.tableOptions(), f, fileSize)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &tableAndFile{file: f, table: t}, nil
}

// 淘汰回调：先销毁table，再关文件
func deleteTableAndFile(_ []byte, value interface{}) {
	tf := value.(*tableAndFile)
	_ = tf.table.Close()
	_ = tf.file.Close()
}

func deleteFilterAndFile(_ []byte, value interface{}) {
	ff := value.(*filterAndFile)
	_ = ff.file.Close()
}

// FindTable 返回file_number对应table的缓存handle，未命中时打开并插入。
// 返回的handle由调用方Release；错误从不进缓存
func (tc *TableCache) FindTable(fileNumber, fileSize uint64) (*cache.Handle, error) {
	key := utils.EncodeFixed64(fileNumber)
	if h := tc.cache.Lookup(key); h != nil {
		return h, nil
	}

	// singleflight保证同一文件的并发冷miss最多打开一次，
	// 赢家插入缓存后大家重新Lookup接上去
	_, err, _ := tc.openGroup.Do(strconv.FormatUint(fileNumber, 10), func() (interface{}, error) {
		if h := tc.cache.Lookup(key); h != nil {
			tc.cache.Release(h)
			return nil, nil
		}
		tf, err := tc.openTable(fileNumber, fileSize)
		if err != nil {
			return nil, err
		}
		h := tc.cache.Insert(key, tf, deleteTableAndFile)
		tc.cache.Release(h)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if h := tc.cache.Lookup(key); h != nil {
		return h, nil
	}

	// 插入后立刻被挤掉的罕见情形，退化为直接打开
	tf, err := tc.openTable(fileNumber, fileSize)
	if err != nil {
		return nil, err
	}
	return tc.cache.Insert(key, tf, deleteTableAndFile), nil
}

// Release 释放FindTable返回的handle
func (tc *TableCache) Release(h *cache.Handle) {
	tc.cache.Release(h)
}

// Evict 将文件从handle缓存中摘掉，幂等；
// 在读的调用方握着handle，底层对象等最后一个引用释放后销毁
func (tc *TableCache) Evict(fileNumber uint64) {
	tc.cache.Erase(utils.EncodeFixed64(fileNumber))
}

// 打开学习路径使用的(file, filter)，插入fileCache由findFile负责。
// 配置了filter策略时metaindex里必须有对应的条目
func (tc *TableCache) openFilterFile(fileNumber, fileSize uint64) (*filterAndFile, error) {
	fname := file.TableFileName(tc.opt.WorkDir, fileNumber)
	f, err := file.NewRandomAccessFileLearned(fname)
	if err != nil {
		return nil, err
	}

	var filter *table.FilterBlockReader
	if tc.opt.UseFilter && tc.opt.FilterPolicy != nil {
		filter, err = tc.loadFilter(f, fileSize)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return &filterAndFile{file: f, filter: filter}, nil
}

// footer -> metaindex -> filter block
func (tc *TableCache) loadFilter(f file.RandomAccessFile, fileSize uint64) (*table.FilterBlockReader, error) {
	if fileSize < uint64(utils.FooterSize) {
		return nil, errors.Wrapf(utils.ErrCorruption, "file too small for footer: %d", fileSize)
	}
	footerData, err := f.Read(fileSize-uint64(utils.FooterSize), utils.FooterSize, nil)
	if err != nil {
		return nil, errors.Wrap(err, "read footer")
	}
	footer, err := table.DecodeFooter(footerData)
	if err != nil {
		return nil, err
	}
	return table.ReadFilter(tc.opt.tableOptions(), f, footer)
}

// 学习路径的handle获取，结构上和FindTable一致
func (tc *TableCache) findFile(fileNumber, fileSize uint64) (*cache.Handle, error) {
	key := utils.EncodeFixed64(fileNumber)
	if h := tc.fileCache.Lookup(key); h != nil {
		return h, nil
	}

	_, err, _ := tc.fileGroup.Do(strconv.FormatUint(fileNumber, 10), func() (interface{}, error) {
		if h := tc.fileCache.Lookup(key); h != nil {
			tc.fileCache.Release(h)
			return nil, nil
		}
		ff, err := tc.openFilterFile(fileNumber, fileSize)
		if err != nil {
			return nil, err
		}
		h := tc.fileCache.Insert(key, ff, deleteFilterAndFile)
		tc.fileCache.Release(h)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if h := tc.fileCache.Lookup(key); h != nil {
		return h, nil
	}

	ff, err := tc.openFilterFile(fileNumber, fileSize)
	if err != nil {
		return nil, err
	}
	return tc.fileCache.Insert(key, ff, deleteFilterAndFile), nil
}

// Get 点查一个文件。key是内部key；命中时acc.Accept被调用，
// 不存在不算错误。meta非空且模型就绪(或调用方自带区间)时走学习路径
func (tc *TableCache) Get(fileNumber, fileSize uint64, key []byte, acc table.Acceptor,
	meta *FileMeta, lower, upper uint64, learnedBounds bool, version uint64) error {

	if tc.opt.learnedEnabled() && meta != nil {
		if learnedBounds || (tc.models != nil && tc.models.Learned(version, meta.Number)) {
			tc.metrics.LearnedReads.Inc()
			return tc.levelRead(fileNumber, fileSize, key, acc, meta, lower, upper, learnedBounds)
		}
	}

	tc.metrics.ConventionalReads.Inc()
	start := time.Now()
	h, err := tc.FindTable(fileNumber, fileSize)
	tc.metrics.observeSince(tc.metrics.HandleAcquire, start)
	if err != nil {
		return err
	}
	defer tc.cache.Release(h)

	t := h.Value().(*tableAndFile).table
	return t.InternalGet(key, acc)
}

// 学习路径：预测区间 -> 候选block -> filter -> 单次区间读 -> 二分
func (tc *TableCache) levelRead(fileNumber, fileSize uint64, key []byte, acc table.Acceptor,
	meta *FileMeta, lower, upper uint64, learnedBounds bool) error {

	start := time.Now()
	h, err := tc.findFile(fileNumber, fileSize)
	tc.metrics.observeSince(tc.metrics.HandleAcquire, start)
	if err != nil {
		return err
	}
	// 任何退出路径上都要释放
	defer tc.fileCache.Release(h)

	ff := h.Value().(*filterAndFile)
	f, filter := ff.file, ff.filter

	if !learnedBounds {
		t0 := time.Now()
		userKey := utils.ParseKey(key)
		var ok bool
		lower, upper, ok = tc.models.GetPosition(userKey, meta.Number)
		tc.metrics.observeSince(tc.metrics.ModelQuery, t0)
		if !ok {
			return errors.Wrapf(utils.ErrModelViolation, "no model for file %d", meta.Number)
		}
	} else {
		tc.metrics.BoundsProvided.Inc()
	}
	if lower > upper {
		return errors.Wrapf(utils.ErrModelViolation, "bounds [%d, %d]", lower, upper)
	}
	if tc.opt.BlockNumEntries <= 0 || tc.opt.EntrySize <= 0 {
		return errors.Wrap(utils.ErrModelViolation, "block geometry not configured")
	}

	numEntries := uint64(tc.opt.BlockNumEntries)
	entrySize := uint64(tc.opt.EntrySize)
	indexLower := lower / numEntries
	indexUpper := upper / numEntries

	// 每次调用自己的scratch，按最大单块读取量一次分配
	scratch := make([]byte, tc.opt.BlockNumEntries*tc.opt.EntrySize)

	for i := indexLower; i <= indexUpper; i++ {
		blockOffset := i * uint64(tc.opt.BlockSize)
		if filter != nil && !filter.KeyMayMatch(blockOffset, utils.ParseKey(key)) {
			tc.metrics.FilterMiss.Inc()
			continue
		}

		posLower := uint64(0)
		if i == indexLower {
			posLower = lower % numEntries
		}
		posUpper := numEntries - 1
		if i == indexUpper {
			posUpper = upper % numEntries
		}

		// 候选entry一次读出
		readSize := (posUpper - posLower + 1) * entrySize
		t1 := time.Now()
		entries, err := f.Read(blockOffset+posLower*entrySize, int(readSize), scratch)
		tc.metrics.observeSince(tc.metrics.BlockRead, t1)
		if err != nil {
			return errors.Wrapf(err, "learned read file %d block %d", fileNumber, i)
		}

		// 区间内定长entry上的二分
		t2 := time.Now()
		left, right := posLower, posUpper
		for left < right {
			mid := (left + right) / 2
			midKey, _, err := table.DecodeFixedEntry(entries[(mid-posLower)*entrySize:])
			if err != nil {
				return err
			}
			if tc.cmp(midKey, key) < 0 {
				left = mid + 1
			} else {
				right = mid
			}
		}
		foundKey, foundValue, err := table.DecodeFixedEntry(entries[(left-posLower)*entrySize:])
		tc.metrics.observeSince(tc.metrics.BinarySearch, t2)
		if err != nil {
			return err
		}

		acc.Accept(foundKey, foundValue)
		if acc.Found() {
			break
		}
	}
	return nil
}

// NewIterator 在一个文件上创建迭代器，迭代器Close时释放缓存handle
func (tc *TableCache) NewIterator(fileNumber, fileSize uint64) (utils.Iterator, error) {
	h, err := tc.FindTable(fileNumber, fileSize)
	if err != nil {
		return nil, err
	}
	t := h.Value().(*tableAndFile).table
	return &releasingIterator{
		Iterator: t.NewIterator(),
		cache:    tc.cache,
		handle:   h,
	}, nil
}

// FillData 读出meta对应文件的全部key并训练模型登记到注册表，
// 训练完成后这个文件的Get会走学习路径
func (tc *TableCache) FillData(meta *FileMeta, version uint64) error {
	h, err := tc.findFile(meta.Number, meta.FileSize)
	if err != nil {
		return err
	}
	defer tc.fileCache.Release(h)

	f := h.Value().(*filterAndFile).file
	t, err := table.Open(tc.opt.tableOptions(), f, meta.FileSize)
	if err != nil {
		return err
	}
	var keys []float64
	if err := t.FillData(func(userKey []byte, _ int) {
		keys = append(keys, learned.KeyToNumber(userKey))
	}); err != nil {
		return err
	}
	return tc.models.TrainFromKeys(meta.Number, keys, version)
}

// 把handle的生命周期挂到迭代器上
type releasingIterator struct {
	utils.Iterator
	cache  *cache.Cache
	handle *cache.Handle
}

func (it *releasingIterator) Close() error {
	err := it.Iterator.Close()
	it.cache.Release(it.handle)
	return err
}

// 点查时保存命中value的默认Acceptor
type ValueSaver struct {
	userKey []byte
	cmp     utils.Comparator
	found   bool
	value   []byte
}

func NewValueSaver(userKey []byte) *ValueSaver {
	return &ValueSaver{userKey: userKey}
}

// 只认用户key完全相等的命中
func (s *ValueSaver) Accept(key, value []byte) {
	if bytes.Equal(utils.ParseKey(key), s.userKey) {
		s.found = true
		s.value = append(s.value[:0], value...)
	}
}

func (s *ValueSaver) Found() bool {
	return s.found
}

// 命中的value
func (s *ValueSaver) Value() ([]byte, bool) {
	return s.value, s.found
}

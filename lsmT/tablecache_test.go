package lsmt

import (
	"math/rand"
	"os"
	"sync"
	"testing"

	"learnedkv/file"
	"learnedkv/learned"
	"learnedkv/table"
	"learnedkv/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 字母表：1字节user key + 8字节ts + 2字节value
func letterOptions(dir string) *Options {
	opt := NewDefaultOptions(dir)
	opt.Entries = 64
	opt.FDLimit = 64
	opt.BlockNumEntries = 4
	opt.BlockSize = 256
	opt.EntrySize = 3 + 9 + 2
	opt.Gamma = 1
	opt.Mode = ModeLearnedWarm
	return opt
}

// 数字key：8字节user key + 8字节ts + 8字节value
func numberOptions(dir string) *Options {
	opt := NewDefaultOptions(dir)
	opt.Entries = 64
	opt.FDLimit = 64
	opt.BlockNumEntries = 8
	opt.BlockSize = 512
	opt.EntrySize = 3 + 16 + 8
	opt.Gamma = 4
	opt.Mode = ModeLearnedWarm
	return opt
}

// 构建字母表文件，返回meta
func buildLetterFile(t *testing.T, opt *Options, fileNumber uint64) *FileMeta {
	b := table.NewBuilder(opt.tableOptions())
	for c := byte('a'); c <= 'z'; c++ {
		require.NoError(t, b.Add(utils.KeyWithTS([]byte{c}, 0), []byte{'v', c}))
	}
	path := file.TableFileName(opt.WorkDir, fileNumber)
	require.NoError(t, b.FlushToFile(path))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	return &FileMeta{Number: fileNumber, FileSize: uint64(fi.Size())}
}

// 构建数字key文件，返回meta和全部user key
func buildNumberFile(t *testing.T, opt *Options, fileNumber uint64, n int) (*FileMeta, [][]byte) {
	b := table.NewBuilder(opt.tableOptions())
	var userKeys [][]byte
	k := uint64(0)
	for i := 0; i < n; i++ {
		k += uint64(1 + rand.Intn(40))
		userKey := utils.Uint64ToBytes(k)
		require.NoError(t, b.Add(utils.KeyWithTS(userKey, 0), utils.Uint64ToBytes(k*3)))
		userKeys = append(userKeys, userKey)
	}
	path := file.TableFileName(opt.WorkDir, fileNumber)
	require.NoError(t, b.FlushToFile(path))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	return &FileMeta{Number: fileNumber, FileSize: uint64(fi.Size())}, userKeys
}

func seekKey(userKey []byte) []byte {
	return utils.KeyWithTS(userKey, utils.MaxTimestamp)
}

// 点查一个user key，返回(value, 是否命中)
func get(t *testing.T, tc *TableCache, meta *FileMeta, userKey []byte, version uint64) ([]byte, bool) {
	saver := NewValueSaver(userKey)
	require.NoError(t, tc.Get(meta.Number, meta.FileSize, seekKey(userKey), saver,
		meta, 0, 0, false, version))
	return saver.Value()
}

// 常规路径的S1/S2
func TestGetConventional(t *testing.T) {
	opt := letterOptions(t.TempDir())
	opt.Mode = 0
	meta := buildLetterFile(t, opt, 1)
	tc := NewTableCache(opt, learned.NewFileModels(opt.Gamma))
	defer tc.Close()

	value, found := get(t, tc, meta, []byte{'m'}, 1)
	require.True(t, found)
	assert.Equal(t, []byte("vm"), value)

	_, found = get(t, tc, meta, []byte{'~'}, 1)
	assert.False(t, found)
}

// 学习路径的S1/S2：训练后同样的查询走预测区间
func TestGetLearned(t *testing.T) {
	opt := letterOptions(t.TempDir())
	meta := buildLetterFile(t, opt, 1)
	models := learned.NewFileModels(opt.Gamma)
	tc := NewTableCache(opt, models)
	defer tc.Close()

	require.NoError(t, tc.FillData(meta, 1))
	require.True(t, models.Learned(1, meta.Number))

	for c := byte('a'); c <= 'z'; c++ {
		value, found := get(t, tc, meta, []byte{c}, 1)
		require.True(t, found, "key %c", c)
		assert.Equal(t, []byte{'v', c}, value)
	}

	_, found := get(t, tc, meta, []byte{'~'}, 1)
	assert.False(t, found)
}

// 两条路径对每个存在和不存在的key结果一致
func TestLearnedConventionalEquivalence(t *testing.T) {
	rand.Seed(1)
	opt := numberOptions(t.TempDir())
	meta, userKeys := buildNumberFile(t, opt, 1, 500)
	models := learned.NewFileModels(opt.Gamma)
	tc := NewTableCache(opt, models)
	defer tc.Close()

	require.NoError(t, tc.FillData(meta, 1))

	conventional := func(userKey []byte) ([]byte, bool) {
		saver := NewValueSaver(userKey)
		// version=0时模型未就绪，落到常规路径
		require.NoError(t, tc.Get(meta.Number, meta.FileSize, seekKey(userKey), saver,
			meta, 0, 0, false, 0))
		return saver.Value()
	}

	for _, userKey := range userKeys {
		lv, lok := get(t, tc, meta, userKey, 1)
		cv, cok := conventional(userKey)
		require.True(t, lok, "learned missed %v", userKey)
		require.True(t, cok)
		assert.Equal(t, cv, lv)
	}

	// 不存在的key两边都不命中
	for i := 0; i < 200; i++ {
		probe := utils.Uint64ToBytes(uint64(rand.Int63()))
		_, lok := get(t, tc, meta, probe, 1)
		_, cok := conventional(probe)
		assert.Equal(t, cok, lok, "probe %v", probe)
	}
}

// 调用方自带位置区间时直接使用，不查模型
func TestGetWithCallerBounds(t *testing.T) {
	opt := letterOptions(t.TempDir())
	meta := buildLetterFile(t, opt, 1)
	tc := NewTableCache(opt, learned.NewFileModels(opt.Gamma))
	defer tc.Close()

	// 'm'在第12个位置
	saver := NewValueSaver([]byte{'m'})
	require.NoError(t, tc.Get(meta.Number, meta.FileSize, seekKey([]byte{'m'}), saver,
		meta, 12, 12, true, 1))
	value, found := saver.Value()
	require.True(t, found)
	assert.Equal(t, []byte("vm"), value)
}

// 容量之外的文件按需打开，缓存里最多Entries个
func TestFindTableCapacity(t *testing.T) {
	opt := letterOptions(t.TempDir())
	tc := NewTableCache(opt, learned.NewFileModels(opt.Gamma))

	total := 1000
	metas := make([]*FileMeta, 0, total)
	for i := 1; i <= total; i++ {
		metas = append(metas, buildLetterFile(t, opt, uint64(i)))
	}
	for _, meta := range metas {
		h, err := tc.FindTable(meta.Number, meta.FileSize)
		require.NoError(t, err)
		tc.Release(h)
	}
	assert.Equal(t, opt.Entries, tc.cache.Len())

	// 被挤掉的文件再查还能按需打开
	value, found := get(t, tc, metas[0], []byte{'a'}, 0)
	require.True(t, found)
	assert.Equal(t, []byte("va"), value)

	require.NoError(t, tc.Close())
	assert.Equal(t, 0, tc.cache.Len())
	assert.Equal(t, 0, tc.fileCache.Len())
}

// 标准名打不开时回退旧后缀
func TestFindTableLegacyName(t *testing.T) {
	opt := letterOptions(t.TempDir())
	meta := buildLetterFile(t, opt, 7)
	// 改名成旧后缀
	require.NoError(t, os.Rename(
		file.TableFileName(opt.WorkDir, 7), file.LegacyTableFileName(opt.WorkDir, 7)))

	tc := NewTableCache(opt, learned.NewFileModels(opt.Gamma))
	defer tc.Close()
	h, err := tc.FindTable(meta.Number, meta.FileSize)
	require.NoError(t, err)
	tc.Release(h)

	// 新旧两种文件名都能解析出同一个FID
	assert.Equal(t, uint64(7), utils.FID(file.TableFileName(opt.WorkDir, 7)))
	assert.Equal(t, uint64(7), utils.FID(file.LegacyTableFileName(opt.WorkDir, 7)))

	// 两个名字都不存在时报错
	_, err = tc.FindTable(99, 1024)
	require.Error(t, err)
}

// S5：footer损坏时报损坏且不进缓存，修复后下一次成功
func TestFindTableCorruptionNotCached(t *testing.T) {
	opt := letterOptions(t.TempDir())
	meta := buildLetterFile(t, opt, 1)
	path := file.TableFileName(opt.WorkDir, 1)
	good, err := os.ReadFile(path)
	require.NoError(t, err)

	// 破坏footer的第一个byte
	bad := append([]byte(nil), good...)
	bad[meta.FileSize-uint64(utils.FooterSize)] ^= 0xff
	require.NoError(t, os.WriteFile(path, bad, utils.DefaultFileMode))

	tc := NewTableCache(opt, learned.NewFileModels(opt.Gamma))
	defer tc.Close()
	_, err = tc.FindTable(meta.Number, meta.FileSize)
	require.Error(t, err)
	assert.True(t, utils.IsCorruption(err))
	assert.Equal(t, 0, tc.cache.Len())

	// 修复后自动恢复
	require.NoError(t, os.WriteFile(path, good, utils.DefaultFileMode))
	h, err := tc.FindTable(meta.Number, meta.FileSize)
	require.NoError(t, err)
	tc.Release(h)
}

// Evict幂等，且不影响在读的handle
func TestEvictIdempotent(t *testing.T) {
	opt := letterOptions(t.TempDir())
	meta := buildLetterFile(t, opt, 1)
	tc := NewTableCache(opt, learned.NewFileModels(opt.Gamma))
	defer tc.Close()

	h, err := tc.FindTable(meta.Number, meta.FileSize)
	require.NoError(t, err)

	tc.Evict(meta.Number)
	tc.Evict(meta.Number)
	assert.Equal(t, 0, tc.cache.Len())

	// handle还活着，table照常可用
	tbl := h.Value().(*tableAndFile).table
	saver := NewValueSaver([]byte{'c'})
	require.NoError(t, tbl.InternalGet(seekKey([]byte{'c'}), saver))
	require.True(t, saver.Found())
	tc.Release(h)
}

// 迭代器持有handle，Close后缓存entry才能真正销毁
func TestNewIteratorReleasesHandle(t *testing.T) {
	opt := letterOptions(t.TempDir())
	meta := buildLetterFile(t, opt, 1)
	tc := NewTableCache(opt, learned.NewFileModels(opt.Gamma))
	defer tc.Close()

	it, err := tc.NewIterator(meta.Number, meta.FileSize)
	require.NoError(t, err)
	var count int
	for it.Rewind(); it.Valid(); it.Next() {
		count++
	}
	assert.Equal(t, 26, count)

	tc.Evict(meta.Number)
	// handle未释放期间迭代器还能用
	it.Rewind()
	require.True(t, it.Valid())
	require.NoError(t, it.Close())
}

// S4：同一批文件上的并发读风暴，两条路径混跑
func TestConcurrentGetStorm(t *testing.T) {
	rand.Seed(2)
	opt := numberOptions(t.TempDir())
	opt.Entries = 16
	opt.FDLimit = 16
	models := learned.NewFileModels(opt.Gamma)
	tc := NewTableCache(opt, models)
	defer tc.Close()

	const files = 8
	metas := make([]*FileMeta, files)
	keys := make([][][]byte, files)
	for i := 0; i < files; i++ {
		metas[i], keys[i] = buildNumberFile(t, opt, uint64(i+1), 200)
		require.NoError(t, tc.FillData(metas[i], 1))
	}

	var wg sync.WaitGroup
	for g := 0; g < 64; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(seed)))
			for i := 0; i < 300; i++ {
				fi := r.Intn(files)
				ki := r.Intn(len(keys[fi]))
				userKey := keys[fi][ki]
				// 一半学习路径一半常规路径
				version := uint64(i % 2)
				saver := NewValueSaver(userKey)
				err := tc.Get(metas[fi].Number, metas[fi].FileSize, seekKey(userKey), saver,
					metas[fi], 0, 0, false, version)
				if err != nil {
					t.Error(err)
					return
				}
				if !saver.Found() {
					t.Errorf("missing key %v in file %d", userKey, fi)
					return
				}
				if i%29 == 0 {
					tc.Evict(metas[fi].Number)
				}
			}
		}(g)
	}
	wg.Wait()
}

// 并发冷miss同一个文件：都拿到handle且缓存里只有一个entry
func TestFindTableConcurrentColdMiss(t *testing.T) {
	opt := letterOptions(t.TempDir())
	meta := buildLetterFile(t, opt, 1)
	tc := NewTableCache(opt, learned.NewFileModels(opt.Gamma))
	defer tc.Close()

	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := tc.FindTable(meta.Number, meta.FileSize)
			if err != nil {
				t.Error(err)
				return
			}
			tc.Release(h)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, tc.cache.Len())
}

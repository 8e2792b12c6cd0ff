package learned

import (
	"sync"
	"sync/atomic"
)

// 进程内的模型注册表：file_number -> 训练好的模型。
// 读路径只消费；训练/填充由写路径或显式的FillData触发，读多写少
type FileModels struct {
	mu     sync.RWMutex
	gamma  float64
	models map[uint64]*LearnedIndexData
}

func NewFileModels(gamma float64) *FileModels {
	return &FileModels{
		gamma:  gamma,
		models: make(map[uint64]*LearnedIndexData),
	}
}

// 取出某个文件的模型，没有返回nil
func (fm *FileModels) Get(fileNumber uint64) *LearnedIndexData {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return fm.models[fileNumber]
}

// 某个文件在version下是否可以走学习路径
func (fm *FileModels) Learned(version uint64, fileNumber uint64) bool {
	m := fm.Get(fileNumber)
	return m.Trained() && version >= m.version
}

// 查询key在文件中的位置区间，闭区间语义
func (fm *FileModels) GetPosition(userKey []byte, fileNumber uint64) (lower, upper uint64, ok bool) {
	m := fm.Get(fileNumber)
	if m == nil {
		return 0, 0, false
	}
	return m.GetPosition(userKey)
}

// 用一个文件的全量(key, 位置)训练模型并登记。
// keys必须按升序排好，version记录训练时刻的版本
func (fm *FileModels) TrainFromKeys(fileNumber uint64, keys []float64, version uint64) error {
	segments, err := NewPLR(fm.gamma).Train(keys)
	if err != nil {
		return err
	}
	m := &LearnedIndexData{
		fileNumber: fileNumber,
		gamma:      fm.gamma,
		segments:   segments,
		numEntries: uint64(len(keys)),
		version:    version,
	}
	m.measureResidual(keys)
	atomic.StoreInt32(&m.trained, 1)

	fm.mu.Lock()
	fm.models[fileNumber] = m
	fm.mu.Unlock()
	return nil
}

// 文件被删除后模型一并摘掉
func (fm *FileModels) Evict(fileNumber uint64) {
	fm.mu.Lock()
	delete(fm.models, fileNumber)
	fm.mu.Unlock()
}

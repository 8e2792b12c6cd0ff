package utils

// table读取路径上的一条记录，Key是带timestamp的内部key
type Entry struct {
	Key     []byte
	Value   []byte
	Version uint64
}

// 使得Entry结构满足Item接口
func (e *Entry) Entry() *Entry {
	return e
}

// 根据传入的key和value初始化创建entry
func NewEntry(key, value []byte) *Entry {
	return &Entry{
		Key:   key,
		Value: value,
	}
}

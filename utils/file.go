package utils

import (
	"path"
	"strconv"
	"strings"
)

// 根据fileName获取到FID
func FID(fileName string) uint64 {
	// 将路径提取为文件的名字，也就是路径的最后一个元素
	fileName = path.Base(fileName)
	// 新旧两种后缀都认
	switch {
	case strings.HasSuffix(fileName, TableFileExt):
		fileName = strings.TrimSuffix(fileName, TableFileExt)
	case strings.HasSuffix(fileName, LegacyTableFileExt):
		fileName = strings.TrimSuffix(fileName, LegacyTableFileExt)
	default:
		return 0
	}
	id, err := strconv.Atoi(fileName)
	if err != nil {
		Err(err)
		return 0
	}
	return uint64(id)
}

package file

import (
	"fmt"
	"path/filepath"

	"learnedkv/utils"
)

// table文件的标准文件名
func TableFileName(dir string, fileNumber uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d%s", fileNumber, utils.TableFileExt))
}

// 旧版本的table文件名，只有后缀不同，打开失败时作为回退
func LegacyTableFileName(dir string, fileNumber uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d%s", fileNumber, utils.LegacyTableFileExt))
}

package interview

import (
	"fmt"
	"io"
	"strings"
)

const (
	// MaxArtifactRead 读取上传材料的最大字节数。
	MaxArtifactRead = 100 << 10
	// DefaultPreviewChars 预览文本的默认最大长度。
	DefaultPreviewChars = 15000
)

// ExtractPreview 从上传的材料中提取粗略的文本预览。不可打印字节按空白处理，
// 连续空白合并为一个空格，去掉首尾空白后截断到 maxChars。
func ExtractPreview(r io.Reader, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = DefaultPreviewChars
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxArtifactRead))
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}

	var b strings.Builder
	b.Grow(len(data))
	pendingSpace := false
	for _, c := range data {
		if c < 0x21 || c > 0x7E {
			// 二进制分隔符同样分隔单词
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteByte(c)
	}

	// 构建时已丢弃首尾空白
	preview := b.String()
	if len(preview) > maxChars {
		preview = preview[:maxChars]
	}
	return preview, nil
}

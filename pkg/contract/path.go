package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：正斜杠分隔；清理多余分隔符与 . / ..；不做隐式绝对化。
func NormalizeFileID(p string) FileID {
	s := strings.ReplaceAll(p, "\\", "/")
	return FileID(path.Clean(s))
}

// MaxBaseNameLen: 输出文件基名上限。
const MaxBaseNameLen = 100

// SanitizeBaseName 将任意名称收敛到 [A-Za-z0-9_.-]，其余字符替换为 '_'。
// 结果为空或只剩点号时回退为 "upload"。
func SanitizeBaseName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) > MaxBaseNameLen {
		s = s[:MaxBaseNameLen]
	}
	if strings.Trim(s, "._") == "" {
		return "upload"
	}
	return s
}

package compress

import (
	"strings"
)

// getSourceType 獲取來源類型（用於日誌記錄）
func getSourceType(source string) string {
	if source == "" {
		return "empty"
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return "url"
	}
	if strings.HasPrefix(source, "data:image/") {
		parts := strings.Split(source, ";base64,")
		if len(parts) == 2 {
			return "base64_data_uri_" + strings.TrimPrefix(parts[0], "data:image/")
		}
		return "invalid_data_uri"
	}
	if strings.HasPrefix(source, "/") || strings.Contains(source, ".") {
		return "path"
	}
	return "unknown_format"
}

package logger

import "strings"

// MaskHandle маскирует wallet handle в логах (в prod не светить полный handle).
func MaskHandle(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}

package api

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// maxReasonLen caps operator-supplied reasons; they end up in logs and history.
const maxReasonLen = 200

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// isSafeReason rejects overlong reasons and control characters, which would
// let a caller forge log lines.
func isSafeReason(s string) bool {
	if len(s) > maxReasonLen {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

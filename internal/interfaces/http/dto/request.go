package dto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// BindProjectID 从 URI 绑定项目 ID
func BindProjectID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("pid"))
}

// BindTaskID 从 URI 绑定任务 ID
func BindTaskID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("tid"))
}

// BindChapterIndex 从 URI 绑定章节序号（从 0 开始）
func BindChapterIndex(c *gin.Context) (int, error) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid chapter index %q", c.Param("index"))
	}
	return idx, nil
}

// BindLimit 绑定 limit 查询参数
func BindLimit(c *gin.Context, defaultVal int) int {
	limit := parseIntWithDefault(c.Query("limit"), defaultVal)
	if limit < 1 {
		limit = defaultVal
	}
	if limit > 100 {
		limit = 100
	}
	return limit
}

// parseIntWithDefault 解析整数，失败时返回默认值
func parseIntWithDefault(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

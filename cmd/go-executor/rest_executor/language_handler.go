package restexecutor

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/judgekit/go-executor/language"
)

type languageHandle struct {
	registry *language.Registry
}

type languageInfo struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	SourceFile string `json:"sourceFile"`
	CPUTime    int64  `json:"cpuTimeMs"`
	WallTime   int64  `json:"wallTimeMs"`
	Memory     uint64 `json:"memoryBytes"`
	Output     uint64 `json:"maxOutputBytes"`
}

// NewLanguageHandle creates a handle listing the supported languages
func NewLanguageHandle(registry *language.Registry) Register {
	return &languageHandle{registry: registry}
}

func (h *languageHandle) Register(r *gin.Engine) {
	r.GET("/languages", h.handleLanguages)
}

func (h *languageHandle) handleLanguages(ctx *gin.Context) {
	names := h.registry.Names()
	res := make([]languageInfo, 0, len(names))
	for _, n := range names {
		l, err := h.registry.Get(n)
		if err != nil {
			continue
		}
		limits := l.DefaultLimits()
		res = append(res, languageInfo{
			Name:       l.Name(),
			Kind:       string(l.Kind()),
			SourceFile: l.SourceFile(),
			CPUTime:    limits.CPUTime.Milliseconds(),
			WallTime:   limits.WallTime.Milliseconds(),
			Memory:     uint64(limits.Memory),
			Output:     uint64(limits.Output),
		})
	}
	ctx.JSON(http.StatusOK, res)
}

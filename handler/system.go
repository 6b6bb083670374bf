package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/img2mesh/web"
)

// BuildInfo 编译时注入的版本信息
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

func (h *Handler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

// Health 服务存活即返回 ok，模型是否已加载、后端是否可达单独报告
func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{
		"status":       "ok",
		"version":      h.build.Version,
		"model_loaded": h.pipe.ModelLoaded(),
	}
	if h.backends != nil {
		resp["backends"] = h.backends()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, h.build)
}

package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, h Handlers) {
	// 项目下的素材、任务与文风
	projects := v1.Group("/projects/:pid")
	{
		if h.Material != nil {
			projects.POST("/materials", h.Material.RegisterMaterial)
			projects.GET("/materials", h.Material.ListMaterials)
		}
		projects.POST("/tasks", h.Task.StartTask)
		projects.GET("/tasks", h.Task.ListTasks)

		projects.GET("/voice-profile", h.Voice.GetProfile)
		projects.POST("/voice-profile/recalibrate", h.Voice.Recalibrate)
	}

	// 任务生命周期
	tasks := v1.Group("/tasks/:tid")
	{
		tasks.GET("", h.Task.GetStatus)
		tasks.POST("/feedback", h.Task.SubmitFeedback)
		tasks.POST("/pause", h.Task.Pause)
		tasks.POST("/resume", h.Task.Resume)
		tasks.POST("/cancel", h.Task.Cancel)

		// 人工审阅
		tasks.GET("/outline", h.Review.GetOutline)
		tasks.GET("/chapters/:index", h.Review.GetChapter)
		tasks.GET("/manuscript", h.Review.GetManuscript)
	}
}

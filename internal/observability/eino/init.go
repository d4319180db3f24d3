// Package eino 把模型调用接入进程的 Prometheus 指标与 OTel 追踪
package eino

import (
	"sync"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
)

var registered sync.Once

// Init 注册全局 ChatModel 回调；重复调用无副作用，worker 与网关各自在启动时调用
func Init() {
	registered.Do(func() {
		einocallbacks.AppendGlobalHandlers(
			cbtemplate.NewHandlerHelper().ChatModel(newChatModelCallbackHandler()).Handler(),
		)
	})
}

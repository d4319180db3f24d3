// Package workflowtest 提供按工作流脚本化的 ChatModel，供各层单元测试使用
package workflowtest

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	llmctx "manuscript-ai-api/internal/domain/service"
)

// Call 一次模型调用的输入
type Call struct {
	Workflow string
	System   string
	User     string
	// N 该工作流的第几次调用（1 起）
	N int
}

// Responder 根据调用返回模型输出
type Responder func(c Call) (string, error)

// ScriptedModel 按 llmctx 中的工作流名分派响应，未注册的工作流返回错误
type ScriptedModel struct {
	mu       sync.Mutex
	handlers map[string]Responder
	calls    map[string]int
	log      []Call
}

func NewScriptedModel() *ScriptedModel {
	return &ScriptedModel{
		handlers: make(map[string]Responder),
		calls:    make(map[string]int),
	}
}

// On 注册工作流的响应函数
func (m *ScriptedModel) On(workflow string, fn Responder) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[workflow] = fn
	return m
}

// Reply 注册固定输出
func (m *ScriptedModel) Reply(workflow, content string) *ScriptedModel {
	return m.On(workflow, func(Call) (string, error) { return content, nil })
}

// Sequence 依次返回给定输出，超出后重复最后一个
func (m *ScriptedModel) Sequence(workflow string, contents ...string) *ScriptedModel {
	return m.On(workflow, func(c Call) (string, error) {
		if len(contents) == 0 {
			return "", fmt.Errorf("no scripted output for %s", workflow)
		}
		i := c.N - 1
		if i >= len(contents) {
			i = len(contents) - 1
		}
		return contents[i], nil
	})
}

// Count 工作流被调用的次数
func (m *ScriptedModel) Count(workflow string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[workflow]
}

// Calls 全部调用记录的副本
func (m *ScriptedModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.log...)
}

func (m *ScriptedModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	workflow := llmctx.WorkflowFromContext(ctx)
	c := Call{Workflow: workflow}
	for _, msg := range input {
		switch msg.Role {
		case schema.System:
			c.System = msg.Content
		case schema.User:
			c.User = msg.Content
		}
	}

	m.mu.Lock()
	m.calls[workflow]++
	c.N = m.calls[workflow]
	m.log = append(m.log, c)
	fn, ok := m.handlers[workflow]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no scripted response for workflow %q", workflow)
	}
	content, err := fn(c)
	if err != nil {
		return nil, err
	}
	return &schema.Message{
		Role:    schema.Assistant,
		Content: content,
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{
				PromptTokens:     (utf8.RuneCountInString(c.System) + utf8.RuneCountInString(c.User)) / 4,
				CompletionTokens: utf8.RuneCountInString(content) / 4,
			},
		},
	}, nil
}

func (m *ScriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Factory 对任意 provider 返回同一个模型
type Factory struct {
	Model model.BaseChatModel
}

func (f Factory) Get(_ context.Context, _ string) (model.BaseChatModel, error) {
	if f.Model == nil {
		return nil, fmt.Errorf("no chat model configured")
	}
	return f.Model, nil
}

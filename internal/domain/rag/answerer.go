package rag

import (
	"context"

	applog "matrag/internal/platform/log"
)

// Answerer 问答流程：检索 → 组装 prompt → 生成 → 打包答案。
type Answerer struct {
	retriever *Retriever
	assembler *Assembler
	generator Generator
}

// NewAnswerer 创建问答流程。
func NewAnswerer(retriever *Retriever, assembler *Assembler, generator Generator) *Answerer {
	return &Answerer{
		retriever: retriever,
		assembler: assembler,
		generator: generator,
	}
}

// Ask 回答一个问题。生成能力失败作为 CapabilityError 上抛；
// 空检索结果不是错误，prompt 会指示模型明确说明没有找到相关信息。
func (a *Answerer) Ask(ctx context.Context, q *Query) (*Answer, error) {
	result, err := a.retriever.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}

	prompt, used := a.assembler.BuildPrompt(q, result)

	generated, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	answer := a.assembler.PackageAnswer(generated, q, used)

	applog.Info("[RAG/Answerer] Question answered",
		"category", q.Category,
		"sources", len(answer.Sources),
		"confidence", answer.Confidence,
	)

	return answer, nil
}

package rag

import (
	"fmt"
	"strings"
)

// ── Prompt 模板（按问题类型）──────────────────────────────────

const promptGeneral = `You are an assistant specialized in property registry documents.
Use the provided context to answer the question precisely.

CONTEXT:
%s

QUESTION: %s

INSTRUCTIONS:
- Answer based ONLY on the provided context
- If the information is not in the context, say "I could not find that information in the documents"
- Cite the source documents when relevant
- Quote numbers and figures exactly as they appear

ANSWER:`

const promptNumeric = `You are an assistant specialized in extracting numbers and registry identifiers from property documents.

CONTEXT:
%s

QUESTION: %s

INSTRUCTIONS:
- Extract ONLY numbers that appear in the context
- If the requested number is not present, say "Number not found"
- Cite the source document when possible
- Be exact with the values

ANSWER:`

const promptArea = `You are a specialist in property areas. Analyze the context to answer questions about specific areas.

CONTEXT:
%s

QUESTION: %s

INSTRUCTIONS:
- Focus on area information (private, common, total, etc.)
- Always mention measurement units (m², etc.)
- If no area information is present, say "Area information not found"
- Cite the source document when relevant

ANSWER:`

const promptOwner = `You are an assistant for property ownership information.

CONTEXT:
%s

QUESTION: %s

INSTRUCTIONS:
- Extract owner names, identifiers and addresses from the context
- If no owner information is present, say "Owner information not found"
- Be careful with personal data
- Cite the source document

ANSWER:`

const promptEmpty = `You are an assistant specialized in property registry documents.

No relevant documents were found for the question below. State clearly that no
relevant information was found in the indexed documents. Do not invent an
answer or use outside knowledge.

QUESTION: %s

ANSWER:`

// 被截断的末位 chunk 至少保留这么多字符才值得附上
const minTailRunes = 100

var promptTemplates = map[QuestionCategory]string{
	CategoryGeneral: promptGeneral,
	CategoryNumeric: promptNumeric,
	CategoryArea:    promptArea,
	CategoryOwner:   promptOwner,
}

// Assembler 上下文组装器：检索结果 + 问题类型 → 有界 prompt；
// 生成文本 + 实际使用的来源 → Answer。
type Assembler struct {
	budget int // 上下文字符预算（rune）
}

// NewAssembler 创建组装器。
func NewAssembler(config *Config) *Assembler {
	budget := config.ContextBudget
	if budget <= 0 {
		budget = 2000
	}
	return &Assembler{budget: budget}
}

// BuildPrompt 按类型选模板组装 prompt，返回实际纳入上下文的条目。
// 超出预算时先丢弃排名最低的 chunk；空结果给出"明确说没找到"的指令。
func (a *Assembler) BuildPrompt(q *Query, result *RetrievalResult) (string, []RetrievalItem) {
	if result.Empty() {
		return fmt.Sprintf(promptEmpty, q.Text), nil
	}

	template, ok := promptTemplates[q.Category]
	if !ok {
		template = promptGeneral
	}

	var parts []string
	var used []RetrievalItem
	remaining := a.budget

	for _, item := range result.Items {
		label := sourceLabel(item)
		entry := fmt.Sprintf("[%s] %s", label, item.Chunk.Text)
		entryLen := len([]rune(entry))

		if entryLen <= remaining {
			parts = append(parts, entry)
			used = append(used, item)
			remaining -= entryLen
			continue
		}

		// 剩余预算够放一段有意义的前缀时截断收尾，否则直接停
		if remaining > minTailRunes {
			runes := []rune(entry)
			parts = append(parts, string(runes[:remaining])+"...")
			used = append(used, item)
		}
		break
	}

	context := strings.Join(parts, "\n\n")
	return fmt.Sprintf(template, context, q.Text), used
}

// PackageAnswer 打包答案。置信度 = 实际纳入上下文来源的平均相似度，
// 截到 [0,1]；绝不根据生成文本本身推断正确性。
func (a *Assembler) PackageAnswer(generated string, q *Query, used []RetrievalItem) *Answer {
	sources := make([]SourceRef, 0, len(used))
	sum := 0.0
	for _, item := range used {
		sources = append(sources, SourceRef{
			ChunkID:    item.Chunk.ID,
			DocumentID: item.Chunk.DocumentID,
			Score:      item.Score,
		})
		sum += item.Score
	}

	confidence := 0.0
	if len(used) > 0 {
		confidence = sum / float64(len(used))
		if confidence > 1 {
			confidence = 1
		}
		if confidence < 0 {
			confidence = 0
		}
	}

	return &Answer{
		Text:       strings.TrimSpace(generated),
		Sources:    sources,
		Confidence: confidence,
		Category:   q.Category,
	}
}

// SuggestedQuestions 基于文档领域的建议问题列表。
func (a *Assembler) SuggestedQuestions() []string {
	return []string{
		"What is the registry number?",
		"Who is the owner of the property?",
		"What is the private area of the property?",
		"What is the total area of the property?",
		"What is the property tax registration number?",
		"Does the property include a parking space?",
		"What is the common-use area?",
		"What is the address of the property?",
		"Are there any restrictions on the property?",
	}
}

func sourceLabel(item RetrievalItem) string {
	if name, ok := item.Attributes["filename"]; ok && name != "" {
		return name
	}
	return item.Chunk.DocumentID
}

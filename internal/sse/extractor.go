// extractor.go — 从字节流中切分 SSE 帧。
//
// 帧边界为空行 (\n\n 或 \r\n\r\n)。帧体 = 所有以 "data:" 前缀开头的行,
// 去掉前缀和行首空白后按换行重组并 trim。
package sse

import (
	"strings"
)

// FieldPrefix SSE 数据行前缀。
const FieldPrefix = "data:"

// Extractor 增量帧提取器。
//
// Feed 追加一块字节并返回其中新出现的完整帧体; 未消费的残余保留到下一次。
// 同一内容无论按什么粒度切块喂入, 产出的帧序列一致。
type Extractor struct {
	// rest 为尚未消费的缓冲内容 (上次扫描的残余)。
	rest string
}

// NewExtractor 创建帧提取器。
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Feed 追加一块数据并返回新切分出的帧体 (可能为空)。
//
// 幂等: 没有新的帧边界时返回零帧, 残余不变。
func (e *Extractor) Feed(chunk string) []string {
	e.rest += chunk
	return e.drain()
}

// Flush 流结束时调用: 若残余还有非空白内容, 补一次合成边界,
// 避免最后一帧因缺少结尾空行被丢弃。之后提取器归零。
func (e *Extractor) Flush() []string {
	frames := e.drain()
	if strings.TrimSpace(e.rest) != "" {
		e.rest += "\n\n"
		frames = append(frames, e.drain()...)
	}
	e.rest = ""
	return frames
}

// Rest 返回当前未消费的残余 (测试与诊断用)。
func (e *Extractor) Rest() string { return e.rest }

// drain 反复切出最早的完整帧, 直到缓冲中不再有边界。
func (e *Extractor) drain() []string {
	var frames []string
	for {
		block, ok := e.cutBlock()
		if !ok {
			return frames
		}
		if body := parseFrameBody(block); body != "" {
			frames = append(frames, body)
		}
	}
}

// cutBlock 从残余中切出最早边界之前的块。边界同时接受 \n\n 和 \r\n\r\n,
// 取位置靠前者。
func (e *Extractor) cutBlock() (string, bool) {
	idxLF := strings.Index(e.rest, "\n\n")
	idxCRLF := strings.Index(e.rest, "\r\n\r\n")

	idx, width := -1, 0
	switch {
	case idxLF == -1 && idxCRLF == -1:
		return "", false
	case idxCRLF == -1:
		idx, width = idxLF, 2
	case idxLF == -1:
		idx, width = idxCRLF, 4
	case idxCRLF < idxLF:
		idx, width = idxCRLF, 4
	default:
		idx, width = idxLF, 2
	}

	block := e.rest[:idx]
	e.rest = e.rest[idx+width:]
	return block, true
}

// parseFrameBody 提取一个块中所有 data: 行, 去前缀去行首空白, 重组并 trim。
func parseFrameBody(block string) string {
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, FieldPrefix) {
			continue
		}
		lines = append(lines, strings.TrimLeft(line[len(FieldPrefix):], " \t"))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

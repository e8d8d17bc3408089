// Streaming frame decoding. Backends deliver an append-only sequence of
// newline-delimited frames over one long-lived response body; the two wire
// framings in use are normalized here into the ChunkFunc contract.
package llm

import (
	"bytes"
	"encoding/json"
	"strings"
)

// frameBuffer accumulates raw transport bytes and yields complete
// newline-delimited frames. The trailing partial line is retained and
// re-seeded on the next Feed call.
type frameBuffer struct {
	buf []byte
}

// Feed appends p and returns every complete line received so far, with
// line endings stripped. Blank lines are dropped (SSE frame separators).
func (b *frameBuffer) Feed(p []byte) []string {
	b.buf = append(b.buf, p...)

	var lines []string
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(b.buf[:i]), "\r")
		b.buf = b.buf[i+1:]
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// streamDecoder turns one wire frame into normalized stream progress.
// Implementations must tolerate malformed frames by skipping them: an
// individual bad frame never aborts the stream.
type streamDecoder interface {
	// Decode processes a single complete frame. text is a content delta
	// ("" when the frame carried none), done reports the terminal frame,
	// and usage is non-nil when the backend attached totals to it.
	Decode(frame string) (text string, done bool, usage *Usage)
}

// dataPrefix is the SSE field prefix both framings use for payload lines.
const dataPrefix = "data: "

// ─── flat delta framing (OpenAI-style) ──────────────────────────────────────
//
// Each frame is "data: {json}" where the json carries the next content
// fragment under choices[0].delta.content. The stream terminates with the
// sentinel frame "data: [DONE]".

const doneSentinel = "[DONE]"

type deltaFrame struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type deltaDecoder struct{}

func (deltaDecoder) Decode(frame string) (string, bool, *Usage) {
	if !strings.HasPrefix(frame, dataPrefix) {
		return "", false, nil // comment or unknown field line
	}
	payload := strings.TrimPrefix(frame, dataPrefix)
	if payload == doneSentinel {
		return "", true, nil
	}

	var f deltaFrame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return "", false, nil // malformed frame: skip, keep the stream alive
	}

	var usage *Usage
	if f.Usage != nil {
		usage = &Usage{
			PromptTokens:     f.Usage.PromptTokens,
			CompletionTokens: f.Usage.CompletionTokens,
			TotalTokens:      f.Usage.TotalTokens,
		}
	}
	if len(f.Choices) == 0 {
		return "", false, usage
	}
	return f.Choices[0].Delta.Content, false, usage
}

// ─── phased event framing (Anthropic-style) ─────────────────────────────────
//
// Frames are "event: <type>" / "data: {json}" pairs with explicit phases:
// message_start, content_block_delta (text under delta.text), message_delta
// (usage totals), message_stop. Only data lines carry state; event lines
// are ignored since the payload repeats the type.

type phasedFrame struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Message *struct {
		ID    string `json:"id"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type phasedDecoder struct {
	promptTokens int // captured from message_start, reported on stop
	outputTokens int
}

func (d *phasedDecoder) Decode(frame string) (string, bool, *Usage) {
	if !strings.HasPrefix(frame, dataPrefix) {
		return "", false, nil
	}

	var f phasedFrame
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, dataPrefix)), &f); err != nil {
		return "", false, nil
	}

	switch f.Type {
	case "message_start":
		if f.Message != nil {
			d.promptTokens = f.Message.Usage.InputTokens
		}
		return "", false, nil
	case "content_block_delta":
		return f.Delta.Text, false, nil
	case "message_delta":
		if f.Usage != nil {
			d.outputTokens = f.Usage.OutputTokens
		}
		return "", false, nil
	case "message_stop":
		usage := &Usage{
			PromptTokens:     d.promptTokens,
			CompletionTokens: d.outputTokens,
			TotalTokens:      d.promptTokens + d.outputTokens,
		}
		return "", true, usage
	default:
		return "", false, nil // ping and future phases
	}
}

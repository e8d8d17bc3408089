// Unit tests for frame buffering and the two stream framings.
package llm

import (
	"reflect"
	"testing"
)

// ============================================================================
// frameBuffer tests
// ============================================================================

func TestFrameBuffer_SplitsCompleteLines(t *testing.T) {
	t.Parallel()

	var fb frameBuffer
	lines := fb.Feed([]byte("one\ntwo\nthree"))
	if !reflect.DeepEqual(lines, []string{"one", "two"}) {
		t.Fatalf("expected [one two], got %v", lines)
	}

	// The trailing partial line is re-seeded and completed by the next feed.
	lines = fb.Feed([]byte(" more\n"))
	if !reflect.DeepEqual(lines, []string{"three more"}) {
		t.Fatalf("expected [three more], got %v", lines)
	}
}

func TestFrameBuffer_DropsBlankAndStripsCR(t *testing.T) {
	t.Parallel()

	var fb frameBuffer
	lines := fb.Feed([]byte("a\r\n\r\n\nb\n"))
	if !reflect.DeepEqual(lines, []string{"a", "b"}) {
		t.Fatalf("expected [a b], got %v", lines)
	}
}

// ============================================================================
// flat delta framing (OpenAI wire)
// ============================================================================

func TestDeltaDecoder_ContentAndSentinel(t *testing.T) {
	t.Parallel()

	dec := deltaDecoder{}
	frames := []string{
		`data: {"id":"x","choices":[{"delta":{"content":"He"}}]}`,
		`data: {"id":"x","choices":[{"delta":{"content":"llo"}}]}`,
		`data: {"id":"x","choices":[{"delta":{"content":"!"}}]}`,
		`data: [DONE]`,
	}

	var got string
	for i, frame := range frames {
		text, done, _ := dec.Decode(frame)
		got += text
		if done != (i == len(frames)-1) {
			t.Fatalf("frame %d: unexpected done=%v", i, done)
		}
	}
	if got != "Hello!" {
		t.Errorf("expected accumulated content \"Hello!\", got %q", got)
	}
}

func TestDeltaDecoder_SkipsMalformedFrames(t *testing.T) {
	t.Parallel()

	dec := deltaDecoder{}
	text, done, _ := dec.Decode(`data: {not json`)
	if text != "" || done {
		t.Errorf("malformed frame must be skipped, got text=%q done=%v", text, done)
	}

	// Stream stays alive for the next valid frame.
	text, _, _ = dec.Decode(`data: {"choices":[{"delta":{"content":"ok"}}]}`)
	if text != "ok" {
		t.Errorf("expected stream to continue after a bad frame, got %q", text)
	}
}

func TestDeltaDecoder_UsageFrame(t *testing.T) {
	t.Parallel()

	dec := deltaDecoder{}
	_, _, usage := dec.Decode(`data: {"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	if usage == nil {
		t.Fatal("expected usage from the usage frame")
	}
	if usage.TotalTokens != 15 {
		t.Errorf("expected total 15, got %d", usage.TotalTokens)
	}
}

// ============================================================================
// phased event framing (Anthropic wire)
// ============================================================================

func TestPhasedDecoder_FullExchange(t *testing.T) {
	t.Parallel()

	dec := &phasedDecoder{}
	frames := []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":12}}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"He"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"llo!"}}`,
		`data: {"type":"message_delta","usage":{"output_tokens":4}}`,
		`data: {"type":"message_stop"}`,
	}

	var content string
	var usage *Usage
	var sawDone bool
	for _, frame := range frames {
		text, done, u := dec.Decode(frame)
		content += text
		if u != nil {
			usage = u
		}
		if done {
			sawDone = true
		}
	}

	if content != "Hello!" {
		t.Errorf("expected \"Hello!\", got %q", content)
	}
	if !sawDone {
		t.Error("expected message_stop to terminate the stream")
	}
	if usage == nil || usage.PromptTokens != 12 || usage.CompletionTokens != 4 || usage.TotalTokens != 16 {
		t.Errorf("expected usage 12/4/16, got %+v", usage)
	}
}

func TestPhasedDecoder_IgnoresPingAndEventLines(t *testing.T) {
	t.Parallel()

	dec := &phasedDecoder{}
	for _, frame := range []string{
		`event: ping`,
		`data: {"type":"ping"}`,
		`: keep-alive comment`,
	} {
		text, done, _ := dec.Decode(frame)
		if text != "" || done {
			t.Errorf("frame %q should be inert, got text=%q done=%v", frame, text, done)
		}
	}
}

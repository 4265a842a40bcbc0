package enginerunner

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/codemachine-dev/codemachine/internal/types"
)

// lineEnvelope peeks at the common discriminator fields of a streaming
// JSON line ("Engine streaming-JSON protocol (consumed)").
type lineEnvelope struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	Role      string `json:"role"` // alternate {role, content, tool_calls} shape
	SessionID string `json:"session_id"`
}

type contentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Thinking  string `json:"thinking"`
	ID        string `json:"id"`   // tool_use id
	Name      string `json:"name"` // tool_use name
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content"`
	IsError   bool   `json:"is_error"`
}

type assistantMessage struct {
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

type userMessage struct {
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type resultMessage struct {
	Usage struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens              int `json:"output_tokens"`
		CacheReadInputTokens      int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
	DurationMs   int64   `json:"duration_ms"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	IsError      bool    `json:"is_error"`
	Result       string  `json:"result"`
}

// toolCallPreviewLimit is the content-preview length for tool results.
const toolCallPreviewLimit = 100

// parseResult is the normalized outcome of classifying one stdout line.
type parseResult struct {
	sessionID   string
	telemetry   *types.ParsedTelemetry
	capturedErr string

	// toolStarted/toolResult/messages are dispatched by the caller via
	// the RunOptions callbacks; they are collected here for testability.
	statusMarker string
	messages     []parsedMessage
	toolStarts   []toolStart
	toolResults  []toolResultEvent
}

type parsedMessage struct {
	text     string
	thinking bool
}

type toolStart struct {
	id   string
	name string
}

type toolResultEvent struct {
	name    string
	preview string
	isError bool
}

// classifyLine parses one JSON stdout line and extracts everything
// describes. toolNames is the intra-invocation tool_use id -> name
// map that must be threaded by the caller across lines (a tool_use sets
// an entry; the matching tool_result consumes and erases it).
func classifyLine(line string, toolNames map[string]string) (*parseResult, error) {
	var env lineEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return nil, err
	}

	res := &parseResult{}
	if env.SessionID != "" {
		res.sessionID = env.SessionID
	}

	switch env.Type {
	case "assistant":
		var am assistantMessage
		_ = json.Unmarshal([]byte(line), &am)
		if am.Error != "" {
			res.capturedErr = am.Error
		}
		for _, block := range am.Message.Content {
			switch block.Type {
			case "text":
				res.messages = append(res.messages, parsedMessage{text: block.Text})
			case "thinking":
				res.messages = append(res.messages, parsedMessage{text: block.Thinking, thinking: true})
			case "tool_use":
				toolNames[block.ID] = block.Name
				res.toolStarts = append(res.toolStarts, toolStart{id: block.ID, name: block.Name})
			}
		}
	case "user":
		var um userMessage
		_ = json.Unmarshal([]byte(line), &um)
		for _, block := range um.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			name, ok := toolNames[block.ToolUseID]
			if !ok {
				name = "tool"
			}
			delete(toolNames, block.ToolUseID)
			res.toolResults = append(res.toolResults, toolResultEvent{
				name:    name,
				preview: previewOf(block.Content),
				isError: block.IsError,
			})
		}
	case "system":
		if env.Subtype == "init" {
			res.statusMarker = "init"
		} else {
			res.statusMarker = env.Subtype
		}
	case "result":
		var rm resultMessage
		_ = json.Unmarshal([]byte(line), &rm)
		res.telemetry = &types.ParsedTelemetry{
			TokensIn:  rm.Usage.InputTokens + rm.Usage.CacheReadInputTokens + rm.Usage.CacheCreationInputTokens,
			TokensOut: rm.Usage.OutputTokens,
			Cached:    rm.Usage.CacheReadInputTokens + rm.Usage.CacheCreationInputTokens,
			CostUSD:   rm.TotalCostUSD,
			Duration:  time.Duration(rm.DurationMs) * time.Millisecond,
		}
		if rm.IsError && rm.Result != "" {
			res.capturedErr = rm.Result
		}
	default:
		if env.Role != "" {
			// Alternate {role, content, tool_calls} shape: semantics
			// equivalent to the assistant/user cases above, treated as
			// a plain text line.
			var alt struct {
				Content string `json:"content"`
			}
			_ = json.Unmarshal([]byte(line), &alt)
			if alt.Content != "" {
				res.messages = append(res.messages, parsedMessage{text: alt.Content})
			}
		}
	}

	return res, nil
}

func previewOf(content any) string {
	var s string
	switch v := content.(type) {
	case string:
		s = v
	default:
		b, _ := json.Marshal(v)
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if len(s) > toolCallPreviewLimit {
		return s[:toolCallPreviewLimit]
	}
	return s
}

package codegen

import "encoding/json"

// streamLine is one line of the tool's stream-JSON output. Only result
// lines matter to the workflow; everything else is progress chatter.
type streamLine struct {
	Type    string     `json:"type"`
	Result  string     `json:"result"`
	Model   string     `json:"model"`
	IsError bool       `json:"is_error"`
	Usage   *usageInfo `json:"usage"`
}

type usageInfo struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// parseResultLine decodes a stream line and reports whether it is a result
// line. Non-JSON lines and non-result events return ok=false and are
// discarded by the caller.
func parseResultLine(line string) (streamLine, bool) {
	var ev streamLine
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return streamLine{}, false
	}
	return ev, ev.Type == "result"
}

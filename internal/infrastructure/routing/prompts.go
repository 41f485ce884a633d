package routing

import (
	"encoding/json"
	"fmt"
	"strings"

	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
	"github.com/Nyukimin/storefront_agent/internal/domain/routing"
)

const (
	maxNoMatchOperations = 8
	maxResultPromptBytes = 6000
)

const selectionPromptHeader = `You are an MCP (Model Context Protocol) server router. Your job is to analyze user requests and determine which MCP server should handle the request.`

const selectionPromptFooter = `For each user request, determine:
1. Which MCP server is most appropriate
2. What specific tool should be called from the available tools above
3. What parameters are needed, using the exact parameter names

Respond with a single JSON object and nothing else:
{
    "selected_server": "server_name",
    "reasoning": "why this server and tool were chosen",
    "tool_name": "tool_to_call",
    "parameters": {"param1": "value1"},
    "confidence": 0.0
}

confidence is a number between 0.0 and 1.0.
If no server is appropriate, set "selected_server" to null and explain why in "reasoning".`

// buildSelectionPrompt はバックエンド選択用のシステムプロンプトを構築
func buildSelectionPrompt(backends []domainmcp.Descriptor, catalog *domainmcp.Catalog) string {
	var b strings.Builder
	b.WriteString(selectionPromptHeader)
	b.WriteString("\n\nAvailable MCP servers:\n")
	if len(backends) == 0 {
		b.WriteString("- (none registered)\n")
	}
	for _, d := range backends {
		fmt.Fprintf(&b, "- %s: %s", d.Name, d.Description)
		if len(d.Capabilities) > 0 {
			fmt.Fprintf(&b, " (Capabilities: %s)", strings.Join(d.Capabilities, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nThe MCP servers expose these tools:\n")
	writeCatalog(&b, catalog)

	b.WriteString("\n")
	b.WriteString(selectionPromptFooter)
	return b.String()
}

func writeCatalog(b *strings.Builder, catalog *domainmcp.Catalog) {
	for _, e := range catalog.Entries() {
		fmt.Fprintf(b, "- %s: %s", e.Name, e.Description)
		if len(e.Params) == 0 {
			b.WriteString(" (no parameters)\n")
			continue
		}
		params := make([]string, 0, len(e.Params))
		for _, p := range e.Params {
			if p.Required {
				params = append(params, fmt.Sprintf("%s %s, required", p.Name, p.Type))
			} else {
				params = append(params, fmt.Sprintf("%s %s, optional", p.Name, p.Type))
			}
		}
		fmt.Fprintf(b, " (%s)\n", strings.Join(params, "; "))
	}
}

// buildInterpretPrompt は実行結果を会話文にするためのプロンプトを構築
func buildInterpretPrompt(outcome routing.Outcome, utterance string, catalog *domainmcp.Catalog) string {
	var b strings.Builder
	b.WriteString("Interpret the following MCP server response and provide a user-friendly explanation.\n\n")
	fmt.Fprintf(&b, "Original User Request: %s\n\n", utterance)
	fmt.Fprintf(&b, "MCP Server Response:\n%s\n\n", compactJSON(outcome, maxResultPromptBytes))
	b.WriteString("The MCP server has these tools available:\n")
	writeCatalog(&b, catalog)
	b.WriteString(`
Please:
1. Restate succinctly what the user asked.
2. Say whether the requested products are available based on the results.
3. Summarize the most relevant details (name, price, availability) in 1-3 short sentences.
4. If there was an error, explain briefly what went wrong and suggest a next step using the tools above.
5. Keep it conversational and concise.`)
	return b.String()
}

// buildNoMatchPrompt はツールが選べなかった場合の応答用プロンプトを構築
func buildNoMatchPrompt(utterance string, ops []domainmcp.Operation, catalog *domainmcp.Catalog) string {
	var b strings.Builder
	b.WriteString("You are a friendly customer service agent for an online storefront.\n\n")
	fmt.Fprintf(&b, "The user asked: %q\n\n", utterance)
	b.WriteString("No matching tool was confidently identified for this request.\n\n")
	b.WriteString(`Respond as a helpful customer service agent:
- Greet briefly and acknowledge the request.
- Explain that you couldn't find an exact tool match for that request.
- Offer guidance on how to proceed using the capabilities below, with one concise example.
- Ask one clarifying question if it helps move forward.

Available tools:
`)
	if len(ops) == 0 {
		writeCatalog(&b, catalog)
	} else {
		for i, op := range ops {
			if i == maxNoMatchOperations {
				break
			}
			name := op.Name
			if name == "" {
				name = "unknown_tool"
			}
			fmt.Fprintf(&b, "- %s: %s\n", name, op.Description)
		}
	}
	b.WriteString("\nKeep the response to 2-5 sentences, clear and conversational.")
	return b.String()
}

const intentPrompt = `Analyze the following storefront request and describe the user's intent.

User Request: %s

Respond with a single JSON object:
{
    "intent": "short_snake_case_intent",
    "confidence": 0.0,
    "mcp_operations": ["tools/<tool_name>"],
    "user_message": "one sentence restating the request"
}`

// buildIntentPrompt は意図分析用のプロンプトを構築
func buildIntentPrompt(utterance string) string {
	return fmt.Sprintf(intentPrompt, utterance)
}

// compactJSON はJSON化して上限バイト数で切り詰める
func compactJSON(v any, limit int) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	if len(data) > limit {
		return string(data[:limit]) + "\n... (truncated)"
	}
	return string(data)
}

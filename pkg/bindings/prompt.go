package bindings

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/codemodehq/codemode/pkg/tools"
)

const promptHeader = `
2. **MCP Tools (Code Mode)**: In addition to the code interpreter, you have access to MCP (Model Context Protocol) tools that can be called directly from your Python code.

**Available MCP Tools:**
`

const promptUsage = "\n**CRITICAL - How to use MCP tools in code:**\n" +
	"- `mcp_tools` is a pre-configured global object already available in your code environment. Use it directly.\n" +
	"- NEVER write `import mcp_tools` or `from mcp_tools import ...` - this will cause an error. The object is already defined for you.\n" +
	"- Call tools like this: `result = mcp_tools.tool_name(param1=value1, param2=value2)`\n" +
	"- All calls are synchronous and return plain Python data (dicts, lists, strings).\n" +
	"- Print results to show the user: `print(result)`\n" +
	"\n" +
	"**Example:**\n" +
	"```python\n" +
	"# mcp_tools is already available - do NOT import it\n" +
	"items = mcp_tools.list_items()\n" +
	"for item in items:\n" +
	"    print(item[\"name\"])\n" +
	"```\n" +
	"\n" +
	"**Important:** When you have MCP tools available, prefer writing code that calls multiple tools in sequence " +
	"rather than making individual tool calls. This is more efficient and allows you to process data between calls.\n"

// GeneratePrompt renders the prompt section documenting the session's tools.
// Method names match the generated bindings exactly, including collision
// suffixes. A required parameter is marked with a star.
func GeneratePrompt(catalog tools.Catalog) string {
	methods := methodTable(catalog)
	if len(methods) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(promptHeader)

	for _, m := range methods {
		description := m.spec.Description
		if description == "" {
			description = "No description"
		}

		required := requiredSet(m.spec.Parameters)
		var paramStrs []string
		gjson.GetBytes(m.spec.Parameters, "properties").ForEach(func(key, value gjson.Result) bool {
			marker := ""
			if required[key.String()] {
				marker = "*"
			}
			paramStrs = append(paramStrs, fmt.Sprintf("%s: %s%s", key.String(), pythonType(value), marker))
			return true
		})

		paramsDisplay := "no parameters"
		if len(paramStrs) > 0 {
			paramsDisplay = strings.Join(paramStrs, ", ")
		}

		fmt.Fprintf(&b, "        - `mcp_tools.%s(%s)`: %s\n", m.name, paramsDisplay, description)
	}

	b.WriteString(promptUsage)
	return b.String()
}

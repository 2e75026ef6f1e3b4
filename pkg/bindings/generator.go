// Package bindings renders the Python module injected ahead of user scripts:
// a small urllib client for the tool proxy plus an MCPTools class with one
// static method per upstream tool. It also renders the matching prompt text
// that documents those methods for the model.
package bindings

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/codemodehq/codemode/pkg/tools"
)

// bindingPrelude is the fixed head of the generated module. The two
// placeholders are the proxy URL and the session id.
const bindingPrelude = `
# ============================================================
# MCP Tool Bindings (Code Mode)
# These functions allow you to call MCP tools directly in code.
# ============================================================

import json
import urllib.request
import urllib.error

_MCP_PROXY_URL = "%s"
_MCP_SESSION_ID = "%s"

def _unwrap_mcp_content(result):
    """Unwrap MCP content items into plain Python data.

    MCP tools return content as a list of items like:
      [{"type": "text", "text": '{"key": "value"}'}, ...]

    This function extracts and parses the text content so tool
    results are directly usable in code.
    """
    if not isinstance(result, list):
        return result

    texts = []
    for item in result:
        if isinstance(item, dict) and item.get("type") == "text":
            raw = item.get("text", "")
            # Try to parse JSON text into Python objects
            try:
                texts.append(json.loads(raw))
            except (json.JSONDecodeError, TypeError):
                texts.append(raw)
        elif isinstance(item, dict) and item.get("type") == "image":
            texts.append(item)  # Keep image items as-is
        else:
            texts.append(item)

    # If there's exactly one text result, return it directly
    if len(texts) == 1:
        return texts[0]
    return texts

def _call_mcp_tool(tool_name: str, **kwargs):
    """Internal function to call MCP tools via proxy."""
    data = json.dumps({
        "tool_name": tool_name,
        "arguments": kwargs,
        "session_id": _MCP_SESSION_ID,
    }).encode("utf-8")

    req = urllib.request.Request(
        _MCP_PROXY_URL,
        data=data,
        headers={"Content-Type": "application/json"},
        method="POST",
    )

    try:
        with urllib.request.urlopen(req, timeout=60) as response:
            result = json.loads(response.read().decode("utf-8"))
            if result.get("error"):
                raise Exception(result["error"])
            return _unwrap_mcp_content(result.get("result", {}))
    except urllib.error.HTTPError as e:
        error_body = e.read().decode("utf-8")
        raise Exception(f"MCP tool call failed: {error_body}")
    except urllib.error.URLError as e:
        raise Exception(f"MCP proxy connection failed: {e.reason}")


class MCPTools:
    """
    MCP Tools available for this session.

    Available servers and tools:
`

// bindingFooter closes the generated module.
const bindingFooter = "\n\n# Create the tools instance as `mcp_tools` to avoid shadowing the `mcp` package\n" +
	"mcp_tools = MCPTools()\n" +
	"\n" +
	"# ============================================================\n" +
	"# End of MCP Tool Bindings\n" +
	"# ============================================================\n" +
	"\n"

// methodTemplate renders one static method: name, signature params,
// docstring, kwargs entries, canonical tool name.
const methodTemplate = "\n    @staticmethod\n" +
	"    def %s(%s):\n" +
	"%s\n" +
	"        _kwargs = {%s}\n" +
	"        _kwargs = {k: v for k, v in _kwargs.items() if v is not None}\n" +
	"        return _call_mcp_tool(\"%s\", **_kwargs)\n"

var identReplacer = strings.NewReplacer("-", "_", ".", "_")

// sanitizeIdent rewrites a tool or parameter name into a valid Python
// identifier. Hyphens and dots are common in MCP tool names.
func sanitizeIdent(name string) string {
	return identReplacer.Replace(name)
}

// pythonType maps a JSON Schema fragment onto a Python type hint.
func pythonType(schema gjson.Result) string {
	switch schema.Get("type").String() {
	case "string":
		return "str"
	case "integer":
		return "int"
	case "number":
		return "float"
	case "boolean":
		return "bool"
	case "array":
		return "list[" + pythonType(schema.Get("items")) + "]"
	case "object":
		return "dict"
	case "null":
		return "None"
	default:
		return "Any"
	}
}

// method is one MCPTools entry: the Python method name after sanitizing and
// collision suffixing, plus the tool it binds.
type method struct {
	name     string
	serverID string
	fullName string
	spec     tools.ToolSpec
}

// methodTable flattens a catalog into the ordered method list shared by the
// binding and prompt generators. Names that sanitize to the same identifier
// get numeric suffixes in catalog order so no method shadows another.
func methodTable(catalog tools.Catalog) []method {
	var methods []method
	seen := map[string]int{}

	for _, entry := range catalog {
		for _, spec := range entry.Specs {
			name := sanitizeIdent(spec.Name)
			seen[name]++
			if n := seen[name]; n > 1 {
				name = fmt.Sprintf("%s_%d", name, n)
			}
			methods = append(methods, method{
				name:     name,
				serverID: entry.ServerID,
				fullName: tools.CanonicalName(entry.ServerID, spec.Name),
				spec:     spec,
			})
		}
	}
	return methods
}

// functionSignature builds the parameter list and docstring for one method.
// Parameter order follows the schema's document order. Optional parameters
// default to None and are filtered out of the call by the generated code.
func functionSignature(spec tools.ToolSpec) (string, string) {
	description := spec.Description
	if description == "" {
		description = "No description available."
	}

	required := requiredSet(spec.Parameters)

	var params []string
	var paramDocs []string
	gjson.GetBytes(spec.Parameters, "properties").ForEach(func(key, value gjson.Result) bool {
		paramName := key.String()
		paramType := pythonType(value)
		safeName := sanitizeIdent(paramName)

		if required[paramName] {
			params = append(params, fmt.Sprintf("%s: %s", safeName, paramType))
		} else {
			params = append(params, fmt.Sprintf("%s: %s = None", safeName, paramType))
		}

		if desc := value.Get("description").String(); desc != "" {
			paramDocs = append(paramDocs, fmt.Sprintf("            %s: %s", paramName, desc))
		}
		return true
	})

	docstringParts := []string{fmt.Sprintf(`        """%s`, description)}
	if len(paramDocs) > 0 {
		docstringParts = append(docstringParts, "", "        Args:")
		docstringParts = append(docstringParts, paramDocs...)
	}
	docstringParts = append(docstringParts, `        """`)

	return strings.Join(params, ", "), strings.Join(docstringParts, "\n")
}

// requiredSet extracts the schema's required parameter names.
func requiredSet(parameters []byte) map[string]bool {
	required := map[string]bool{}
	for _, name := range gjson.GetBytes(parameters, "required").Array() {
		required[name.String()] = true
	}
	return required
}

// kwargsLiteral builds the dict entries mapping wire parameter names to the
// sanitized local variables of the method signature.
func kwargsLiteral(spec tools.ToolSpec) string {
	var items []string
	gjson.GetBytes(spec.Parameters, "properties").ForEach(func(key, _ gjson.Result) bool {
		paramName := key.String()
		items = append(items, fmt.Sprintf("%q: %s", paramName, sanitizeIdent(paramName)))
		return true
	})
	return strings.Join(items, ", ")
}

// truncateDescription shortens a description for the class docstring listing.
func truncateDescription(description string) string {
	runes := []rune(description)
	if len(runes) > 60 {
		return string(runes[:60])
	}
	return description
}

// Generate renders the Python binding module for a session's tool catalog.
// Returns the empty string when the catalog exposes no tools.
func Generate(catalog tools.Catalog, proxyURL, sessionID string) string {
	methods := methodTable(catalog)
	if len(methods) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, bindingPrelude, proxyURL, sessionID)

	for _, entry := range catalog {
		if len(entry.Specs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "        - %s:\n", entry.ServerID)
		for _, spec := range entry.Specs {
			fmt.Fprintf(&b, "            - %s: %s...\n", spec.Name, truncateDescription(spec.Description))
		}
	}
	b.WriteString("    \"\"\"\n\n")

	currentServer := ""
	for _, m := range methods {
		if m.serverID != currentServer {
			fmt.Fprintf(&b, "    # Tools from server: %s\n", m.serverID)
			currentServer = m.serverID
		}

		signatureParams, docstring := functionSignature(m.spec)
		fmt.Fprintf(&b, methodTemplate, m.name, signatureParams, docstring, kwargsLiteral(m.spec), m.fullName)
	}

	b.WriteString(bindingFooter)
	return b.String()
}

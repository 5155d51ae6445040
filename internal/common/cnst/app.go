package cnst

const (
	// AppName is the name reported in MCP serverInfo and used for tracing
	AppName = "dalle-mcp-sse"
	// CommandName is the name of the binary
	CommandName = "dalle-sse"
)

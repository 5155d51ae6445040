package cnst

// Tracer names used across the service
const (
	// TraceCore is the tracer name for core server logic
	TraceCore = "dalle-sse/core"
	// TraceTransport is the tracer name for the SSE and publisher transports
	TraceTransport = "dalle-sse/transport"
	// TraceImageGen is the tracer name for the image generation tool
	TraceImageGen = "dalle-sse/imagegen"
)

// Common span names and prefixes
const (
	// SpanSSEConnect represents establishing an SSE stream
	SpanSSEConnect = "mcp.sse.connect"

	// SpanMessagePublish represents publishing one inbound message to a session channel
	SpanMessagePublish = "mcp.message.publish"

	// SpanMCPMethodPrefix prefixes spans for handling MCP methods
	SpanMCPMethodPrefix = "mcp.method."

	// SpanToolGenerateImage represents a generate_image tool call
	SpanToolGenerateImage = "mcp.tool.generate_image"
)

// Common attribute keys
const (
	AttrMCPTool          = "mcp.tool"
	AttrMCPSessionID     = "mcp.session_id"
	AttrMCPMethod        = "mcp.method"
	AttrBrokerChannel    = "broker.channel"
	AttrBrokerReceivers  = "broker.receivers"
	AttrClientAddr       = "client.remote_addr"
	AttrClientUserAgent  = "client.user_agent"
	AttrErrorReason      = "error.reason"
	AttrHTTPStatusCode   = "http.status_code"
	AttrImageQuality     = "image.quality"
	AttrImageOutputBytes = "image.output_bytes"
)

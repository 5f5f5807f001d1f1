package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	CodeInvalidState       Code = "INVALID_STATE"
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeUnknownError       Code = "UNKNOWN_ERROR"
)

// Wallet connection error codes
const (
	CodeUnknownConnector Code = "UNKNOWN_CONNECTOR"

	// Classified activation failures
	CodeNoProviderAvailable Code = "NO_PROVIDER_AVAILABLE"
	CodeUnsupportedChain    Code = "UNSUPPORTED_CHAIN"
	CodeUserRejected        Code = "USER_REJECTED"

	CodeAlreadyActivating   Code = "ALREADY_ACTIVATING"
	CodeBridgeSessionFailed Code = "BRIDGE_SESSION_FAILED"
)

// Transport error codes
const (
	CodeEthereumConnectionFailed Code = "ETHEREUM_CONNECTION_FAILED"
	CodeEthereumSubscribeFailed  Code = "ETHEREUM_SUBSCRIBE_FAILED"
	CodeEthereumRPCError         Code = "ETHEREUM_RPC_ERROR"

	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodeWebSocketSendError       Code = "WEBSOCKET_SEND_ERROR"

	CodeCircuitOpen Code = "CIRCUIT_OPEN"
)

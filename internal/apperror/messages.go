package apperror

// messages holds what a user is shown for each code.
var messages = map[Code]string{
	CodeInvalidState:       "Invalid state for this operation",
	CodeConfigurationError: "Configuration error",
	CodeRateLimitExceeded:  "Rate limit exceeded",
	CodeInternalError:      "Internal error",
	CodeUnknownError:       "An unknown error occurred. Check the console for more details.",

	CodeUnknownConnector:    "Unknown connector",
	CodeNoProviderAvailable: "No Ethereum browser extension detected, install MetaMask on desktop or visit from a dApp browser on mobile.",
	CodeUnsupportedChain:    "You're connected to an unsupported network.",
	CodeUserRejected:        "Please authorize this website to access your Ethereum account.",
	CodeAlreadyActivating:   "Another connector is already being activated",
	CodeBridgeSessionFailed: "Bridge session could not be established",

	CodeEthereumConnectionFailed: "Failed to connect to Ethereum node",
	CodeEthereumSubscribeFailed:  "Failed to subscribe to Ethereum events",
	CodeEthereumRPCError:         "Ethereum RPC call failed",

	CodeWebSocketConnectionError: "WebSocket connection error",
	CodeWebSocketClosed:          "WebSocket connection closed",
	CodeWebSocketSendError:       "Failed to send WebSocket message",

	CodeCircuitOpen: "Circuit breaker is open",
}

// Message returns the message registered for code, or the code itself.
func Message(code Code) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return string(code)
}

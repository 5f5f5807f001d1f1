package ui

import "github.com/tqthu/web3-thu-duc/business/wallet/app"

// Message types for TUI updates

// ViewMsg carries a new wallet snapshot.
type ViewMsg struct {
	View app.View
}

// ActivationDoneMsg is sent when a requested activation returns.
type ActivationDoneMsg struct {
	Connector string
	Err       error
}

// DeactivatedMsg is sent when a requested deactivation returns.
type DeactivatedMsg struct{}

// ErrorMsg is sent when an error occurs outside the connection lifecycle.
type ErrorMsg struct {
	Error error
}

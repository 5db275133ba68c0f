// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Text truncation limit for API responses
	TextPreviewLimit = 500

	// RateLimitMessages caps inbound WebSocket messages per RateLimitWindow.
	RateLimitMessages = 30
	// RateLimitWindow is the sliding window rate limiting is measured over.
	RateLimitWindow = 10 * time.Second
)

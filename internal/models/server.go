package models

// APIServer is the HTTP surface of the application.
type APIServer interface {
	// Start starts the HTTP server
	Start()
	// Shutdown gracefully shuts down the HTTP server
	Shutdown() error
}

package http_api

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	s.router.GET("/health", s.health)

	v1 := s.router.Group("/api/v1")
	v1.POST("/charges", s.createCharge)
	v1.GET("/charges", s.listCharges)
	v1.GET("/charges/:id", s.getCharge)
	v1.GET("/charges/:id/status", s.chargeStatus)
	v1.POST("/charges/:id/sweep", s.sweepCharge)
	v1.DELETE("/charges/:id", s.deleteCharge)
	v1.POST("/maintenance/cleanup", s.cleanupSwept)
}

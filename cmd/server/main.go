package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/sitesafe/ptwcore/internal/server"
)

// Version is set via ldflags at build time
var Version = "dev"

// @title PTW Core API
// @version 1.0
// @description Permit-to-Work core service API
// @host localhost:8470
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	port := flag.Int("port", 0, "Port to run the server on (overrides config)")
	mode := flag.String("mode", "both", "Run mode: server (API only), worker (worker only), or both")
	flag.Parse()

	err := server.RunWithSignalHandling(server.Config{
		Port:    *port,
		Mode:    *mode,
		Version: Version,
	})
	if err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

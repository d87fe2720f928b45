// Package main implements a standalone fake DNS provider for local
// end-to-end runs of freesub.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sipico/freesub/internal/testutil/mockprovider"
)

// getPort returns the port from the PORT environment variable or the default.
func getPort() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	return port
}

// parseZones parses MOCK_ZONES, a comma-separated list of name=id pairs.
// A bare name gets a generated id.
func parseZones(list string) (map[string]string, error) {
	zones := make(map[string]string)
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, id, _ := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid zone %q: missing name", item)
		}
		zones[name] = strings.TrimSpace(id)
	}
	return zones, nil
}

// createServer creates the mock provider and seeds its zones.
func createServer(token, zoneList string, logger *slog.Logger) (*mockprovider.Server, error) {
	var opts []mockprovider.Option
	if token != "" {
		opts = append(opts, mockprovider.WithToken(token))
	}
	if logger != nil {
		opts = append(opts, mockprovider.WithLogger(logger))
	}
	server := mockprovider.NewHandler(opts...)

	zones, err := parseZones(zoneList)
	if err != nil {
		return nil, err
	}
	for name, id := range zones {
		if id == "" {
			id = server.AddZone(name)
		} else {
			server.AddZoneWithID(id, name)
		}
		log.Printf("zone %s has id %s", name, id)
	}
	return server, nil
}

// createHTTPServer creates an http.Server with the given port and handler.
func createHTTPServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// setupShutdownHandler sets up graceful shutdown handling.
func setupShutdownHandler(httpServer *http.Server) <-chan bool {
	done := make(chan bool)
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down mockprovider server...")
		//nolint:errcheck
		httpServer.Close()
		close(done)
	}()
	return done
}

// doHealthCheck returns 0 when url answers 200, 1 otherwise. Used by
// container HEALTHCHECK.
func doHealthCheck(url string) int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return 1
	}
	//nolint:errcheck // Response body close errors are unrecoverable in health check
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func main() {
	// Handle health check subcommand for distroless container health checks
	if len(os.Args) > 1 && os.Args[1] == "health" {
		os.Exit(doHealthCheck("http://localhost:" + getPort() + "/health"))
	}

	var logger *slog.Logger
	if os.Getenv("MOCK_DEBUG") != "" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	port := getPort()
	server, err := createServer(os.Getenv("MOCK_TOKEN"), os.Getenv("MOCK_ZONES"), logger)
	if err != nil {
		log.Fatalf("invalid MOCK_ZONES: %v", err)
	}

	httpServer := createHTTPServer(port, server.Handler())
	done := setupShutdownHandler(httpServer)

	log.Printf("mockprovider listening on :%s", port)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}

	<-done
	log.Println("mockprovider stopped")
}

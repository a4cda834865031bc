package main

import (
	"net/http"
	"os"
	"time"
)

func main() {
	port := os.Getenv("APISCENARIO_PORT")
	if port == "" {
		port = "8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:" + port + "/api/v1/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

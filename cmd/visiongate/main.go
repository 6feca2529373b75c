// Command visiongate runs the UI-test validation gateway: artifact
// intake with consensus evaluation, report generation, and the REST
// API in one binary.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/visiongate/visiongate/pkg/config"
)

const version = "0.4.0"

// ANSI colors for terminal output.
const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[90m"
)

// startServer is a var so tests can stub the long-running path.
var startServer = runServer

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches the CLI. No arguments starts the server.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer()
	}

	switch args[1] {
	case "server", "serve":
		return startServer()
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "visiongate %s\n", version)
		return 0
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			// Bare flags belong to the server.
			return startServer()
		}
		fmt.Fprintf(stderr, "unknown command: %s\n\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// runHealthCmd asks a locally running server for its health status.
func runHealthCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	url := fmt.Sprintf("http://localhost:%s/healthz", cfg.Port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "unhealthy (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return 1
	}
	fmt.Fprintf(stdout, "%s\n", strings.TrimSpace(string(body)))
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "%svisiongate%s %s — UI-test validation gateway\n\n", colorBold, colorReset, version)
	fmt.Fprintf(w, "%sUsage:%s\n", colorBold, colorReset)
	fmt.Fprintf(w, "  visiongate [command]\n\n")

	printSection(w, "Commands")
	printCommand(w, "server", "start the API server (default)")
	printCommand(w, "health", "check a locally running server")
	printCommand(w, "version", "print the version")
	printCommand(w, "help", "show this help")

	fmt.Fprintf(w, "\n%sConfiguration:%s\n", colorBold, colorReset)
	fmt.Fprintf(w, "  Everything is environment driven. Without DATABASE_URL the node runs\n")
	fmt.Fprintf(w, "  in lite mode: SQLite storage, filesystem blobs, per-process limits.\n")
	fmt.Fprintf(w, "  Set %sPROFILE%s to load a preset from %sPROFILES_DIR%s (default: profiles).\n",
		colorCyan, colorReset, colorCyan, colorReset)
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", colorBold, title, colorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s%s%s\n", colorGreen, name, colorReset, colorGray, desc, colorReset)
}

package main

import (
	"fmt"
	"os"
	"strings"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	pidFile = "studyd.pid"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs()
	case "config":
		err = cmdConfig()
	case "resources":
		err = cmdResources()
	case "attempts":
		err = cmdAttempts(os.Args[2:])
	case "points":
		err = cmdPoints(os.Args[2:])
	case "ranking":
		err = cmdRanking(os.Args[2:])
	case "mcp":
		err = cmdMCP()
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("studyloop %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Studyloop - Guided study sessions with scored attempts

Usage:
  studyloop <command> [arguments]

Daemon Commands:
  start           Start the studyloop daemon
  stop            Stop the studyloop daemon
  status          Show daemon status
  logs            View daemon logs
  config          Show current configuration

Study Commands:
  resources                      List available resources
  attempts <user> <resource>     List a learner's attempts at a resource
  points <user>                  Show total points and best scores
  ranking [limit]                Show the global ranking

Integration Commands:
  mcp             Start MCP server on stdio

Other:
  help            Show this help message
  version         Show version information

Examples:
  studyloop start
  studyloop points ana
  studyloop ranking 5`)
}

// renderProgressBar creates a visual progress bar
func renderProgressBar(value float64, width int) string {
	filled := int(value * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	empty := width - filled

	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", empty) + "]"
}

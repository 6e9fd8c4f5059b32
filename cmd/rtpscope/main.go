package main

import (
	"fmt"
	"os"
	"strings"

	analyze "github.com/saveenergy/rtpscope/cmd/analyze"
	mcpcmd "github.com/saveenergy/rtpscope/cmd/mcp"
	server "github.com/saveenergy/rtpscope/cmd/server"
)

var version = "dev"

var (
	runServer  = server.Run
	runAnalyze = analyze.Run
	runMCP     = mcpcmd.Run
)

func main() {
	os.Exit(run(os.Args[1:], version))
}

func run(args []string, version string) int {
	if len(args) == 0 {
		return runServer(nil, version)
	}

	switch args[0] {
	case "serve", "server":
		return runServer(args[1:], version)
	case "analyze":
		return runAnalyze(args[1:], version)
	case "mcp":
		return runMCP(args[1:], version)
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version":
		fmt.Printf("rtpscope %s\n", version)
		return 0
	default:
		if strings.HasPrefix(args[0], "-") && isServeFlag(args[0]) {
			return runServer(args, version)
		}
		fmt.Fprintf(os.Stderr, "rtpscope: unknown command %q\n\n", args[0])
		printUsage()
		return 2
	}
}

// isServeFlag reports whether a leading flag belongs to serve, so
// `rtpscope --port 9000` works without naming the subcommand.
func isServeFlag(arg string) bool {
	name := strings.TrimLeft(arg, "-")
	if i := strings.IndexByte(name, '='); i >= 0 {
		name = name[:i]
	}
	switch name {
	case "config", "port", "log-dir", "data-dir", "no-store", "window":
		return true
	}
	return false
}

func printUsage() {
	fmt.Fprint(os.Stdout, `Usage: rtpscope <command> [args]

Commands:
  serve     Run the analysis API server (default when no command provided)
  analyze   Analyze a log file or directory and print series and summary
  mcp       Run as MCP server (stdio transport, for AI agents)
  version   Print the version

Examples:
  rtpscope serve --log-dir ./logs
  rtpscope analyze call.jsonl
  rtpscope analyze --json --series delay ./logs
  rtpscope mcp --log-dir ./logs
`)
}

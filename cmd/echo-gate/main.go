// Command echo-gate serves a single echo tool over MCP Streamable HTTP.
package main

import "github.com/Sentinel-Gate/echogate/cmd/echo-gate/cmd"

func main() {
	cmd.Execute()
}

// Command scanhubctl is the scan orchestration engine's CLI entry point.
package main

import "github.com/surfacectl/scanhub/cmd"

func main() {
	cmd.Execute()
}

// e2elog spools, enriches and delivers the result events of end-to-end
// GUI tests.
package main

import "github.com/ppiankov/e2elog/internal/cli"

// version is set by ldflags at build time.
var version = "dev"

func main() {
	cli.Version = version
	cli.Execute()
}

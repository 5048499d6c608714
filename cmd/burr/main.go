// Command burr runs job-scoped recursive crawls and inspects their
// results from the command line.
package main

import "github.com/brackishlabs/burr/cmd/burr/cmd"

func main() {
	cmd.Execute()
}

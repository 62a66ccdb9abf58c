// Command governed runs the multi-tenant policy governance kernel.
package main

import "github.com/governed-io/governed/cmd/governed/cmd"

func main() {
	cmd.Execute()
}

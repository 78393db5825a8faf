package main

import (
	"log"

	"github.com/hermitcrab/hermit/cli/cmd"
	"github.com/hermitcrab/hermit/cli/util"
	"github.com/hermitcrab/hermit/cli/version"
)

func main() {
	defer func() {
		// A panic is reported as an internal error with the version and the stack.
		if r := recover(); r != nil {
			log.Fatalf(
				"%s", util.InternalError("Unhandled internal error: %s",
					version.GetVersion, r))
		}
	}()

	cmd.Execute()
}

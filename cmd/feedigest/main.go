package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "feedigest"}

	root.AddCommand(runCMD(), serveCMD(), costsCMD(), cacheCMD(), migrateCMD())
	_ = root.Execute()
}

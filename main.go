package main

import "github.com/vanbrabantf/sitebuild/cmd"

func main() {
	cmd.Execute()
}

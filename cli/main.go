package main

import "github.com/kcpdme/MySecureFolder-sub002/cli/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/satorivideo/videobot/cmd"

func main() {
	cmd.Execute()
}

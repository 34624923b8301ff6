package main

import "github.com/knowledgeforge/kbsync/cmd"

func main() {
	cmd.Execute()
}

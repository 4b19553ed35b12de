package main

import "github.com/dshkereda/CollectOfDevices/cmd"

func main() {
	cmd.Execute()
}

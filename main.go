package main

import "github.com/samsaffron/enrich/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/edgeflare/pumprelay/cmd/pumprelay"

func main() {
	pumprelay.Main()
}

package main

import "github.com/ethpandaops/cardano-indexer/cmd"

func main() {
	cmd.Execute()
}

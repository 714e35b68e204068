package main

import (
	"github.com/diegochine/goagents/examples"
)

func main() {
	examples.DQNChain()
}

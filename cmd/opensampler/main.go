package main

import (
	"os"

	"OpenSampler/internal/cli"

	_ "OpenSampler/internal/engine"
	_ "OpenSampler/internal/llmclient"
)

func main() {
	os.Exit(cli.Execute())
}

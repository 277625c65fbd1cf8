package main

import (
	"github.com/Paintersrp/tether/internal/cli"
	"github.com/Paintersrp/tether/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}

package main

import (
	"github.com/kralicky/tfpool/pkg/cli/tfpool"

	_ "github.com/kralicky/tfpool/pkg/logger"
)

func main() {
	tfpool.Execute()
}

// Package main is the calibrate command itself.
package main

import (
	"os"

	"github.com/zhanlv600/calibrate-camera/cli"
	"github.com/zhanlv600/calibrate-camera/logging"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logging.NewLogger("calibrate").Fatal(err)
	}
}

// Package cli contains the calibrate command line tool.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagConfig = "config"
	flagDebug  = "debug"

	runFlagInput             = "input"
	runFlagOutput            = "output"
	runFlagRows              = "rows"
	runFlagCols              = "cols"
	runFlagSquareSize        = "square-size"
	runFlagPolicy            = "policy"
	runFlagWorkers           = "workers"
	runFlagFormat            = "format"
	runFlagDrawCorners       = "draw-corners"
	runFlagNoPlot            = "no-plot"
	runFlagMethod            = "method"
	runFlagMinImages         = "min-images"
	runFlagFixPrincipalPoint = "fix-principal-point"
	runFlagFixAspectRatio    = "fix-aspect-ratio"
	runFlagZeroTangentDist   = "zero-tangent-dist"
	runFlagFixK3             = "fix-k3"
	runFlagTimeout           = "timeout"

	synthFlagCount  = "count"
	synthFlagWidth  = "width"
	synthFlagHeight = "height"
	synthFlagFocal  = "focal"
	synthFlagK1     = "k1"
	synthFlagK2     = "k2"
	synthFlagSeed   = "seed"

	undistortFlagResult = "result"
)

var gridFlags = []cli.Flag{
	&cli.IntFlag{
		Name:  runFlagRows,
		Usage: "inner corners along the board's vertical axis",
	},
	&cli.IntFlag{
		Name:  runFlagCols,
		Usage: "inner corners along the board's horizontal axis",
	},
	&cli.Float64Flag{
		Name:  runFlagSquareSize,
		Usage: "side of one square in world units",
	},
}

var app = &cli.App{
	Name:            "calibrate",
	Usage:           "calibrate a camera from pictures of a checkerboard",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:  "run",
			Usage: "find the board in every image of a directory, calibrate and rectify",
			UsageText: "calibrate [--config FILE] run [--input DIR] [--output DIR] [--rows N --cols N --square-size S] " +
				"[other options]",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:    runFlagInput,
					Aliases: []string{"i"},
					Usage:   "directory of board images",
				},
				&cli.StringFlag{
					Name:    runFlagOutput,
					Aliases: []string{"o"},
					Usage:   "directory for the report and the rectified images",
				},
				&cli.StringFlag{
					Name:  runFlagPolicy,
					Usage: "what to do with an image without a board: fail-fast or skip",
				},
				&cli.IntFlag{
					Name:  runFlagWorkers,
					Usage: "images processed at once, 0 for one per CPU",
				},
				&cli.StringFlag{
					Name:  runFlagFormat,
					Usage: "file extension of the rectified images",
				},
				&cli.BoolFlag{
					Name:  runFlagDrawCorners,
					Usage: "save every image with its detected corners drawn on it",
				},
				&cli.BoolFlag{
					Name:  runFlagNoPlot,
					Usage: "do not plot the per image errors",
				},
				&cli.StringFlag{
					Name:  runFlagMethod,
					Usage: "refinement method: lm or lbfgs",
				},
				&cli.IntFlag{
					Name:  runFlagMinImages,
					Usage: "fewest images with a board to calibrate from",
				},
				&cli.BoolFlag{
					Name:  runFlagFixPrincipalPoint,
					Usage: "keep the principal point at the image centre",
				},
				&cli.BoolFlag{
					Name:  runFlagFixAspectRatio,
					Usage: "keep fx/fy at its initial value",
				},
				&cli.BoolFlag{
					Name:  runFlagZeroTangentDist,
					Usage: "hold p1 and p2 at zero",
				},
				&cli.BoolFlag{
					Name:  runFlagFixK3,
					Usage: "hold k3 at zero",
				},
				&cli.DurationFlag{
					Name:  runFlagTimeout,
					Usage: "give up after this long, 0 for never",
				},
			}, gridFlags...),
			Action: RunAction,
		},
		{
			Name:      "synth",
			Usage:     "render pictures of a board seen by a known camera",
			UsageText: "calibrate synth --output DIR [--count N] [--rows N --cols N --square-size S] [camera options]",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:     runFlagOutput,
					Aliases:  []string{"o"},
					Usage:    "directory to write the images and the true camera to",
					Required: true,
				},
				&cli.IntFlag{
					Name:  synthFlagCount,
					Usage: "number of images",
					Value: 10,
				},
				&cli.IntFlag{
					Name:  synthFlagWidth,
					Usage: "image width in pixels",
					Value: 640,
				},
				&cli.IntFlag{
					Name:  synthFlagHeight,
					Usage: "image height in pixels",
					Value: 480,
				},
				&cli.Float64Flag{
					Name:  synthFlagFocal,
					Usage: "focal length in pixels",
					Value: 800,
				},
				&cli.Float64Flag{
					Name:  synthFlagK1,
					Usage: "first radial distortion coefficient",
				},
				&cli.Float64Flag{
					Name:  synthFlagK2,
					Usage: "second radial distortion coefficient",
				},
				&cli.Int64Flag{
					Name:  synthFlagSeed,
					Usage: "random seed for the views",
					Value: time.Now().UnixNano(),
				},
			}, gridFlags...),
			Action: SynthAction,
		},
		{
			Name:      "undistort",
			Usage:     "rectify the images of a directory with a saved calibration",
			UsageText: "calibrate undistort --result FILE --input DIR --output DIR [--format EXT]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     undistortFlagResult,
					Usage:    "result.json of a run, or any camera json with intrinsic_parameters and distortion_parameters",
					Required: true,
				},
				&cli.StringFlag{
					Name:     runFlagInput,
					Aliases:  []string{"i"},
					Usage:    "directory of images to rectify",
					Required: true,
				},
				&cli.StringFlag{
					Name:     runFlagOutput,
					Aliases:  []string{"o"},
					Usage:    "directory for the rectified images",
					Required: true,
				},
				&cli.StringFlag{
					Name:  runFlagFormat,
					Usage: "file extension of the rectified images",
					Value: "bmp",
				},
				&cli.IntFlag{
					Name:  runFlagWorkers,
					Usage: "images processed at once, 0 for one per CPU",
				},
			},
			Action: UndistortAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

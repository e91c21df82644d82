package calibration

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/zhanlv600/calibrate-camera/rimage/calibrate"
	"github.com/zhanlv600/calibrate-camera/rimage/transform"
	"github.com/zhanlv600/calibrate-camera/utils"
)

// ReportFileName and ResultFileName are the names of the result files in the output directory.
const (
	ReportFileName = "calib_result.txt"
	ResultFileName = "calib_result.json"
)

// WriteReport writes the plain text report: the error of every image, the average over all
// images, the camera matrix, the distortion coefficients and the pose of every view.
func WriteReport(w io.Writer, res *Result, eval *Evaluation) error {
	if res == nil || eval == nil {
		return errors.New("nothing to report")
	}
	ew := &errWriter{w: w}
	ew.printf("calibration error of each image:\n")
	for _, img := range eval.Images {
		ew.printf("image %d: %g pixels\n", img.Index, img.RMS)
	}
	ew.printf("average error of total images: %g pixels\n", eval.Mean)

	ew.printf("intrinsic camera mat:\n%v\n\n", formatMatrix(res.Model.GetCameraMatrix()))
	coeffs := res.Model.Coefficients()
	ew.printf("distort coefficients:\n%v\n\n", formatMatrix(mat.NewDense(1, len(coeffs), coeffs)))

	for i, pose := range res.Poses {
		index := i
		if i < len(eval.Images) {
			index = eval.Images[i].Index
		}
		t := pose.Translation
		ew.printf("image %d t vec:\n%v\n", index, formatMatrix(mat.NewDense(3, 1, []float64{t.X, t.Y, t.Z})))
		ew.printf("image %d r mat:\n%v\n", index, formatMatrix(pose.RotationMatrix()))
	}
	ew.printf("\n")
	return ew.err
}

// WriteReportFile writes the text report to path.
func WriteReportFile(path string, res *Result, eval *Evaluation) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return utils.NewIOFailureError("create", path, err)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return WriteReport(f, res, eval)
}

func formatMatrix(m mat.Matrix) fmt.Formatter {
	return mat.Formatted(m, mat.Squeeze())
}

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// ResultFile is the machine readable result. The camera model is stored with the same
// intrinsic_parameters and distortion_parameters layout transform reads camera configs from.
type ResultFile struct {
	RunID string `json:"run_id"`
	*transform.PinholeCameraModel
	Grid       calibrate.GridSpec `json:"grid"`
	RMS        float64            `json:"rms"`
	MeanError  float64            `json:"mean_error"`
	Iterations int                `json:"iterations"`
	Converged  bool               `json:"converged"`
	Poses      []Pose             `json:"poses"`
	Images     []ImageError       `json:"images"`
}

// NewResultFile gathers a run's results under a fresh run id.
func NewResultFile(grid calibrate.GridSpec, res *Result, eval *Evaluation) *ResultFile {
	return &ResultFile{
		RunID:              uuid.NewString(),
		PinholeCameraModel: res.Model,
		Grid:               grid,
		RMS:                res.RMS,
		MeanError:          eval.Mean,
		Iterations:         res.Iterations,
		Converged:          res.Converged,
		Poses:              res.Poses,
		Images:             eval.Images,
	}
}

// WriteResultJSON writes the result as indented JSON.
func WriteResultJSON(path string, result *ResultFile) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return utils.NewIOFailureError("write", path, err)
	}
	return nil
}

// ReadResultJSON reads a result written by WriteResultJSON. A plain camera description, with
// only the intrinsic and distortion parameters, reads as a result without a run.
func ReadResultJSON(path string) (*ResultFile, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.NewIOFailureError("read", path, err)
	}
	var result ResultFile
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrapf(err, "error parsing %q", path)
	}
	if err := result.PinholeCameraModel.CheckValid(); err != nil {
		return nil, errors.Wrapf(err, "invalid camera model in %q", path)
	}
	return &result, nil
}

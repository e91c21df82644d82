package calibration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.viam.com/test"

	"github.com/zhanlv600/calibrate-camera/logging"
	"github.com/zhanlv600/calibrate-camera/rimage/transform"
	"github.com/zhanlv600/calibrate-camera/utils"
)

func calibratedFixture(t *testing.T) (*Result, *Evaluation) {
	t.Helper()
	obs := observe(newTestModel(800, 800, 319.5, 239.5), testPoses())
	res, err := Calibrate(context.Background(), testGrid, obs, DefaultSolverConfig(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	eval, err := Evaluate(testGrid, res.Model, res.Poses, obs)
	test.That(t, err, test.ShouldBeNil)
	return res, eval
}

func TestWriteReport(t *testing.T) {
	res, eval := calibratedFixture(t)
	var buf bytes.Buffer
	test.That(t, WriteReport(&buf, res, eval), test.ShouldBeNil)
	report := buf.String()

	// sections appear in a fixed order
	last := -1
	for _, section := range []string{
		"image 0: ",
		"image 5: ",
		"average error of total images: ",
		"intrinsic camera mat:",
		"distort coefficients:",
		"image 0 t vec:",
		"image 0 r mat:",
		"image 5 r mat:",
	} {
		idx := strings.Index(report, section)
		test.That(t, idx, test.ShouldBeGreaterThan, last)
		last = idx
	}
	test.That(t, report, test.ShouldContainSubstring, " pixels\n")

	test.That(t, WriteReport(&buf, nil, eval), test.ShouldNotBeNil)
}

func TestReportFiles(t *testing.T) {
	res, eval := calibratedFixture(t)
	dir := t.TempDir()

	test.That(t, WriteReportFile(filepath.Join(dir, ReportFileName), res, eval), test.ShouldBeNil)
	err := WriteReportFile(filepath.Join(dir, "missing", ReportFileName), res, eval)
	test.That(t, errors.Is(err, utils.ErrIOFailure), test.ShouldBeTrue)

	resultPath := filepath.Join(dir, ResultFileName)
	written := NewResultFile(testGrid, res, eval)
	test.That(t, written.RunID, test.ShouldNotBeEmpty)
	test.That(t, WriteResultJSON(resultPath, written), test.ShouldBeNil)

	read, err := ReadResultJSON(resultPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.RunID, test.ShouldEqual, written.RunID)
	test.That(t, read.Grid, test.ShouldResemble, testGrid)
	test.That(t, cmp.Diff(written, read, cmpopts.EquateApprox(0, 1e-9)), test.ShouldBeEmpty)

	// a bare camera description reads as a result without a run
	cameraPath := filepath.Join(dir, "camera.json")
	camera, err := json.Marshal(res.Model)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, os.WriteFile(cameraPath, camera, 0o600), test.ShouldBeNil)
	bare, err := ReadResultJSON(cameraPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bare.RunID, test.ShouldBeEmpty)
	test.That(t, bare.Fx, test.ShouldAlmostEqual, res.Model.Fx)
	test.That(t, bare.Coefficients(), test.ShouldResemble, res.Model.Coefficients())

	test.That(t, os.WriteFile(resultPath, []byte(`{"run_id": "x"}`), 0o600), test.ShouldBeNil)
	_, err = ReadResultJSON(resultPath)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadResultJSON(filepath.Join(dir, "nope.json"))
	test.That(t, errors.Is(err, utils.ErrIOFailure), test.ShouldBeTrue)
}

func TestPlotErrors(t *testing.T) {
	_, eval := calibratedFixture(t)
	path := filepath.Join(t.TempDir(), PlotFileName)
	test.That(t, PlotErrors(eval, path), test.ShouldBeNil)
	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}

func TestEvaluate(t *testing.T) {
	model := newTestModel(800, 800, 320, 240)
	poses := testPoses()
	obs := observe(model, poses)
	// shift every point of the second view by 3-4-5 pixels
	for i := range obs[1].Points {
		obs[1].Points[i].X += 3
		obs[1].Points[i].Y += 4
	}

	eval, err := Evaluate(testGrid, model, poses, obs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, eval.Images[0].RMS, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, eval.Images[1].RMS, test.ShouldAlmostEqual, 5, 1e-9)
	test.That(t, eval.Images[1].Mean, test.ShouldAlmostEqual, 5, 1e-9)
	test.That(t, eval.Images[1].Max, test.ShouldAlmostEqual, 5, 1e-9)
	test.That(t, eval.Images[1].Name, test.ShouldEqual, "view_01.png")
	// one normalization: the mean of the per image values
	test.That(t, eval.Mean, test.ShouldAlmostEqual, 5.0/float64(len(obs)), 1e-9)
	test.That(t, eval.RMS, test.ShouldAlmostEqual, 5/math.Sqrt(float64(len(obs))), 1e-9)
	test.That(t, eval.Worst().Index, test.ShouldEqual, 1)

	_, err = Evaluate(testGrid, model, poses[:2], obs)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)
	_, err = Evaluate(testGrid, nil, poses, obs)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)
	test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)
	_, err = Evaluate(testGrid, model, nil, nil)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)
}

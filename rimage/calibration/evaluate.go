package calibration

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/zhanlv600/calibrate-camera/rimage/calibrate"
	"github.com/zhanlv600/calibrate-camera/rimage/transform"
	"github.com/zhanlv600/calibrate-camera/utils"
)

// ImageError summarizes the reprojection error of one view in pixels.
type ImageError struct {
	Index int     `json:"index"`
	Name  string  `json:"name"`
	RMS   float64 `json:"rms"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
}

// Evaluation is the reprojection error of a calibration. Mean is the average of the per image
// RMS values; RMS is taken over every point of every image.
type Evaluation struct {
	Images []ImageError `json:"images"`
	Mean   float64      `json:"mean"`
	RMS    float64      `json:"rms"`
}

// Evaluate projects the board through each pose and the model and measures the distance to
// the observed points.
func Evaluate(
	grid calibrate.GridSpec,
	model *transform.PinholeCameraModel,
	poses []Pose,
	obs []*calibrate.ImageObservation,
) (*Evaluation, error) {
	if err := model.CheckValid(); err != nil {
		return nil, utils.WrapInsufficientData(err)
	}
	if len(obs) == 0 {
		return nil, utils.NewInsufficientDataError(0, 1)
	}
	if len(poses) != len(obs) {
		return nil, errors.Wrapf(utils.ErrInsufficientData, "%d poses for %d images", len(poses), len(obs))
	}

	objectPts := grid.ObjectPoints()
	eval := &Evaluation{Images: make([]ImageError, len(obs))}
	perImage := make(stats.Float64Data, len(obs))
	var allSquares stats.Float64Data
	for i, o := range obs {
		if err := o.Validate(grid); err != nil {
			return nil, err
		}
		projected := model.ProjectPoints(objectPts, poses[i].Rotation, poses[i].Translation)
		dists := make(stats.Float64Data, len(projected))
		squares := make(stats.Float64Data, len(projected))
		for j, p := range projected {
			dists[j] = p.Sub(o.Points[j]).Norm()
			squares[j] = dists[j] * dists[j]
		}
		allSquares = append(allSquares, squares...)

		meanSquare, err := squares.Mean()
		if err != nil {
			return nil, err
		}
		mean, err := dists.Mean()
		if err != nil {
			return nil, err
		}
		worst, err := dists.Max()
		if err != nil {
			return nil, err
		}
		eval.Images[i] = ImageError{
			Index: o.Index,
			Name:  o.Name,
			RMS:   math.Sqrt(meanSquare),
			Mean:  mean,
			Max:   worst,
		}
		perImage[i] = eval.Images[i].RMS
	}

	var err error
	if eval.Mean, err = perImage.Mean(); err != nil {
		return nil, err
	}
	meanSquare, err := allSquares.Mean()
	if err != nil {
		return nil, err
	}
	eval.RMS = math.Sqrt(meanSquare)
	return eval, nil
}

// Worst returns the image with the largest RMS.
func (e *Evaluation) Worst() ImageError {
	var worst ImageError
	for i, img := range e.Images {
		if i == 0 || img.RMS > worst.RMS {
			worst = img
		}
	}
	return worst
}

package pipeline

import (
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

type progress interface {
	Add(n int) error
	Finish() error
}

type noProgress struct{}

func (noProgress) Add(int) error { return nil }
func (noProgress) Finish() error { return nil }

func newProgress(show bool, stage models.Stage, total int) progress {
	if !show || total == 0 {
		return noProgress{}
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(stage.String()),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)
}

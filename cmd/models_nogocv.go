//go:build !gocv

package cmd

import (
	"errors"

	"github.com/andresmejia3/obscura/internal/detect"
)

func nativeModels() (detect.CascadeModel, detect.BoxModel, func(), error) {
	return nil, nil, nil, errors.New("models.backend=gocv requires a binary built with -tags gocv")
}

//go:build gocv

package cmd

import (
	"github.com/andresmejia3/obscura/internal/detect"
)

func nativeModels() (detect.CascadeModel, detect.BoxModel, func(), error) {
	cascade, err := detect.NewGocvCascade(Cfg.Models.CascadePath)
	if err != nil {
		return nil, nil, nil, err
	}
	net, err := detect.NewGocvNet(Cfg.Models.PrototxtPath, Cfg.Models.CaffemodelPath)
	if err != nil {
		cascade.Close()
		return nil, nil, nil, err
	}
	return cascade, net, func() {
		net.Close()
		cascade.Close()
	}, nil
}

//go:build !linux

package linux

import (
	"fmt"

	"github.com/anotherjesse/kibo/core"
)

// Config names the hardware attachment points.
type Config struct {
	I2CBus  string
	I2CAddr uint16
	SPIDev  string
	DCPin   string
	RSTPin  string
	Width   int
	Height  int
}

// Open is only available on linux hosts.
func Open(Config) (*core.Outputs, func() error, error) {
	return nil, nil, fmt.Errorf("direct hardware access requires a linux host")
}

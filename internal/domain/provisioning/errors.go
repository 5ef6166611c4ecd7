package provisioning

import "errors"

var (
	ErrJobNotFound   = errors.New("provisioning job not found")
	ErrJobNotDead    = errors.New("only dead-lettered jobs can be retried")
	ErrInvalidAction = errors.New("unknown provisioning action")
)

package model

import "github.com/gocrf/lcrf/lcrferrors"

func errOutOfRange(kind string, id, size int) error {
	return lcrferrors.Newf(lcrferrors.InternalLogic, "%s id %d out of range [0, %d)", kind, id, size)
}

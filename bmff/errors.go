package bmff

import (
	"fmt"

	"github.com/tetsuo/fmp4remux/errs"
)

// newBoxTooLargeError reports a 64-bit box size that exceeds the platform's
// safe-integer range (spec: BoxTooLarge).
func newBoxTooLargeError(t BoxType, offset int64, size uint64) error {
	return errs.New(errs.KindBoxTooLarge, t.String(), offset, fmt.Sprintf("size64=%d exceeds int64 range", size))
}

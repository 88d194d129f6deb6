package ts_test

import (
	"time"

	"github.com/aribtools/arib-ts/internal/ts"
)

const hourDur = time.Hour

func jst(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, ts.JST)
}

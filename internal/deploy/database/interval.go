package database

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const microsPerDay = int64(24 * time.Hour / time.Microsecond)

// durationToPgInterval 整天部分放入 Days，其余为微秒
func durationToPgInterval(d time.Duration) pgtype.Interval {
	micros := d.Microseconds()
	days := micros / microsPerDay
	return pgtype.Interval{
		Microseconds: micros - days*microsPerDay,
		Days:         int32(days),
		Months:       0,
		Valid:        true,
	}
}

// pgIntervalToDuration 月按 30 天计算
func pgIntervalToDuration(iv pgtype.Interval) time.Duration {
	if !iv.Valid {
		return 0
	}
	days := int64(iv.Days) + int64(iv.Months)*30
	return time.Duration(days*microsPerDay+iv.Microseconds) * time.Microsecond
}

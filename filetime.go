package pk2

import "time"

// filetimeEpochOffset is the number of 100-nanosecond intervals
// between the Win32 FILETIME epoch (1601-01-01 00:00:00 UTC) and the
// Unix epoch (1970-01-01 00:00:00 UTC).
const filetimeEpochOffset = 116444736000000000

// filetimeToTime converts a Win32 FILETIME (100ns ticks since
// 1601-01-01 UTC) into a time.Time. PK2 entries store access/create/
// modify times in this format.
func filetimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	unixTicks := int64(ft) - filetimeEpochOffset
	return time.Unix(0, unixTicks*100).UTC()
}

// timeToFiletime converts a time.Time into a Win32 FILETIME value. The
// zero time maps to 0.
func timeToFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	unixTicks := t.UnixNano() / 100
	return uint64(unixTicks + filetimeEpochOffset)
}

package ts

import "time"

// JST is the broadcast timezone of every wall-clock time carried in ARIB
// tables (TDT, TOT, EIT start times).
var JST = time.FixedZone("JST", 9*60*60)

// DecodeMJDTime decodes the 5-byte MJD + BCD hh:mm:ss encoding used by
// TDT/TOT and EIT start times. The returned time is in JST. ok is false for
// the all-0xFF "undefined" encoding.
func DecodeMJDTime(b []byte) (t time.Time, ok bool) {
	if len(b) < 5 {
		return time.Time{}, false
	}
	if b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFF && b[3] == 0xFF && b[4] == 0xFF {
		return time.Time{}, false
	}
	mjd := int(b[0])<<8 | int(b[1])
	year, month, day := decodeMJD(mjd)
	hour := DecodeBCD(b[2])
	min := DecodeBCD(b[3])
	sec := DecodeBCD(b[4])
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, JST), true
}

// decodeMJD converts a Modified Julian Date to calendar year/month/day per
// the algorithm in ARIB STD-B10 Appendix C.
func decodeMJD(mjd int) (year, month, day int) {
	y := int((float64(mjd) - 15078.2) / 365.25)
	m := int((float64(mjd) - 14956.1 - float64(int(float64(y)*365.25))) / 30.6001)
	k := 0
	if m == 14 || m == 15 {
		k = 1
	}
	year = y + k + 1900
	month = m - 1 - k*12
	day = mjd - 14956 - int(float64(y)*365.25) - int(float64(m)*30.6001)
	return
}

// EncodeMJDTime encodes a JST time into the 5-byte MJD + BCD form. Used by
// the table packetizers and by tests that synthesize sections.
func EncodeMJDTime(t time.Time) []byte {
	t = t.In(JST)
	y := t.Year()
	m := int(t.Month())
	d := t.Day()
	l := 0
	if m == 1 || m == 2 {
		l = 1
	}
	mjd := 14956 + d + int(float64(y-1900-l)*365.25) + int(float64(m+1+l*12)*30.6001)
	return []byte{
		byte(mjd >> 8), byte(mjd),
		EncodeBCD(t.Hour()), EncodeBCD(t.Minute()), EncodeBCD(t.Second()),
	}
}

// DecodeBCD decodes a two-digit binary-coded-decimal byte.
func DecodeBCD(b byte) int {
	return int(b>>4)*10 + int(b&0x0F)
}

// EncodeBCD encodes 0..99 as binary-coded decimal.
func EncodeBCD(n int) byte {
	return byte(n/10)<<4 | byte(n%10)
}

// DecodeBCDDuration decodes the 3-byte BCD hh:mm:ss duration of an EIT event.
// ok is false for the all-0xFF "undefined" encoding.
func DecodeBCDDuration(b []byte) (d time.Duration, ok bool) {
	if len(b) < 3 {
		return 0, false
	}
	if b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFF {
		return 0, false
	}
	h := DecodeBCD(b[0])
	m := DecodeBCD(b[1])
	s := DecodeBCD(b[2])
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second, true
}

// UnixMs converts a wall-clock time to milliseconds since the Unix epoch.
// The JST offset is accounted for by the location attached to t.
func UnixMs(t time.Time) int64 {
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds into a JST wall-clock time.
func FromUnixMs(ms int64) time.Time {
	return time.UnixMilli(ms).In(JST)
}

package ts

import (
	"testing"
	"time"
)

func TestDecodeMJDTime(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want time.Time
	}{
		{
			// MJD 58485 = 2019-01-02, 03:04:05 BCD
			"regular date",
			[]byte{0xE4, 0x75, 0x03, 0x04, 0x05},
			time.Date(2019, 1, 2, 3, 4, 5, 0, JST),
		},
		{
			// MJD 40587 = 1970-01-01
			"unix epoch day",
			[]byte{0x9E, 0x8B, 0x09, 0x00, 0x00},
			time.Date(1970, 1, 1, 9, 0, 0, 0, JST),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeMJDTime(tt.in)
			if !ok {
				t.Fatal("DecodeMJDTime reported undefined")
			}
			if !got.Equal(tt.want) {
				t.Errorf("DecodeMJDTime = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeMJDTimeUndefined(t *testing.T) {
	if _, ok := DecodeMJDTime([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}); ok {
		t.Error("all-0xFF must decode as undefined")
	}
}

func TestEncodeMJDTimeRoundTrip(t *testing.T) {
	times := []time.Time{
		time.Date(2019, 1, 2, 3, 4, 5, 0, JST),
		time.Date(2021, 1, 1, 0, 0, 0, 0, JST),
		time.Date(2021, 2, 13, 23, 30, 0, 0, JST),
		time.Date(1970, 1, 1, 9, 0, 0, 0, JST),
		time.Date(2024, 12, 31, 23, 59, 59, 0, JST),
		time.Date(2020, 2, 29, 12, 0, 0, 0, JST),
	}
	for _, want := range times {
		b := EncodeMJDTime(want)
		got, ok := DecodeMJDTime(b)
		if !ok {
			t.Fatalf("round trip of %s reported undefined", want)
		}
		if !got.Equal(want) {
			t.Errorf("round trip of %s = %s", want, got)
		}
	}
}

func TestDecodeBCDDuration(t *testing.T) {
	d, ok := DecodeBCDDuration([]byte{0x01, 0x30, 0x45})
	if !ok {
		t.Fatal("duration reported undefined")
	}
	want := time.Hour + 30*time.Minute + 45*time.Second
	if d != want {
		t.Errorf("DecodeBCDDuration = %s, want %s", d, want)
	}
	if _, ok := DecodeBCDDuration([]byte{0xFF, 0xFF, 0xFF}); ok {
		t.Error("all-0xFF duration must be undefined")
	}
}

func TestUnixMs(t *testing.T) {
	// The JST offset is carried by the location: 1970-01-01T09:00+09:00 is
	// the Unix epoch.
	jst := time.Date(1970, 1, 1, 9, 0, 0, 0, JST)
	if got := UnixMs(jst); got != 0 {
		t.Errorf("UnixMs = %d, want 0", got)
	}
	if got := FromUnixMs(1000); !got.Equal(time.UnixMilli(1000)) {
		t.Errorf("FromUnixMs = %s", got)
	}
}

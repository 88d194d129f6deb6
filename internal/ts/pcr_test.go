package ts

import "testing"

func TestComparePCR(t *testing.T) {
	tests := []struct {
		name string
		a, b PCR
		want int
	}{
		{"equal", 1000, 1000, 0},
		{"later", 1001, 1000, 1},
		{"earlier", 1000, 1001, -1},
		{"wrap: small value is later", 10, PCRUpperBound - 10, 1},
		{"wrap: large value is earlier", PCRUpperBound - 10, 10, -1},
		{"half range boundary", 1 << 41, 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComparePCR(tt.a, tt.b); got != tt.want {
				t.Errorf("ComparePCR(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestPCRAddMs(t *testing.T) {
	if got := PCR(0).AddMs(1000); got != PCR(PCRTicksPerSec) {
		t.Errorf("AddMs(1000) = %d, want %d", got, PCRTicksPerSec)
	}
	// Wrap around the upper bound.
	if got := (PCRUpperBound - 1).AddMs(1); got != PCR(PCRTicksPerMs-1) {
		t.Errorf("wrap AddMs = %d, want %d", got, PCRTicksPerMs-1)
	}
	// Negative values are normalized into the PCR range.
	if got := PCR(0).AddMs(-1); got != PCRUpperBound-PCR(PCRTicksPerMs) {
		t.Errorf("negative AddMs = %d", got)
	}
}

func TestPCRSubTicks(t *testing.T) {
	if got := PCR(100).SubTicks(40); got != 60 {
		t.Errorf("SubTicks = %d, want 60", got)
	}
	// Wrap-aware: a small PCR minus a large one close to the bound is a
	// small positive distance.
	if got := PCR(10).SubTicks(PCRUpperBound - 10); got != 20 {
		t.Errorf("wrapped SubTicks = %d, want 20", got)
	}
	if got := PCR(40).SubTicks(100); got != -60 {
		t.Errorf("negative SubTicks = %d, want -60", got)
	}
}

func TestReadPCR(t *testing.T) {
	var pkt [PacketSize]byte
	pkt[0] = SyncByte
	pkt[3] = 0x20 // adaptation field only
	pkt[4] = 7
	pkt[5] = 0x10 // PCR flag
	// base = 2, ext = 1
	pkt[9] = 0x01 // bits 1..8 of base
	pkt[10] = 0x7E
	pkt[11] = 0x01
	got := ReadPCR(toPacket(pkt))
	want := PCR(2*300 + 1)
	if got != want {
		t.Errorf("ReadPCR = %d, want %d", got, want)
	}
}

func TestReadPCRMissing(t *testing.T) {
	var pkt [PacketSize]byte
	pkt[0] = SyncByte
	pkt[3] = 0x10 // payload only
	if got := ReadPCR(toPacket(pkt)); got != InvalidPCR {
		t.Errorf("ReadPCR without adaptation field = %d, want invalid", got)
	}
}

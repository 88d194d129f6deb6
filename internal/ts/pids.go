// Package ts implements the MPEG-2 TS / ARIB SI layer used by the filters and
// collectors: section reassembly per PID, PSI/SI table parsing (PAT, PMT, CAT,
// SDT, NIT, EIT, TDT/TOT, CDT), ARIB text decoding, and table repacketization.
//
// Packet-level access is built on github.com/Comcast/gots/packet. The SI
// tables themselves are parsed here because gots targets the ATSC/SCTE side
// and has no knowledge of DVB/ARIB service information.
package ts

// PacketSize is the fixed size of a TS packet in bytes.
const PacketSize = 188

// SyncByte starts every TS packet.
const SyncByte = 0x47

// Well-known PIDs used by ARIB broadcast streams.
const (
	PIDPAT  uint16 = 0x0000
	PIDCAT  uint16 = 0x0001
	PIDNIT  uint16 = 0x0010
	PIDSDT  uint16 = 0x0011
	PIDEIT  uint16 = 0x0012
	PIDRST  uint16 = 0x0013
	PIDTOT  uint16 = 0x0014 // TDT and TOT share this PID
	PIDBIT  uint16 = 0x0024
	PIDCDT  uint16 = 0x0029
	PIDNull uint16 = 0x1FFF
)

// Table IDs.
const (
	TIDPAT         uint8 = 0x00
	TIDCAT         uint8 = 0x01
	TIDPMT         uint8 = 0x02
	TIDNITAct      uint8 = 0x40
	TIDSDTAct      uint8 = 0x42
	TIDEITPFAct    uint8 = 0x4E
	TIDEITPFOth    uint8 = 0x4F
	TIDEITSchedMin uint8 = 0x50 // EIT schedule Actual, first table
	TIDEITSchedMax uint8 = 0x5F // EIT schedule Actual, last table
	TIDEITMax      uint8 = 0x6F // end of the whole EIT table id range
	TIDTDT         uint8 = 0x70
	TIDTOT         uint8 = 0x73
	TIDCDT         uint8 = 0xC8
)

// Descriptor tags appearing in the tables this package parses.
const (
	DescCA               uint8 = 0x09
	DescShortEvent       uint8 = 0x4D
	DescExtendedEvent    uint8 = 0x4E
	DescComponent        uint8 = 0x50
	DescStreamIdentifier uint8 = 0x52
	DescContent          uint8 = 0x54
	DescAudioComponent   uint8 = 0xC4
	DescTSInformation    uint8 = 0xCD
	DescLogoTransmission uint8 = 0xCF
	DescService          uint8 = 0x48
)

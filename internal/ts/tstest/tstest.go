// Package tstest builds synthetic TS packets and SI sections for tests. It
// is the test-side counterpart of the ts package encoders: tests assemble
// small streams (PAT, PMT, EIT p/f, TDT/TOT, PCR and PES packets) instead of
// shipping captures.
package tstest

import (
	"time"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/ts"
)

// Packetize splits a section into TS packets on pid, advancing *cc.
func Packetize(pid uint16, cc *byte, section []byte) []packet.Packet {
	var out []packet.Packet
	rem := section
	pusi := true
	for len(rem) > 0 {
		var pkt packet.Packet
		pkt[0] = ts.SyncByte
		pkt[1] = byte(pid >> 8 & 0x1F)
		if pusi {
			pkt[1] |= 0x40
		}
		pkt[2] = byte(pid)
		pkt[3] = 0x10 | *cc
		*cc = (*cc + 1) & 0x0F
		pos := 4
		if pusi {
			pkt[pos] = 0x00
			pos++
			pusi = false
		}
		n := copy(pkt[pos:], rem)
		rem = rem[n:]
		for i := pos + n; i < ts.PacketSize; i++ {
			pkt[i] = 0xFF
		}
		out = append(out, pkt)
	}
	return out
}

// PATPackets builds the packets of a single-section PAT.
func PATPackets(cc *byte, pat *ts.PAT) []packet.Packet {
	return Packetize(ts.PIDPAT, cc, ts.EncodePAT(pat))
}

// PMTPackets builds the packets of a single-section PMT on pid.
func PMTPackets(pid uint16, cc *byte, pmt *ts.PMT) []packet.Packet {
	return Packetize(pid, cc, ts.EncodePMT(pmt))
}

// CATPackets builds a CAT carrying one CA descriptor per EMM PID.
func CATPackets(cc *byte, version uint8, emmPIDs ...uint16) []packet.Packet {
	var body []byte
	for _, pid := range emmPIDs {
		body = append(body, ts.DescCA, 4, 0x00, 0x05, byte(pid>>8)|0xE0, byte(pid))
	}
	sec := EncodeLongSection(ts.TIDCAT, 0xFFFF, version, 0, 0, body)
	return Packetize(ts.PIDCAT, cc, sec)
}

// TDTPackets builds a TDT announcing the given JST time.
func TDTPackets(cc *byte, t time.Time) []packet.Packet {
	body := ts.EncodeMJDTime(t)
	sec := make([]byte, 0, 8)
	sec = append(sec, ts.TIDTDT, 0x70, byte(len(body)))
	sec = append(sec, body...)
	return Packetize(ts.PIDTOT, cc, sec)
}

// TOTPackets builds a TOT announcing the given JST time.
func TOTPackets(cc *byte, t time.Time) []packet.Packet {
	body := ts.EncodeMJDTime(t)
	body = append(body, 0xF0, 0x00) // empty descriptor loop
	length := len(body) + 4
	sec := make([]byte, 0, 3+length)
	sec = append(sec, ts.TIDTOT, 0x70|byte(length>>8), byte(length))
	sec = append(sec, body...)
	crc := ts.CRC32(sec)
	sec = append(sec, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	return Packetize(ts.PIDTOT, cc, sec)
}

// EitEvent describes one event of a synthetic EIT section.
type EitEvent struct {
	EventID     uint16
	StartTime   time.Time // zero value encodes "undefined"
	Duration    time.Duration
	NoDuration  bool
	Scrambled   bool
	Descriptors []ts.Descriptor
}

func encodeEitEvent(ev EitEvent) []byte {
	var b []byte
	b = append(b, byte(ev.EventID>>8), byte(ev.EventID))
	if ev.StartTime.IsZero() {
		b = append(b, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	} else {
		b = append(b, ts.EncodeMJDTime(ev.StartTime)...)
	}
	if ev.NoDuration {
		b = append(b, 0xFF, 0xFF, 0xFF)
	} else {
		d := int(ev.Duration / time.Second)
		b = append(b, ts.EncodeBCD(d/3600), ts.EncodeBCD(d/60%60), ts.EncodeBCD(d%60))
	}
	var descs []byte
	for _, d := range ev.Descriptors {
		descs = append(descs, d.Tag, byte(len(d.Data)))
		descs = append(descs, d.Data...)
	}
	flags := byte(0)
	if ev.Scrambled {
		flags |= 0x10
	}
	b = append(b, flags|byte(len(descs)>>8), byte(len(descs)))
	return append(b, descs...)
}

// EitConfig describes a synthetic EIT section.
type EitConfig struct {
	TableID                  uint8
	SID, TSID, NID           uint16
	Version                  uint8
	SectionNumber            uint8
	LastSectionNumber        uint8
	SegmentLastSectionNumber uint8
	LastTableID              uint8
	Events                   []EitEvent
}

// EitSectionBytes encodes one EIT section.
func EitSectionBytes(cfg EitConfig) []byte {
	tid := cfg.TableID
	if tid == 0 {
		tid = ts.TIDEITPFAct
	}
	ltid := cfg.LastTableID
	if ltid == 0 {
		ltid = tid
	}
	body := []byte{
		byte(cfg.TSID >> 8), byte(cfg.TSID),
		byte(cfg.NID >> 8), byte(cfg.NID),
		cfg.SegmentLastSectionNumber,
		ltid,
	}
	for _, ev := range cfg.Events {
		body = append(body, encodeEitEvent(ev)...)
	}
	return EncodeLongSection(tid, cfg.SID, cfg.Version, cfg.SectionNumber, cfg.LastSectionNumber, body)
}

// EitPackets packetizes one EIT section on the EIT PID.
func EitPackets(cc *byte, cfg EitConfig) []packet.Packet {
	return Packetize(ts.PIDEIT, cc, EitSectionBytes(cfg))
}

// EitPFPackets builds a present/following pair: section 0 carries present,
// section 1 carries following.
func EitPFPackets(cc *byte, sid, tsid, nid uint16, version uint8, present, following EitEvent) []packet.Packet {
	pkts := EitPackets(cc, EitConfig{
		SID: sid, TSID: tsid, NID: nid, Version: version,
		SectionNumber: 0, LastSectionNumber: 1, SegmentLastSectionNumber: 1,
		Events: []EitEvent{present},
	})
	return append(pkts, EitPackets(cc, EitConfig{
		SID: sid, TSID: tsid, NID: nid, Version: version,
		SectionNumber: 1, LastSectionNumber: 1, SegmentLastSectionNumber: 1,
		Events: []EitEvent{following},
	})...)
}

// EitPresentOnlyPackets builds a p/f table with no following section.
func EitPresentOnlyPackets(cc *byte, sid, tsid, nid uint16, version uint8, present EitEvent) []packet.Packet {
	return EitPackets(cc, EitConfig{
		SID: sid, TSID: tsid, NID: nid, Version: version,
		SectionNumber: 0, LastSectionNumber: 0, SegmentLastSectionNumber: 0,
		Events: []EitEvent{present},
	})
}

// AribASCII encodes s so DecodeAribString yields it back: the alphanumeric
// set is designated into G0 first.
func AribASCII(s string) []byte {
	return append([]byte{0x1B, 0x28, 0x4A}, []byte(s)...)
}

// SdtService describes one service entry of a synthetic SDT.
type SdtService struct {
	SID    uint16
	Type   uint8
	Name   string
	LogoID int // negative = no logo transmission descriptor
}

// SDTPackets builds a single-section SDT (actual TS).
func SDTPackets(cc *byte, tsid, onid uint16, version uint8, services ...SdtService) []packet.Packet {
	body := []byte{byte(onid >> 8), byte(onid), 0xFF}
	for _, svc := range services {
		name := AribASCII(svc.Name)
		desc := []byte{ts.DescService, byte(3 + len(name)), svc.Type, 0x00, byte(len(name))}
		desc = append(desc, name...)
		if svc.LogoID >= 0 {
			desc = append(desc, ts.DescLogoTransmission, 3,
				0x01, byte(svc.LogoID>>8&0x01), byte(svc.LogoID))
		}
		body = append(body, byte(svc.SID>>8), byte(svc.SID), 0xFC,
			0x80|byte(len(desc)>>8), byte(len(desc)))
		body = append(body, desc...)
	}
	sec := EncodeLongSection(ts.TIDSDTAct, tsid, version, 0, 0, body)
	return Packetize(ts.PIDSDT, cc, sec)
}

// NITPackets builds a single-section NIT (actual network) with one transport
// entry carrying a TS information descriptor.
func NITPackets(cc *byte, networkID, tsid, onid uint16, version, remoteControlKeyID uint8) []packet.Packet {
	tsDesc := []byte{ts.DescTSInformation, 2, remoteControlKeyID, 0x00}
	body := []byte{0xF0, 0x00} // no network descriptors
	loop := []byte{
		byte(tsid >> 8), byte(tsid),
		byte(onid >> 8), byte(onid),
		0xF0 | byte(len(tsDesc)>>8), byte(len(tsDesc)),
	}
	loop = append(loop, tsDesc...)
	body = append(body, 0xF0|byte(len(loop)>>8), byte(len(loop)))
	body = append(body, loop...)
	sec := EncodeLongSection(ts.TIDNITAct, networkID, version, 0, 0, body)
	return Packetize(ts.PIDNIT, cc, sec)
}

// CDTPackets builds a single-section CDT carrying one logo data module.
func CDTPackets(cc *byte, nid uint16, logoType uint8, logoID int, logoVersion uint16, data []byte) []packet.Packet {
	body := []byte{byte(nid >> 8), byte(nid), 0x01, 0xF0, 0x00}
	body = append(body,
		logoType,
		0xFE|byte(logoID>>8&0x01), byte(logoID),
		0xF0|byte(logoVersion>>8&0x0F), byte(logoVersion),
		byte(len(data)>>8), byte(len(data)))
	body = append(body, data...)
	sec := EncodeLongSection(ts.TIDCDT, 0x0001, 0, 0, 0, body)
	return Packetize(ts.PIDCDT, cc, sec)
}

// PCRPacket builds an adaptation-field-only packet carrying pcr on pid.
func PCRPacket(pid uint16, cc byte, pcr ts.PCR) packet.Packet {
	var pkt packet.Packet
	pkt[0] = ts.SyncByte
	pkt[1] = byte(pid >> 8 & 0x1F)
	pkt[2] = byte(pid)
	pkt[3] = 0x20 | cc
	pkt[4] = 183  // adaptation_field_length
	pkt[5] = 0x10 // PCR flag
	base := int64(pcr) / 300
	ext := int64(pcr) % 300
	pkt[6] = byte(base >> 25)
	pkt[7] = byte(base >> 17)
	pkt[8] = byte(base >> 9)
	pkt[9] = byte(base >> 1)
	pkt[10] = byte(base<<7) | 0x7E | byte(ext>>8&0x01)
	pkt[11] = byte(ext)
	for i := 12; i < ts.PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// PESPacket builds a payload packet on pid with a payload-unit start.
func PESPacket(pid uint16, cc byte) packet.Packet {
	var pkt packet.Packet
	pkt[0] = ts.SyncByte
	pkt[1] = 0x40 | byte(pid>>8&0x1F)
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | cc
	for i := 4; i < ts.PacketSize; i++ {
		pkt[i] = 0x00
	}
	return pkt
}

// NullPacket builds a null-PID packet.
func NullPacket(cc byte) packet.Packet {
	var pkt packet.Packet
	pkt[0] = ts.SyncByte
	pkt[1] = byte(ts.PIDNull >> 8)
	pkt[2] = byte(ts.PIDNull & 0xFF)
	pkt[3] = 0x10 | cc
	for i := 4; i < ts.PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// EncodeLongSection builds a long-form section with a valid CRC. It mirrors
// the production encoder but is exported here for table kinds the production
// code never needs to write.
func EncodeLongSection(tid uint8, tidExt uint16, version, secNum, lastSecNum uint8, body []byte) []byte {
	length := 5 + len(body) + 4
	sec := make([]byte, 0, 3+length)
	sec = append(sec,
		tid,
		0xB0|byte(length>>8), byte(length),
		byte(tidExt>>8), byte(tidExt),
		0xC1|version<<1,
		secNum, lastSecNum,
	)
	sec = append(sec, body...)
	crc := ts.CRC32(sec)
	return append(sec, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}

// Bytes flattens packets into a byte stream, optionally prefixed with noise.
func Bytes(prefix []byte, pkts ...packet.Packet) []byte {
	out := append([]byte(nil), prefix...)
	for i := range pkts {
		out = append(out, pkts[i][:]...)
	}
	return out
}

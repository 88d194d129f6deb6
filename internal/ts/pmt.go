package ts

import "fmt"

// Stream types of interest. ARIB multiplexes use MPEG-2 video, AAC audio and
// private PES sections carrying captions.
const (
	StreamTypeMPEG1Video uint8 = 0x01
	StreamTypeMPEG2Video uint8 = 0x02
	StreamTypeMPEG1Audio uint8 = 0x03
	StreamTypeMPEG2Audio uint8 = 0x04
	StreamTypePrivate    uint8 = 0x06
	StreamTypeADTSAudio  uint8 = 0x0F
	StreamTypeLATMAudio  uint8 = 0x11
	StreamTypeH264Video  uint8 = 0x1B
	StreamTypeHEVCVideo  uint8 = 0x24
)

// PMTStream is one elementary stream entry of a PMT.
type PMTStream struct {
	Type        uint8
	PID         uint16
	Descriptors []Descriptor
}

// ComponentTag returns the stream_identifier descriptor tag of the stream.
func (s *PMTStream) ComponentTag() (uint8, bool) {
	for _, d := range s.Descriptors {
		if d.Tag == DescStreamIdentifier && len(d.Data) >= 1 {
			return d.Data[0], true
		}
	}
	return 0, false
}

// IsVideo reports whether the stream carries video.
func (s *PMTStream) IsVideo() bool {
	switch s.Type {
	case StreamTypeMPEG1Video, StreamTypeMPEG2Video, StreamTypeH264Video, StreamTypeHEVCVideo:
		return true
	}
	return false
}

// IsAudio reports whether the stream carries audio.
func (s *PMTStream) IsAudio() bool {
	switch s.Type {
	case StreamTypeMPEG1Audio, StreamTypeMPEG2Audio, StreamTypeADTSAudio, StreamTypeLATMAudio:
		return true
	}
	return false
}

// IsSubtitles reports whether the stream carries ARIB subtitles or
// superimposed text: private PES with a component tag in 0x30..0x3F.
func (s *PMTStream) IsSubtitles() bool {
	if s.Type != StreamTypePrivate {
		return false
	}
	tag, ok := s.ComponentTag()
	return ok && tag >= 0x30 && tag <= 0x3F
}

// PMT is the Program Map Table of one service.
type PMT struct {
	SID         uint16
	Version     uint8
	PCRPID      uint16
	Descriptors []Descriptor
	Streams     []PMTStream
}

// ECMPIDs returns the PIDs named by CA descriptors in the program loop.
func (p *PMT) ECMPIDs() []uint16 {
	return caPIDs(p.Descriptors)
}

// ParsePMT decodes a complete PMT table.
func ParsePMT(t *Table) (*PMT, error) {
	if t.TableID != TIDPMT {
		return nil, fmt.Errorf("not a PMT: table#%02X", t.TableID)
	}
	pmt := &PMT{
		SID:     t.TableIDExtension,
		Version: t.Version,
	}
	for _, sec := range t.Sections {
		p := sec.Payload()
		if len(p) < 4 {
			return nil, fmt.Errorf("PMT payload too short")
		}
		pmt.PCRPID = uint16(p[0]&0x1F)<<8 | uint16(p[1])
		infoLen := int(p[2]&0x0F)<<8 | int(p[3])
		p = p[4:]
		if infoLen > len(p) {
			return nil, fmt.Errorf("PMT program_info overruns section")
		}
		pmt.Descriptors = append(pmt.Descriptors, parseDescriptors(p[:infoLen])...)
		p = p[infoLen:]
		for len(p) >= 5 {
			esLen := int(p[3]&0x0F)<<8 | int(p[4])
			if 5+esLen > len(p) {
				break
			}
			pmt.Streams = append(pmt.Streams, PMTStream{
				Type:        p[0],
				PID:         uint16(p[1]&0x1F)<<8 | uint16(p[2]),
				Descriptors: parseDescriptors(p[5 : 5+esLen]),
			})
			p = p[5+esLen:]
		}
	}
	return pmt, nil
}

// EncodePMT serializes pmt into a single PMT section with a valid CRC.
func EncodePMT(pmt *PMT) []byte {
	var body []byte
	body = append(body, byte(pmt.PCRPID>>8)|0xE0, byte(pmt.PCRPID))
	info := encodeDescriptors(pmt.Descriptors)
	body = append(body, 0xF0|byte(len(info)>>8), byte(len(info)))
	body = append(body, info...)
	for _, s := range pmt.Streams {
		es := encodeDescriptors(s.Descriptors)
		body = append(body, s.Type, byte(s.PID>>8)|0xE0, byte(s.PID),
			0xF0|byte(len(es)>>8), byte(len(es)))
		body = append(body, es...)
	}
	return encodeLongSection(TIDPMT, pmt.SID, pmt.Version, 0, 0, body)
}

func encodeDescriptors(descs []Descriptor) []byte {
	var out []byte
	for _, d := range descs {
		out = append(out, d.Tag, byte(len(d.Data)))
		out = append(out, d.Data...)
	}
	return out
}

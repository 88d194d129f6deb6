package ts

import "fmt"

// NITTransport is one transport stream entry of the NIT.
type NITTransport struct {
	TSID        uint16
	ONID        uint16
	Descriptors []Descriptor
}

// RemoteControlKeyID extracts the remote control key id from a TS
// information descriptor.
func (t *NITTransport) RemoteControlKeyID() (uint8, bool) {
	for _, d := range t.Descriptors {
		if d.Tag == DescTSInformation && len(d.Data) >= 1 {
			return d.Data[0], true
		}
	}
	return 0, false
}

// NIT is the Network Information Table (actual network).
type NIT struct {
	NetworkID  uint16
	Version    uint8
	Transports []NITTransport
}

// Transport finds the entry for (tsid, onid).
func (n *NIT) Transport(tsid, onid uint16) *NITTransport {
	for i := range n.Transports {
		if n.Transports[i].TSID == tsid && n.Transports[i].ONID == onid {
			return &n.Transports[i]
		}
	}
	return nil
}

// ParseNIT decodes a complete NIT table.
func ParseNIT(t *Table) (*NIT, error) {
	if t.TableID != TIDNITAct {
		return nil, fmt.Errorf("not a NIT: table#%02X", t.TableID)
	}
	nit := &NIT{NetworkID: t.TableIDExtension, Version: t.Version}
	for _, sec := range t.Sections {
		p := sec.Payload()
		if len(p) < 2 {
			return nil, fmt.Errorf("NIT payload too short")
		}
		netDescLen := int(p[0]&0x0F)<<8 | int(p[1])
		if 2+netDescLen+2 > len(p) {
			return nil, fmt.Errorf("NIT network descriptors overrun section")
		}
		p = p[2+netDescLen:]
		p = p[2:] // transport_stream_loop_length
		for len(p) >= 6 {
			descLen := int(p[4]&0x0F)<<8 | int(p[5])
			if 6+descLen > len(p) {
				break
			}
			nit.Transports = append(nit.Transports, NITTransport{
				TSID:        uint16(p[0])<<8 | uint16(p[1]),
				ONID:        uint16(p[2])<<8 | uint16(p[3]),
				Descriptors: parseDescriptors(p[6 : 6+descLen]),
			})
			p = p[6+descLen:]
		}
	}
	return nit, nil
}

package ts

import "fmt"

// SDTService is one service entry of the SDT.
type SDTService struct {
	SID         uint16
	Type        uint8
	Name        string
	Descriptors []Descriptor
}

// LogoID extracts the logo id from a logo transmission descriptor of
// transmission type 1 or 2. Returns -1 when the service announces no logo.
func (s *SDTService) LogoID() int {
	for _, d := range s.Descriptors {
		if d.Tag != DescLogoTransmission || len(d.Data) < 3 {
			continue
		}
		typ := d.Data[0]
		if typ == 1 || typ == 2 {
			return int(uint16(d.Data[1]&0x01)<<8 | uint16(d.Data[2]))
		}
	}
	return -1
}

// SDT is the Service Description Table (actual TS).
type SDT struct {
	TSID     uint16
	ONID     uint16
	Version  uint8
	Services map[uint16]*SDTService
}

// ParseSDT decodes a complete SDT table. Service names are decoded from
// their ARIB encoding to UTF-8.
func ParseSDT(t *Table) (*SDT, error) {
	if t.TableID != TIDSDTAct {
		return nil, fmt.Errorf("not an SDT: table#%02X", t.TableID)
	}
	sdt := &SDT{
		TSID:     t.TableIDExtension,
		Version:  t.Version,
		Services: make(map[uint16]*SDTService),
	}
	for _, sec := range t.Sections {
		p := sec.Payload()
		if len(p) < 3 {
			return nil, fmt.Errorf("SDT payload too short")
		}
		sdt.ONID = uint16(p[0])<<8 | uint16(p[1])
		p = p[3:]
		for len(p) >= 5 {
			descLen := int(p[3]&0x0F)<<8 | int(p[4])
			if 5+descLen > len(p) {
				break
			}
			svc := &SDTService{
				SID:         uint16(p[0])<<8 | uint16(p[1]),
				Descriptors: parseDescriptors(p[5 : 5+descLen]),
			}
			for _, d := range svc.Descriptors {
				if d.Tag == DescService && len(d.Data) >= 2 {
					svc.Type = d.Data[0]
					providerLen := int(d.Data[1])
					if 2+providerLen+1 <= len(d.Data) {
						nameLen := int(d.Data[2+providerLen])
						if 3+providerLen+nameLen <= len(d.Data) {
							svc.Name = DecodeAribString(d.Data[3+providerLen : 3+providerLen+nameLen])
						}
					}
				}
			}
			sdt.Services[svc.SID] = svc
			p = p[5+descLen:]
		}
	}
	return sdt, nil
}

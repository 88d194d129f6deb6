package collector

import "github.com/aribtools/arib-ts/internal/ts"

// EitSectionJSON is the JSON document emitted for one EIT section.
type EitSectionJSON struct {
	OriginalNetworkID        uint16         `json:"originalNetworkId"`
	TransportStreamID        uint16         `json:"transportStreamId"`
	ServiceID                uint16         `json:"serviceId"`
	TableID                  uint8          `json:"tableId"`
	SectionNumber            uint8          `json:"sectionNumber"`
	LastSectionNumber        uint8          `json:"lastSectionNumber"`
	SegmentLastSectionNumber uint8          `json:"segmentLastSectionNumber"`
	VersionNumber            uint8          `json:"versionNumber"`
	Events                   []ts.EventJSON `json:"events"`
}

// makeEitSectionJSON decodes the section's events into the JSON document.
func makeEitSectionJSON(eit *ts.EitSection) EitSectionJSON {
	events := []ts.EventJSON{}
	for _, ev := range eit.DecodeEvents() {
		events = append(events, ts.MakeEventJSON(&ev))
	}
	return EitSectionJSON{
		OriginalNetworkID:        eit.NID,
		TransportStreamID:        eit.TSID,
		ServiceID:                eit.SID,
		TableID:                  eit.TID,
		SectionNumber:            eit.SectionNumber,
		LastSectionNumber:        eit.LastSectionNumber,
		SegmentLastSectionNumber: eit.SegmentLastSectionNumber,
		VersionNumber:            eit.Version,
		Events:                   events,
	}
}

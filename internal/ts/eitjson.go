package ts

// JSON shapes of EIT events and their descriptors, shared by the EIT
// collectors and the service recorder. Descriptors are tagged with "$type".

// EventJSON is the JSON form of one EIT event. StartTime and Duration are
// Unix milliseconds / milliseconds and null when the wire encoding says
// "undefined".
type EventJSON struct {
	EventID     uint16 `json:"eventId"`
	StartTime   *int64 `json:"startTime"`
	Duration    *int64 `json:"duration"`
	Scrambled   bool   `json:"scrambled"`
	Descriptors []any  `json:"descriptors"`
}

type ShortEventJSON struct {
	Type      string `json:"$type"`
	EventName string `json:"eventName"`
	Text      string `json:"text"`
}

type ComponentJSON struct {
	Type          string `json:"$type"`
	StreamContent uint8  `json:"streamContent"`
	ComponentType uint8  `json:"componentType"`
}

type ContentJSON struct {
	Type    string  `json:"$type"`
	Nibbles [][]int `json:"nibbles"`
}

type AudioComponentJSON struct {
	Type          string `json:"$type"`
	ComponentType uint8  `json:"componentType"`
	SamplingRate  uint8  `json:"samplingRate"`
}

type ExtendedEventJSON struct {
	Type  string     `json:"$type"`
	Items [][]string `json:"items"`
}

// MakeEventJSON converts a decoded event into its JSON form.
func MakeEventJSON(ev *Event) EventJSON {
	out := EventJSON{
		EventID:     ev.EventID,
		Scrambled:   ev.Scrambled,
		Descriptors: []any{},
	}
	if ev.HasStartTime {
		ms := UnixMs(ev.StartTime)
		out.StartTime = &ms
	}
	if ev.HasDuration {
		ms := ev.Duration.Milliseconds()
		out.Duration = &ms
	}
	for _, d := range ev.Descriptors {
		switch d.Tag {
		case DescShortEvent:
			if j, ok := decodeShortEvent(d); ok {
				out.Descriptors = append(out.Descriptors, j)
			}
		case DescComponent:
			if len(d.Data) >= 2 {
				out.Descriptors = append(out.Descriptors, ComponentJSON{
					Type:          "Component",
					StreamContent: d.Data[0] & 0x0F,
					ComponentType: d.Data[1],
				})
			}
		case DescContent:
			out.Descriptors = append(out.Descriptors, decodeContent(d))
		case DescAudioComponent:
			if len(d.Data) >= 6 {
				out.Descriptors = append(out.Descriptors, AudioComponentJSON{
					Type:          "AudioComponent",
					ComponentType: d.Data[1],
					SamplingRate:  d.Data[5] >> 1 & 0x07,
				})
			}
		}
	}
	if items := extendedEventItems(ev.Descriptors); len(items) > 0 {
		out.Descriptors = append(out.Descriptors, ExtendedEventJSON{
			Type:  "ExtendedEvent",
			Items: items,
		})
	}
	return out
}

func decodeShortEvent(d Descriptor) (ShortEventJSON, bool) {
	b := d.Data
	if len(b) < 5 {
		return ShortEventJSON{}, false
	}
	nameLen := int(b[3])
	if 4+nameLen+1 > len(b) {
		return ShortEventJSON{}, false
	}
	name := b[4 : 4+nameLen]
	textLen := int(b[4+nameLen])
	rest := b[5+nameLen:]
	if textLen > len(rest) {
		textLen = len(rest)
	}
	return ShortEventJSON{
		Type:      "ShortEvent",
		EventName: DecodeAribString(name),
		Text:      DecodeAribString(rest[:textLen]),
	}, true
}

func decodeContent(d Descriptor) ContentJSON {
	j := ContentJSON{Type: "Content", Nibbles: [][]int{}}
	for b := d.Data; len(b) >= 2; b = b[2:] {
		j.Nibbles = append(j.Nibbles, []int{
			int(b[0] >> 4), int(b[0] & 0x0F),
			int(b[1] >> 4), int(b[1] & 0x0F),
		})
	}
	return j
}

// extendedEventItems gathers the item list of the event's extended event
// descriptors. Item bodies may be split across descriptors; fragments are
// concatenated before character decoding, which is why this cannot be done
// per descriptor.
func extendedEventItems(descs []Descriptor) [][]string {
	var items [][]string
	var descBuf, itemBuf []byte
	flush := func() {
		if len(descBuf) > 0 {
			items = append(items, []string{
				DecodeAribString(descBuf),
				DecodeAribString(itemBuf),
			})
			descBuf = nil
			itemBuf = nil
		}
	}
	for _, d := range descs {
		if d.Tag != DescExtendedEvent || len(d.Data) < 5 {
			continue
		}
		remaining := int(d.Data[4])
		data := d.Data[5:]
		if remaining > len(data) {
			remaining = len(data)
		}
		for remaining >= 2 {
			descLen := int(data[0])
			if descLen > remaining-1 {
				descLen = remaining - 1
			}
			data = data[1:]
			remaining--
			if descLen > 0 {
				flush()
				descBuf = append(descBuf, data[:descLen]...)
				data = data[descLen:]
				remaining -= descLen
			}
			if remaining <= 0 {
				break
			}
			itemLen := int(data[0])
			if itemLen > remaining-1 {
				itemLen = remaining - 1
			}
			data = data[1:]
			remaining--
			if itemLen > 0 {
				itemBuf = append(itemBuf, data[:itemLen]...)
				data = data[itemLen:]
				remaining -= itemLen
			}
		}
	}
	flush()
	return items
}

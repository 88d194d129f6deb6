// Package collector implements the JSONL-emitting single-shot collectors:
// the EIT schedule collector, the EIT p/f collector, the service scanner,
// the PCR synchronizer, the airtime tracker, the program metadata filter,
// the logo collector and the diagnostic printers.
package collector

// SidSet is a set of service IDs used for inclusion/exclusion lists.
type SidSet struct {
	set map[uint16]bool
}

// NewSidSet returns a set containing sids.
func NewSidSet(sids ...uint16) *SidSet {
	s := &SidSet{set: make(map[uint16]bool)}
	for _, sid := range sids {
		s.Add(sid)
	}
	return s
}

// Add inserts sid.
func (s *SidSet) Add(sid uint16) {
	s.set[sid] = true
}

// IsEmpty reports whether the set has no members.
func (s *SidSet) IsEmpty() bool {
	return s == nil || len(s.set) == 0
}

// Contains reports membership. A nil set contains nothing.
func (s *SidSet) Contains(sid uint16) bool {
	return s != nil && s.set[sid]
}

// Size returns the number of members.
func (s *SidSet) Size() int {
	if s == nil {
		return 0
	}
	return len(s.set)
}

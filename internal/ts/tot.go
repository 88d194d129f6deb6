package ts

import (
	"fmt"
	"time"
)

// ParseDateTime extracts the JST wall-clock time of a TDT or TOT table.
func ParseDateTime(t *Table) (time.Time, error) {
	if t.TableID != TIDTDT && t.TableID != TIDTOT {
		return time.Time{}, fmt.Errorf("not a TDT/TOT: table#%02X", t.TableID)
	}
	p := t.Sections[0].Payload()
	when, ok := DecodeMJDTime(p)
	if !ok {
		return time.Time{}, fmt.Errorf("undefined time in table#%02X", t.TableID)
	}
	return when, nil
}

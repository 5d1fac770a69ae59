package util

import "time"

// PS2Zone is the zone the console clock stamps on-disk times in
var PS2Zone = time.FixedZone("JST", 9*60*60)

// PS2Time is the 8 byte on-disk timestamp used by both APA headers and PFS inodes
type PS2Time struct {
	Unused uint8
	Sec    uint8
	Min    uint8
	Hour   uint8
	Day    uint8
	Month  uint8
	Year   uint16
}

// PS2TimeFrom converts t to the console representation. The zero time maps to the zero stamp.
func PS2TimeFrom(t time.Time) PS2Time {
	if t.IsZero() {
		return PS2Time{}
	}
	t = t.In(PS2Zone)
	return PS2Time{
		Sec:   uint8(t.Second()),
		Min:   uint8(t.Minute()),
		Hour:  uint8(t.Hour()),
		Day:   uint8(t.Day()),
		Month: uint8(t.Month()),
		Year:  uint16(t.Year()),
	}
}

// Time converts the stamp back, returning the zero time for an unset or invalid stamp
func (p PS2Time) Time() time.Time {
	if p.Year == 0 || p.Month == 0 || p.Month > 12 || p.Day == 0 || p.Day > 31 {
		return time.Time{}
	}
	return time.Date(int(p.Year), time.Month(p.Month), int(p.Day), int(p.Hour), int(p.Min), int(p.Sec), 0, PS2Zone)
}

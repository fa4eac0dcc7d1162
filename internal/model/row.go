package model

// StayRow is one stay-time result: the robust dwell estimate of a vessel at a port.
type StayRow struct {
	EntityID    int64
	Locode      string
	StayTime    int64 // median of the trimmed samples, truncated
	DataPoints  int
	StandardDev int64
}

// VoyageRow is one next-port result: the share of departures from FromLocode
// that arrived at ToLocode.
type VoyageRow struct {
	EntityID   int64
	FromLocode string
	ToLocode   string
	Percentage float64 // in [0, 1]
	DataPoints int     // raw leg count
}

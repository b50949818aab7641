package http

import "time"

// TimingInfo contains per-phase timing for a single attempt.
type TimingInfo struct {
	// StartTime is when the attempt started
	StartTime time.Time

	DNSLookupTime time.Duration

	TCPConnectTime time.Duration

	// TLSHandshakeTime is zero for plain HTTP and reused connections
	TLSHandshakeTime time.Duration

	// TimeToFirstByte is measured from the end of the last completed
	// connection phase to the first response byte
	TimeToFirstByte time.Duration

	// ContentTransferTime is the time spent reading the response body
	ContentTransferTime time.Duration

	TotalTime time.Duration
}

// Phases returns the named phases in wire order, for display.
func (t TimingInfo) Phases() []TimingPhase {
	return []TimingPhase{
		{"DNS Lookup", t.DNSLookupTime},
		{"TCP Connect", t.TCPConnectTime},
		{"TLS Handshake", t.TLSHandshakeTime},
		{"Time to First Byte", t.TimeToFirstByte},
		{"Content Transfer", t.ContentTransferTime},
	}
}

// TimingPhase is one labelled slice of an attempt's duration.
type TimingPhase struct {
	Name     string
	Duration time.Duration
}

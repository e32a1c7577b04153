package server

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Moonlight-Companies/gomodbus/common"
)

// fcCounters is a per-function-code hit counter, shared by TCPServer's
// per-connection tracking and RTUServer's single-line tracking: a TCP
// server has one of these per peer, an RTU server has exactly one for the
// whole serial line.
type fcCounters struct {
	counts [256]atomic.Uint64
}

func (f *fcCounters) add(fc common.FunctionCode) {
	if int(fc) < len(f.counts) {
		f.counts[fc].Add(1)
	}
}

// snapshot returns only the non-zero entries.
func (f *fcCounters) snapshot() map[common.FunctionCode]uint64 {
	stats := make(map[common.FunctionCode]uint64)
	for i := range f.counts {
		if v := f.counts[i].Load(); v > 0 {
			stats[common.FunctionCode(i)] = v
		}
	}
	return stats
}

// clientConn is the internal per-connection tracking state for TCPServer.
// It contains atomics and a net.Conn, so it must not be copied.
type clientConn struct {
	remoteAddr  string
	connectedAt time.Time
	conn        net.Conn
	rxCount     atomic.Uint64
	txCount     atomic.Uint64
	fc          fcCounters
}

// ConnectedClient is a snapshot of a connected client's state.
// Returned by TCPServer.ConnectedClients(). Safe to copy and store.
type ConnectedClient struct {
	// RemoteAddr is the remote address of the connected client.
	RemoteAddr string

	// ConnectedAt is the time the client connected.
	ConnectedAt time.Time

	// RxTransactions is the number of requests received from this client.
	RxTransactions uint64

	// TxTransactions is the number of responses sent to this client.
	TxTransactions uint64

	// FunctionCodeStats is a per-function-code count of received requests.
	// Only non-zero entries are included.
	FunctionCodeStats map[common.FunctionCode]uint64
}

// String returns a human-readable summary of the connected client.
func (c ConnectedClient) String() string {
	duration := time.Since(c.ConnectedAt).Truncate(time.Second)
	s := fmt.Sprintf("%s | connected %s | rx: %d tx: %d", c.RemoteAddr, duration, c.RxTransactions, c.TxTransactions)
	s += functionCodeStatsSuffix(c.FunctionCodeStats)
	return s
}

// functionCodeStatsSuffix renders a sorted " | fc: FC=n FC=n" suffix,
// or "" when there are no stats, shared by ConnectedClient.String and
// RTULineStats.String.
func functionCodeStatsSuffix(stats map[common.FunctionCode]uint64) string {
	if len(stats) == 0 {
		return ""
	}

	codes := make([]common.FunctionCode, 0, len(stats))
	for fc := range stats {
		codes = append(codes, fc)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	parts := make([]string, 0, len(codes))
	for _, fc := range codes {
		parts = append(parts, fmt.Sprintf("%s=%d", fc, stats[fc]))
	}
	return " | fc: " + strings.Join(parts, " ")
}

// RTULineStats is a snapshot of an RTUServer's traffic counters for its
// one serial line, the RTU analogue of ConnectedClient.
type RTULineStats struct {
	Device            string
	RxFrames          uint64
	TxFrames          uint64
	FunctionCodeStats map[common.FunctionCode]uint64
}

// String returns a human-readable summary of the line's traffic.
func (s RTULineStats) String() string {
	out := fmt.Sprintf("%s | rx: %d tx: %d", s.Device, s.RxFrames, s.TxFrames)
	out += functionCodeStatsSuffix(s.FunctionCodeStats)
	return out
}

package probe

import (
	"context"
	"net"
	"time"
)

// TCPPinger измеряет задержку как время установки TCP-соединения.
// Участник без Endpoint считается локальным: доступен с нулевой задержкой.
type TCPPinger struct {
	Dialer *net.Dialer
}

// NewTCPPinger создаёт pinger с таймаутом установки соединения.
func NewTCPPinger(timeout time.Duration) *TCPPinger {
	return &TCPPinger{Dialer: &net.Dialer{Timeout: timeout}}
}

// Ping реализует Pinger.
func (p *TCPPinger) Ping(ctx context.Context, target Target) (time.Duration, error) {
	if target.Endpoint == "" {
		return 0, ctx.Err()
	}

	start := time.Now()
	conn, err := p.Dialer.DialContext(ctx, "tcp", target.Endpoint)
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	conn.Close()
	return rtt, nil
}

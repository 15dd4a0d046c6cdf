package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
)

// StreamSpeedProbe передаёт ProbeBytes в каждом направлении и замеряет время.
//
// Для участника с Endpoint данные передаются по TCP: upload — запись в
// соединение, download — чтение ответного потока той же длины. Для
// локального участника (без Endpoint) поток идёт через io.Pipe и
// характеризует пропускную способность самого узла.
type StreamSpeedProbe struct {
	// Dialer — используется для удалённых участников
	Dialer *net.Dialer
}

// NewStreamSpeedProbe создаёт speed-пробу с таймаутом установки соединения.
func NewStreamSpeedProbe(dialTimeout time.Duration) *StreamSpeedProbe {
	return &StreamSpeedProbe{Dialer: &net.Dialer{Timeout: dialTimeout}}
}

// MeasureSpeed реализует SpeedProbe.
func (p *StreamSpeedProbe) MeasureSpeed(ctx context.Context, target Target) (Speed, error) {
	if target.Endpoint == "" {
		return p.measurePipe(ctx)
	}
	return p.measureTCP(ctx, target)
}

func (p *StreamSpeedProbe) measurePipe(ctx context.Context) (Speed, error) {
	up, err := pipeTransfer(ctx, ProbeBytes)
	if err != nil {
		return Speed{}, fmt.Errorf("upload проба: %w", err)
	}
	down, err := pipeTransfer(ctx, ProbeBytes)
	if err != nil {
		return Speed{}, fmt.Errorf("download проба: %w", err)
	}
	return Speed{
		UploadMbps:   model.Throughput(ProbeBytes, up),
		DownloadMbps: model.Throughput(ProbeBytes, down),
	}, nil
}

func (p *StreamSpeedProbe) measureTCP(ctx context.Context, target Target) (Speed, error) {
	conn, err := p.Dialer.DialContext(ctx, "tcp", target.Endpoint)
	if err != nil {
		return Speed{}, fmt.Errorf("участник %s недоступен: %w", target.ParticipantID, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	payload := make([]byte, ProbeBytes)

	start := time.Now()
	if _, err := conn.Write(payload); err != nil {
		return Speed{}, fmt.Errorf("upload проба участника %s: %w", target.ParticipantID, err)
	}
	up := time.Since(start)

	start = time.Now()
	if _, err := io.ReadFull(conn, payload); err != nil {
		return Speed{}, fmt.Errorf("download проба участника %s: %w", target.ParticipantID, err)
	}
	down := time.Since(start)

	return Speed{
		UploadMbps:   model.Throughput(ProbeBytes, up),
		DownloadMbps: model.Throughput(ProbeBytes, down),
	}, nil
}

// pipeTransfer передаёт n байт через io.Pipe и возвращает длительность.
func pipeTransfer(ctx context.Context, n int) (time.Duration, error) {
	pr, pw := io.Pipe()
	payload := make([]byte, 32<<10)

	start := time.Now()
	go func() {
		remaining := n
		for remaining > 0 {
			if ctx.Err() != nil {
				pw.CloseWithError(ctx.Err())
				return
			}
			chunk := min(remaining, len(payload))
			if _, err := pw.Write(payload[:chunk]); err != nil {
				return
			}
			remaining -= chunk
		}
		pw.Close()
	}()

	read, err := io.Copy(io.Discard, pr)
	if err != nil {
		return 0, err
	}
	if read != int64(n) {
		return 0, fmt.Errorf("передано %d байт из %d", read, n)
	}

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	return elapsed, nil
}

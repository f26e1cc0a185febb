package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCHealthProber asks a grpc.health.v1 endpoint whether the backend serves.
type GRPCHealthProber struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
}

// NewGRPCHealthProber creates a lazy client for endpoint. An empty service
// checks the server as a whole.
func NewGRPCHealthProber(endpoint, service string) (*GRPCHealthProber, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create health client: %w", err)
	}
	return &GRPCHealthProber{conn: conn, client: healthpb.NewHealthClient(conn), service: service}, nil
}

// NewGRPCHealthProberConn probes over an existing connection.
func NewGRPCHealthProberConn(cc grpc.ClientConnInterface, service string) *GRPCHealthProber {
	return &GRPCHealthProber{client: healthpb.NewHealthClient(cc), service: service}
}

func (p *GRPCHealthProber) Probe(ctx context.Context) Status {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
			return Status{Type: "grpc"}
		case codes.Unimplemented:
			// server is up but does not expose the health service
			return Status{Connected: true, Type: "grpc", Reachable: true}
		default:
			return Status{Connected: true, Type: "grpc"}
		}
	}
	return Status{
		Connected: true,
		Type:      "grpc",
		Reachable: resp.GetStatus() == healthpb.HealthCheckResponse_SERVING,
	}
}

func (p *GRPCHealthProber) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// SQLPingProber pings the remote database.
type SQLPingProber struct {
	db Pinger
}

func NewSQLPingProber(db Pinger) *SQLPingProber {
	return &SQLPingProber{db: db}
}

func (p *SQLPingProber) Probe(ctx context.Context) Status {
	err := p.db.PingContext(ctx)
	if err == nil {
		return Status{Connected: true, Type: "sql", Reachable: true}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Status{Type: "sql"}
	}
	// the server answered but refused us
	return Status{Connected: true, Type: "sql"}
}

// StaticProber reports whatever status it was last given.
type StaticProber struct {
	mu sync.Mutex
	st Status
}

func NewStaticProber(st Status) *StaticProber {
	return &StaticProber{st: st}
}

func (p *StaticProber) Set(st Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.st = st
}

func (p *StaticProber) Probe(context.Context) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.st
}

package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/credentials/oauth"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// checkGRPC calls grpc.health.v1.Health/Check. The bearer token is only
// sent over TLS.
func (p *Prober) checkGRPC(ctx context.Context, u *url.URL, secure bool) Result {
	opts := []grpc.DialOption{}
	if secure {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		if p.token != "" {
			opts = append(opts, grpc.WithPerRPCCredentials(oauth.TokenSource{
				TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: p.token}),
			}))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(u.Host, opts...)
	if err != nil {
		return Result{Error: err.Error()}
	}
	defer conn.Close()

	service := strings.Trim(u.Path, "/")
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		if s, ok := status.FromError(err); ok {
			return Result{Error: fmt.Sprintf("health check failed: %s", s.Message())}
		}
		return Result{Error: err.Error()}
	}

	serving := resp.GetStatus().String()
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return Result{Status: serving, Error: fmt.Sprintf("service reports %s", serving)}
	}
	return Result{Success: true, Status: serving}
}

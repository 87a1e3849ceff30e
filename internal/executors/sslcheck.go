package executors

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"ops-gateway/internal/models"
)

// SSLCheckHandler dials the target over TLS and reports certificate status.
type SSLCheckHandler struct{}

func (h *SSLCheckHandler) Validate(payload map[string]any) error {
	_, err := payloadString(payload, "target")
	return err
}

func (h *SSLCheckHandler) Execute(ctx context.Context, payload map[string]any) (*models.TaskResult, error) {
	target, _ := payloadString(payload, "target")
	port := optString(payload, "port", "443")
	addr := net.JoinHostPort(target, port)

	dialer := &tls.Dialer{Config: &tls.Config{ServerName: target}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, models.Retryablef("tls dial %s: %v", addr, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, models.Permanentf("no peer certificate presented by %s", addr)
	}

	cert := state.PeerCertificates[0]
	daysLeft := int(time.Until(cert.NotAfter).Hours() / 24)
	return &models.TaskResult{
		Service: "ssl",
		Data: map[string]any{
			"target":      target,
			"issuer":      cert.Issuer.CommonName,
			"subject":     cert.Subject.CommonName,
			"not_after":   cert.NotAfter.UTC().Format(time.RFC3339),
			"days_left":   daysLeft,
			"expired":     daysLeft < 0,
			"tls_version": fmt.Sprintf("0x%04x", state.Version),
		},
	}, nil
}

package intake

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Client sends single frames to a Listener. It is what relay hook
// invocations use.
type Client struct {
	Address string
	Timeout time.Duration
}

// Send connects, writes one frame for name and fields, and disconnects.
func (c Client) Send(ctx context.Context, name string, fields map[string]string) error {
	frame, err := Encode(name, fields)
	if err != nil {
		return err
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.Address)
	if err != nil {
		return fmt.Errorf("intake: dial %s: %w", c.Address, err)
	}
	defer func() { _ = conn.Close() }()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("intake: write: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}
	return nil
}

package ipaddr

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/stun/v3"
)

// DefaultSTUNTimeout bounds the NAT probe.
const DefaultSTUNTimeout = 5 * time.Second

// DefaultSTUNServer answers binding requests.
const DefaultSTUNServer = "stun.l.google.com:19302"

// STUNProbe learns the NAT-reflexive address by sending a binding request to
// a STUN server and reading the XOR-MAPPED-ADDRESS of the response.
func STUNProbe(server string) Strategy {
	return func(ctx context.Context) (string, error) {
		client, err := stun.Dial("udp4", server)
		if err != nil {
			return "", fmt.Errorf("failed to dial %s: %w", server, err)
		}
		defer func() { _ = client.Close() }()

		type result struct {
			addr string
			err  error
		}
		done := make(chan result, 1)

		go func() {
			var res result
			err := client.Do(stun.MustBuild(stun.TransactionID, stun.BindingRequest), func(ev stun.Event) {
				if ev.Error != nil {
					res.err = ev.Error
					return
				}
				var mapped stun.XORMappedAddress
				if err := mapped.GetFrom(ev.Message); err != nil {
					res.err = err
					return
				}
				res.addr = mapped.IP.String()
			})
			if err != nil && res.err == nil {
				res.err = err
			}
			done <- res
		}()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res := <-done:
			if res.err != nil {
				return "", fmt.Errorf("binding request failed: %w", res.err)
			}
			return res.addr, nil
		}
	}
}

package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// sendFunc delivers one event. Replaced in tests.
type sendFunc func(ctx context.Context, in *Input, timeout time.Duration, payload map[string]any) error

var send sendFunc = emitSocketIO

// emitSocketIO connects, emits the event once connected and, when an ack
// event is configured, waits for it.
func emitSocketIO(ctx context.Context, in *Input, timeout time.Duration, payload map[string]any) error {
	logger := ctxlog.FromContext(ctx).With("url", in.URL, "event", in.Event)

	parsedURL, err := url.Parse(in.URL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid URL %q: scheme and host are required", in.URL)
	}

	var isConnected atomic.Bool
	done := make(chan error, 1)
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	if in.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(in.Namespace, opts)
	defer func() {
		logger.Debug("Disconnecting socket client.")
		io.Disconnect()
	}()

	io.On(types.EventName("connect"), func(...any) {
		isConnected.Store(true)
		logger.Debug("Connected.", "namespace", in.Namespace, "sid", io.Id())
		io.Emit(in.Event, payload)
		if in.AckEvent == "" {
			select {
			case done <- nil:
			default:
			}
		}
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connection failed")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = fmt.Errorf("connection failed: %w", e)
			}
		}
		select {
		case done <- err:
		default:
		}
	})
	if in.AckEvent != "" {
		io.On(types.EventName(in.AckEvent), func(...any) {
			select {
			case done <- nil:
			default:
			}
		})
	}

	io.Connect()

	select {
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isConnected.Load() {
			return fmt.Errorf("timed out after connecting while waiting for event '%s'", in.AckEvent)
		}
		return fmt.Errorf("timed out while waiting for initial connection")
	case err := <-done:
		return err
	}
}

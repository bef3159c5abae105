// Command subscribe connects to the prediction stream of one or more cameras
// and prints every message, highlighting probabilities above a threshold.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/broadcast"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
)

const (
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

func main() {
	var (
		addr      string
		cameras   string
		threshold float64
		noColor   bool
	)
	flag.StringVar(&addr, "addr", "ws://127.0.0.1:8000", "Base websocket address of the pipeline")
	flag.StringVar(&cameras, "cameras", "cam_01", "Comma-separated camera ids")
	flag.Float64Var(&threshold, "threshold", 0.5, "Highlight probabilities above this value")
	flag.BoolVar(&noColor, "no-color", false, "Disable highlighting")
	flag.Parse()

	log, err := logger.New(logger.LogConfig{Level: "info", Format: "text", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := &printer{out: os.Stdout, threshold: threshold, color: !noColor}

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range strings.Split(cameras, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		id := id
		g.Go(func() error {
			return subscribe(ctx, addr, id, p, log)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("Subscription ended", "error", err)
		os.Exit(1)
	}
}

// subscribe streams one camera until ctx is done or the server goes away.
func subscribe(ctx context.Context, addr, cameraID string, p *printer, log *logger.Logger) error {
	u, err := url.Parse(strings.TrimRight(addr, "/") + "/ws/" + url.PathEscape(cameraID))
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u, err)
	}
	defer conn.Close()
	log.Info("Subscribed", "camera_id", cameraID, "url", u.String())

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("camera %s: %w", cameraID, err)
		}

		var msg broadcast.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("Malformed message", "camera_id", cameraID, "error", err)
			continue
		}
		p.Print(msg)
	}
}

// printer serializes output from concurrent subscriptions
type printer struct {
	mu        sync.Mutex
	out       io.Writer
	threshold float64
	color     bool
}

func (p *printer) Print(msg broadcast.Message) {
	line := p.Format(msg)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

// Format renders msg with classes in name order
func (p *printer) Format(msg broadcast.Message) string {
	names := make([]string, 0, len(msg.Probabilities))
	for name := range msg.Probabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		v := msg.Probabilities[name]
		s := fmt.Sprintf("%s=%.3f", name, v)
		if v > p.threshold {
			if p.color {
				s = colorRed + s + colorReset
			} else {
				s += "*"
			}
		}
		parts = append(parts, s)
	}
	return fmt.Sprintf("[%s] %s: %s", time.Now().Format("15:04:05.000"), msg.CameraID, strings.Join(parts, " "))
}

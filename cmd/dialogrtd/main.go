// Command dialogrtd is a minimal end-to-end harness for the dialog
// runtime: it loads a Script from a YAML file, wires a Storage backend
// (in-process memory or Redis, chosen by flag), and runs a polling
// messenger that reads newline-delimited JSON requests from stdin and
// writes newline-delimited JSON responses to stdout. It exists to exercise
// a full turn, not as a production service entry point.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/deeppavlov/dialgo-flow-framework/config"
	"github.com/deeppavlov/dialgo-flow-framework/logger"
	"github.com/deeppavlov/dialgo-flow-framework/message"
	"github.com/deeppavlov/dialgo-flow-framework/messenger"
	"github.com/deeppavlov/dialgo-flow-framework/messenger/polling"
	"github.com/deeppavlov/dialgo-flow-framework/pipeline"
	"github.com/deeppavlov/dialgo-flow-framework/storage"
	"github.com/deeppavlov/dialgo-flow-framework/storage/memorystore"
	"github.com/deeppavlov/dialgo-flow-framework/storage/redisstore"
)

// stdinRequest is the newline-JSON shape read from stdin.
type stdinRequest struct {
	DialogID string          `json:"dialog_id"`
	Message  message.Message `json:"message"`
}

// stdoutResponse is the newline-JSON shape written to stdout.
type stdoutResponse struct {
	DialogID string          `json:"dialog_id"`
	Message  message.Message `json:"message"`
	Error    string          `json:"error,omitempty"`
}

func main() {
	scriptPath := flag.String("script", "", "path to the YAML script document (required)")
	startFlow := flag.String("start-flow", "", "flow name of the start label (required)")
	startNode := flag.String("start-node", "", "node name of the start label (required)")
	fallbackFlow := flag.String("fallback-flow", "", "flow name of the fallback label (defaults to start-flow)")
	fallbackNode := flag.String("fallback-node", "", "node name of the fallback label (defaults to start-node)")
	backend := flag.String("storage", "memory", "storage backend: memory or redis")
	redisAddr := flag.String("redis-addr", "localhost:6379", "redis address, when -storage=redis")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger.SetLevel(logger.ParseLevel(*logLevel))

	if err := run(*scriptPath, *startFlow, *startNode, *fallbackFlow, *fallbackNode, *backend, *redisAddr); err != nil {
		fmt.Fprintln(os.Stderr, "dialogrtd:", err)
		os.Exit(1)
	}
}

func run(scriptPath, startFlow, startNode, fallbackFlow, fallbackNode, backend, redisAddr string) error {
	if scriptPath == "" || startFlow == "" || startNode == "" {
		return errors.New("-script, -start-flow, and -start-node are required")
	}
	if fallbackFlow == "" {
		fallbackFlow = startFlow
	}
	if fallbackNode == "" {
		fallbackNode = startNode
	}

	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("reading script file: %w", err)
	}
	s, err := config.Load(data, config.LoadOptions{})
	if err != nil {
		return fmt.Errorf("loading script: %w", err)
	}

	store, err := newStore(backend, redisAddr)
	if err != nil {
		return err
	}

	startLabel := message.NodeLabel{Flow: startFlow, Node: startNode}
	fallbackLabel := message.NodeLabel{Flow: fallbackFlow, Node: fallbackNode}
	p := pipeline.New(s, startLabel, fallbackLabel, nil, nil, store, pipeline.WithOriginInterface("dialogrtd-stdin"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in := make(chan messenger.Request)
	out := make(chan messenger.Response)
	m := &polling.Messenger{Pipeline: p, In: in, Out: out}

	go func() {
		m.Run(ctx)
		close(out)
	}()
	written := make(chan struct{})
	go func() {
		writeResponses(out)
		close(written)
	}()
	readRequests(ctx, in)
	<-written
	return nil
}

func newStore(backend, redisAddr string) (storage.Storage, error) {
	switch backend {
	case "memory":
		return memorystore.New(), nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: redisAddr})
		return redisstore.New(client), nil
	default:
		return nil, fmt.Errorf("unknown -storage backend %q (want memory or redis)", backend)
	}
}

// readRequests reads one JSON request per line from stdin and forwards it
// to in, until EOF or ctx is cancelled.
func readRequests(ctx context.Context, in chan<- messenger.Request) {
	defer close(in)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req stdinRequest
		if err := json.Unmarshal(line, &req); err != nil {
			logger.ErrorContext(ctx, "dialogrtd: malformed request line", "error", err)
			continue
		}
		select {
		case in <- messenger.Request{Message: req.Message, DialogID: req.DialogID}:
		case <-ctx.Done():
			return
		}
	}
}

// writeResponses writes one JSON response per line to stdout for every
// Response published by the messenger, until out closes.
func writeResponses(out <-chan messenger.Response) {
	enc := json.NewEncoder(os.Stdout)
	for resp := range out {
		stdoutResp := stdoutResponse{DialogID: resp.DialogID, Message: resp.Message}
		if resp.Err != nil {
			stdoutResp.Error = resp.Err.Error()
		}
		if err := enc.Encode(stdoutResp); err != nil {
			logger.Error("dialogrtd: failed to write response", "error", err)
		}
	}
}

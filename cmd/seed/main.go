// cmd/seed populates a running researchd with demo study sessions for
// development.
//
// Running twice is safe: sessions that already exist are skipped.
//
// Usage:
//
//	go run ./cmd/seed
//	RL_SERVER_URL=http://localhost:8080 RL_TOKEN=... go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/jmerrifield20/researchledger/pkg/client"
)

const defaultServer = "http://localhost:8080"

type seedEvent struct {
	Type    string
	Payload map[string]any
}

type seedSession struct {
	ID     string
	Site   string
	Events []seedEvent
	Export bool
}

var seedSessions = []seedSession{
	{
		ID:   "demo-reader-001",
		Site: "radiology-a",
		Events: []seedEvent{
			{"CASE_LOADED", map[string]any{"caseId": "CXR-0192", "modality": "CR"}},
			{"VIEWPORT_CHANGED", map[string]any{"zoom": 1.5, "window": "lung"}},
			{"ANNOTATION_ADDED", map[string]any{"region": "RUL", "label": "nodule", "confidence": 0.7}},
			{"AI_SUGGESTION_SHOWN", map[string]any{"model": "cxr-assist", "finding": "nodule", "score": 0.82}},
			{"FINAL_ASSESSMENT", map[string]any{"birads": nil, "lungRads": "4A", "durationMs": 94210}},
		},
		Export: true,
	},
	{
		ID:   "demo-reader-002",
		Site: "radiology-b",
		Events: []seedEvent{
			{"CASE_LOADED", map[string]any{"caseId": "CXR-0457", "modality": "DX"}},
			{"ANNOTATION_ADDED", map[string]any{"region": "LLL", "label": "consolidation"}},
			{"ANNOTATION_REMOVED", map[string]any{"region": "LLL"}},
			{"FINAL_ASSESSMENT", map[string]any{"lungRads": "2", "durationMs": 40110}},
		},
	},
	{
		// Left open: no FINAL_ASSESSMENT, verifies with a WARN.
		ID:   "demo-reader-003",
		Site: "radiology-a",
		Events: []seedEvent{
			{"CASE_LOADED", map[string]any{"caseId": "CXR-0811", "modality": "CR"}},
		},
	},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	server := os.Getenv("RL_SERVER_URL")
	if server == "" {
		server = defaultServer
	}

	var opts []client.Option
	if tok := os.Getenv("RL_TOKEN"); tok != "" {
		opts = append(opts, client.WithBearerToken(tok))
	}
	c, err := client.New(server, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	seeded := 0
	for _, s := range seedSessions {
		ok, err := seed(ctx, c, s)
		if err != nil {
			return fmt.Errorf("session %s: %w", s.ID, err)
		}
		if !ok {
			fmt.Printf("  skip  %s (already exists)\n", s.ID)
			continue
		}
		seeded++
	}
	fmt.Printf("seeded %d session(s) on %s\n", seeded, server)
	return nil
}

func seed(ctx context.Context, c *client.Client, s seedSession) (bool, error) {
	if _, err := c.CreateSession(ctx, s.ID); err != nil {
		if errors.Is(err, client.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	if _, err := c.Start(ctx, s.ID, map[string]any{"site": s.Site}); err != nil {
		return false, err
	}
	for _, e := range s.Events {
		if _, err := c.Record(ctx, s.ID, e.Type, e.Payload); err != nil {
			return false, fmt.Errorf("record %s: %w", e.Type, err)
		}
	}

	v, err := c.Verify(ctx, s.ID)
	if err != nil {
		return false, err
	}
	fmt.Printf("  seed  %s (%d events, %s)\n", s.ID, len(s.Events)+1, v.Result)

	if s.Export {
		res, err := c.Export(ctx, s.ID, map[string]string{"README.txt": "Demo export generated by cmd/seed.\n"})
		if err != nil {
			return false, err
		}
		fmt.Printf("        exported root %s trusted=%t\n", res.RootHash, res.Trusted)
	}
	return true, nil
}

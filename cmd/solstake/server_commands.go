package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			serverURL := strings.TrimRight(c.String("server-url"), "/")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SOLSTAKE_SERVER_URL env var or use --server-url)")
			}

			httpClient := &http.Client{Timeout: c.Duration("timeout")}
			req, err := http.NewRequestWithContext(c.Context, http.MethodGet, serverURL+"/health", nil)
			if err != nil {
				return err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
			}
			fmt.Fprintf(out.w, "✓ Server is healthy (status: %d)\n", resp.StatusCode)
			fmt.Fprintf(out.w, "  URL: %s\n", serverURL)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			fmt.Fprintf(out.w, "solstake CLI\n")
			fmt.Fprintf(out.w, "  Version: %s\n", version)
			fmt.Fprintf(out.w, "  Commit:  %s\n", commit)
			fmt.Fprintf(out.w, "  Built:   %s\n", date)
			return nil
		},
	}
}

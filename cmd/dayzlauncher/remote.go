package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/config"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/pkg/client"
)

// apiURL picks the control API address: the flag, then [api] of the config
// file, then the client default.
func apiURL(global GlobalFlags, f RemoteFlags) string {
	if f.APIUrl != "" {
		return strings.TrimRight(f.APIUrl, "/")
	}
	cfg, err := config.Load(global.ConfigPath)
	if err != nil || cfg.API.Listen == "" {
		return client.DefaultConfig().BaseURL
	}
	host := cfg.API.Listen
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	base := strings.TrimRight(cfg.API.BasePath, "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return "http://" + host + base
}

func (c command) remote(global GlobalFlags, f RemoteFlags) *client.Client {
	return client.New(client.Config{BaseURL: apiURL(global, f), Timeout: f.APITimeout})
}

func (c command) Status(global GlobalFlags, f RemoteFlags) error {
	st, err := c.remote(global, f).Status(context.Background())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "status:  %s", st.Status)
	if st.Detail != "" {
		_, _ = fmt.Fprintf(c.out, " (%s)", st.Detail)
	}
	_, _ = fmt.Fprintf(c.out, "\nsince:   %s\n", st.ObservedAt.Format(time.RFC3339))
	if st.PID > 0 {
		_, _ = fmt.Fprintf(c.out, "pid:     %d\n", st.PID)
	}
	if r := st.Resources; r != nil {
		_, _ = fmt.Fprintf(c.out, "cpu:     %.1f%%\nmemory:  %.0f MB\n", r.CPUPercent, r.MemoryMB)
	}
	if n := st.Next; n != nil {
		_, _ = fmt.Fprintf(c.out, "next:    %s", n.At.Local().Format("2006-01-02 15:04:05"))
		if n.Reason != "" {
			_, _ = fmt.Fprintf(c.out, " (%s)", n.Reason)
		}
		_, _ = fmt.Fprintln(c.out)
	}
	return nil
}

func (c command) Restart(global GlobalFlags, f RestartFlags) error {
	req := client.RestartRequest{Reason: f.Reason, DelaySeconds: int(f.Delay / time.Second)}
	if err := c.remote(global, f.RemoteFlags).Restart(context.Background(), req); err != nil {
		return err
	}
	if req.DelaySeconds > 0 {
		_, _ = fmt.Fprintf(c.out, "restart in %s\n", f.Delay)
	} else {
		_, _ = fmt.Fprintln(c.out, "restart requested")
	}
	return nil
}

func (c command) Stop(global GlobalFlags, f StopFlags) error {
	// The launcher answers only once the server is down.
	if f.APITimeout <= f.Wait {
		f.APITimeout = f.Wait + 10*time.Second
	}
	if err := c.remote(global, f.RemoteFlags).Stop(context.Background(), f.Wait); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "server stopped")
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/handlerstream/pkg/config"
	"github.com/go-go-golems/handlerstream/pkg/handler"
	"github.com/go-go-golems/handlerstream/pkg/parts"
	"github.com/go-go-golems/handlerstream/pkg/streammanager"
)

type watchSettings struct {
	Output       string
	Style        string
	CancelOnExit bool
}

func newWatchCommand() *cobra.Command {
	s := watchSettings{}
	cmd := &cobra.Command{
		Use:   "watch <handler-id>",
		Short: "Follow one handler until it stops and print the resulting message parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], s)
		},
	}
	cmd.Flags().StringVar(&s.Output, "output", "markdown", "Output format (markdown, text, json, yaml)")
	cmd.Flags().StringVar(&s.Style, "style", "dark", "glamour style used for markdown output")
	cmd.Flags().BoolVar(&s.CancelOnExit, "cancel-on-exit", false, "Stop the handler upstream when interrupted")
	return cmd
}

func runWatch(ctx context.Context, w io.Writer, cfg *config.Config, handlerID string, s watchSettings) error {
	up, err := openUpstream(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = up.Close() }()

	m := streammanager.NewManager()
	defer m.Close()

	tr, err := handler.Watch(m, up.client, handlerID, handler.Options{
		IncludeInternal: cfg.Upstream.IncludeInternal,
		OnChange: func(snap handler.Snapshot) {
			log.Debug().Str("handler_id", snap.HandlerID).Str("status", string(snap.Status)).Int("events", snap.EventCount).Int("parts", len(snap.Parts)).Msg("handler updated")
		},
	})
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-tr.Done():
	case <-sigCtx.Done():
		if s.CancelOnExit {
			cancelCtx, cancel := context.WithTimeout(context.Background(), cancelTimeout(cfg))
			if err := tr.Stop(cancelCtx); err != nil {
				log.Warn().Err(err).Str("handler_id", handlerID).Msg("failed to stop handler")
			}
			cancel()
		} else {
			tr.Close()
		}
	}

	snap := tr.Snapshot()
	if err := printSnapshot(w, snap, s); err != nil {
		return err
	}
	if snap.Status == handler.StatusFailed {
		return errors.Errorf("handler %s failed: %s", handlerID, snap.Error)
	}
	return nil
}

func cancelTimeout(cfg *config.Config) time.Duration {
	if cfg.Upstream.CancelTimeout > 0 {
		return cfg.Upstream.CancelTimeout
	}
	return 10 * time.Second
}

func printSnapshot(w io.Writer, snap handler.Snapshot, s watchSettings) error {
	switch s.Output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(snapshotView(snap))
	case "text":
		for _, p := range snap.Parts {
			if _, err := fmt.Fprintln(w, partText(p)); err != nil {
				return err
			}
		}
		return nil
	case "markdown":
		var b strings.Builder
		for _, p := range snap.Parts {
			if p.IsText() {
				b.WriteString(p.Text)
			} else {
				b.WriteString("\n\n```json\n" + partText(p) + "\n```\n\n")
			}
		}
		styled, err := glamour.Render(b.String(), s.Style)
		if err != nil {
			return errors.Wrap(err, "render markdown")
		}
		_, err = fmt.Fprint(w, styled)
		return err
	default:
		return errors.Errorf("unknown output format %q", s.Output)
	}
}

func partText(p parts.Part) string {
	if p.IsText() {
		return p.Text
	}
	if len(p.Data) == 0 {
		return "[" + p.Type + "]"
	}
	return "[" + p.Type + "] " + string(p.Data)
}

// snapshotView turns raw JSON payloads into plain values so yaml output stays readable.
func snapshotView(snap handler.Snapshot) map[string]any {
	ps := make([]map[string]any, 0, len(snap.Parts))
	for _, p := range snap.Parts {
		entry := map[string]any{"type": p.Type}
		if p.IsText() {
			entry["text"] = p.Text
		} else if len(p.Data) > 0 {
			var data any
			if err := json.Unmarshal(p.Data, &data); err == nil {
				entry["data"] = data
			}
		}
		ps = append(ps, entry)
	}
	out := map[string]any{
		"handler_id":  snap.HandlerID,
		"status":      snap.Status,
		"turn_ended":  snap.TurnEnded,
		"event_count": snap.EventCount,
		"parts":       ps,
	}
	if snap.Error != "" {
		out["error"] = snap.Error
	}
	return out
}

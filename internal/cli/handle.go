package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	tele "gopkg.in/telebot.v4"
)

// handleResponse is the one-shot status written to stdout.
type handleResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// NewHandleCmd processes exactly one Telegram update (webhook body) and exits.
// Sessions are hydrated from and flushed to the store within the call.
func NewHandleCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "handle",
		Short: "Process one Telegram update read from stdin or --file",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			resp := runHandle(cmd.Context(), *configPath, in)
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(resp); err != nil {
				return err
			}
			if resp.StatusCode != 200 {
				return fmt.Errorf("update handling failed")
			}
			return nil
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&file, "file", "-", "path to the update JSON (- for stdin)")
	return cmd
}

func runHandle(ctx context.Context, configPath string, in io.Reader) handleResponse {
	if ctx == nil {
		ctx = context.Background()
	}
	failure := handleResponse{StatusCode: 500, Body: "Failure"}

	cfg, log, err := loadConfig(configPath)
	if err != nil {
		slog.Default().LogAttrs(ctx, slog.LevelError, "",
			slog.String("event", "config.failed"),
			slog.String("err", err.Error()),
		)
		return failure
	}

	var update tele.Update
	if err := json.NewDecoder(in).Decode(&update); err != nil {
		log.LogAttrs(ctx, slog.LevelError, "",
			slog.String("event", "update.decode_failed"),
			slog.String("err", err.Error()),
		)
		return failure
	}

	rt, err := buildRuntime(ctx, cfg, log, runtimeOptions{offline: true, flushPerEvent: true})
	if err != nil {
		log.LogAttrs(ctx, slog.LevelError, "",
			slog.String("event", "runtime.failed"),
			slog.String("err", err.Error()),
		)
		return failure
	}
	defer rt.close()

	if err := rt.dispatcher.HandleUpdate(ctx, update); err != nil {
		return failure
	}
	return handleResponse{StatusCode: 200, Body: "Success"}
}

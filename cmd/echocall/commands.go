package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"echocall/internal/bootstrap"
	"echocall/internal/domain"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "echocall",
		Short: "Voice calls with an assistant",
		Long: `echocall - talk to an assistant over WebRTC or the voice websocket.

Examples:
  echocall credentials set --api-key KEY --api-secret SECRET
  echocall assistant show 42
  echocall call --assistant 42
  echocall call --assistant 42 --mode voice-socket`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCallCmd(), newAssistantCmd(), newCredentialsCmd())
	return root
}

func newCallCmd() *cobra.Command {
	var (
		assistantID int64
		mode        string
		muted       bool
	)

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Start a call and stay on the line until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sink := newConsoleSink(cmd.OutOrStdout())
			services, err := bootstrap.Build(sink)
			if err != nil {
				return err
			}
			defer func() { _ = services.Logger.Sync() }()
			controller := services.Controller

			if assistantID == 0 {
				assistantID = services.Config.Call.AssistantID
			}
			if assistantID <= 0 {
				return errors.New("no assistant: pass --assistant or set ECHOCALL_ASSISTANT_ID")
			}
			if mode != "" {
				if err := controller.SetTransportMode(domain.TransportMode(mode)); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("muted") {
				controller.SetMuted(muted)
			}
			if err := controller.SelectAssistant(ctx, assistantID); err != nil {
				return err
			}

			if err := controller.StartCall(ctx); err != nil {
				return err
			}
			services.Logger.Info("call started, press Ctrl+C to hang up",
				zap.Int64("assistant_id", assistantID),
				zap.String("transport", string(controller.Status().Mode)),
			)

			select {
			case <-ctx.Done():
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return controller.StopCall(stopCtx)
			case end := <-sink.ended:
				if end.state == domain.CallStateError {
					return fmt.Errorf("call failed: %s", end.reason)
				}
				return nil
			}
		},
	}

	cmd.Flags().Int64Var(&assistantID, "assistant", 0, "assistant id (default ECHOCALL_ASSISTANT_ID)")
	cmd.Flags().StringVar(&mode, "mode", "", "transport: webrtc or voice-socket (default ECHOCALL_TRANSPORT)")
	cmd.Flags().BoolVar(&muted, "muted", false, "receive agent audio without playing it")
	return cmd
}

func newAssistantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assistant",
		Short: "Inspect assistant configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Print the configuration the backend serves for an assistant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid assistant id %q", args[0])
			}
			services, err := bootstrap.Build(newConsoleSink(io.Discard))
			if err != nil {
				return err
			}
			assistant, err := services.Backend.Assistant(cmd.Context(), id)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(assistant, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})
	return cmd
}

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the API key pair used for calls",
	}

	var apiKey, apiSecret string
	set := &cobra.Command{
		Use:   "set",
		Short: "Save the API key and secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := bootstrap.Build(newConsoleSink(io.Discard))
			if err != nil {
				return err
			}
			creds := domain.Credentials{APIKey: apiKey, APISecret: apiSecret}
			if err := services.Controller.SaveCredentials(cmd.Context(), creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved credentials to %s\n", services.Credentials.Path())
			return nil
		},
	}
	set.Flags().StringVar(&apiKey, "api-key", "", "API key")
	set.Flags().StringVar(&apiSecret, "api-secret", "", "API secret")
	_ = set.MarkFlagRequired("api-key")
	_ = set.MarkFlagRequired("api-secret")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show where credentials are stored and the masked key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := bootstrap.Build(newConsoleSink(io.Discard))
			if err != nil {
				return err
			}
			creds, err := services.Credentials.Load(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "file:       %s\n", services.Credentials.Path())
			fmt.Fprintf(out, "api key:    %s\n", mask(creds.APIKey))
			fmt.Fprintf(out, "api secret: %s\n", mask(creds.APISecret))
			if services.Config.Credentials.APIKey != "" && services.Config.Credentials.APISecret != "" {
				fmt.Fprintln(out, "note:       ECHOCALL_API_KEY/ECHOCALL_API_SECRET override the file")
			}
			return nil
		},
	}

	cmd.AddCommand(set, show)
	return cmd
}

func mask(value string) string {
	switch {
	case value == "":
		return "(not set)"
	case len(value) <= 4:
		return "****"
	default:
		return value[:4] + "****"
	}
}

type callEnd struct {
	state  domain.CallState
	reason domain.CallStateReason
}

// consoleSink prints the transcript and lifecycle to a terminal.
type consoleSink struct {
	mu     sync.Mutex
	out    io.Writer
	active bool
	ended  chan callEnd
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out, ended: make(chan callEnd, 1)}
}

func (s *consoleSink) CallStateChanged(state domain.CallState, reason domain.CallStateReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(s.out, "[%s] %s\n", state, reason)
	switch state {
	case domain.CallStateConnecting, domain.CallStateActive, domain.CallStateEnding:
		s.active = true
	case domain.CallStateIdle, domain.CallStateError:
		if !s.active {
			return
		}
		s.active = false
		select {
		case s.ended <- callEnd{state: state, reason: reason}:
		default:
		}
	}
}

func (s *consoleSink) TranscriptAppended(entry domain.TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "%s %-5s %s\n", entry.At.Format("15:04:05"), entry.Role, entry.Text)
}

func (s *consoleSink) SessionError(code domain.ErrorCode, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "error (%s): %s\n", code, message)
}

func (s *consoleSink) AssistantSwitchPending(currentID, requestedID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "switch from assistant %d to %d pending\n", currentID, requestedID)
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"echocall/internal/bootstrap"
	"echocall/internal/config"
	"echocall/internal/domain"
	"echocall/internal/usecase"
)

const (
	eventCall       = "echocall:call"
	eventTranscript = "echocall:transcript"
	eventError      = "echocall:error"
	eventSwitch     = "echocall:assistant-switch"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller *usecase.CallController
	cfg        config.Config
	logger     *zap.Logger
	bootErr    error
}

func NewApp() *App {
	return &App{logger: zap.NewNop()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.logger = services.Logger

	if id := a.cfg.Call.AssistantID; id > 0 {
		if err := a.controller.SelectAssistant(ctx, id); err != nil {
			a.logger.Warn("configured assistant unavailable", zap.Int64("assistant_id", id), zap.Error(err))
		}
	}
	a.CallStateChanged(domain.CallStateIdle, domain.CallReasonReady)
}

func (a *App) shutdown(ctx context.Context) {
	if a.controller != nil {
		if err := a.controller.StopCall(ctx); err != nil {
			a.logger.Debug("hang up on shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// StartCall dials the selected assistant.
func (a *App) StartCall() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StartCall(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopCall hangs up the live call, if any.
func (a *App) StopCall() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StopCall(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// SelectAssistant switches assistants. During a call the switch is reported
// through an event and waits for ConfirmAssistantSwitch.
func (a *App) SelectAssistant(id int64) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	err := a.controller.SelectAssistant(a.ctx, id)
	if errors.Is(err, usecase.ErrSwitchPending) {
		return nil
	}
	return err
}

func (a *App) ConfirmAssistantSwitch() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.ConfirmAssistantSwitch(a.ctx)
}

func (a *App) CancelAssistantSwitch() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.CancelAssistantSwitch()
}

// Acknowledge dismisses an error state.
func (a *App) Acknowledge() {
	if a.controller == nil {
		return
	}
	a.controller.Acknowledge()
}

func (a *App) SetMuted(muted bool) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.SetMuted(muted)
	return nil
}

func (a *App) SetTransportMode(mode string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.SetTransportMode(domain.TransportMode(mode))
}

// SaveCredentials stores the API key pair used to authenticate calls.
func (a *App) SaveCredentials(apiKey, apiSecret string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.SaveCredentials(a.ctx, domain.Credentials{APIKey: apiKey, APISecret: apiSecret})
}

// GetStatus returns the current call status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.CallStateError, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.CallStateIdle}
	}
	return a.controller.Status()
}

// GetTranscript returns the transcript of the current or last call.
func (a *App) GetTranscript() []domain.TranscriptEntry {
	if a.controller == nil {
		return nil
	}
	return a.controller.Transcript()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"apiBase":          a.cfg.Backend.APIBaseURL,
		"signalingBase":    a.cfg.Backend.SignalingBaseURL,
		"transport":        string(a.cfg.Call.Mode),
		"codec":            a.cfg.WebRTC.Codec,
		"captureMode":      a.cfg.Audio.CaptureMode,
		"filterFile":       a.cfg.Filter.Path,
		"credentialsFile":  a.cfg.Credentials.Path,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// CallStateChanged emits call lifecycle updates to the frontend.
func (a *App) CallStateChanged(state domain.CallState, reason domain.CallStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventCall, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": callReasonMessage(reason),
	})
}

// TranscriptAppended emits a new transcript line.
func (a *App) TranscriptAppended(entry domain.TranscriptEntry) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranscript, entry)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// AssistantSwitchPending asks the UI to confirm ending the live call.
func (a *App) AssistantSwitchPending(currentID, requestedID int64) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSwitch, map[string]int64{
		"currentId":   currentID,
		"requestedId": requestedID,
	})
}

func callReasonMessage(reason domain.CallStateReason) string {
	switch reason {
	case domain.CallReasonReady:
		return "Ready to call"
	case domain.CallReasonDialing:
		return "Connecting..."
	case domain.CallReasonSessionAssigned:
		return "Session assigned"
	case domain.CallReasonNegotiating:
		return "Negotiating media..."
	case domain.CallReasonMediaConnected, domain.CallReasonSocketOpen:
		return "Call connected"
	case domain.CallReasonHangingUp:
		return "Hanging up..."
	case domain.CallReasonCallEnded:
		return "Call ended"
	case domain.CallReasonTransportFailed:
		return "Connection failed"
	case domain.CallReasonProtocolFailed:
		return "Negotiation failed"
	case domain.CallReasonMicrophoneDenied:
		return "Microphone unavailable"
	case domain.CallReasonRemoteError:
		return "The assistant reported an error"
	case domain.CallReasonErrorAcknowledged:
		return "Ready to call"
	case domain.CallReasonAssistantSwitched:
		return "Assistant switched"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeConfiguration:
		return "Configuration required"
	case domain.ErrorCodeTransport:
		return "Connection issue"
	case domain.ErrorCodeProtocol:
		return "Signaling issue"
	case domain.ErrorCodeMicrophone:
		return "Microphone issue"
	case domain.ErrorCodePlayback:
		return "Playback issue"
	case domain.ErrorCodeRemote:
		return "Assistant error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godlp/godlp/internal/host"
)

// ConversionStatus is the state of the secondary conversion operation.
type ConversionStatus string

const (
	ConversionIdle       ConversionStatus = "idle"
	ConversionConverting ConversionStatus = "converting"
	ConversionSuccess    ConversionStatus = "success"
	ConversionError      ConversionStatus = "error"
	ConversionCancelled  ConversionStatus = "cancelled"
)

type ConversionState struct {
	Status       ConversionStatus `json:"status"`
	SourcePath   string           `json:"sourcePath,omitempty"`
	TargetFormat string           `json:"targetFormat,omitempty"`
	Percent      float64          `json:"progress"`
	TargetPath   string           `json:"targetPath,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// SetupState tracks the host's first-run tool installation.
type SetupState struct {
	Active  bool    `json:"active"`
	Percent float64 `json:"percent"`
	Err     string  `json:"error,omitempty"`
}

func (r *Reconciler) Conversion() ConversionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversion
}

func (r *Reconciler) Setup() SetupState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setup
}

// StartConversion asks the host to convert source into target format.
func (r *Reconciler) StartConversion(ctx context.Context, source, target string) error {
	r.mu.Lock()
	if r.conversion.Status == ConversionConverting {
		r.mu.Unlock()
		return fmt.Errorf("%w: conversion of %s", ErrBusy, r.conversion.SourcePath)
	}
	r.conversion = ConversionState{Status: ConversionConverting, SourcePath: source, TargetFormat: target}
	r.mu.Unlock()
	r.notifyChange()

	go func() {
		err := r.host.Convert(context.WithoutCancel(ctx), source, target)
		if err == nil {
			return
		}
		r.mu.Lock()
		if r.conversion.Status != ConversionConverting || r.conversion.SourcePath != source {
			r.mu.Unlock()
			return
		}
		r.conversion.Status = ConversionError
		r.conversion.Error = err.Error()
		r.mu.Unlock()

		slog.Warn("Conversion rejected", "source", source, "error", err)
		r.notifier.Error(fmt.Sprintf("Conversion failed: %v", err))
		r.notifyChange()
	}()
	return nil
}

// CancelConversion asks the host to stop the running conversion.
func (r *Reconciler) CancelConversion(ctx context.Context) error {
	if err := r.host.CancelConversion(ctx); err != nil {
		return fmt.Errorf("host cancel conversion failed: %w", err)
	}
	return nil
}

func (r *Reconciler) handleConversion(rec host.Record) {
	r.mu.Lock()
	switch rec := rec.(type) {
	case host.ConversionProgress:
		r.conversion.Status = ConversionConverting
		r.conversion.Percent = rec.Percent
	case host.ConversionComplete:
		r.conversion.Status = ConversionSuccess
		r.conversion.Percent = 100
		r.conversion.TargetPath = rec.TargetPath
	case host.ConversionError:
		r.conversion.Status = ConversionError
		r.conversion.Error = rec.Message
	case host.ConversionCancelled:
		r.conversion.Status = ConversionCancelled
	}
	state := r.conversion
	r.mu.Unlock()

	switch state.Status {
	case ConversionSuccess:
		r.notifier.Success(fmt.Sprintf("Conversion completed: %s", state.TargetPath))
	case ConversionError:
		r.notifier.Error(fmt.Sprintf("Conversion Error: %s", state.Error))
	}
	r.notifyChange()
}

func (r *Reconciler) handleSetup(rec host.Record) {
	r.mu.Lock()
	switch rec := rec.(type) {
	case host.SetupStarted:
		r.setup = SetupState{Active: true}
		if !r.direct.Active() {
			r.direct.Step = StepSetup
		}
	case host.SetupProgress:
		r.setup.Active = true
		r.setup.Percent = rec.Percentage
	case host.SetupComplete:
		r.setup = SetupState{Percent: 100}
		if r.direct.Step == StepSetup {
			r.direct.Step = StepInput
		}
	case host.SetupError:
		r.setup.Active = false
		r.setup.Err = rec.Message
		if r.direct.Step == StepSetup {
			r.direct.Step = StepInput
		}
	}
	errMsg := r.setup.Err
	_, failed := rec.(host.SetupError)
	r.mu.Unlock()

	if failed {
		r.notifier.Error(fmt.Sprintf("Setup Error: %s", errMsg))
	}
	r.notifyChange()
}

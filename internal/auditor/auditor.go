// Package auditor taps the event bus read-only and writes one JSONL audit
// record per cache event.
package auditor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/dietplan/internal/types"
)

// Anomaly labels written to AuditEvent.Anomaly.
const (
	AnomalyNone              = "none"
	AnomalyGenerationFailure = "generation_failure"
	AnomalyIDMismatch        = "id_mismatch"
	AnomalyFailureStreak     = "failure_streak"
)

// failureStreakThreshold is the number of consecutive failed generations
// after which every further failure is flagged as a streak.
const failureStreakThreshold = 3

// Auditor consumes a bus tap and records every message it sees.
type Auditor struct {
	tap     <-chan types.Message
	logPath string

	mu        sync.Mutex
	out       io.Writer
	streak    int
	anomalies []string
}

// New creates an Auditor writing to logPath once Run is called.
func New(tap <-chan types.Message, logPath string) *Auditor {
	return &Auditor{tap: tap, logPath: logPath}
}

// Run opens the log file and processes the tap until ctx is cancelled or the
// tap is closed.
func (a *Auditor) Run(ctx context.Context) {
	if err := os.MkdirAll(filepath.Dir(a.logPath), 0o755); err != nil {
		log.Printf("[AUDIT] ERROR: create log dir: %v", err)
		return
	}
	f, err := os.OpenFile(a.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("[AUDIT] ERROR: open log file: %v", err)
		return
	}
	defer f.Close()

	a.mu.Lock()
	a.out = f
	a.mu.Unlock()
	log.Printf("[AUDIT] started; writing to %s", a.logPath)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-a.tap:
			if !ok {
				return
			}
			a.process(msg)
		}
	}
}

// Anomalies returns the non-"none" details recorded so far, oldest first.
func (a *Auditor) Anomalies() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.anomalies...)
}

// process classifies msg and writes the audit record.
//
// Expectations:
//   - GenerationFailed is flagged generation_failure with the error as detail
//   - The third and later consecutive GenerationFailed are flagged failure_streak
//   - PlanGenerated with a non-zero ModelID is flagged id_mismatch
//   - A PlanGenerated or PlanUpdated resets the failure streak
//   - Every message produces exactly one record
func (a *Auditor) process(msg types.Message) {
	ev, err := toCacheEvent(msg.Payload)
	if err != nil {
		log.Printf("[AUDIT] WARNING: unreadable payload type=%s: %v", msg.Type, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	anomaly := AnomalyNone
	var detail *string

	switch msg.Type {
	case types.EventGenerationFailed:
		a.streak++
		anomaly = AnomalyGenerationFailure
		d := fmt.Sprintf("%s failed: %s", ev.Mode, ev.Error)
		if a.streak >= failureStreakThreshold {
			anomaly = AnomalyFailureStreak
			d = fmt.Sprintf("%d consecutive failures, last %s: %s", a.streak, ev.Mode, ev.Error)
		}
		detail = &d
		log.Printf("[AUDIT] GENERATION FAILURE: %s", d)
	case types.EventPlanGenerated:
		a.streak = 0
		if ev.ModelID != 0 && ev.ModelID != ev.PlanID {
			anomaly = AnomalyIDMismatch
			d := fmt.Sprintf("model returned id=%d, stored as id=%d", ev.ModelID, ev.PlanID)
			detail = &d
			log.Printf("[AUDIT] ID MISMATCH: %s", d)
		}
	case types.EventPlanUpdated:
		a.streak = 0
	}

	if detail != nil {
		a.anomalies = append(a.anomalies, anomaly+": "+*detail)
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	a.write(types.AuditEvent{
		EventID:   uuid.New().String(),
		Timestamp: ts.UTC().Format(time.RFC3339),
		Type:      string(msg.Type),
		PlanID:    ev.PlanID,
		Anomaly:   anomaly,
		Detail:    detail,
	})
}

// write must be called with a.mu held.
func (a *Auditor) write(e types.AuditEvent) {
	if a.out == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[AUDIT] ERROR: marshal event: %v", err)
		return
	}
	if _, err := fmt.Fprintf(a.out, "%s\n", data); err != nil {
		log.Printf("[AUDIT] ERROR: write event: %v", err)
	}
}

func toCacheEvent(payload any) (types.CacheEvent, error) {
	switch p := payload.(type) {
	case types.CacheEvent:
		return p, nil
	case *types.CacheEvent:
		if p != nil {
			return *p, nil
		}
		return types.CacheEvent{}, nil
	case nil:
		return types.CacheEvent{}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return types.CacheEvent{}, err
	}
	var ev types.CacheEvent
	return ev, json.Unmarshal(b, &ev)
}

// Package service hosts the scheduled background work: periodic media
// discovery and the nightly consistency audit. Each service registers
// itself on a shared cron and guards its runs with singleflight so a slow
// pass is never stacked on top of itself.
package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"subsync/internal/audit"
	"subsync/internal/scanner"
	"subsync/internal/store"
	"subsync/pkg/icron"
	"subsync/pkg/log"
)

var singleflightGroup singleflight.Group

// ScanService discovers media on a schedule and seeds their stage rows.
type ScanService struct {
	scanner  *scanner.Scanner
	stages   func() []store.Stage
	cronExpr string
	cron     *cron.Cron
}

// NewScanService wires the scanner to the cron. stages is called per run
// so runtime target-language changes take effect without re-registering.
func NewScanService(sc *scanner.Scanner, stages func() []store.Stage, cronExpr string, c *cron.Cron) *ScanService {
	return &ScanService{
		scanner:  sc,
		stages:   stages,
		cronExpr: cronExpr,
		cron:     c,
	}
}

// Schedule registers the periodic scan and runs one pass immediately so a
// restart never waits for the next cron tick to pick up new files.
func (s *ScanService) Schedule(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cronExpr, func() { s.RunNow(ctx) }); err != nil {
		return err
	}
	go s.RunNow(ctx)
	return nil
}

// RunNow runs one scan pass, coalescing concurrent calls.
func (s *ScanService) RunNow(ctx context.Context) {
	_, _, _ = singleflightGroup.Do("scan", func() (any, error) {
		if _, err := s.scanner.Scan(ctx, s.stages()); err != nil {
			log.Error("Media scan failed: %v", err)
		}
		return nil, nil
	})
}

// Trigger reports the scan schedule relative to now, for the report API.
func (s *ScanService) Trigger() (*icron.TriggerInfo, error) {
	return icron.GetTriggerInfo(s.cronExpr, time.Now())
}

// AuditService runs the consistency audit on a schedule, optionally
// repairing findings, and prunes the error log afterwards.
type AuditService struct {
	auditor   *audit.Auditor
	store     *store.Store
	repair    bool
	retention int
	cronExpr  string
	cron      *cron.Cron
}

func NewAuditService(a *audit.Auditor, st *store.Store, repair bool, retention int, cronExpr string, c *cron.Cron) *AuditService {
	return &AuditService{
		auditor:   a,
		store:     st,
		repair:    repair,
		retention: retention,
		cronExpr:  cronExpr,
		cron:      c,
	}
}

func (s *AuditService) Schedule(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.cronExpr, func() { s.RunNow(ctx) })
	return err
}

// RunNow runs one audit pass, coalescing concurrent calls, and returns
// the findings.
func (s *AuditService) RunNow(ctx context.Context) []audit.Finding {
	ret, _, _ := singleflightGroup.Do("audit", func() (any, error) {
		findings, err := s.auditor.Run(ctx)
		if err != nil {
			log.Error("Audit failed: %v", err)
			return []audit.Finding(nil), nil
		}
		if s.repair && len(findings) > 0 {
			if _, err := s.auditor.Repair(ctx, findings); err != nil {
				log.Error("Audit repair failed: %v", err)
			}
		}

		if s.retention > 0 {
			pruned, err := s.store.PruneErrors(ctx, s.retention)
			if err != nil {
				log.Error("Prune error log: %v", err)
			} else if pruned > 0 {
				log.Info("Pruned %d old error log entries", pruned)
			}
		}
		return findings, nil
	})
	findings, _ := ret.([]audit.Finding)
	return findings
}

func (s *AuditService) Trigger() (*icron.TriggerInfo, error) {
	return icron.GetTriggerInfo(s.cronExpr, time.Now())
}

// Package usage reports embedding token consumption against the configured
// budget.
package usage

import (
	"context"
	"time"
)

// Period selects the reporting window.
type Period string

const (
	// PeriodDay reports today's consumption.
	PeriodDay Period = "day"
	// PeriodMonth reports this month's consumption.
	PeriodMonth Period = "month"
	// PeriodTotal reports against the monthly budget with no window bounds.
	PeriodTotal Period = "total"
)

// ParsePeriod maps a query value to a Period, defaulting to total.
func ParsePeriod(s string) Period {
	switch Period(s) {
	case PeriodDay:
		return PeriodDay
	case PeriodMonth:
		return PeriodMonth
	default:
		return PeriodTotal
	}
}

// Budget is the budget slice of a usage report.
type Budget struct {
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Exhausted bool  `json:"exhausted"`
	ResetsAt  int64 `json:"resets_at,omitempty"` // unix millis
}

// Report is the caller-facing usage summary.
type Report struct {
	Period      Period `json:"period"`
	PeriodStart int64  `json:"period_start,omitempty"` // unix millis
	PeriodEnd   int64  `json:"period_end,omitempty"`
	TokensUsed  int64  `json:"tokens_used"`
	Budget      Budget `json:"budget"`
}

// Service handles usage reporting.
type Service struct {
	br BudgetReader
}

// New creates a Service. br can be nil (unlimited mode).
func New(br BudgetReader) *Service {
	return &Service{br: br}
}

// GetReport builds a usage report for the given period.
func (s *Service) GetReport(_ context.Context, period Period) Report {
	now := time.Now().UTC()
	var start, end int64
	var limit, used, remaining int64

	switch period {
	case PeriodDay:
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		dayEnd := dayStart.Add(24 * time.Hour)
		start = dayStart.UnixMilli()
		end = dayEnd.UnixMilli()
		if s.br != nil {
			limit = s.br.DailyLimit()
			used = s.br.DailyUsed()
			remaining = s.br.RemainingDaily()
		}
	case PeriodMonth:
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		monthEnd := monthStart.AddDate(0, 1, 0)
		start = monthStart.UnixMilli()
		end = monthEnd.UnixMilli()
		if s.br != nil {
			limit = s.br.MonthlyLimit()
			used = s.br.MonthlyUsed()
			remaining = s.br.RemainingMonthly()
		}
	default:
		// total: no period boundaries
		if s.br != nil {
			limit = s.br.MonthlyLimit()
			used = s.br.MonthlyUsed()
			remaining = s.br.RemainingMonthly()
		}
	}

	return Report{
		Period:      period,
		PeriodStart: start,
		PeriodEnd:   end,
		TokensUsed:  used,
		Budget: Budget{
			Limit:     limit,
			Remaining: remaining,
			Exhausted: limit > 0 && remaining <= 0,
			ResetsAt:  end,
		},
	}
}

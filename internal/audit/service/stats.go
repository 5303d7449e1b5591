package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/viotraix/internal/audit/domain"
	"go.uber.org/zap"
)

const (
	scoreTrendSize = 10
	monthsInStats  = 6
)

func (s *Service) Stats(ctx context.Context, userID string) (domain.Stats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Stats{}, domain.ErrInvalidUser
	}
	audits, err := s.repo.ListAll(ctx, s.db, userID)
	if err != nil {
		return domain.Stats{}, err
	}
	return computeStats(audits, s.clock.Now(), s.log), nil
}

// computeStats expects audits ordered oldest first.
func computeStats(audits []domain.Audit, now time.Time, log *zap.Logger) domain.Stats {
	stats := domain.Stats{
		TotalAudits:          len(audits),
		ScoreTrend:           []domain.ScorePoint{},
		ViolationsByCategory: []domain.CategoryCount{},
		IndustryBreakdown:    []domain.IndustryCount{},
	}

	categories := map[string]int{}
	severities := map[domain.Severity]int{}
	industries := map[string]int{}
	completed := make([]domain.Audit, 0, len(audits))
	scoreSum := 0

	for _, a := range audits {
		industry := a.IndustryType
		if industry == "" {
			industry = domain.DefaultIndustry
		}
		industries[industry]++

		if a.Status != domain.StatusCompleted {
			continue
		}
		completed = append(completed, a)
		stats.TotalViolations += a.ViolationsCount
		if a.OverallScore != nil {
			scoreSum += *a.OverallScore
		}

		result, err := a.Result()
		if err != nil {
			log.Warn("skipping unreadable audit result", zap.String("audit_id", a.ID), zap.Error(err))
			continue
		}
		if result == nil {
			continue
		}
		for _, v := range result.Violations {
			categories[string(v.Category)]++
			if v.Severity.Valid() {
				severities[v.Severity]++
			}
		}
	}

	stats.CompletedCount = len(completed)
	stats.CriticalCount = severities[domain.SeverityCritical]
	if stats.CompletedCount > 0 {
		stats.AvgScore = int(math.Round(float64(scoreSum) / float64(stats.CompletedCount)))
	}

	recent := completed
	if len(recent) > scoreTrendSize {
		recent = recent[len(recent)-scoreTrendSize:]
	}
	for _, a := range recent {
		score := 0
		if a.OverallScore != nil {
			score = *a.OverallScore
		}
		stats.ScoreTrend = append(stats.ScoreTrend, domain.ScorePoint{
			Date:  a.CreatedAt.UTC().Format("Jan 2"),
			Score: score,
		})
	}

	for category, count := range categories {
		stats.ViolationsByCategory = append(stats.ViolationsByCategory, domain.CategoryCount{Category: category, Count: count})
	}
	sort.SliceStable(stats.ViolationsByCategory, func(i, j int) bool {
		a, b := stats.ViolationsByCategory[i], stats.ViolationsByCategory[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Category < b.Category
	})

	stats.SeverityBreakdown = make([]domain.SeverityCount, 0, len(domain.Severities))
	for _, sev := range domain.Severities {
		stats.SeverityBreakdown = append(stats.SeverityBreakdown, domain.SeverityCount{Severity: sev, Count: severities[sev]})
	}

	for industry, count := range industries {
		stats.IndustryBreakdown = append(stats.IndustryBreakdown, domain.IndustryCount{Industry: industry, Count: count})
	}
	sort.SliceStable(stats.IndustryBreakdown, func(i, j int) bool {
		a, b := stats.IndustryBreakdown[i], stats.IndustryBreakdown[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Industry < b.Industry
	})

	stats.MonthlyAudits = monthlyCounts(audits, now.UTC())
	return stats
}

func monthlyCounts(audits []domain.Audit, now time.Time) []domain.MonthCount {
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.MonthCount, 0, monthsInStats)
	for i := monthsInStats - 1; i >= 0; i-- {
		start := current.AddDate(0, -i, 0)
		end := start.AddDate(0, 1, 0)
		count := 0
		for _, a := range audits {
			created := a.CreatedAt.UTC()
			if !created.Before(start) && created.Before(end) {
				count++
			}
		}
		out = append(out, domain.MonthCount{Month: start.Format("Jan 06"), Count: count})
	}
	return out
}

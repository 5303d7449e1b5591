package domain

type ScorePoint struct {
	Date  string `json:"date"`
	Score int    `json:"score"`
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type SeverityCount struct {
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
}

type IndustryCount struct {
	Industry string `json:"industry"`
	Count    int    `json:"count"`
}

type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// Stats are the dashboard aggregates for one user.
type Stats struct {
	TotalAudits          int             `json:"totalAudits"`
	CompletedCount       int             `json:"completedCount"`
	TotalViolations      int             `json:"totalViolations"`
	AvgScore             int             `json:"avgScore"`
	CriticalCount        int             `json:"criticalCount"`
	ScoreTrend           []ScorePoint    `json:"scoreTrend"`
	ViolationsByCategory []CategoryCount `json:"violationsByCategory"`
	SeverityBreakdown    []SeverityCount `json:"severityBreakdown"`
	IndustryBreakdown    []IndustryCount `json:"industryBreakdown"`
	MonthlyAudits        []MonthCount    `json:"monthlyAudits"`
}

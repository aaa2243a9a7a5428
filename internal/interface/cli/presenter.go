package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"charm.land/lipgloss/v2"

	"github.com/leap-ielts/leap-engagement/internal/application/batch"
	"github.com/leap-ielts/leap-engagement/internal/application/command"
	"github.com/leap-ielts/leap-engagement/internal/application/eventhandler"
	"github.com/leap-ielts/leap-engagement/internal/application/query"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRESENTER
// Turns command results and query DTOs into terminal text.
// ══════════════════════════════════════════════════════════════════════════════

var (
	colorPrimary = lipgloss.Color("#8B5CF6")
	colorSuccess = lipgloss.Color("#22C55E")
	colorWarn    = lipgloss.Color("#F97316")
	colorDim     = lipgloss.Color("#94A3B8")

	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	goodStyle    = lipgloss.NewStyle().Foreground(colorSuccess)
	warnStyle    = lipgloss.NewStyle().Foreground(colorWarn)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
)

func heading(out io.Writer, title string) {
	fmt.Fprintln(out, headingStyle.Render(title))
}

// newTable returns a tab-aligned writer with the header row already written.
func newTable(out io.Writer, columns ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	return tw
}

// formatRank marks the podium.
func formatRank(rank int) string {
	switch rank {
	case 1:
		return "🥇 1"
	case 2:
		return "🥈 2"
	case 3:
		return "🥉 3"
	}
	return fmt.Sprintf("%4d", rank)
}

func formatRankChange(change int, isNew bool) string {
	switch {
	case isNew:
		return dimStyle.Render("new")
	case change > 0:
		return goodStyle.Render(fmt.Sprintf("↑%d", change))
	case change < 0:
		return warnStyle.Render(fmt.Sprintf("↓%d", -change))
	}
	return "="
}

func formatMovement(m eventhandler.Movement) string {
	if m.EnteredTop > 0 {
		return fmt.Sprintf("🏆 %s entered the top %d of %s (#%d → #%d)", m.UserID, m.EnteredTop, m.Cohort, m.OldRank, m.NewRank)
	}
	if m.NewRank < m.OldRank {
		return fmt.Sprintf("📈 %s climbed to #%d in %s (was #%d)", m.UserID, m.NewRank, m.Cohort, m.OldRank)
	}
	return fmt.Sprintf("📉 %s dropped to #%d in %s (was #%d)", m.UserID, m.NewRank, m.Cohort, m.OldRank)
}

// ─────────────────────────────────────────────────────────────────────────────
// COMMAND RESULTS
// ─────────────────────────────────────────────────────────────────────────────

func printCompletion(out io.Writer, res *command.RecordCompletionResult, day time.Time) {
	c := res.Completion
	fmt.Fprintf(out, "recorded %s (%s) score %d on %s: +%d points, %d total\n",
		c.ActivityID, c.Skill, c.Score, timeutil.FormatDate(day), res.PointsEarned, res.TotalPoints)
	if res.GoalCompleted {
		fmt.Fprintln(out, goodStyle.Render("✔ daily goal completed"))
	}
	if res.SkillUpdated {
		fmt.Fprintf(out, "%s level %.2f → %.2f\n", c.Skill, res.OldLevel, res.NewLevel)
	}
	fmt.Fprintf(out, "streak: %d day(s)\n", res.CurrentStreak)
	for _, u := range res.Unlocked {
		fmt.Fprintf(out, "🎁 unlocked %s\n", u.Kind.Title())
	}
}

func printGoal(out io.Writer, res *command.AssignDailyGoalResult) {
	g := res.Goal
	state := "assigned"
	if !res.Created {
		state = "already assigned"
	}
	fmt.Fprintf(out, "%s %s: %s (%s)\n", timeutil.FormatDate(g.Date), state, g.ActivityID, g.Skill)
	r := g.Rationale
	fmt.Fprintf(out, "  gap %.2f, recency penalty %.2f, priority %.2f", r.Gap, r.Penalty, r.Priority)
	if r.Rotated {
		fmt.Fprint(out, ", rotated")
	}
	fmt.Fprintln(out)
}

func printStreak(out io.Writer, res *command.AdvanceStreakResult) {
	st := res.State
	if res.DaysProcessed == 0 {
		fmt.Fprintf(out, "already up to date: %d day(s), %s\n", st.Current, st.Status)
		return
	}
	fmt.Fprintf(out, "processed %d day(s): %d → %d, %s (longest %d)\n",
		res.DaysProcessed, res.Previous, st.Current, st.Status, st.Longest)
	for _, rec := range res.Appended {
		fmt.Fprintf(out, "  %s %s length %d\n", timeutil.FormatDate(rec.Date), rec.Kind, rec.Length)
	}
}

func printCycle(out io.Writer, report batch.CycleReport) {
	heading(out, "Daily cycle "+timeutil.FormatDate(report.AsOf))
	tw := newTable(out, "PASS", "TOTAL", "OK", "FAILED", "TOOK")
	for _, p := range report.Passes {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", p.Name, p.Total, p.Succeeded, p.Failed(), p.Duration.Round(time.Millisecond))
	}
	_ = tw.Flush()
	for _, p := range report.Passes {
		for _, f := range p.Failures {
			fmt.Fprintf(out, "%s %s: %v\n", warnStyle.Render("✗"), f.Key, f.Err)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// QUERY RESULTS
// ─────────────────────────────────────────────────────────────────────────────

func printBoard(out io.Writer, res *query.GetLeaderboardResult, highlight string) {
	source := "store"
	if res.FromCache {
		source = "cache"
	}
	heading(out, fmt.Sprintf("Leaderboard %s", res.Cohort))
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("epoch %d, from %s", res.Epoch, source)))

	if len(res.Entries) == 0 {
		fmt.Fprintln(out, "nobody ranked yet")
		return
	}
	tw := newTable(out, "RANK", "USER", "SCORE", "ACTIVE", "STREAK", "GOALS", "DAYS", "MOVE")
	for _, e := range res.Entries {
		user := e.UserID
		if user == highlight {
			user = "▶ " + user
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%d\t%s\n",
			formatRank(e.Rank), user, e.Consistency, e.ActiveScore, e.StreakScore, e.CompletionScore, e.CurrentStreak,
			formatRankChange(e.RankChange, e.IsNew))
	}
	_ = tw.Flush()
}

func printProgress(out io.Writer, s *query.ProgressSummary) {
	heading(out, fmt.Sprintf("%s: target %.1f in %d days", s.Username, s.TargetScore, s.TimelineDays))
	fmt.Fprintf(out, "points %d, activities %d, average score %.1f\n", s.Points, s.ActivitiesCompleted, s.Stats.AverageScore)
	fmt.Fprintf(out, "last 7 days %d completion(s), active %d of the last 30 days\n", s.Stats.Last7Days, s.Stats.ActiveDaysLast30)

	st := s.Streak
	line := fmt.Sprintf("streak %d (longest %d), %s", st.Current, st.Longest, st.Status)
	if st.AtRisk {
		line += ", " + warnStyle.Render("at risk")
	}
	if st.NextMilestone > 0 {
		line += fmt.Sprintf(", %d day(s) to %d", st.DaysToNext, st.NextMilestone)
	}
	fmt.Fprintln(out, line)

	if g := s.TodayGoal; g != nil {
		mark := "○"
		if g.Completed {
			mark = goodStyle.Render("✔")
		}
		fmt.Fprintf(out, "goal %s %s %s (%s)\n", g.Date, mark, g.ActivityID, g.Skill)
	}

	if len(s.Skills) > 0 {
		tw := newTable(out, "SKILL", "LEVEL", "TARGET", "GAP", "ATTEMPTS")
		for _, sk := range s.Skills {
			fmt.Fprintf(tw, "%s\t%.2f\t%.1f\t%.2f\t%d\n", sk.Skill, sk.Level, sk.Target, sk.Gap, sk.Attempts)
		}
		_ = tw.Flush()
	}

	for _, inc := range s.Incentives {
		state := "unclaimed"
		if inc.Claimed {
			state = "claimed"
		}
		fmt.Fprintf(out, "🎁 %s (%s)\n", inc.Title, state)
	}
	if lb := s.Leaderboard; lb != nil {
		fmt.Fprintf(out, "rank #%d in %s (consistency %.2f, epoch %d)\n", lb.Rank, lb.Cohort, lb.Consistency, lb.Epoch)
	}
}

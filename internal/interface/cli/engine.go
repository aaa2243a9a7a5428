package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leap-ielts/leap-engagement/internal/application/command"
	"github.com/leap-ielts/leap-engagement/internal/application/query"
	"github.com/leap-ielts/leap-engagement/internal/domain/leaderboard"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GOALS AND STREAKS
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) goalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Daily goals",
	}
	assign := &cobra.Command{
		Use:   "assign <user-id>",
		Short: "Assign today's goal (returns the existing one if already assigned)",
		Args:  cobra.ExactArgs(1),
	}
	assign.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}
		res, err := svc.assign.Handle(cmd.Context(), command.AssignDailyGoalCommand{UserID: args[0], AsOf: a.asOf})
		if err != nil {
			return err
		}
		printGoal(a.out(cmd), res)
		return nil
	})
	cmd.AddCommand(assign)
	return cmd
}

func (a *app) streakCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "streak",
		Short: "Practice streaks",
	}
	advance := &cobra.Command{
		Use:   "advance <user-id>",
		Short: "Close the days elapsed since the last run",
		Args:  cobra.ExactArgs(1),
	}
	advance.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}
		res, err := svc.advance.Handle(cmd.Context(), command.AdvanceStreakCommand{UserID: args[0], AsOf: a.asOf})
		if err != nil {
			return err
		}
		printStreak(a.out(cmd), res)
		return nil
	})
	cmd.AddCommand(advance)
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) leaderboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "leaderboard",
		Aliases: []string{"lb"},
		Short:   "Cohort consistency leaderboards",
	}

	var cohortRaw string
	rebuild := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute rankings for every cohort, or one with --cohort",
		Args:  cobra.NoArgs,
	}
	rebuild.RunE = a.run(func(cmd *cobra.Command, _ []string) error {
		c := command.RebuildLeaderboardCommand{AsOf: a.asOf}
		if cohortRaw != "" {
			key, err := leaderboard.ParseCohortKey(cohortRaw)
			if err != nil {
				return err
			}
			c.Cohort = &key
		}
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}
		res, err := svc.rebuild.Handle(cmd.Context(), c)
		if err != nil {
			return err
		}
		out := a.out(cmd)
		fmt.Fprintf(out, "epoch %d\n", res.Epoch)
		for _, b := range res.Boards {
			fmt.Fprintf(out, "  %-22s %d member(s)\n", b.Cohort, len(b.Entries))
		}
		return nil
	})
	rebuild.Flags().StringVar(&cohortRaw, "cohort", "", "Cohort key, e.g. 6.5:medium_term")

	var (
		userID string
		limit  int
		offset int
	)
	show := &cobra.Command{
		Use:   "show [cohort]",
		Short: "Show the current ranking of a cohort",
		Long:  "The cohort is given as a key like 6.5:medium_term, or resolved from --user.",
		Args:  cobra.MaximumNArgs(1),
	}
	show.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}

		var key leaderboard.CohortKey
		switch {
		case len(args) == 1:
			if key, err = leaderboard.ParseCohortKey(args[0]); err != nil {
				return err
			}
		case userID != "":
			u, err := svc.store.Users().GetByID(cmd.Context(), userID)
			if err != nil {
				return err
			}
			key = svc.ranker.Config().CohortFor(u)
		default:
			return fmt.Errorf("give a cohort key or --user")
		}

		res, err := svc.board.Handle(cmd.Context(), query.GetLeaderboardQuery{Cohort: key, Limit: limit, Offset: offset})
		if err != nil {
			return err
		}
		printBoard(a.out(cmd), res, userID)
		return nil
	})
	show.Flags().StringVar(&userID, "user", "", "Show the cohort of this learner and highlight them")
	show.Flags().IntVar(&limit, "limit", 20, "Entries per page")
	show.Flags().IntVar(&offset, "offset", 0, "Entries to skip")

	cmd.AddCommand(rebuild, show)
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// INCENTIVES
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) incentiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incentive",
		Short: "Earned rewards",
	}

	evaluate := &cobra.Command{
		Use:   "evaluate <user-id>",
		Short: "Unlock every incentive the learner now qualifies for",
		Args:  cobra.ExactArgs(1),
	}
	evaluate.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}
		res, err := svc.evaluate.Handle(cmd.Context(), command.EvaluateIncentivesCommand{UserID: args[0], AsOf: a.asOf})
		if err != nil {
			return err
		}
		out := a.out(cmd)
		if len(res.Unlocked) == 0 {
			fmt.Fprintln(out, "no new incentives")
			return nil
		}
		for _, u := range res.Unlocked {
			fmt.Fprintf(out, "unlocked %s: %s\n", u.Kind, u.Kind.Title())
		}
		return nil
	})

	claim := &cobra.Command{
		Use:   "claim <user-id> <kind>",
		Short: "Mark an unlocked incentive as used",
		Args:  cobra.ExactArgs(2),
	}
	claim.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}
		res, err := svc.claim.Handle(cmd.Context(), command.ClaimIncentiveCommand{UserID: args[0], Kind: args[1], At: a.asOf})
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out(cmd), "claimed %s\n", res.Unlock.Kind.Title())
		return nil
	})

	cmd.AddCommand(evaluate, claim)
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS AND DAILY CYCLE
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) progressCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "progress <user-id>",
		Short: "Show a learner's streak, skills, goal, incentives and rank",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}
		summary, err := svc.progress.Handle(cmd.Context(), query.GetProgressSummaryQuery{UserID: args[0], AsOf: a.asOf})
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(a.out(cmd))
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		printProgress(a.out(cmd), summary)
		return nil
	})
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func (a *app) cycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run the daily batch: streaks, goals, leaderboards, incentives",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.run(func(cmd *cobra.Command, _ []string) error {
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}
		report, err := svc.cycle.Run(cmd.Context(), a.asOf)
		printCycle(a.out(cmd), report)
		if err != nil {
			return err
		}
		if n := report.Failed(); n > 0 {
			a.log.Warn("daily cycle finished with failures", logger.Int("failed", n))
		}
		return nil
	})
	return cmd
}

package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leap-ielts/leap-engagement/internal/application/command"
	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage learners",
	}
	cmd.AddCommand(a.userCreateCmd(), a.userListCmd())
	return cmd
}

func (a *app) userCreateCmd() *cobra.Command {
	var (
		id       string
		username string
		target   float64
		timeline int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a learner",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.run(func(cmd *cobra.Command, _ []string) error {
		if id == "" {
			id = uuid.NewString()
		}
		u, err := learner.NewUser(learner.NewUserParams{
			ID:           id,
			Username:     username,
			TargetScore:  target,
			TimelineDays: timeline,
			CreatedAt:    a.asOf,
		})
		if err != nil {
			return err
		}

		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}
		if err := svc.store.Users().Create(cmd.Context(), u); err != nil {
			return err
		}
		fmt.Fprintf(a.out(cmd), "created %s (%s) in cohort %s\n", u.Username, u.ID, svc.ranker.Config().CohortFor(u))
		return nil
	})

	cmd.Flags().StringVar(&id, "id", "", "Learner ID (default: random UUID)")
	cmd.Flags().StringVar(&username, "username", "", "Unique username")
	cmd.Flags().Float64Var(&target, "target", 6.5, "Target IELTS band (0-9)")
	cmd.Flags().IntVar(&timeline, "timeline", 60, "Preparation timeline in days")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func (a *app) userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List learners",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.run(func(cmd *cobra.Command, _ []string) error {
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}
		users, err := svc.store.Users().List(cmd.Context())
		if err != nil {
			return err
		}

		out := a.out(cmd)
		if len(users) == 0 {
			fmt.Fprintln(out, "no learners yet; run \"leap seed\" or \"leap user create\"")
			return nil
		}
		tw := newTable(out, "ID", "USERNAME", "TARGET", "TIMELINE", "POINTS", "DONE", "COHORT")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%.1f\t%d\t%d\t%d\t%s\n",
				u.ID, u.Username, u.TargetScore, u.TimelineDays, u.Points, u.ActivitiesCompleted, svc.ranker.Config().CohortFor(u))
		}
		return tw.Flush()
	})
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG AND GROUP SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) activityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Browse the practice catalog",
	}

	var skillName string
	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog activities",
		Args:  cobra.NoArgs,
	}
	list.RunE = a.run(func(cmd *cobra.Command, _ []string) error {
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}

		var items []activity.Activity
		if skillName != "" {
			sk, err := shared.ParseSkill(skillName)
			if err != nil {
				return err
			}
			items, err = svc.store.Catalog().ListBySkill(cmd.Context(), sk)
			if err != nil {
				return err
			}
		} else if items, err = svc.store.Catalog().List(cmd.Context()); err != nil {
			return err
		}

		tw := newTable(a.out(cmd), "ID", "SKILL", "DIFFICULTY", "MIN", "POINTS", "TITLE")
		for _, it := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", it.ID, it.Skill, it.Difficulty, it.DurationMinutes, it.Points, it.Title)
		}
		return tw.Flush()
	})
	list.Flags().StringVar(&skillName, "skill", "", "Only activities of this skill")

	cmd.AddCommand(list)
	return cmd
}

func (a *app) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Live group sessions",
	}

	var participation float64
	attend := &cobra.Command{
		Use:   "attend <session-id> <user-id>",
		Short: "Record that a learner took part in a group session",
		Args:  cobra.ExactArgs(2),
	}
	attend.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}
		rec := activity.Attendance{SessionID: args[0], UserID: args[1], Participation: participation, AttendedAt: a.asOf}
		if err := svc.store.Attendance().RecordAttendance(cmd.Context(), rec); err != nil {
			return err
		}
		fmt.Fprintf(a.out(cmd), "recorded %s at %s (participation %.0f%%)\n", args[1], args[0], participation*100)
		return nil
	})
	attend.Flags().Float64Var(&participation, "participation", 1, "Fraction of the session attended (0-1)")

	cmd.AddCommand(attend)
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETIONS
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) completeCmd() *cobra.Command {
	var (
		score   int
		minutes int
	)

	cmd := &cobra.Command{
		Use:   "complete <user-id> <activity-id>",
		Short: "Record a finished activity",
		Long:  "Records the completion at --as-of, then updates goal, skill level, streak and incentives.",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}
		res, err := svc.record.Handle(cmd.Context(), command.RecordCompletionCommand{
			UserID:       args[0],
			ActivityID:   args[1],
			Score:        score,
			MinutesSpent: minutes,
			CompletedAt:  a.asOf,
		})
		if err != nil {
			return err
		}
		printCompletion(a.out(cmd), res, timeutil.CivilDate(a.asOf, a.loc))
		return nil
	})
	cmd.Flags().IntVar(&score, "score", 0, "Score 0-100")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "Minutes spent")
	_ = cmd.MarkFlagRequired("score")
	return cmd
}

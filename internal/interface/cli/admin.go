package cli

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leap-ielts/leap-engagement/internal/domain/activity"
	"github.com/leap-ielts/leap-engagement/internal/domain/learner"
	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/internal/infrastructure/persistence/postgres"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) migrateCmd() *cobra.Command {
	var usePostgres, rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long:  "Migrates the SQLite file given by --db, or with --postgres the database at DATABASE_URL.",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.run(func(cmd *cobra.Command, _ []string) error {
		if usePostgres {
			return a.migratePostgres(cmd, rollback)
		}
		if rollback {
			return fmt.Errorf("--rollback requires --postgres")
		}
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out(cmd), "sqlite schema at version %d (%s)\n", svc.store.SchemaVersion(), a.dbPath)
		return nil
	})
	cmd.Flags().BoolVar(&usePostgres, "postgres", false, "Migrate PostgreSQL instead of SQLite")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Revert the latest PostgreSQL migration")
	return cmd
}

func (a *app) migratePostgres(cmd *cobra.Command, rollback bool) error {
	if a.cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	ctx := cmd.Context()

	conn, err := postgres.NewConnection(ctx, a.cfg.Database.Postgres())
	if err != nil {
		return err
	}
	defer conn.Close()

	migrator := postgres.NewMigrator(conn)
	if rollback {
		version, err := migrator.Rollback(ctx)
		if err != nil {
			return err
		}
		if version == 0 {
			fmt.Fprintln(a.out(cmd), "no postgres migrations to roll back")
			return nil
		}
		a.log.Info("postgres migration rolled back", logger.Int("version", version))
		fmt.Fprintf(a.out(cmd), "rolled back postgres migration %03d\n", version)
		return nil
	}

	applied, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate postgres: %w", err)
	}
	a.log.Info("postgres migrated", logger.Int("applied", applied))
	fmt.Fprintf(a.out(cmd), "applied %d postgres migration(s)\n", applied)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SEED
// ══════════════════════════════════════════════════════════════════════════════

// demoCatalog is the practice catalog loaded by "leap seed".
var demoCatalog = []activity.Activity{
	{ID: "reading-academic", Title: "Reading Comprehension - Academic", Skill: shared.SkillReading, Difficulty: activity.DifficultyIntermediate, DurationMinutes: 10},
	{ID: "reading-multiple-choice", Title: "Reading Practice - Multiple Choice", Skill: shared.SkillReading, Difficulty: activity.DifficultyAdvanced, DurationMinutes: 12},
	{ID: "reading-speed", Title: "Reading Speed Building", Skill: shared.SkillReading, Difficulty: activity.DifficultyBeginner, DurationMinutes: 8},
	{ID: "writing-task-1", Title: "Essay Writing - Task 1", Skill: shared.SkillWriting, Difficulty: activity.DifficultyIntermediate, DurationMinutes: 15},
	{ID: "writing-task-2", Title: "Essay Writing - Task 2", Skill: shared.SkillWriting, Difficulty: activity.DifficultyAdvanced, DurationMinutes: 15},
	{ID: "writing-short", Title: "Writing Practice - Short Format", Skill: shared.SkillWriting, Difficulty: activity.DifficultyBeginner, DurationMinutes: 10},
	{ID: "listening-conversation", Title: "Listening - Conversation", Skill: shared.SkillListening, Difficulty: activity.DifficultyBeginner, DurationMinutes: 8},
	{ID: "listening-lecture", Title: "Listening - Lecture", Skill: shared.SkillListening, Difficulty: activity.DifficultyIntermediate, DurationMinutes: 10},
	{ID: "listening-academic", Title: "Listening - Academic", Skill: shared.SkillListening, Difficulty: activity.DifficultyAdvanced, DurationMinutes: 12},
	{ID: "speaking-part-1", Title: "Speaking - Part 1 Interview", Skill: shared.SkillSpeaking, Difficulty: activity.DifficultyBeginner, DurationMinutes: 8},
	{ID: "speaking-part-2", Title: "Speaking - Part 2 Cue Card", Skill: shared.SkillSpeaking, Difficulty: activity.DifficultyIntermediate, DurationMinutes: 10},
	{ID: "speaking-part-3", Title: "Speaking - Part 3 Discussion", Skill: shared.SkillSpeaking, Difficulty: activity.DifficultyAdvanced, DurationMinutes: 12},
}

// demoTimelines cycles demo learners through the three cohort timelines.
var demoTimelines = []int{28, 60, 120}

// DemoLearnerID is the stable ID of the n-th (1-based) demo learner.
func DemoLearnerID(n int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("leap/demo/student%d", n))).String()
}

func (a *app) seedCmd() *cobra.Command {
	var learners int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo catalog, a speaking club session and demo learners",
		Long:  "Seeding is idempotent: entries that already exist are skipped.",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.run(func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		svc, err := a.services(a.out(cmd))
		if err != nil {
			return err
		}

		added := 0
		for _, item := range demoCatalog {
			act := item
			act.Points = max(10, act.DurationMinutes)
			if err := svc.store.Catalog().Add(ctx, &act); err != nil {
				if shared.IsAlreadyExists(err) {
					continue
				}
				return fmt.Errorf("failed to seed activity %s: %w", act.ID, err)
			}
			added++
		}

		session := activity.GroupSession{ID: "speaking-club", Title: "Weekly Speaking Club", Skill: shared.SkillSpeaking, ScheduledAt: a.asOf}
		if err := svc.store.Attendance().AddSession(ctx, session); err != nil {
			return err
		}

		created := 0
		for i := 0; i < learners; i++ {
			u, err := learner.NewUser(learner.NewUserParams{
				ID:           DemoLearnerID(i + 1),
				Username:     fmt.Sprintf("student%d", i+1),
				TargetScore:  math.Min(shared.MaxBand, math.Round((6.5+0.3*float64(i))*10)/10),
				TimelineDays: demoTimelines[i%len(demoTimelines)],
				CreatedAt:    a.asOf,
			})
			if err != nil {
				return err
			}
			if err := svc.store.Users().Create(ctx, u); err != nil {
				if shared.IsAlreadyExists(err) {
					continue
				}
				return fmt.Errorf("failed to seed learner %s: %w", u.Username, err)
			}
			created++
		}

		fmt.Fprintf(a.out(cmd), "seeded %d activities, 1 group session, %d learners\n", added, created)
		return nil
	})
	cmd.Flags().IntVar(&learners, "learners", 5, "Number of demo learners to create")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bugarena/internal/app"
	"bugarena/internal/config"
	"bugarena/internal/db"
	"bugarena/internal/domain"
	"bugarena/internal/engine"
	"bugarena/internal/lifecycle"
	"bugarena/internal/migrate"
	"bugarena/internal/repo"
	"bugarena/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ba",
	Short: "Bug Arena CLI",
	Long: `Bug Arena runs round-based bug-hunt competitions between agents.
Core concepts:
- Workspace: your .bugarena directory holding only the database; each game
  carries its own config snapshot so rule edits never change a running game.
- Game: one competition over an artifact; phases go
  setup -> hunt -> hunt_scoring -> review -> review_scoring and loop until
  an agent hits the target score or the round cap lands, then complete.
- Findings: bug reports with a file, line range, and description; the
  orchestrator adjudicates them valid, false_flag, or duplicate.
- Dedup: every finding gets a pattern hash; an exact match against a live
  finding is an automatic duplicate, near-misses are ranked candidates.
- Disputes: during review an agent can challenge another's valid finding;
  a successful dispute reverts the finding and reverses its points.
- Scoreboard: score, then valid findings, then id break ties.
- Event log: diary of everything that happened, view with 'ba log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BUGARENA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "orchestrator", "actor identifier")
	rootCmd.PersistentFlags().String("game", "", "game id (overrides the workspace default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("game", rootCmd.PersistentFlags().Lookup("game"))
}

func registerCommands() {
	rootCmd.AddCommand(gameCmd())
	rootCmd.AddCommand(huntCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(roundCmd())
	rootCmd.AddCommand(findingCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(disputeCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(scoreboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func gameCmd() *cobra.Command {
	game := &cobra.Command{Use: "game", Short: "Manage games"}
	game.AddCommand(gameCreateCmd())
	game.AddCommand(gameListCmd())
	game.AddCommand(gameShowCmd())
	game.AddCommand(gameDeleteCmd())
	game.AddCommand(gameExportCmd())
	return game
}

func gameCreateCmd() *cobra.Command {
	var opts engine.GameCreateOptions
	var configPath string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a game with its agent roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default()
			if configPath != "" {
				cfg, err = config.FromFile(configPath)
				if err != nil {
					return err
				}
			}
			e := engine.New(conn, cfg)
			opts.ActorID = viper.GetString("actor-id")
			g, err := e.CreateGame(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSONOrTable(g)
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "game id (derived from artifact if omitted)")
	cmd.Flags().StringVar(&opts.Artifact, "artifact", "", "artifact under test")
	cmd.Flags().StringVar(&opts.Category, "category", "", "bug category focus")
	cmd.Flags().StringVar(&opts.Focus, "focus", "", "area of the artifact to focus on")
	cmd.Flags().IntVar(&opts.TargetScore, "target-score", 0, "score that ends the game (config default if omitted)")
	cmd.Flags().IntVar(&opts.MaxRounds, "max-rounds", 0, "round cap (config default if omitted)")
	cmd.Flags().IntVar(&opts.AgentCount, "agents", 0, "number of competing agents (config default if omitted)")
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file to snapshot for this game")
	_ = cmd.MarkFlagRequired("artifact")
	return cmd
}

func gameListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List games",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				games, err := r.ListGames(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(games)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Artifact", "Phase", "Round", "Target", "Winner"})
				for _, g := range games {
					winner := ""
					if g.WinnerID != nil {
						winner = *g.WinnerID
					}
					tw.AppendRow(table.Row{g.ID, g.Artifact, g.Phase, g.Round, g.TargetScore, winner})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func gameShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a game",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				g, err := e.Repo.GetGame(ctx, gameID)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	return cmd
}

func gameDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a game and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteGame(ctx, args[0])
			})
		},
	}
	return cmd
}

func gameExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a game as a single JSON bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				bundle, err := e.Export(ctx, gameID)
				if err != nil {
					return err
				}
				return printJSON(bundle)
			})
		},
	}
	return cmd
}

func huntCmd() *cobra.Command {
	hunt := &cobra.Command{Use: "hunt", Short: "Hunt phase control"}
	hunt.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the hunt (setup -> hunt, round 1)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				g, err := e.StartHunt(ctx, gameID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	})
	hunt.AddCommand(phaseCheckCmd("check", "Advance to hunt_scoring when all agents are done or the deadline passed",
		func(ctx context.Context, e engine.Engine, gameID, actorID string) (domain.Game, bool, error) {
			return e.CheckHunt(ctx, gameID, actorID)
		}))
	return hunt
}

func reviewCmd() *cobra.Command {
	review := &cobra.Command{Use: "review", Short: "Review phase control"}
	review.AddCommand(phaseCheckCmd("start", "Start review once every finding is adjudicated",
		func(ctx context.Context, e engine.Engine, gameID, actorID string) (domain.Game, bool, error) {
			return e.StartReview(ctx, gameID, actorID)
		}))
	review.AddCommand(phaseCheckCmd("check", "Advance to review_scoring when all agents are done or the deadline passed",
		func(ctx context.Context, e engine.Engine, gameID, actorID string) (domain.Game, bool, error) {
			return e.CheckReview(ctx, gameID, actorID)
		}))
	return review
}

func roundCmd() *cobra.Command {
	round := &cobra.Command{Use: "round", Short: "Round control"}
	round.AddCommand(phaseCheckCmd("finish", "Finish the round: complete the game or start the next hunt",
		func(ctx context.Context, e engine.Engine, gameID, actorID string) (domain.Game, bool, error) {
			return e.FinishRound(ctx, gameID, actorID)
		}))
	return round
}

func phaseCheckCmd(use, short string, fn func(context.Context, engine.Engine, string, string) (domain.Game, bool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				g, advanced, err := fn(ctx, e, gameID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"game": g, "advanced": advanced})
			})
		},
	}
}

func findingCmd() *cobra.Command {
	finding := &cobra.Command{Use: "finding", Short: "Submit and adjudicate findings"}
	finding.AddCommand(findingSubmitCmd())
	finding.AddCommand(findingListCmd())
	finding.AddCommand(findingShowCmd())
	finding.AddCommand(findingCandidatesCmd())
	finding.AddCommand(findingValidateCmd())
	finding.AddCommand(findingFalseFlagCmd())
	finding.AddCommand(findingDuplicateCmd())
	return finding
}

func findingSubmitCmd() *cobra.Command {
	var opts engine.FindingSubmitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a finding during the hunt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				opts.GameID = gameID
				if opts.AgentID == "" {
					opts.AgentID = viper.GetString("actor-id")
				}
				f, err := e.SubmitFinding(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&opts.AgentID, "agent", "", "submitting agent id (defaults to --actor-id)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what the bug is")
	cmd.Flags().StringVar(&opts.FilePath, "file", "", "file the bug lives in")
	cmd.Flags().IntVar(&opts.LineStart, "line-start", 0, "first affected line")
	cmd.Flags().IntVar(&opts.LineEnd, "line-end", 0, "last affected line")
	cmd.Flags().StringVar(&opts.CodeExcerpt, "excerpt", "", "code excerpt")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("line-start")
	_ = cmd.MarkFlagRequired("line-end")
	return cmd
}

func findingListCmd() *cobra.Command {
	var f repo.FindingFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				f.GameID = gameID
				findings, err := e.Repo.ListFindings(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(findings)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Round", "Agent", "File", "Lines", "Status", "Points"})
				for _, fd := range findings {
					tw.AppendRow(table.Row{fd.ID, fd.Round, fd.AgentID, fd.FilePath,
						fmt.Sprintf("%d-%d", fd.LineStart, fd.LineEnd), fd.Status, fd.PointsAwarded})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Round, "round", 0, "round filter")
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "agent filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func findingShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				f, err := e.Repo.GetFinding(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	return cmd
}

func findingCandidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates <id>",
		Short: "Rank likely duplicates of a finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				cands, err := e.DuplicateCandidates(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cands)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Lines", "Status", "Similarity"})
				for _, c := range cands {
					tw.AppendRow(table.Row{c.Finding.ID, c.Finding.AgentID,
						fmt.Sprintf("%d-%d", c.Finding.LineStart, c.Finding.LineEnd),
						c.Finding.Status, fmt.Sprintf("%.2f", c.Similarity)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func findingValidateCmd() *cobra.Command {
	var opts lifecycle.ValidateOptions
	cmd := &cobra.Command{
		Use:   "validate <id>",
		Short: "Adjudicate a finding as valid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				f, err := e.ValidateFinding(ctx, args[0], opts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Verdict, "verdict", "", "adjudication verdict")
	cmd.Flags().StringVar(&opts.Confidence, "confidence", "", "confidence label")
	cmd.Flags().Float64Var(&opts.ConfidenceScore, "confidence-score", 0, "confidence 0..1")
	cmd.Flags().StringVar(&opts.IssueType, "issue-type", "", "issue classification")
	cmd.Flags().StringVar(&opts.ImpactTier, "impact-tier", "", "impact tier")
	cmd.Flags().BoolVar(&opts.NeedsVerification, "needs-verification", false, "hold points behind a verification pass")
	return cmd
}

func findingFalseFlagCmd() *cobra.Command {
	var verdict, reason string
	cmd := &cobra.Command{
		Use:   "false-flag <id>",
		Short: "Adjudicate a finding as a false flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				f, err := e.MarkFalseFlag(ctx, args[0], verdict, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&verdict, "verdict", "", "adjudication verdict")
	cmd.Flags().StringVar(&reason, "reason", "", "why the finding is not a real bug")
	return cmd
}

func findingDuplicateCmd() *cobra.Command {
	var of, verdict string
	cmd := &cobra.Command{
		Use:   "duplicate <id>",
		Short: "Adjudicate a finding as a duplicate of an earlier one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if of == "" {
				return fmt.Errorf("--of required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				f, err := e.MarkDuplicate(ctx, args[0], of, verdict, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&of, "of", "", "original finding id")
	cmd.Flags().StringVar(&verdict, "verdict", "", "adjudication verdict")
	return cmd
}

func verifyCmd() *cobra.Command {
	verify := &cobra.Command{Use: "verify", Short: "Resolve pending verifications"}
	verify.AddCommand(verifyConfirmCmd())
	verify.AddCommand(verifyRejectCmd())
	return verify
}

func verifyConfirmCmd() *cobra.Command {
	var comment, issueType, impactTier string
	cmd := &cobra.Command{
		Use:   "confirm <finding-id>",
		Short: "Confirm a finding held for verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				f, err := e.ConfirmVerification(ctx, args[0], comment, issueType, impactTier, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "verification comment")
	cmd.Flags().StringVar(&issueType, "issue-type", "", "refined issue classification")
	cmd.Flags().StringVar(&impactTier, "impact-tier", "", "refined impact tier")
	return cmd
}

func verifyRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <finding-id>",
		Short: "Reject a finding held for verification (downgrades to false flag)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				f, err := e.RejectVerification(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why verification failed")
	return cmd
}

func disputeCmd() *cobra.Command {
	dispute := &cobra.Command{Use: "dispute", Short: "File and resolve disputes"}
	dispute.AddCommand(disputeSubmitCmd())
	dispute.AddCommand(disputeListCmd())
	dispute.AddCommand(disputeResolveCmd())
	return dispute
}

func disputeSubmitCmd() *cobra.Command {
	var opts engine.DisputeSubmitOptions
	cmd := &cobra.Command{
		Use:   "submit <finding-id>",
		Short: "Challenge another agent's valid finding during review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				opts.FindingID = args[0]
				if opts.AgentID == "" {
					opts.AgentID = viper.GetString("actor-id")
				}
				d, err := e.SubmitDispute(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.AgentID, "agent", "", "disputing agent id (defaults to --actor-id)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the finding should not stand")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func disputeListCmd() *cobra.Command {
	var f repo.DisputeFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List disputes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				f.GameID = gameID
				disputes, err := e.Repo.ListDisputes(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(disputes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Round", "Finding", "Agent", "Status", "Points"})
				for _, d := range disputes {
					tw.AppendRow(table.Row{d.ID, d.Round, d.FindingID, d.AgentID, d.Status, d.PointsAwarded})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Round, "round", 0, "round filter")
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "agent filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func disputeResolveCmd() *cobra.Command {
	var outcome, verdict string
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a pending dispute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outcome == "" {
				return fmt.Errorf("--outcome required (successful or failed)")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				d, err := e.ResolveDispute(ctx, args[0], outcome, verdict, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "successful or failed")
	cmd.Flags().StringVar(&verdict, "verdict", "", "resolution verdict")
	return cmd
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{Use: "agent", Short: "Agent roster and signals"}
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentDoneCmd("hunt-done", "Signal an agent finished hunting this round",
		func(ctx context.Context, e engine.Engine, gameID, agentID string) (domain.Agent, error) {
			return e.SignalHuntDone(ctx, gameID, agentID)
		}))
	agent.AddCommand(agentDoneCmd("review-done", "Signal an agent finished reviewing this round",
		func(ctx context.Context, e engine.Engine, gameID, agentID string) (domain.Agent, error) {
			return e.SignalReviewDone(ctx, gameID, agentID)
		}))
	agent.AddCommand(agentEliminateCmd())
	return agent
}

func agentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				agents, err := e.Repo.ListAgents(ctx, gameID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				renderAgentTable(agents, false)
				return nil
			})
		},
	}
	return cmd
}

func agentDoneCmd(use, short string, fn func(context.Context, engine.Engine, string, string) (domain.Agent, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <agent-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				a, err := fn(ctx, e, gameID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func agentEliminateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eliminate <agent-id>",
		Short: "Eliminate an agent from its game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				a, err := e.EliminateAgent(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func scoreboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scoreboard",
		Short: "Show the standings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				agents, err := e.Scoreboard(ctx, gameID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				renderAgentTable(agents, true)
				return nil
			})
		},
	}
	return cmd
}

func renderAgentTable(agents []domain.Agent, ranked bool) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	header := table.Row{"Agent", "Score", "Valid", "False", "Dup", "Won", "Lost", "Status"}
	if ranked {
		header = append(table.Row{"#"}, header...)
	}
	tw.AppendHeader(header)
	for i, a := range agents {
		row := table.Row{a.ID, a.Score, a.FindingsValid, a.FindingsFalse, a.FindingsDuplicate,
			a.DisputesWon, a.DisputesLost, a.Status}
		if ranked {
			row = append(table.Row{i + 1}, row...)
		}
		tw.AppendRow(row)
	}
	tw.Render()
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: phase changes, findings, disputes, and agent signals.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, gameID string) error {
				f.GameID = gameID
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowAgentHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveGameAndConfig(cmd.Context(), viper.GetString("game"), config.Default(), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:        os.Getenv("BUGARENA_JWT_SECRET"),
				AllowAgentHeader: allowAgentHeader,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowAgentHeader {
				return fmt.Errorf("BUGARENA_JWT_SECRET is required for bearer auth (or pass --allow-agent-header for local play)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Bug Arena API on http://%s%s (db %s, OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath, db.Path(workspace))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowAgentHeader, "allow-agent-header", false, "trust a bare X-Agent-Id header instead of JWT")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	gameID, cfg, err := app.ResolveGameAndConfig(ctx, viper.GetString("game"), config.Default(), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e, gameID)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"plurals/internal/community"
	"plurals/internal/config"
	"plurals/internal/controversy"
	"plurals/internal/llm"
	"plurals/internal/perspective"
	"plurals/internal/pipeline"
	"plurals/internal/store"
	"plurals/internal/survey"
)

var (
	// Global flags
	configPath string
	verbose    bool
	apiKey     string

	// Survey flags for ask
	religion   string
	branch     string
	political  string
	region     string
	profession string

	// Feedback flags
	fbAccuracyOwn    int
	fbAccuracyOthers int
	fbUsefulness     int
	fbPrefer         string
	fbComments       string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "plurals",
	Short: "plurals - pluralistic perspective surfacing for controversial questions",
	Long: `plurals decides when a question touches a genuinely contested topic and,
when it does, answers with labeled perspectives from the communities that
disagree instead of a single flattened answer.

Perspectives are cached per (community, topic) so every user asking about
the same topic sees the same representation of a community's view.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question loop",
	Long: `Reads questions from stdin and answers each through the perspective
pipeline. While the loop runs, file-backed taxonomy and topic tables are
watched and reloaded when they change on disk.`,
	RunE: runChat,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question through the perspective pipeline",
	Long: `Classifies the question, and if it touches a contested topic, answers
with labeled community perspectives selected for your survey answers.

Example:
  plurals ask --religion christianity --political progressive "What do you think about abortion?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var perspectiveCmd = &cobra.Command{
	Use:   "perspective [community] [topic]",
	Short: "Show one community's framing of a topic",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runPerspective,
}

var communitiesCmd = &cobra.Command{
	Use:   "communities",
	Short: "List the community taxonomy",
	RunE:  runCommunities,
}

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the contested-topic table",
	RunE:  runTopics,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache and interaction statistics",
	RunE:  runStats,
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback [interaction-id]",
	Short: "Rate an earlier interaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeedback,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "plurals.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "LLM API key (overrides config and environment)")

	for _, cmd := range []*cobra.Command{askCmd, chatCmd} {
		cmd.Flags().StringVar(&religion, "religion", "none", "Religious affiliation (taxonomy id or name)")
		cmd.Flags().StringVar(&branch, "branch", "", "Religious branch, refines --religion")
		cmd.Flags().StringVar(&political, "political", "moderate", "Political orientation")
		cmd.Flags().StringVar(&region, "region", "", "Region")
		cmd.Flags().StringVar(&profession, "profession", "", "Profession")
	}

	feedbackCmd.Flags().IntVar(&fbAccuracyOwn, "accuracy-own", 0, "How accurate was your own community's framing (1-5)")
	feedbackCmd.Flags().IntVar(&fbAccuracyOthers, "accuracy-others", 0, "How accurate were the other framings (1-5)")
	feedbackCmd.Flags().IntVar(&fbUsefulness, "usefulness", 0, "How useful was the response (1-5)")
	feedbackCmd.Flags().StringVar(&fbPrefer, "prefer-multiple", "", "Would you prefer multiple perspectives (yes/no)")
	feedbackCmd.Flags().StringVar(&fbComments, "comments", "", "Free-form comments")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(perspectiveCmd)
	rootCmd.AddCommand(communitiesCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(feedbackCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles everything a command needs.
type app struct {
	cfg    *config.Config
	reg    *community.Registry
	rules  *controversy.RuleDetector
	client llm.Client
	engine *pipeline.Engine
	db     *store.Store
	cache  *perspective.Cache
}

func (a *app) close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// loadTables reads the taxonomy and topic tables, built-in unless the config
// points at files.
func loadTables(cfg *config.Config) (*community.Registry, *controversy.RuleDetector, error) {
	reg := community.DefaultRegistry()
	if cfg.Detection.TaxonomyPath != "" {
		loaded, err := community.LoadRegistry(cfg.Detection.TaxonomyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load taxonomy: %w", err)
		}
		reg = loaded
	}

	topics := controversy.DefaultTopics()
	factual := controversy.DefaultFactualPatterns()
	if cfg.Detection.TopicsPath != "" {
		loaded, loadedFactual, err := controversy.LoadTopics(cfg.Detection.TopicsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load topics: %w", err)
		}
		topics, factual = loaded, loadedFactual
	}
	return reg, controversy.NewRuleDetector(reg, topics, factual, logger), nil
}

// rebuildEngine composes a fresh engine from the current tables, reusing the
// long-lived client, cache, and store.
func (a *app) rebuildEngine() {
	var detector controversy.Detector = a.rules
	if a.cfg.Detection.Mode == "llm" {
		detector = controversy.NewLLMDetector(a.client, a.rules, a.reg, logger)
	}
	a.engine = pipeline.New(pipeline.Config{
		StronglyHeldThreshold: a.cfg.Detection.StronglyHeldThreshold,
	}, a.reg, detector, a.cache, a.client, a.db, logger)
}

// reloadTables swaps in freshly parsed tables. A parse failure keeps the
// previous tables in place.
func (a *app) reloadTables() error {
	reg, rules, err := loadTables(a.cfg)
	if err != nil {
		return err
	}
	a.reg = reg
	a.rules = rules
	a.rebuildEngine()
	return nil
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg, rules, err := loadTables(cfg)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(ctx, llm.FactoryConfig{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.GetLLMTimeout(),
	})
	if err != nil {
		return nil, err
	}

	db, err := store.NewStore(cfg.Store.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	cache, err := perspective.NewCache(perspective.CacheConfig{
		HotSize: cfg.Cache.HotSize,
		TTL:     cfg.GetRefreshInterval(),
	}, perspective.NewLLMGenerator(client, logger), db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{cfg: cfg, reg: reg, rules: rules, client: client, db: db, cache: cache}
	a.rebuildEngine()
	return a, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	profile, err := inferProfile(a.reg)
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")
	result, err := a.engine.Respond(ctx, question, profile)
	if err != nil {
		return err
	}

	printResponse(a.reg, result)
	return nil
}

func printResponse(reg *community.Registry, result pipeline.Result) {
	resp := result.Response

	if resp.Baseline.Label != "" {
		fmt.Printf("## %s\n\n", resp.Baseline.Label)
	}
	fmt.Println(resp.Baseline.Text)

	for _, item := range resp.Others {
		fmt.Printf("\n## %s\n\n", item.Label)
		fmt.Println(item.Text)
		if item.Fallback {
			fmt.Println("(detailed framing unavailable)")
		}
	}

	if resp.Synthesis != "" {
		fmt.Printf("\n## Common ground\n\n%s\n", resp.Synthesis)
	}
	if resp.CasualNote != "" {
		fmt.Printf("\n%s\n", resp.CasualNote)
	}

	fmt.Printf("\n[interaction %s", result.InteractionID)
	if result.Verdict.Controversial {
		fmt.Printf(" | topic %s | scope %s", result.Verdict.Topic, result.Verdict.Scope)
	}
	fmt.Println("]")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	profile, err := inferProfile(a.reg)
	if err != nil {
		return err
	}

	// File-backed tables hot-reload while the loop runs. The reload lands
	// between questions, never mid-query.
	reload := make(chan string, 1)
	if a.cfg.Detection.TaxonomyPath != "" || a.cfg.Detection.TopicsPath != "" {
		watcher, err := config.NewTableWatcher(
			[]string{a.cfg.Detection.TaxonomyPath, a.cfg.Detection.TopicsPath},
			func(path string) {
				select {
				case reload <- path:
				default:
				}
			}, logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	fmt.Printf("plurals chat (affiliations: %s). Empty line or Ctrl-D to quit.\n",
		strings.Join(profile.Affiliations, ", "))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reload:
			if err := a.reloadTables(); err != nil {
				logger.Warn("table reload failed, keeping previous tables", zap.Error(err))
			} else {
				fmt.Println("(tables reloaded)")
			}
		default:
		}

		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			return nil
		}

		queryCtx, queryCancel := context.WithTimeout(ctx, 2*time.Minute)
		result, err := a.engine.Respond(queryCtx, question, profile)
		queryCancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		printResponse(a.reg, result)
		fmt.Println()
	}
}

// inferProfile builds the user profile from the survey flags.
func inferProfile(reg *community.Registry) (survey.Profile, error) {
	answers := survey.Answers{
		survey.QuestionReligion:  religion,
		survey.QuestionPolitical: political,
	}
	if branch != "" {
		answers[survey.QuestionReligionBranch] = branch
	}
	if region != "" {
		answers[survey.QuestionRegion] = region
	}
	if profession != "" {
		answers[survey.QuestionProfession] = profession
	}
	return survey.Infer(reg, answers)
}

func runPerspective(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	communityID := args[0]
	topic := strings.Join(args[1:], " ")
	text, err := a.engine.RequestPerspective(ctx, communityID, topic)
	if err != nil {
		return err
	}

	c, _ := a.reg.Lookup(communityID)
	fmt.Printf("## Perspective from %s\n\n%s\n", c.DisplayName, text)
	return nil
}

func runCommunities(cmd *cobra.Command, args []string) error {
	reg := community.DefaultRegistry()
	cfg, err := config.Load(configPath)
	if err == nil && cfg.Detection.TaxonomyPath != "" {
		if loaded, lerr := community.LoadRegistry(cfg.Detection.TaxonomyPath); lerr == nil {
			reg = loaded
		}
	}

	for _, tier := range []community.Tier{
		community.TierReligion, community.TierPolitical,
		community.TierRegional, community.TierProfessional,
	} {
		members := reg.AllInTier(tier)
		if len(members) == 0 {
			continue
		}
		fmt.Printf("%s:\n", tier)
		for _, c := range members {
			indent := "  "
			if c.Parent != "" {
				indent = "    "
			}
			fmt.Printf("%s%s (%s)\n", indent, c.DisplayName, c.ID)
		}
	}
	return nil
}

func runTopics(cmd *cobra.Command, args []string) error {
	topics := controversy.DefaultTopics()
	cfg, err := config.Load(configPath)
	if err == nil && cfg.Detection.TopicsPath != "" {
		if loaded, _, lerr := controversy.LoadTopics(cfg.Detection.TopicsPath); lerr == nil {
			topics = loaded
		}
	}

	for _, t := range topics {
		fmt.Printf("%-22s strength %.2f", t.ID, t.Strength)
		if len(t.Partners) > 0 {
			fmt.Printf("  partners: %s", strings.Join(t.Partners, ", "))
		}
		fmt.Println()
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := store.NewStore(cfg.Store.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("cached framings: %d\n", stats.Entries)
	fmt.Printf("cache hits:      %d\n", stats.Hits)

	recs, err := db.RecentInteractions(10)
	if err != nil {
		return err
	}
	fmt.Printf("recent interactions: %d\n", len(recs))
	for _, r := range recs {
		fmt.Printf("  %s  %-9s %-16s %q\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Outcome, r.Topic, truncateQuestion(r.Question))
	}
	return nil
}

func runFeedback(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := store.NewStore(cfg.Store.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	err = db.SaveFeedback(store.Feedback{
		InteractionID:  args[0],
		AccuracyOwn:    fbAccuracyOwn,
		AccuracyOthers: fbAccuracyOthers,
		Usefulness:     fbUsefulness,
		PreferMultiple: fbPrefer,
		Comments:       fbComments,
	})
	if err != nil {
		return err
	}
	fmt.Println("feedback recorded")
	return nil
}

func truncateQuestion(q string) string {
	if len(q) <= 48 {
		return q
	}
	return q[:45] + "..."
}

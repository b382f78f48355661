package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/beplan/internal/model"
	"github.com/ppiankov/beplan/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	outJSON      string
	outMD        string
	timeout      time.Duration
	retMax       int
	noCache      bool
	httpProxy    string
	httpsProxy   string
	evidenceFile string
	sources      []string

	manualCV    float64
	cvConfirmed bool
	useFallback bool

	protocolID   string
	dosageForm   string
	dose         string
	condition    string
	prefDesign   string
	rsabe        bool
	ntiFlag      bool
	power        float64
	alpha        float64
	dropout      float64
	screenFail   float64
	outputMode   string
	finalStrict  bool
	requireN     bool
	requireCV    bool
	requirePE    bool
	scheduleDays float64

	riskSeed  uint64
	riskNSims int
	riskDist  string

	bcsClass  int
	tHalf     float64
	logP      float64
	firstPass string
	cypLevel  string

	llmEnabled bool
	llmModel   string
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan <inn>",
	Short: "Plan a bioequivalence protocol for a single drug",
	Long: `Plan searches the literature for the drug's pharmacokinetics, then:
- Extracts PK parameters and confidence intervals with provenance
- Validates units and plausibility ranges
- Decides whether the intra-subject CV can be trusted
- Scores data quality and selects a study design
- Computes deterministic and risk-based sample sizes
- Runs regulatory plausibility checks and collects open questions

Example:
  beplan plan ibuprofen
  beplan plan ibuprofen --json report.json --md report.md
  beplan plan ibuprofen --cv 23.5 --cv-confirmed --mode final
  beplan plan novel-compound --bcs 2 --t-half 6 --condition fasted`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)

	// Output flags
	planCmd.Flags().StringVar(&outJSON, "json", "report.json", "output JSON path")
	planCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path (optional)")

	// Literature flags
	planCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall planning timeout")
	planCmd.Flags().IntVar(&retMax, "retmax", 10, "maximum literature sources to retrieve")
	planCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable cache (force fresh fetch)")
	planCmd.Flags().StringVar(&httpProxy, "http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	planCmd.Flags().StringVar(&httpsProxy, "https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")
	planCmd.Flags().StringVar(&evidenceFile, "evidence-file", "", "load PK evidence from a prepared JSON file instead of searching")
	planCmd.Flags().StringSliceVar(&sources, "sources", nil, "restrict evidence to these PMIDs")

	// CV flags
	planCmd.Flags().Float64Var(&manualCV, "cv", 0, "manual intra-subject CV percent (beats everything found in literature)")
	planCmd.Flags().BoolVar(&cvConfirmed, "cv-confirmed", false, "mark the CV as confirmed by a human")
	planCmd.Flags().BoolVar(&useFallback, "use-fallback", false, "allow approximate CV-from-CI when R/PowerTOST is unavailable")

	// Protocol flags
	planCmd.Flags().StringVar(&protocolID, "protocol-id", "", "explicit protocol identifier")
	planCmd.Flags().StringVar(&dosageForm, "dosage-form", "", "dosage form (tablet, capsule, ...)")
	planCmd.Flags().StringVar(&dose, "dose", "", "dose strength")
	planCmd.Flags().StringVar(&condition, "condition", "", "protocol feeding condition (fed, fasted, both)")
	planCmd.Flags().StringVar(&prefDesign, "design", "", "force a study design, overriding the rule table")
	planCmd.Flags().BoolVar(&rsabe, "rsabe", false, "request reference-scaled average bioequivalence")
	planCmd.Flags().BoolVar(&ntiFlag, "nti", false, "treat the drug as narrow therapeutic index")
	planCmd.Flags().Float64Var(&power, "power", 0.80, "target power")
	planCmd.Flags().Float64Var(&alpha, "alpha", 0.05, "significance level per one-sided test")
	planCmd.Flags().Float64Var(&dropout, "dropout", 0, "expected dropout fraction (0..1)")
	planCmd.Flags().Float64Var(&screenFail, "screen-fail", 0, "expected screening failure fraction (0..1)")
	planCmd.Flags().StringVar(&outputMode, "mode", "draft", "output mode: draft or final")
	planCmd.Flags().BoolVar(&finalStrict, "final-strict", false, "final mode requires sample size, a CV point, and primary endpoints")
	planCmd.Flags().BoolVar(&requireN, "final-require-n", true, "final mode blocks when no sample size was computed by any method")
	planCmd.Flags().BoolVar(&requireCV, "final-require-cv-point", false, "final mode blocks when the CV is missing or range-derived")
	planCmd.Flags().BoolVar(&requirePE, "final-require-primary", true, "final mode blocks when Cmax or AUC evidence is missing")
	planCmd.Flags().Float64Var(&scheduleDays, "washout-days", 0, "planned washout duration in days")

	// Monte-Carlo flags
	planCmd.Flags().Uint64Var(&riskSeed, "seed", 0, "explicit Monte-Carlo seed (default: derived from the request)")
	planCmd.Flags().IntVar(&riskNSims, "n-sims", 0, "Monte-Carlo iterations (default from config)")
	planCmd.Flags().StringVar(&riskDist, "dist", "", "CV sampling distribution: triangular or lognormal")

	// Drug feature flags (feed the CV range estimator)
	planCmd.Flags().IntVar(&bcsClass, "bcs", 0, "BCS class (1..4)")
	planCmd.Flags().Float64Var(&tHalf, "t-half", 0, "elimination half-life in hours")
	planCmd.Flags().Float64Var(&logP, "logp", 0, "octanol-water logP")
	planCmd.Flags().StringVar(&firstPass, "first-pass", "", "first-pass effect: low, medium, high")
	planCmd.Flags().StringVar(&cypLevel, "cyp", "", "CYP involvement: low, medium, high")

	// LLM flags
	planCmd.Flags().BoolVar(&llmEnabled, "llm", false, "enable LLM-assisted PK extraction (flagged for human review)")
	planCmd.Flags().StringVar(&llmModel, "llm-model", "gpt-4o-mini", "LLM model name")
}

func runPlan(cmd *cobra.Command, args []string) error {
	inn := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	req, err := buildRequest(cmd, inn)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Output.LogLevel)
	defer func() { _ = log.Sync() }()

	p := pipeline.NewPipeline(cfg, log)

	if verbose {
		fmt.Fprintf(os.Stderr, "Planning: %s\n", inn)
		fmt.Fprintf(os.Stderr, "Mode: %s\n", req.OutputMode)
		fmt.Fprintf(os.Stderr, "Cache: %v\n", !noCache)
		fmt.Fprintln(os.Stderr)
	}

	report, err := p.Plan(ctx, req)
	if err != nil {
		return fmt.Errorf("plan failed: %w", err)
	}

	if err := p.RenderReport(report, outJSON, outMD, verbose); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	return nil
}

// buildConfig assembles the run configuration from defaults, the config
// file, environment variables, and flags, in increasing priority.
func buildConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	// The config file and BEPLAN_* env override defaults; flags win.
	if err := unmarshalViper(cfg); err != nil {
		return nil, err
	}

	cfg.Cache.Enabled = cfg.Cache.Enabled && !noCache
	cfg.HTTP.HTTPProxy = httpProxy
	cfg.HTTP.HTTPSProxy = httpsProxy
	cfg.Output.Verbose = verbose

	if v := os.Getenv("NCBI_API_KEY"); v != "" {
		cfg.NCBI.APIKey = v
	}
	if v := os.Getenv("NCBI_EMAIL"); v != "" {
		cfg.NCBI.Email = v
	}

	if llmEnabled {
		cfg.LLM.Provider = "openai"
		cfg.LLM.Model = llmModel
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	return cfg, nil
}

// buildRequest maps flags onto a PlanRequest. Pointer fields are set
// only when their flag was actually passed, so "absent" stays distinct
// from "zero".
func buildRequest(cmd *cobra.Command, inn string) (model.PlanRequest, error) {
	mode := model.OutputMode(outputMode)
	if mode != model.ModeDraft && mode != model.ModeFinal {
		return model.PlanRequest{}, fmt.Errorf("invalid --mode %q: want draft or final", outputMode)
	}
	switch condition {
	case "", "fed", "fasted", "both":
	default:
		return model.PlanRequest{}, fmt.Errorf("invalid --condition %q: want fed, fasted, or both", condition)
	}

	req := model.PlanRequest{
		INN:               inn,
		DosageForm:        dosageForm,
		Dose:              dose,
		ProtocolID:        protocolID,
		RetMax:            retMax,
		SelectedSources:   sources,
		EvidenceFile:      evidenceFile,
		CVConfirmed:       cvConfirmed,
		UseFallback:       useFallback,
		PreferredDesign:   prefDesign,
		RSABERequested:    rsabe,
		ProtocolCondition: condition,
		Power:             power,
		Alpha:             alpha,
		Dropout:           dropout,
		ScreenFail:        screenFail,
		RiskNSims:         riskNSims,
		RiskDistribution:  riskDist,
		OutputMode:        mode,

		FinalRequireSampleSize:      requireN || finalStrict,
		FinalRequireCVPoint:         requireCV || finalStrict,
		FinalRequirePrimaryEndpoint: requirePE || finalStrict,
	}

	if cmd.Flags().Changed("cv") {
		v := manualCV
		req.ManualCV = &v
	}
	if cmd.Flags().Changed("nti") {
		v := ntiFlag
		req.NTI = &v
	}
	if cmd.Flags().Changed("seed") {
		v := riskSeed
		req.RiskSeed = &v
	}
	if cmd.Flags().Changed("washout-days") {
		v := scheduleDays
		req.ScheduleDays = &v
	}
	if cmd.Flags().Changed("bcs") {
		v := bcsClass
		req.Features.BCSClass = &v
	}
	if cmd.Flags().Changed("t-half") {
		v := tHalf
		req.Features.THalfHours = &v
	}
	if cmd.Flags().Changed("logp") {
		v := logP
		req.Features.LogP = &v
	}
	req.Features.FirstPass = firstPass
	req.Features.CYPInvolvement = cypLevel
	if req.NTI != nil {
		req.Features.NTI = req.NTI
	}

	return req, nil
}

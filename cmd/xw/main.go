// Command xw runs and maintains the xwatcher pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/pkg/browser"

	"github.com/ibeckermayer/xwatcher/internal/app"
	"github.com/ibeckermayer/xwatcher/internal/auth"
	browseropts "github.com/ibeckermayer/xwatcher/internal/browser"
	"github.com/ibeckermayer/xwatcher/internal/config"
	"github.com/ibeckermayer/xwatcher/internal/lock"
	"github.com/ibeckermayer/xwatcher/internal/logging"
	"github.com/ibeckermayer/xwatcher/internal/report"
	"github.com/ibeckermayer/xwatcher/internal/store"
	"github.com/ibeckermayer/xwatcher/internal/types"
)

var log = logging.For("xw")

// archived by default: terminal rejections and expiries
var defaultArchive = []types.ReplyStatus{
	types.StatusRejectedDuplicate,
	types.StatusRejectedMissingPost,
	types.StatusExpired,
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "run":
		err = runLoop(args)
	case "stage":
		if len(args) < 1 {
			fmt.Println("Usage: xw stage <scrape|engage|quantify|generate|qualify|post>")
			os.Exit(1)
		}
		err = runStage(args[0])
	case "import-csv":
		if len(args) < 1 {
			fmt.Println("Usage: xw import-csv <dir>")
			os.Exit(1)
		}
		err = runImport(args[0])
	case "archive":
		err = runArchive(args)
	case "stats":
		err = runStats()
	case "report":
		err = runReport()
	case "login":
		err = runLogin(args)
	case "logout":
		err = runLogout()
	case "bot-test":
		err = runBotTest()
	case "open":
		if len(args) < 1 {
			fmt.Println("Usage: xw open <config|data>")
			os.Exit(1)
		}
		err = runOpen(args[0])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func printUsage() {
	fmt.Println("Usage: xw <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run [--scraper-only]   Run the pipeline loop until interrupted")
	fmt.Println("  stage <name>           Run one stage once")
	fmt.Println("  import-csv <dir>       Import legacy flat files into the store")
	fmt.Println("  archive [statuses...]  Move terminal replies to the archive table")
	fmt.Println("  stats                  Print record counts")
	fmt.Println("  report                 Write an HTML report and open it")
	fmt.Println("  login [--force]        Log in to X in a browser and save cookies")
	fmt.Println("  logout                 Remove saved X cookies")
	fmt.Println("  bot-test               Open bot.sannysoft.com to audit browser fingerprint")
	fmt.Println("  open config            Open config file in default editor")
	fmt.Println("  open data              Open data directory in file explorer")
}

func setup() (*config.Config, *store.Store, error) {
	cfg, err := app.LoadOrCreateConfig(os.Getenv("XWATCHER_CONFIG"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	st, err := app.OpenStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return cfg, st, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runLoop(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	scraperOnly := fs.Bool("scraper-only", false, "skip generate, qualify and post")
	fs.Parse(args)

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	l, err := lock.Acquire(filepath.Join(dataDir, "xwatcher.lock"))
	if err != nil {
		return err
	}
	defer l.Release()

	cfg, st, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	live, err := app.NewLive()
	if err != nil {
		return err
	}
	a := app.New(st, cfg, nil, live, os.Getenv("XWATCHER_CONFIG"))
	a.SetScraperOnly(*scraperOnly)

	ctx, stop := signalContext()
	defer stop()
	return a.Run(ctx)
}

func runStage(stage string) error {
	cfg, st, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	live, err := app.NewLive()
	if err != nil {
		return err
	}
	a := app.New(st, cfg, nil, live, os.Getenv("XWATCHER_CONFIG"))
	if err := a.ReloadConfig(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	return a.RunStage(ctx, stage)
}

func runImport(dir string) error {
	_, st, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := st.ImportLegacy(dir)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d posts, %d replies, %d handles (%d rows quarantined)\n",
		res.Posts, res.Replies, res.Handles, res.Quarantined)
	return nil
}

func runArchive(args []string) error {
	statuses := defaultArchive
	if len(args) > 0 {
		statuses = nil
		for _, a := range args {
			s, err := types.ParseReplyStatus(a)
			if err != nil {
				return err
			}
			statuses = append(statuses, s)
		}
	}

	_, st, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.ArchiveReplies(statuses)
	if err != nil {
		return err
	}
	fmt.Printf("Archived %d replies\n", n)
	return nil
}

func runStats() error {
	_, st, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := st.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("Handles:   %d\n", s.Handles)
	fmt.Printf("Posts:     %d (%d unscored)\n", s.Posts, s.Unscored)
	for _, status := range types.AllStatuses {
		fmt.Printf("%-22s %d\n", status+":", s.Replies[status])
	}
	fmt.Printf("Archived:  %d\n", s.Archived)
	fmt.Printf("Cost:      $%.4f generation, $%.4f scoring\n", s.GenerationCost, s.ScoringCost)
	return nil
}

func runReport() error {
	_, st, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	b, err := report.New(st, 20)
	if err != nil {
		return err
	}
	r, err := b.Build()
	if err != nil {
		return err
	}
	path, err := r.Write(filepath.Join(dataDir, "reports"))
	if err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", path)
	return browser.OpenFile(path)
}

func authManager() (*auth.Manager, error) {
	cfg, err := app.LoadOrCreateConfig(os.Getenv("XWATCHER_CONFIG"))
	if err != nil {
		return nil, err
	}
	configDir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	cookies := auth.NewCookieStore(auth.DefaultPath(configDir))
	return auth.NewManager(cookies, browseropts.Config{UserDataDir: cfg.Scraping.UserDataDir}, cfg.Scraping.XBaseURL), nil
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	force := fs.Bool("force", false, "log in even when saved cookies are still valid")
	fs.Parse(args)

	m, err := authManager()
	if err != nil {
		return err
	}
	if m.IsAuthenticated() && !*force {
		fmt.Println("Already logged in (use --force to log in again)")
		return nil
	}

	ctx, stop := signalContext()
	defer stop()
	if err := m.Login(ctx); err != nil {
		return err
	}
	fmt.Println("Logged in, cookies saved")
	return nil
}

func runLogout() error {
	m, err := authManager()
	if err != nil {
		return err
	}
	if err := m.Logout(); err != nil {
		return err
	}
	fmt.Println("Cookies removed")
	return nil
}

func runBotTest() error {
	log.Info("Opening bot.sannysoft.com with stealth browser options...")

	ctx, cancel := browseropts.New(context.Background(), browseropts.Config{Headless: false, Timeout: time.Hour})
	defer cancel()

	go func() {
		if err := chromedp.Run(ctx, chromedp.Navigate("https://bot.sannysoft.com")); err != nil {
			log.WithError(err).Warn("failed to navigate")
		}
	}()

	fmt.Println("Press Enter to end program...")
	fmt.Scanln()
	return nil
}

func runOpen(target string) error {
	var (
		path string
		err  error
	)
	switch target {
	case "config":
		path, err = config.ConfigPath()
	case "data":
		path, err = config.DataDir()
	default:
		return fmt.Errorf("unknown target: %s", target)
	}
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s does not exist yet", path)
	}
	return browser.OpenFile(path)
}

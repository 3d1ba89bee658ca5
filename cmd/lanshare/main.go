package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lanshare/internal/identity"
	"lanshare/internal/ollamaclient"
	"lanshare/internal/statefile"
	"lanshare/pkg/discovery"
	"lanshare/pkg/dispatcher"
	"lanshare/pkg/logger"
	"lanshare/pkg/shareproxy"
	"lanshare/pkg/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// stringSliceFlag collects repeated occurrences of a flag (--group lab
// --group home) into a slice, the idiom flag.Var exists for.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }

func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// cliConfig is what parseArgs produces before it's merged with whatever
// was persisted to the state file.
type cliConfig struct {
	name       string
	groups     stringSliceFlag
	groupsCSV  string
	models     string
	modelsFile string
	shareAll   bool
	ollamaURL  string
	once       bool
	help       bool
}

func main() {
	cfg := parseArgs()

	if cfg.help {
		printUsage()
		os.Exit(0)
	}

	logger.Silent()

	persisted, err := statefile.Load()
	if err != nil {
		logger.Warn("main: loading state file: %v", err)
	}

	name := cfg.name
	if name == "" {
		name = persisted.LocalName
	}
	if name == "" {
		name = defaultName()
	}

	groups := mergeGroups(cfg, persisted.MyGroups)

	nodeID := identity.NewNodeID()
	disco := discovery.New(nodeID, []byte(persisted.ChatKey))
	disco.SetLocalName(name)
	disco.SetLocalGroups(groups)

	if cfg.once {
		if err := disco.AnnounceOnce(discovery.KindAnnounce); err != nil {
			fmt.Fprintf(os.Stderr, "announce failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("announced once, exiting")
		return
	}

	proxy := shareproxy.New()
	models, err := resolveModels(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolving models: %v\n", err)
		os.Exit(1)
	}
	if len(models) > 0 {
		allowed := make(map[string]bool, len(models))
		for _, m := range models {
			allowed[m] = true
		}
		key := ""
		if persisted.RequireShareKey {
			key = persisted.ShareKey
		}
		proxy.SetConfig(shareproxy.Config{Enabled: true, Key: key, AllowedModels: allowed})

		port := shareproxy.OllamaPort
		if persisted.RequireShareKey {
			port = shareproxy.Port
		}
		baseURL := fmt.Sprintf("http://%s:%d", localIP(), port)
		disco.SetLocalOffer(&discovery.OfferStatus{
			Enabled:      true,
			BaseURL:      &baseURL,
			Models:       models,
			AuthRequired: persisted.RequireShareKey,
		})
	}

	disp := dispatcher.New(disco)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := disco.Run(ctx); err != nil {
			logger.Error("discovery service stopped: %v", err)
		}
	}()
	if len(models) > 0 {
		go func() {
			if err := proxy.Run(ctx); err != nil {
				logger.Error("share proxy stopped: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	model := ui.New(disco, disp, name, persisted.ChatKey)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui error: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs() cliConfig {
	fs := flag.NewFlagSet("lanshare", flag.ContinueOnError)
	fs.Usage = func() {}

	var cfg cliConfig
	fs.StringVar(&cfg.name, "name", "", "display name to announce")
	fs.Var(&cfg.groups, "group", "group to join (repeatable)")
	fs.StringVar(&cfg.groupsCSV, "groups", "", "comma-separated groups to join")
	fs.StringVar(&cfg.models, "models", "", "comma-separated models to share")
	fs.StringVar(&cfg.modelsFile, "models-file", "", "file containing one model name per line")
	fs.BoolVar(&cfg.shareAll, "share-all", false, "share every model the local runtime reports")
	fs.StringVar(&cfg.ollamaURL, "ollama", ollamaclient.DefaultBaseURL, "base URL of the local LM runtime")
	fs.BoolVar(&cfg.once, "once", false, "broadcast a single announce and exit")
	fs.BoolVar(&cfg.help, "help", false, "show usage")

	// Unknown flags are ignored rather than treated as fatal: log and
	// keep whatever fs.Parse managed to consume.
	if err := fs.Parse(os.Args[1:]); err != nil && err != flag.ErrHelp {
		logger.Warn("main: ignoring unrecognized command-line flags: %v", err)
	}
	return cfg
}

func printUsage() {
	fmt.Println("lanshare - share local LM runtime access over the LAN")
	fmt.Println()
	fmt.Println("Usage: lanshare [options]")
	fmt.Println()
	fmt.Println("  --name NAME            display name to announce")
	fmt.Println("  --group GROUP          group to join (repeatable)")
	fmt.Println("  --groups a,b,c         comma-separated groups to join")
	fmt.Println("  --models a,b,c         comma-separated models to share")
	fmt.Println("  --models-file PATH     file containing one model name per line")
	fmt.Println("  --share-all            share every model the local runtime reports")
	fmt.Println("  --ollama URL           base URL of the local LM runtime")
	fmt.Println("  --once                 broadcast a single announce and exit")
	fmt.Println("  --help                 show this message")
}

func defaultName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return fmt.Sprintf("node-%d", os.Getpid())
}

func mergeGroups(cfg cliConfig, persisted []string) []string {
	var groups []string
	groups = append(groups, cfg.groups...)
	if cfg.groupsCSV != "" {
		groups = append(groups, splitCSV(cfg.groupsCSV)...)
	}
	if len(groups) == 0 {
		groups = persisted
	}
	return dedupe(groups)
}

func resolveModels(cfg cliConfig) ([]string, error) {
	var models []string
	if cfg.models != "" {
		models = append(models, splitCSV(cfg.models)...)
	}
	if cfg.modelsFile != "" {
		lines, err := readLines(cfg.modelsFile)
		if err != nil {
			return nil, fmt.Errorf("reading --models-file: %w", err)
		}
		models = append(models, lines...)
	}
	if cfg.shareAll {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client := ollamaclient.New(cfg.ollamaURL)
		tags, err := client.Tags(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying --share-all models: %w", err)
		}
		models = append(models, tags...)
	}
	return dedupe(models), nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

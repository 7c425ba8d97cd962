package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/iqb-berlin/coding-box-sub001/ingest"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var configPath string
	var dbPath string
	var workspace string
	var importTypes string
	var responsesCSV string
	var logsCSV string
	var groups string
	var baseURL string
	var tcWorkspace string
	var token string
	var scope string
	var scopeGroup string
	var scopeBooklet string
	var scopeUnit string
	var scopeVariable string
	var mode string
	var overwriteLogs bool
	var batchSize int
	var chunkSize int
	var concurrency int
	var fetchTimeout time.Duration
	var debug bool

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.StringVar(&dbPath, "db", "coding-box.db", "SQLite database path.")
	flag.StringVar(&workspace, "workspace", "", "Target workspace id.")
	flag.StringVar(&importTypes, "type", "responses", "Comma-separated import types: responses,logs,files.")
	flag.StringVar(&responsesCSV, "responses-csv", "", "Responses CSV file (semicolon separated).")
	flag.StringVar(&logsCSV, "logs-csv", "", "Logs CSV file (semicolon separated).")
	flag.StringVar(&groups, "groups", "", "Comma-separated group ids to pull from the remote delivery system instead of CSV files.")
	flag.StringVar(&baseURL, "base-url", "", "Remote delivery system base URL.")
	flag.StringVar(&tcWorkspace, "tc-workspace", "", "Remote delivery system workspace id.")
	flag.StringVar(&token, "token", "", "Remote delivery system auth token.")
	flag.StringVar(&scope, "scope", "workspace", "Overwrite scope: person|workspace|group|booklet|unit|response.")
	flag.StringVar(&scopeGroup, "scope-group", "", "Group filter for scope=group.")
	flag.StringVar(&scopeBooklet, "scope-booklet", "", "Booklet filter for scope=booklet|unit|response.")
	flag.StringVar(&scopeUnit, "scope-unit", "", "Unit filter for scope=unit|response.")
	flag.StringVar(&scopeVariable, "scope-variable", "", "Variable filter for scope=response.")
	flag.StringVar(&mode, "mode", "merge", "Overwrite mode: skip|merge|replace.")
	flag.BoolVar(&overwriteLogs, "overwrite-logs", false, "Replace already-persisted logs instead of skipping them.")
	flag.IntVar(&batchSize, "batch-size", ingest.DefaultBatchSize, "Rows merged and persisted per batch.")
	flag.IntVar(&chunkSize, "chunk-size", 0, "Group ids per remote report request.")
	flag.IntVar(&concurrency, "concurrency", 0, "In-flight remote chunk fetches (default 1).")
	flag.DurationVar(&fetchTimeout, "fetch-timeout", 0, "Per-request remote fetch timeout.")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	fileCfg := &ingest.FileConfig{}
	if configPath != "" {
		cfg, err := ingest.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		fileCfg = cfg
	}

	// Merge config + CLI overrides; flags win when set explicitly.
	finalDB := fileCfg.DB
	if finalDB == "" || visited["db"] {
		finalDB = dbPath
	}
	finalWorkspace := fileCfg.Workspace
	if visited["workspace"] || finalWorkspace == "" {
		finalWorkspace = workspace
	}
	finalBatch := fileCfg.BatchSize
	if visited["batch-size"] || finalBatch <= 0 {
		finalBatch = batchSize
	}
	finalDebug := fileCfg.Debug || debug

	remoteCfg := fileCfg.RemoteConfig()
	if visited["base-url"] {
		remoteCfg.BaseURL = baseURL
	}
	if visited["tc-workspace"] {
		remoteCfg.Workspace = tcWorkspace
	}
	if visited["token"] {
		remoteCfg.Token = token
	}
	if visited["chunk-size"] {
		remoteCfg.ChunkSize = chunkSize
	}
	if visited["concurrency"] {
		remoteCfg.Concurrency = concurrency
	}
	if visited["fetch-timeout"] {
		remoteCfg.Timeout = fetchTimeout
	}

	types := ingest.ImportTypes{}
	for _, t := range splitList(importTypes) {
		switch t {
		case "responses":
			types.Responses = true
		case "logs":
			types.Logs = true
		case "files":
			types.Files = true
		default:
			log.Fatalf("unknown import type %q", t)
		}
	}

	store, err := ingest.OpenStore(finalDB)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	coordinator := &ingest.Coordinator{
		Store: store,
		Debug: finalDebug,
	}
	if groups != "" {
		coordinator.Fetcher = ingest.NewRemoteFetcher(remoteCfg)
	}

	result, err := coordinator.Run(context.Background(), ingest.ImportRequest{
		WorkspaceID:  finalWorkspace,
		Types:        types,
		ResponsesCSV: responsesCSV,
		LogsCSV:      logsCSV,
		Groups:       groups,
		Scope:        ingest.Scope(scope),
		Filters: ingest.ScopeFilters{
			Group:    scopeGroup,
			Booklet:  scopeBooklet,
			Unit:     scopeUnit,
			Variable: scopeVariable,
		},
		Mode:          ingest.OverwriteMode(mode),
		OverwriteLogs: overwriteLogs,
		BatchSize:     finalBatch,
	})
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("encode result: %v", err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

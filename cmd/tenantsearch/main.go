// Package main provides the tenantsearch CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/tenantsearch/pkg/denial"
	"github.com/orneryd/tenantsearch/pkg/docsearch"
	"github.com/orneryd/tenantsearch/pkg/embed"
	"github.com/orneryd/tenantsearch/pkg/hnsw"
	"github.com/orneryd/tenantsearch/pkg/llmclient"
	"github.com/orneryd/tenantsearch/pkg/pipeline"
	"github.com/orneryd/tenantsearch/pkg/ragsvc"
	"github.com/orneryd/tenantsearch/pkg/store"
	"github.com/orneryd/tenantsearch/pkg/tenant"
	"github.com/orneryd/tenantsearch/pkg/tsconfig"

	"github.com/redis/go-redis/v9"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tenantsearch",
		Short: "tenantsearch - per-tenant semantic document search engine",
		Long: `tenantsearch is a per-tenant semantic document search engine written in Go:
chunk and contextualize documents, embed and index them in a permission-aware
HNSW graph, and serve search and RAG queries scoped to a caller's tenant,
role, and group membership.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tenantsearch v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the search and RAG HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to a YAML config override file")
	rootCmd.AddCommand(serveCmd)

	buildCmd := &cobra.Command{
		Use:   "build [tenant-id]",
		Short: "Build (or rebuild) one tenant's HNSW index from stored chunks",
		Args:  cobra.ExactArgs(1),
		RunE:  runBuild,
	}
	buildCmd.Flags().Bool("force", false, "Force a full rebuild even if the tenant is not marked for reindex")
	rootCmd.AddCommand(buildCmd)

	searchCmd := &cobra.Command{
		Use:   "search [tenant-id] [query]",
		Short: "Run a one-off permission-scoped search against a tenant",
		Args:  cobra.ExactArgs(2),
		RunE:  runSearch,
	}
	searchCmd.Flags().Int("k", 10, "Number of results to return")
	searchCmd.Flags().String("user-id", "", "Caller's user id")
	searchCmd.Flags().String("role", "MEMBER", "Caller's role: MEMBER, MANAGER, or ADMIN")
	searchCmd.Flags().StringSlice("groups", nil, "Caller's group ids")
	rootCmd.AddCommand(searchCmd)

	ingestCmd := &cobra.Command{
		Use:   "ingest [tenant-id] [document-id] [file]",
		Short: "Chunk, contextualize, embed, and store one document",
		Args:  cobra.ExactArgs(3),
		RunE:  runIngest,
	}
	rootCmd.AddCommand(ingestCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// services bundles every collaborator one CLI invocation needs, wired from
// a resolved tsconfig.Config (spec §3 external collaborators).
type services struct {
	cfg      *tsconfig.Config
	store    store.Store
	tenants  *tenant.Manager
	search   *docsearch.Service
	rag      *ragsvc.Service
	pipeline *pipeline.Coordinator
	sink     hnsw.DenialSink
	closers  []func() error
}

func buildServices(cfg *tsconfig.Config) (*services, error) {
	var st store.Store
	var closers []func() error

	switch cfg.Store.Backend {
	case "badger":
		bs, err := store.NewBadgerStore(store.BadgerStoreOptions{
			DataDir:  cfg.Store.DataDir,
			InMemory: cfg.Store.InMemory,
		})
		if err != nil {
			return nil, fmt.Errorf("opening badger store: %w", err)
		}
		st = bs
		closers = append(closers, bs.Close)
	default:
		st = store.NewMemStore()
	}

	sinks := []hnsw.DenialSink{}
	fileSink, err := denial.NewFileSink(denial.Config{
		LogPath:   cfg.Denial.LogPath,
		QueueSize: cfg.Denial.QueueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("opening denial log: %w", err)
	}
	closers = append(closers, fileSink.Close)
	sinks = append(sinks, fileSink)

	if cfg.Denial.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Denial.RedisAddr})
		mirror := denial.NewRedisMirrorSink(rdb, cfg.Denial.RedisList, cfg.Denial.QueueSize)
		closers = append(closers, mirror.Close)
		sinks = append(sinks, mirror)
	}
	sink := denial.NewMultiSink(sinks...)

	params := hnsw.DefaultParams()
	params.M = cfg.HNSW.M
	params.EfConstruction = cfg.HNSW.EfConstruction

	tenants := tenant.New(st, params, sink)

	embedder, err := embed.NewEmbedder(&embed.Config{
		Provider:   cfg.Embedding.Provider,
		APIURL:     cfg.Embedding.APIURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring embedder: %w", err)
	}

	llm := llmclient.NewHTTPClient(&llmclient.Config{
		APIURL:     cfg.LLM.APIURL,
		APIPath:    "/api/generate",
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	})

	searchSvc := docsearch.New(tenants, embedder, st)
	ragSvc := ragsvc.New(searchSvc, llm)
	coord := pipeline.New(llm, embedder, st, pipeline.Config{
		StageBuffer: cfg.Pipeline.StageBuffer,
		Workers:     cfg.Pipeline.Workers,
	})

	return &services{
		cfg:      cfg,
		store:    st,
		tenants:  tenants,
		search:   searchSvc,
		rag:      ragSvc,
		pipeline: coord,
		sink:     sink,
		closers:  closers,
	}, nil
}

func (s *services) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing resource: %v\n", err)
		}
	}
}

func loadConfig(cmd *cobra.Command) *tsconfig.Config {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		os.Setenv("TENANTSEARCH_CONFIG_FILE", path)
	}
	return tsconfig.LoadFromEnv()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	svcs, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", svcs.handleHealth)
	mux.HandleFunc("/v1/tenants/", svcs.handleTenantRoutes)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.HTTPAddr, cfg.Server.HTTPPort),
		Handler: mux,
	}

	fmt.Printf("tenantsearch v%s\n", version)
	fmt.Printf("  store backend: %s\n", cfg.Store.Backend)
	fmt.Printf("  http:          http://%s\n", httpServer.Addr)
	fmt.Println()

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-sigCh:
	}

	fmt.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func (s *services) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleTenantRoutes dispatches /v1/tenants/{tenantID}/{search,ask,documents}
// without pulling in a routing framework the pack never uses.
func (s *services) handleTenantRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path[len("/v1/tenants/"):]
	var tenantID, action string
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			tenantID, action = path[:i], path[i+1:]
			break
		}
	}
	if tenantID == "" || action == "" {
		http.Error(w, "expected /v1/tenants/{tenantID}/{search|ask|documents}", http.StatusNotFound)
		return
	}

	switch action {
	case "search":
		s.handleSearch(w, r, tenantID)
	case "ask":
		s.handleAsk(w, r, tenantID)
	case "documents":
		s.handleIngest(w, r, tenantID)
	default:
		http.NotFound(w, r)
	}
}

type searchRequestBody struct {
	Query        string   `json:"query"`
	K            int      `json:"k"`
	UserID       string   `json:"user_id"`
	UserRole     string   `json:"user_role"`
	UserGroupIDs []string `json:"user_group_ids"`
}

func (s *services) handleSearch(w http.ResponseWriter, r *http.Request, tenantID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := s.search.Search(r.Context(), docsearch.QueryRequest{
		TenantID: tenantID,
		Query:    body.Query,
		K:        body.K,
		Permission: &docsearch.PermissionContext{
			UserID:       body.UserID,
			UserRole:     hnsw.UserRole(body.UserRole),
			UserGroupIDs: body.UserGroupIDs,
		},
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, resp)
}

type askRequestBody struct {
	Query            string   `json:"query"`
	ConversationID   string   `json:"conversation_id"`
	MaxContextChunks int      `json:"max_context_chunks"`
	UserID           string   `json:"user_id"`
	UserRole         string   `json:"user_role"`
	UserGroupIDs     []string `json:"user_group_ids"`
}

func (s *services) handleAsk(w http.ResponseWriter, r *http.Request, tenantID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body askRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := s.rag.Ask(r.Context(), ragsvc.Request{
		TenantID:         tenantID,
		Query:            body.Query,
		ConversationID:   body.ConversationID,
		MaxContextChunks: body.MaxContextChunks,
		Permission: &docsearch.PermissionContext{
			UserID:       body.UserID,
			UserRole:     hnsw.UserRole(body.UserRole),
			UserGroupIDs: body.UserGroupIDs,
		},
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, resp)
}

type ingestRequestBody struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
}

func (s *services) handleIngest(w http.ResponseWriter, r *http.Request, tenantID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body ingestRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if body.DocumentID == "" || body.Text == "" {
		http.Error(w, "document_id and text are required", http.StatusBadRequest)
		return
	}

	chunks, errs := s.pipeline.Run(r.Context(), tenantID, hnsw.DocumentID(body.DocumentID), body.Text)
	if _, err := s.tenants.BuildOrUpdate(r.Context(), tenantID, false); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"chunks_stored": len(chunks),
		"errors":        errsToStrings(errs),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func errsToStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

func runBuild(cmd *cobra.Command, args []string) error {
	tenantID := args[0]
	force, _ := cmd.Flags().GetBool("force")

	cfg := loadConfig(cmd)
	svcs, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	start := time.Now()
	entry, err := svcs.tenants.BuildOrUpdate(context.Background(), tenantID, force)
	if err != nil {
		return fmt.Errorf("building index for tenant %s: %w", tenantID, err)
	}

	fmt.Printf("tenant %s: %d chunks, %d documents, built in %v\n",
		tenantID, entry.ChunkCount, entry.DocumentCount, time.Since(start))
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	tenantID, query := args[0], args[1]
	k, _ := cmd.Flags().GetInt("k")
	userID, _ := cmd.Flags().GetString("user-id")
	role, _ := cmd.Flags().GetString("role")
	groups, _ := cmd.Flags().GetStringSlice("groups")

	cfg := loadConfig(cmd)
	svcs, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	resp, err := svcs.search.Search(context.Background(), docsearch.QueryRequest{
		TenantID: tenantID,
		Query:    query,
		K:        k,
		Permission: &docsearch.PermissionContext{
			UserID:       userID,
			UserRole:     hnsw.UserRole(role),
			UserGroupIDs: groups,
		},
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func runIngest(cmd *cobra.Command, args []string) error {
	tenantID, documentID, path := args[0], args[1], args[2]

	var text []byte
	var err error
	if path == "-" {
		text, err = io.ReadAll(os.Stdin)
	} else {
		text, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}

	cfg := loadConfig(cmd)
	svcs, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	ctx := context.Background()
	chunks, errs := svcs.pipeline.Run(ctx, tenantID, hnsw.DocumentID(documentID), string(text))
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "chunk error: %v\n", e)
	}
	fmt.Printf("document %s: %d chunks stored\n", documentID, len(chunks))

	if _, err := svcs.tenants.BuildOrUpdate(ctx, tenantID, false); err != nil {
		return fmt.Errorf("rebuilding tenant index: %w", err)
	}
	fmt.Printf("tenant %s index rebuilt\n", tenantID)
	return nil
}

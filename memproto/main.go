package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"go.uber.org/zap"

	"memproto/client"
	"memproto/internal/cli/config"
	"memproto/internal/cli/output"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage()
	}
	switch args[0] {
	case "connect":
		return cmdConnect(ctx, args[1:], true)
	case "login":
		return cmdConnect(ctx, args[1:], false)
	case "refresh":
		return cmdRefresh(ctx, args[1:])
	case "disconnect":
		return cmdDisconnect()
	case "status":
		return cmdStatus(ctx)
	case "health":
		return cmdHealth(ctx, args[1:])
	case "discovery":
		return cmdDiscovery(ctx, args[1:])
	case "agents", "agent":
		return cmdAgents(ctx, args[1:])
	case "memory":
		return cmdMemory(ctx, args[1:])
	case "schemas", "schema":
		return cmdSchemas(ctx, args[1:])
	case "audit":
		return cmdAudit(ctx, args[1:])
	default:
		return usage()
	}
}

// commonFlags are accepted by every command that prints a response.
type commonFlags struct {
	format  *string
	quiet   *bool
	verbose *bool
}

func newFlagSet(name string) (*pflag.FlagSet, commonFlags) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs, commonFlags{
		format:  fs.String("format", "", "Output format: json|yaml|table|plain|md|quiet"),
		quiet:   fs.BoolP("quiet", "q", false, "IDs only"),
		verbose: fs.BoolP("verbose", "v", false, "Log requests to stderr"),
	}
}

func (f commonFlags) print(payload map[string]any) error {
	return output.Print(os.Stdout, payload, *f.format, *f.quiet)
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose && os.Getenv("MEMPROTO_DEBUG") != "1" {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func cmdConnect(ctx context.Context, args []string, register bool) error {
	name := "connect"
	if !register {
		name = "login"
	}
	fs, common := newFlagSet(name)
	email := fs.String("email", os.Getenv("MEMPROTO_EMAIL"), "Account email")
	password := fs.String("password", os.Getenv("MEMPROTO_PASSWORD"), "Account password")
	inDir := fs.Bool("in-dir", false, "Write config to ./.memproto/config.json in current directory")
	var displayName *string
	if register {
		displayName = fs.String("name", "", "Register the account with this name first")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: memproto %s <url> --email <email> --password <password>", name)
	}
	rawURL := strings.TrimSpace(fs.Arg(0))
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if strings.TrimSpace(*email) == "" || *password == "" {
		return errors.New("missing --email or --password")
	}

	logger := newLogger(*common.verbose)
	defer func() { _ = logger.Sync() }()
	cl := client.New(rawURL, client.WithLogger(logger))

	if displayName != nil && strings.TrimSpace(*displayName) != "" {
		_, err := cl.Register(ctx, strings.TrimSpace(*displayName), *email, *password)
		switch {
		case client.IsConflict(err):
			logger.Info("account exists, logging in", zap.String("email", *email))
		case err != nil:
			return fmt.Errorf("register: %w", err)
		}
	}
	if !cl.Authenticated() {
		if _, err := cl.Login(ctx, *email, *password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	cfgPath, err := configPath(*inDir)
	if err != nil {
		return err
	}
	cfg, err := config.LoadFromPath(cfgPath)
	if err != nil {
		return err
	}
	access, refresh := cl.Tokens()
	cfg.SetDefault(cl.BaseURL(), strings.TrimSpace(*email), access, refresh)
	if err := config.SaveToPath(cfg, cfgPath); err != nil {
		return err
	}
	fmt.Printf("connected to %s as %s\n", cl.BaseURL(), strings.TrimSpace(*email))
	return nil
}

func configPath(inDir bool) (string, error) {
	if !inDir {
		return config.Path()
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, ".memproto", "config.json"), nil
}

func cmdRefresh(ctx context.Context, args []string) error {
	fs, common := newFlagSet("refresh")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	if _, err := s.cl.RefreshAuth(ctx); err != nil {
		return err
	}
	if err := s.persist(); err != nil {
		return err
	}
	fmt.Println("session refreshed")
	return nil
}

func cmdDisconnect() error {
	cfgPath, err := config.Path()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFromPath(cfgPath)
	if err != nil {
		return err
	}
	if _, ok := cfg.Default(); !ok {
		fmt.Println("no active connection")
		return nil
	}
	cfg.ClearDefault()
	if err := config.SaveToPath(cfg, cfgPath); err != nil {
		return err
	}
	fmt.Println("disconnected")
	return nil
}

func cmdStatus(ctx context.Context) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	health, err := s.cl.Health(ctx)
	if err != nil {
		return err
	}
	return output.PrintJSON(os.Stdout, map[string]any{
		"server":        s.srv.URL,
		"email":         s.srv.Email,
		"connected_at":  s.srv.ConnectedAt,
		"authenticated": s.cl.Authenticated(),
		"health":        health,
	})
}

func cmdHealth(ctx context.Context, args []string) error {
	fs, common := newFlagSet("health")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	health, err := s.cl.Health(ctx)
	if err != nil {
		return err
	}
	return common.print(health)
}

func cmdDiscovery(ctx context.Context, args []string) error {
	fs, common := newFlagSet("discovery")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	doc, err := s.cl.Discovery(ctx)
	if err != nil {
		return err
	}
	return common.print(doc)
}

func cmdAgents(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return cmdAgentsList(ctx, nil)
	}
	switch args[0] {
	case "list":
		return cmdAgentsList(ctx, args[1:])
	case "add":
		return cmdAgentsAdd(ctx, args[1:])
	default:
		return errors.New("usage: memproto agents <list|add>")
	}
}

func cmdAgentsList(ctx context.Context, args []string) error {
	fs, common := newFlagSet("agents list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("usage: memproto agents list [--format f] [--quiet]")
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	var agents []client.Object
	if err := s.call(ctx, func() (err error) {
		agents, err = s.cl.ListAgents(ctx)
		return err
	}); err != nil {
		return err
	}
	return common.print(map[string]any{"agents": agents})
}

func cmdAgentsAdd(ctx context.Context, args []string) error {
	fs, common := newFlagSet("agents add")
	description := fs.String("description", "", "Agent description")
	capabilities := fs.StringSlice("capabilities", nil, "Agent capabilities (repeat or comma-separated)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return errors.New("usage: memproto agents add <name> [--description text] [--capabilities a,b]")
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	req := client.CreateAgentRequest{
		Name:         strings.TrimSpace(fs.Arg(0)),
		Description:  strings.TrimSpace(*description),
		Capabilities: parseCSVUnique(*capabilities),
	}
	var agent client.Object
	if err := s.call(ctx, func() (err error) {
		agent, err = s.cl.CreateAgent(ctx, req)
		return err
	}); err != nil {
		return err
	}
	return common.print(agent)
}

func cmdMemory(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: memproto memory <store|list|get|delete>")
	}
	switch args[0] {
	case "store":
		return cmdMemoryStore(ctx, args[1:])
	case "list":
		return cmdMemoryList(ctx, args[1:])
	case "get":
		return cmdMemoryGet(ctx, args[1:])
	case "delete":
		return cmdMemoryDelete(ctx, args[1:])
	default:
		return errors.New("usage: memproto memory <store|list|get|delete>")
	}
}

func cmdMemoryStore(ctx context.Context, args []string) error {
	fs, common := newFlagSet("memory store")
	memoryType := fs.String("type", "", "Memory type (e.g. conversation_history, facts)")
	fromFile := fs.String("from-file", "", "Read content from file")
	metadata := fs.StringToString("metadata", nil, "Metadata key=value pairs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || strings.TrimSpace(*memoryType) == "" {
		return errors.New("usage: memproto memory store <agent-id> [content] --type t [--from-file f] [--metadata k=v]")
	}
	content, err := resolveBodyInput(fs.Args()[1:], *fromFile)
	if err != nil {
		return err
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	req := client.StoreMemoryRequest{
		AgentID: strings.TrimSpace(fs.Arg(0)),
		Type:    strings.TrimSpace(*memoryType),
		Content: content,
	}
	if len(*metadata) > 0 {
		req.Metadata = make(map[string]any, len(*metadata))
		for k, v := range *metadata {
			req.Metadata[k] = v
		}
	}
	var memory client.Object
	if err := s.call(ctx, func() (err error) {
		memory, err = s.cl.StoreMemory(ctx, req)
		return err
	}); err != nil {
		return err
	}
	return common.print(memory)
}

func cmdMemoryList(ctx context.Context, args []string) error {
	fs, common := newFlagSet("memory list")
	memoryType := fs.String("type", "", "Filter by memory type")
	limit := fs.Int("limit", client.DefaultLimit, "Maximum number of records")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: memproto memory list <agent-id> [--type t] [--limit n]")
	}
	if *limit <= 0 {
		return errors.New("limit must be a positive integer")
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	q := client.MemoryQuery{
		AgentID: strings.TrimSpace(fs.Arg(0)),
		Type:    strings.TrimSpace(*memoryType),
		Limit:   *limit,
	}
	var memories []client.Object
	if err := s.call(ctx, func() (err error) {
		memories, err = s.cl.GetMemory(ctx, q)
		return err
	}); err != nil {
		return err
	}
	return common.print(map[string]any{"memories": memories})
}

func cmdMemoryGet(ctx context.Context, args []string) error {
	fs, common := newFlagSet("memory get")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: memproto memory get <memory-id>")
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	var memory client.Object
	if err := s.call(ctx, func() (err error) {
		memory, err = s.cl.GetMemoryByID(ctx, fs.Arg(0))
		return err
	}); err != nil {
		return err
	}
	return common.print(memory)
}

func cmdMemoryDelete(ctx context.Context, args []string) error {
	fs, common := newFlagSet("memory delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: memproto memory delete <memory-id>")
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	if err := s.call(ctx, func() error {
		_, err := s.cl.DeleteMemory(ctx, fs.Arg(0))
		return err
	}); err != nil {
		return err
	}
	fmt.Printf("deleted memory %s\n", fs.Arg(0))
	return nil
}

func cmdSchemas(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return cmdSchemasList(ctx, nil)
	}
	switch args[0] {
	case "list":
		return cmdSchemasList(ctx, args[1:])
	case "add":
		return cmdSchemasAdd(ctx, args[1:])
	case "templates":
		return cmdSchemasTemplates(ctx, args[1:])
	default:
		return errors.New("usage: memproto schemas <list|add|templates>")
	}
}

func cmdSchemasList(ctx context.Context, args []string) error {
	fs, common := newFlagSet("schemas list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	var schemas []client.Object
	if err := s.call(ctx, func() (err error) {
		schemas, err = s.cl.ListSchemas(ctx)
		return err
	}); err != nil {
		return err
	}
	return common.print(map[string]any{"schemas": schemas})
}

func cmdSchemasAdd(ctx context.Context, args []string) error {
	fs, common := newFlagSet("schemas add")
	schemaFile := fs.String("schema-file", "", "JSON schema definition file")
	description := fs.String("description", "", "Schema description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || strings.TrimSpace(*schemaFile) == "" {
		return errors.New("usage: memproto schemas add <name> --schema-file f [--description text]")
	}
	definition, err := readSchemaFile(*schemaFile)
	if err != nil {
		return err
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	req := client.CreateSchemaRequest{
		Name:        strings.TrimSpace(fs.Arg(0)),
		Schema:      definition,
		Description: strings.TrimSpace(*description),
	}
	var schema client.Object
	if err := s.call(ctx, func() (err error) {
		schema, err = s.cl.CreateSchema(ctx, req)
		return err
	}); err != nil {
		return err
	}
	return common.print(schema)
}

func readSchemaFile(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var definition map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(b), &definition); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}
	return definition, nil
}

func cmdSchemasTemplates(ctx context.Context, args []string) error {
	fs, common := newFlagSet("schemas templates")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	var templates client.Object
	if err := s.call(ctx, func() (err error) {
		templates, err = s.cl.SchemaTemplates(ctx)
		return err
	}); err != nil {
		return err
	}
	return common.print(templates)
}

func cmdAudit(ctx context.Context, args []string) error {
	if len(args) > 0 && args[0] == "get" {
		return cmdAuditGet(ctx, args[1:])
	}
	if len(args) > 0 && args[0] == "list" {
		args = args[1:]
	}
	fs, common := newFlagSet("audit")
	limit := fs.Int("limit", client.DefaultLimit, "Maximum number of entries")
	offset := fs.Int("offset", 0, "Offset")
	agentID := fs.String("agent", "", "Filter by agent ID")
	action := fs.String("action", "", "Filter by action (CREATE, READ, UPDATE, DELETE)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("usage: memproto audit [--limit n] [--offset n] [--agent id] [--action a]")
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	q := client.AuditLogQuery{
		Limit:   *limit,
		Offset:  *offset,
		AgentID: strings.TrimSpace(*agentID),
		Action:  strings.ToUpper(strings.TrimSpace(*action)),
	}
	var logs []client.Object
	if err := s.call(ctx, func() (err error) {
		logs, err = s.cl.AuditLogs(ctx, q)
		return err
	}); err != nil {
		return err
	}
	return common.print(map[string]any{"logs": logs})
}

func cmdAuditGet(ctx context.Context, args []string) error {
	fs, common := newFlagSet("audit get")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: memproto audit get <log-id>")
	}
	s, err := openSession(*common.verbose)
	if err != nil {
		return err
	}
	var entry client.Object
	if err := s.call(ctx, func() (err error) {
		entry, err = s.cl.AuditLog(ctx, fs.Arg(0))
		return err
	}); err != nil {
		return err
	}
	return common.print(entry)
}

func resolveBodyInput(args []string, fromFile string) (string, error) {
	if strings.TrimSpace(fromFile) != "" {
		if len(args) > 0 {
			return "", errors.New("provide either inline content or --from-file, not both")
		}
		b, err := os.ReadFile(fromFile)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(string(b)) == "" {
			return "", errors.New("content is empty")
		}
		return string(b), nil
	}
	if len(args) != 1 {
		return "", errors.New("missing content")
	}
	if strings.TrimSpace(args[0]) == "" {
		return "", errors.New("content is empty")
	}
	return args[0], nil
}

func parseCSVUnique(raw []string) []string {
	out := make([]string, 0)
	seen := map[string]struct{}{}
	for _, v := range raw {
		for _, p := range strings.Split(v, ",") {
			item := strings.TrimSpace(p)
			if item == "" {
				continue
			}
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func usage() error {
	return errors.New(`usage:
  memproto connect <url> --email e --password p [--name n] [--in-dir]
  memproto login <url> --email e --password p [--in-dir]
  memproto refresh
  memproto disconnect
  memproto status
  memproto health
  memproto discovery
  memproto agents list [--format f] [--quiet]
  memproto agents add <name> [--description text] [--capabilities a,b]
  memproto memory store <agent-id> [content] --type t [--from-file f] [--metadata k=v]
  memproto memory list <agent-id> [--type t] [--limit n]
  memproto memory get <memory-id>
  memproto memory delete <memory-id>
  memproto schemas list
  memproto schemas add <name> --schema-file f [--description text]
  memproto schemas templates
  memproto audit [--limit n] [--offset n] [--agent id] [--action a]
  memproto audit get <log-id>

commands that print a response accept --format json|yaml|table|plain|md|quiet, --quiet and --verbose`)
}
